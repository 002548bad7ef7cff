// Package notify tells operators how feature builds went. Messages go to every
// registered sender (Telegram, Discord) and are filtered by event type.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

// Event types understood by the notify.events setting.
const (
	EventBuildCompleted = "build_completed"
	EventBuildFailed    = "build_failed"
)

// Message is one notification. OK selects the success styling where a
// channel supports it.
type Message struct {
	Title string
	Body  string
	OK    bool
}

// Sender is implemented by each notification channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Notifier fans messages out to its senders. Only events in the allowed set
// are forwarded; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for the given senders and event filter.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether at least one sender is registered.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// NotifyRun reports a finished build run. Running builds are ignored.
func (n *Notifier) NotifyRun(ctx context.Context, run domain.BuildRun) error {
	switch run.Status {
	case domain.RunStatusSucceeded:
		return n.Notify(ctx, EventBuildCompleted, RunMessage(run))
	case domain.RunStatusFailed:
		return n.Notify(ctx, EventBuildFailed, RunMessage(run))
	}
	return nil
}

// Notify delivers msg if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event string, msg Message) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, msg)
}

// dispatch sends to every sender. One failing sender does not stop delivery
// to the rest; failures are combined into the returned error.
func (n *Notifier) dispatch(ctx context.Context, msg Message) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", msg.Title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// RunMessage renders a build run for humans.
func RunMessage(run domain.BuildRun) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s (%s)\n", run.ID, run.Trigger)
	fmt.Fprintf(&b, "input: %s\n", run.InputKey)

	if run.Status == domain.RunStatusFailed {
		fmt.Fprintf(&b, "error: %s", run.Error)
		return Message{Title: "Feature build failed", Body: b.String()}
	}

	s := run.Stats
	fmt.Fprintf(&b, "output: %s\n", run.OutputKey)
	fmt.Fprintf(&b, "records %d, teams %d, fixtures %d\n", s.Records, s.Teams, s.Fixtures)
	fmt.Fprintf(&b, "kept %d, dropped %d, positive rate %.3f", s.Kept, s.Dropped, s.PositiveRate)
	if run.Drift != nil {
		fmt.Fprintf(&b, "\ndrift: +%d -%d rows (was %d)", run.Drift.Added, run.Drift.Removed, run.Drift.PreviousRows)
	}
	if d := run.Duration(); d > 0 {
		fmt.Fprintf(&b, "\ntook %s", d.Round(time.Millisecond))
	}
	return Message{Title: "Feature build completed", Body: b.String(), OK: true}
}
