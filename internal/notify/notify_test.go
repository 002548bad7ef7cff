package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

type recordingSender struct {
	name string
	err  error
	got  []Message
}

func (s *recordingSender) Send(_ context.Context, msg Message) error {
	s.got = append(s.got, msg)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func finishedRun(status domain.RunStatus) domain.BuildRun {
	start := time.Date(2024, 9, 2, 6, 0, 0, 0, time.UTC)
	end := start.Add(1500 * time.Millisecond)
	return domain.BuildRun{
		ID:         "run-1",
		Trigger:    "cron",
		Status:     status,
		InputKey:   "raw/games.csv",
		OutputKey:  "processed/features.csv",
		Stats:      domain.BuildStats{Records: 40, Teams: 8, Fixtures: 20, Kept: 12, Dropped: 8, PositiveRate: 0.5},
		Drift:      &domain.Drift{PreviousRows: 10, Added: 2},
		StartedAt:  start,
		FinishedAt: &end,
	}
}

func TestNotifyRun_FiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventBuildFailed}, quietLogger())

	require.NoError(t, n.NotifyRun(context.Background(), finishedRun(domain.RunStatusSucceeded)))
	assert.Empty(t, s.got)

	failed := finishedRun(domain.RunStatusFailed)
	failed.Error = "features: empty input table"
	require.NoError(t, n.NotifyRun(context.Background(), failed))
	require.Len(t, s.got, 1)
	assert.Equal(t, "Feature build failed", s.got[0].Title)
	assert.False(t, s.got[0].OK)
	assert.Contains(t, s.got[0].Body, "empty input table")
}

func TestNotifyRun_IgnoresRunning(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, quietLogger())
	require.NoError(t, n.NotifyRun(context.Background(), domain.BuildRun{Status: domain.RunStatusRunning}))
	assert.Empty(t, s.got)
}

func TestNotify_CollectsSenderErrors(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.Notify(context.Background(), EventBuildCompleted, Message{Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Len(t, good.got, 1, "a failing sender does not block the others")
}

func TestRunMessage(t *testing.T) {
	msg := RunMessage(finishedRun(domain.RunStatusSucceeded))
	assert.True(t, msg.OK)
	assert.Contains(t, msg.Body, "kept 12, dropped 8, positive rate 0.500")
	assert.Contains(t, msg.Body, "drift: +2 -0 rows (was 10)")
	assert.Contains(t, msg.Body, "took 1.5s")
}

func TestDiscordSender(t *testing.T) {
	var payload discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	require.NoError(t, d.Send(context.Background(), Message{Title: "done", Body: "ok", OK: true}))
	require.Len(t, payload.Embeds, 1)
	assert.Equal(t, "done", payload.Embeds[0].Title)
	assert.Equal(t, discordColorOK, payload.Embeds[0].Color)
}

func TestTelegramSender(t *testing.T) {
	var path string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false}`))
	}))
	defer srv.Close()

	tg := NewTelegramSender("123:abc", "42")
	tg.apiBase = srv.URL

	err := tg.Send(context.Background(), Message{Title: "Feature build failed", Body: "raw_games.csv"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
	assert.Equal(t, "/bot123:abc/sendMessage", path)
	assert.Equal(t, "42", body["chat_id"])
	assert.Equal(t, "[FAILED] Feature build failed\nraw_games.csv", body["text"])
}
