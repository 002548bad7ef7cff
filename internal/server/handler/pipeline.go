package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// PipelineHandler serves the manual rebuild trigger.
type PipelineHandler struct {
	logger    *slog.Logger
	triggerCh chan<- struct{}
}

// NewPipelineHandler creates a PipelineHandler. Without a trigger channel
// the endpoint answers 503.
func NewPipelineHandler(logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{logger: logHandler(logger, "pipeline")}
}

// WithTriggerChannel sets the channel the orchestrator reads build requests
// from.
func (h *PipelineHandler) WithTriggerChannel(ch chan<- struct{}) *PipelineHandler {
	h.triggerCh = ch
	return h
}

// TriggerPipeline queues one feature build. Requests made while a build is
// already queued collapse into it.
// POST /api/pipeline/trigger
func (h *PipelineHandler) TriggerPipeline(w http.ResponseWriter, r *http.Request) {
	if h.triggerCh == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler is not running")
		return
	}

	status := "queued"
	select {
	case h.triggerCh <- struct{}{}:
	default:
		status = "already_queued"
	}
	h.logger.InfoContext(r.Context(), "feature build requested", slog.String("status", status))

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       status,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
