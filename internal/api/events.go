package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/llmstxt/internal/logfields"
	"git.home.luguber.info/inful/llmstxt/internal/progress"
)

// streamTimeout closes a stream whose run made no progress for this long.
const streamTimeout = 60 * time.Second

// ProgressEvent is one server-sent event of a run.
type ProgressEvent struct {
	Type      string         `json:"type"` // connected, progress, completed, cancelled, error
	RunID     string         `json:"run_id"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message,omitempty"`
	Progress  *progress.View `json:"progress,omitempty"`
}

// handleProgressEvents streams a run's progress as server-sent events. It
// polls the stored read model and closes once the run is terminal.
func (s *Server) handleProgressEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	ctx := r.Context()
	view, err := s.deps.Tracker.View(ctx, runID)
	if err != nil {
		s.Fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s.logger.DebugContext(ctx, "Progress stream opened", logfields.RunID(runID))
	s.sendEvent(w, ProgressEvent{Type: "connected", RunID: runID, Timestamp: time.Now(), Progress: view})

	ticker := time.NewTicker(s.deps.PollInterval)
	defer ticker.Stop()
	lastChange := time.Now()
	for {
		if view.Status.Terminal() {
			s.sendEvent(w, ProgressEvent{Type: string(view.Status), RunID: runID, Timestamp: time.Now(), Progress: view})
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		next, err := s.deps.Tracker.View(ctx, runID)
		if err != nil {
			s.sendEvent(w, ProgressEvent{Type: "error", RunID: runID, Timestamp: time.Now(), Message: err.Error()})
			return
		}
		if next.UpdatedAt != view.UpdatedAt || next.CurrentItem != view.CurrentItem || next.Status != view.Status {
			lastChange = time.Now()
			if !next.Status.Terminal() {
				s.sendEvent(w, ProgressEvent{Type: "progress", RunID: runID, Timestamp: lastChange, Progress: next})
			}
		} else if time.Since(lastChange) > streamTimeout {
			s.sendEvent(w, ProgressEvent{Type: "timeout", RunID: runID, Timestamp: time.Now(), Message: "no progress within timeout period"})
			return
		}
		view = next
	}
}

// sendEvent writes event in SSE format and flushes it.
func (s *Server) sendEvent(w http.ResponseWriter, event ProgressEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("Failed to marshal progress event", logfields.Error(err))
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
