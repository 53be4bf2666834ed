package api

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/llmstxt/internal/filecache"
	"git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
	"git.home.luguber.info/inful/llmstxt/internal/logfields"
	"git.home.luguber.info/inful/llmstxt/internal/progress"
	"git.home.luguber.info/inful/llmstxt/internal/runner"
)

// CurrentResponse is the body of GET /progress/current.
type CurrentResponse struct {
	Active bool           `json:"active"`
	Run    *progress.View `json:"run,omitempty"`
}

// GenerateResponse is the body of POST /generate.
type GenerateResponse struct {
	RunID string `json:"run_id"`
}

// CancelResponse is the body of POST /progress/{run_id}/cancel.
type CancelResponse struct {
	RunID     string `json:"run_id"`
	Cancelled bool   `json:"cancelled"`
}

// LogsResponse is the body of GET /logs.
type LogsResponse struct {
	Logs    []progress.LogEntry `json:"logs"`
	HasMore bool                `json:"has_more"`
	LastID  int64               `json:"last_id"`
}

// PruneResponse is the body of DELETE /logs.
type PruneResponse struct {
	Deleted int64 `json:"deleted"`
}

// FilesResponse is the body of GET /files.
type FilesResponse struct {
	Files []filecache.Info `json:"files"`
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	view, err := s.deps.Tracker.View(r.Context(), runID)
	if err != nil {
		s.Fail(w, r, err)
		return
	}
	s.Success(w, http.StatusOK, view)
}

func (s *Server) handleCurrentProgress(w http.ResponseWriter, r *http.Request) {
	runID, err := s.deps.Tracker.CurrentRun(r.Context())
	if err != nil {
		s.Fail(w, r, err)
		return
	}
	if runID == "" {
		s.Success(w, http.StatusOK, CurrentResponse{})
		return
	}
	view, err := s.deps.Tracker.View(r.Context(), runID)
	if errors.HasCategory(err, errors.CategoryNotFound) {
		s.Success(w, http.StatusOK, CurrentResponse{})
		return
	}
	if err != nil {
		s.Fail(w, r, err)
		return
	}
	s.Success(w, http.StatusOK, CurrentResponse{Active: !view.Status.Terminal(), Run: view})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	live, err := s.deps.Tracker.Cancel(r.Context(), runID)
	if err != nil {
		s.Fail(w, r, err)
		return
	}
	if live {
		s.logger.InfoContext(r.Context(), "Cancellation requested", logfields.RunID(runID))
	}
	s.Success(w, http.StatusOK, CancelResponse{RunID: runID, Cancelled: live})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	runID, err := s.deps.Runner.Trigger(r.Context(), runner.SourceAPI)
	if stderrors.Is(err, runner.ErrBusy) {
		writeJSON(w, http.StatusConflict, Response{
			Success:   false,
			Error:     err.Error(),
			Code:      string(errors.CategoryContention),
			Data:      GenerateResponse{RunID: runID},
			Retryable: true,
		})
		return
	}
	if err != nil {
		s.Fail(w, r, err)
		return
	}
	s.Success(w, http.StatusAccepted, GenerateResponse{RunID: runID})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var query progress.LogQuery
	var err error
	if v := q.Get("last_id"); v != "" {
		if query.AfterID, err = strconv.ParseInt(v, 10, 64); err != nil || query.AfterID < 0 {
			s.Fail(w, r, errors.ValidationError("last_id must be a non-negative integer").WithContext("last_id", v).Build())
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if query.Limit, err = strconv.Atoi(v); err != nil || query.Limit < 1 {
			s.Fail(w, r, errors.ValidationError("limit must be a positive integer").WithContext("limit", v).Build())
			return
		}
	}
	if v := q.Get("level"); v != "" && v != "all" {
		level, ok := progress.ParseLevel(v)
		if !ok {
			s.Fail(w, r, errors.ValidationError("unknown log level").WithContext("level", v).Build())
			return
		}
		query.Level = level
	}
	query.RunID = q.Get("run_id")

	page, err := s.deps.Tracker.Logs(r.Context(), query)
	if err != nil {
		s.Fail(w, r, err)
		return
	}
	resp := LogsResponse{Logs: page.Logs, HasMore: page.HasMore, LastID: query.AfterID}
	if resp.Logs == nil {
		resp.Logs = []progress.LogEntry{}
	}
	if n := len(page.Logs); n > 0 {
		resp.LastID = page.Logs[n-1].ID
	}
	s.Success(w, http.StatusOK, resp)
}

func (s *Server) handlePruneLogs(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Tracker.PruneLogs(r.Context(), s.deps.LogRetention)
	if err != nil {
		s.Fail(w, r, err)
		return
	}
	s.Success(w, http.StatusOK, PruneResponse{Deleted: n})
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	resp := FilesResponse{Files: make([]filecache.Info, 0, len(s.deps.OutputFiles))}
	for _, p := range s.deps.OutputFiles {
		info, err := s.deps.Files.Stat(p)
		if err != nil {
			s.Fail(w, r, err)
			return
		}
		resp.Files = append(resp.Files, info)
	}
	s.Success(w, http.StatusOK, resp)
}
