package errors

import (
	"log/slog"
	"net/http"
)

// HTTPErrorAdapter maps errors onto operator API responses.
type HTTPErrorAdapter struct {
	logger *slog.Logger
}

// NewHTTPErrorAdapter returns an adapter logging to logger, or to the
// default logger when nil.
func NewHTTPErrorAdapter(logger *slog.Logger) *HTTPErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPErrorAdapter{logger: logger}
}

// HTTPErrorResponse is the error payload of the API.
type HTTPErrorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

// StatusCodeFor returns 200 for nil, 500 for unclassified errors and the
// category status otherwise.
func (a *HTTPErrorAdapter) StatusCodeFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if c, ok := AsClassified(err); ok {
		return c.HTTPStatus()
	}
	return unclassified.status
}

// FormatErrorResponse builds the payload for err. Classified errors expose
// their message, category and context; the cause stays server side.
func (a *HTTPErrorAdapter) FormatErrorResponse(err error) HTTPErrorResponse {
	if err == nil {
		return HTTPErrorResponse{}
	}
	c, ok := AsClassified(err)
	if !ok {
		return HTTPErrorResponse{Error: err.Error()}
	}
	resp := HTTPErrorResponse{Error: c.message, Code: string(c.category), Retryable: c.CanRetry()}
	if len(c.context) > 0 {
		resp.Details = c.context
	}
	return resp
}

// Log records a failed request at the level of err's severity. Server-side
// failures are always logged; client errors only at debug level.
func (a *HTTPErrorAdapter) Log(r *http.Request, status int, err error) {
	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
		if c, ok := AsClassified(err); ok {
			level = max(c.severity.level(), slog.LevelWarn)
		}
	}
	a.logger.Log(r.Context(), level, "API request failed",
		slog.String("path", r.URL.Path), slog.Int("status", status), slog.String("error", err.Error()))
}
