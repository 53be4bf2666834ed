package errors

import "net/http"

// ErrorCategory is the broad class of an error. It decides the defaults of
// new errors and how the API and the CLI report them.
type ErrorCategory string

const (
	// Caller mistakes.
	CategoryConfig        ErrorCategory = "config"
	CategoryValidation    ErrorCategory = "validation"
	CategoryAuth          ErrorCategory = "auth"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryAlreadyExists ErrorCategory = "already_exists"

	// Collaborators: the database, the content source, the NATS bus and
	// the generation lock.
	CategoryStorage    ErrorCategory = "storage"
	CategorySource     ErrorCategory = "source"
	CategoryMessaging  ErrorCategory = "messaging"
	CategoryContention ErrorCategory = "contention"

	// Writing llms.txt and llms-full.txt.
	CategoryGeneration ErrorCategory = "generation"
	CategoryFileSystem ErrorCategory = "filesystem"

	// Process level.
	CategoryRuntime  ErrorCategory = "runtime"
	CategoryDaemon   ErrorCategory = "daemon"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity is the log level an error is reported at.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"
	SeverityError   ErrorSeverity = "error"
	SeverityWarning ErrorSeverity = "warning"
	SeverityInfo    ErrorSeverity = "info"
)

// RetryStrategy tells the caller whether repeating the operation can help.
type RetryStrategy string

const (
	RetryNever      RetryStrategy = "never"
	RetryBackoff    RetryStrategy = "backoff"
	RetryLater      RetryStrategy = "later" // after the current lock owner finishes
	RetryUserAction RetryStrategy = "user"
)

// profile holds the per-category defaults.
type profile struct {
	severity ErrorSeverity
	retry    RetryStrategy
	exitCode int
	status   int
}

var profiles = map[ErrorCategory]profile{
	CategoryConfig:        {SeverityFatal, RetryNever, 7, http.StatusBadRequest},
	CategoryValidation:    {SeverityFatal, RetryNever, 2, http.StatusBadRequest},
	CategoryAuth:          {SeverityError, RetryUserAction, 5, http.StatusUnauthorized},
	CategoryNotFound:      {SeverityError, RetryNever, 4, http.StatusNotFound},
	CategoryAlreadyExists: {SeverityError, RetryNever, 1, http.StatusConflict},
	CategoryStorage:       {SeverityError, RetryBackoff, 12, http.StatusServiceUnavailable},
	CategorySource:        {SeverityError, RetryBackoff, 8, http.StatusBadGateway},
	CategoryMessaging:     {SeverityError, RetryBackoff, 8, http.StatusBadGateway},
	CategoryContention:    {SeverityInfo, RetryLater, 3, http.StatusConflict},
	CategoryGeneration:    {SeverityFatal, RetryNever, 11, http.StatusUnprocessableEntity},
	CategoryFileSystem:    {SeverityError, RetryBackoff, 11, http.StatusInternalServerError},
	CategoryRuntime:       {SeverityFatal, RetryNever, 12, http.StatusServiceUnavailable},
	CategoryDaemon:        {SeverityFatal, RetryNever, 12, http.StatusServiceUnavailable},
	CategoryInternal:      {SeverityFatal, RetryNever, 10, http.StatusInternalServerError},
}

// unclassified applies to plain errors and unknown categories.
var unclassified = profile{SeverityError, RetryNever, 1, http.StatusInternalServerError}

func profileOf(c ErrorCategory) profile {
	if p, ok := profiles[c]; ok {
		return p
	}
	return unclassified
}

// ErrorContext is structured detail attached to an error. It is returned to
// API clients as the details object.
type ErrorContext map[string]any

// with returns a copy of c that also holds key.
func (c ErrorContext) with(key string, value any) ErrorContext {
	out := make(ErrorContext, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	out[key] = value
	return out
}
