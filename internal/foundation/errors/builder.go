package errors

// ErrorBuilder assembles a ClassifiedError with the defaults of its
// category.
type ErrorBuilder struct {
	err ClassifiedError
}

// NewError starts an error of category.
func NewError(category ErrorCategory, message string) *ErrorBuilder {
	p := profileOf(category)
	return &ErrorBuilder{err: ClassifiedError{
		category: category,
		severity: p.severity,
		retry:    p.retry,
		message:  message,
	}}
}

// WrapError starts an error of category caused by err.
func WrapError(err error, category ErrorCategory, message string) *ErrorBuilder {
	b := NewError(category, message)
	b.err.cause = err
	return b
}

// WithContext attaches a detail that is logged and returned to API clients.
func (b *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	b.err.context = b.err.context.with(key, value)
	return b
}

// Build returns the error. The builder may be reused afterwards.
func (b *ErrorBuilder) Build() *ClassifiedError {
	e := b.err
	return &e
}

func ConfigError(message string) *ErrorBuilder     { return NewError(CategoryConfig, message) }
func ValidationError(message string) *ErrorBuilder { return NewError(CategoryValidation, message) }
func AuthError(message string) *ErrorBuilder       { return NewError(CategoryAuth, message) }
func NotFoundError(message string) *ErrorBuilder   { return NewError(CategoryNotFound, message) }
func StorageError(message string) *ErrorBuilder    { return NewError(CategoryStorage, message) }
func SourceError(message string) *ErrorBuilder     { return NewError(CategorySource, message) }
func MessagingError(message string) *ErrorBuilder  { return NewError(CategoryMessaging, message) }
func GenerationError(message string) *ErrorBuilder { return NewError(CategoryGeneration, message) }
func FileSystemError(message string) *ErrorBuilder { return NewError(CategoryFileSystem, message) }
func RuntimeError(message string) *ErrorBuilder    { return NewError(CategoryRuntime, message) }
func DaemonError(message string) *ErrorBuilder     { return NewError(CategoryDaemon, message) }
func InternalError(message string) *ErrorBuilder   { return NewError(CategoryInternal, message) }

// ContentionError reports that another owner holds the generation lock.
func ContentionError(message string) *ErrorBuilder {
	return NewError(CategoryContention, message)
}
