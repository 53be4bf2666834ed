// Package errors provides the classified error type used across llmstxt.
//
// Every error has a category. The category supplies the default severity
// and retry strategy, the CLI exit code and the API status code:
//
//	err := errors.StorageError("upsert cache row").
//		WithContext("document_id", id).
//		Build()
package errors
