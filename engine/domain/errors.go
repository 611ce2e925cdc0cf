package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors, one per failure class. Typed errors below unwrap to them.
var (
	ErrExtraction        = errors.New("extraction failed")
	ErrStorage           = errors.New("storage failed")
	ErrEmbeddingService  = errors.New("embedding service failed")
	ErrGenerationService = errors.New("generation service failed")
	ErrCorpusMismatch    = errors.New("corpus mismatch")
	ErrRetrieval         = errors.New("retrieval failed")
	ErrEmptyQuery        = errors.New("empty query")
	ErrInvalidDocument   = errors.New("invalid document")
)

// ExtractionError reports a document whose text could not be obtained.
// Chunking skips the document and continues.
type ExtractionError struct {
	Document string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction: %s: %v", e.Document, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

// StorageError reports a failed checkpoint read or write.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Service names used in ServiceError.
const (
	ServiceEmbedding  = "embedding"
	ServiceGeneration = "generation"
)

// ErrorKind classifies a remote service failure.
type ErrorKind string

const (
	KindTransient   ErrorKind = "transient"
	KindRateLimited ErrorKind = "rate_limited"
	KindAuth        ErrorKind = "auth"
	KindTerminal    ErrorKind = "terminal"
)

// ServiceError reports a failed call to the embedding or generation service.
type ServiceError struct {
	Service string
	Kind    ErrorKind
	Status  int
	Detail  string
	Err     error
}

func (e *ServiceError) Error() string {
	msg := fmt.Sprintf("%s service: %s", e.Service, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ServiceError) Unwrap() error { return e.Err }

func (e *ServiceError) Is(target error) bool {
	switch target {
	case ErrEmbeddingService:
		return e.Service == ServiceEmbedding
	case ErrGenerationService:
		return e.Service == ServiceGeneration
	}
	return false
}

// Retryable reports whether the failure may succeed on a later attempt.
func (e *ServiceError) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimited
}

// KindForStatus maps an HTTP status to an ErrorKind.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout || status >= 500:
		return KindTransient
	}
	return KindTerminal
}

// NewStatusError builds a ServiceError from an HTTP response status.
func NewStatusError(service string, status int, detail string) *ServiceError {
	return &ServiceError{Service: service, Kind: KindForStatus(status), Status: status, Detail: detail}
}

// NewTransportError wraps a failure that happened before a response arrived.
// Timeouts and network errors are transient; cancellation by the caller is terminal.
func NewTransportError(service string, err error) *ServiceError {
	kind := KindTerminal
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		kind = KindTransient
	}
	return &ServiceError{Service: service, Kind: kind, Err: err}
}

// IsRetryable reports whether err wraps a retryable ServiceError.
func IsRetryable(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Retryable()
}

// CorpusMismatchError reports that segments and embeddings cannot be joined.
type CorpusMismatchError struct {
	Texts    int
	Vectors  int
	Position int
	Reason   string
}

func (e *CorpusMismatchError) Error() string {
	msg := fmt.Sprintf("corpus mismatch: %d texts, %d vectors", e.Texts, e.Vectors)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Position >= 0 && e.Texts == e.Vectors {
		msg += fmt.Sprintf(" at position %d", e.Position)
	}
	return msg
}

func (e *CorpusMismatchError) Is(target error) bool { return target == ErrCorpusMismatch }

// RetrievalError reports an index that could not be loaded or queried.
type RetrievalError struct {
	Path string
	Err  error
}

func (e *RetrievalError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("retrieval: %v", e.Err)
	}
	return fmt.Sprintf("retrieval: %s: %v", e.Path, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

func (e *RetrievalError) Is(target error) bool { return target == ErrRetrieval }

// ValidationError wraps a sentinel with the offending field.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
