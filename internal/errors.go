package internal

import (
	"fmt"
	"strings"
	"time"
)

// IngestError marks a document that could not be opened at all. It is
// terminal for the run and is not retried.
type IngestError struct {
	Path string
	Err  error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest_error: %s: %v", e.Path, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

// FieldIssue is one field-addressable validation problem.
type FieldIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i FieldIssue) String() string {
	return i.Field + " " + i.Message
}

// ValidationError carries the full field-tagged issue list for a record that
// cannot become READY. It is recoverable by operator edit.
type ValidationError struct {
	DispatchID string
	Issues     []FieldIssue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		parts = append(parts, i.String())
	}
	return fmt.Sprintf("validation failed for %s: [%s]", e.DispatchID, strings.Join(parts, "; "))
}

type APIErrorKind string

const (
	APIRateLimited   APIErrorKind = "rate_limited"
	APIServerError   APIErrorKind = "server_error"
	APIConflictStale APIErrorKind = "conflict_stale"
	APIAuthError     APIErrorKind = "auth_error"
	APIBadRequest    APIErrorKind = "bad_request"
)

// APIError is a typed failure from the freight-marketplace API. RateLimited,
// ServerError and ConflictStale are retried per policy; AuthError and
// BadRequest are terminal.
type APIError struct {
	Kind       APIErrorKind
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marketplace api %s: status=%d body=%s", e.Kind, e.StatusCode, e.Body)
}

func (e *APIError) Retryable() bool {
	switch e.Kind {
	case APIRateLimited, APIServerError:
		return true
	default:
		return false
	}
}
