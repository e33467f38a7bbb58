// Package httperr defines the error kinds of spec.md §7 and maps them to
// the unified `{"error": "..."}` response shape, mirroring the
// bad_request/payload_too_large/internal_error helper triplet in
// original_source/backend/src/http_errors.rs.
package httperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

// Kind tags an error with the HTTP status it maps to.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindNotFound
	KindConflict
	KindTooLarge
	KindUnsupported
)

// Error is a classified error carrying a client-safe message. The detailed
// wrapped error, if any, is only ever logged, never serialized.
type Error struct {
	Kind    Kind
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Wrapped)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Wrapped }

func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUnsupported:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func Validation(msg string) *Error   { return &Error{Kind: KindValidation, Message: msg} }
func Unauthorized(msg string) *Error { return &Error{Kind: KindUnauthorized, Message: msg} }
func NotFound(msg string) *Error     { return &Error{Kind: KindNotFound, Message: msg} }
func Conflict(msg string) *Error     { return &Error{Kind: KindConflict, Message: msg} }
func TooLarge(msg string) *Error     { return &Error{Kind: KindTooLarge, Message: msg} }
func Unsupported(msg string) *Error  { return &Error{Kind: KindUnsupported, Message: msg} }

// Internal wraps err for logging but returns a generic message to the
// client — the implementer must not leak SQL text or filesystem paths.
func Internal(log zerolog.Logger, err error) *Error {
	log.Error().Err(err).Msg("internal error")
	return &Error{Kind: KindInternal, Message: "internal server error", Wrapped: err}
}

// As extracts an *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Body is the wire shape of every error response.
type Body struct {
	Error string `json:"error"`
}

// Write renders err as a `{"error": "..."}` response with the status
// implied by its Kind. Errors that are not *Error are treated as internal.
func Write(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	e, ok := As(err)
	if !ok {
		e = Internal(log, err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status())
	fmt.Fprintf(w, `{"error":%q}`, e.Message)
}
