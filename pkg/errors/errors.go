// Package errors defines the sentinel errors shared by the classifier
// services, maps them to HTTP status codes and gives each a stable code for
// JSON error bodies.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotReady            = errors.New("classifier not ready")
	ErrCorpusUnavailable   = errors.New("corpus unavailable")
	ErrIdempotencyConflict = errors.New("idempotency key already used")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrInternal            = errors.New("internal error")
	ErrTimeout             = errors.New("operation timed out")
)

// AppError pins a user-facing message and status to a sentinel.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return e.Err.Error() + ": " + e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{Err: sentinel, Message: message, StatusCode: statusCode}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return New(sentinel, statusCode, fmt.Sprintf(format, args...))
}

type mapping struct {
	match  func(error) bool
	status int
	code   string
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

func as[T error]() func(error) bool {
	return func(err error) bool {
		var t T
		return errors.As(err, &t)
	}
}

// mappings is checked in order; the first match wins.
var mappings = []mapping{
	{as[*classifier.ConstructionError](), http.StatusBadRequest, "invalid_configuration"},
	{as[*classifier.ClassificationError](), http.StatusInternalServerError, "classification_failed"},
	{is(ErrIdempotencyConflict), http.StatusConflict, "idempotency_conflict"},
	{is(ErrInvalidInput), http.StatusBadRequest, "invalid_input"},
	{is(ErrRateLimited), http.StatusTooManyRequests, "rate_limited"},
	{is(ErrNotReady), http.StatusServiceUnavailable, "not_ready"},
	{is(ErrCorpusUnavailable), http.StatusServiceUnavailable, "corpus_unavailable"},
	{is(ErrTimeout), http.StatusGatewayTimeout, "timeout"},
	{is(context.DeadlineExceeded), http.StatusGatewayTimeout, "timeout"},
}

func lookup(err error) (int, string) {
	for _, m := range mappings {
		if m.match(err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// HTTPStatusCode picks the response status for err. An AppError's own status
// wins over the sentinel it wraps.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	status, _ := lookup(err)
	return status
}

// Code returns a stable, machine-readable code for err.
func Code(err error) string {
	_, code := lookup(err)
	return code
}

// Body is the JSON error body the services return.
type Body struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// BodyOf builds the error body for err. An AppError contributes only its
// message, not the sentinel text.
func BodyOf(err error) Body {
	msg := err.Error()
	var appErr *AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	return Body{Error: msg, Code: Code(err)}
}
