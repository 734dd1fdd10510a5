package util

import (
	"errors"
	"fmt"
)

// ErrPostGone reports that the remote post no longer exists.
var ErrPostGone = errors.New("post gone")

// FetchKind classifies a fetch failure.
type FetchKind int

const (
	// KindTransient failures (bad status, API-reported failure, network) are retried.
	KindTransient FetchKind = iota
	// KindMalformed is a successful response with an unexpected shape. Not retried.
	KindMalformed
	// KindGone means the target was deleted. Not retried.
	KindGone
	// KindExhausted is returned once every attempt failed transiently.
	KindExhausted
)

func (k FetchKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindMalformed:
		return "malformed"
	case KindGone:
		return "gone"
	case KindExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// FetchError is returned by fetch operations and by FetchWithRetry.
type FetchError struct {
	Kind       FetchKind
	Op         string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Op, e.Kind)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transient builds a retryable FetchError.
func Transient(op string, status int, err error) *FetchError {
	return &FetchError{Kind: KindTransient, Op: op, StatusCode: status, Err: err}
}

// Malformed builds a non-retryable schema error.
func Malformed(op string, err error) *FetchError {
	return &FetchError{Kind: KindMalformed, Op: op, Err: err}
}

// Gone builds a non-retryable "deleted" error wrapping ErrPostGone.
func Gone(op string, status int) *FetchError {
	return &FetchError{Kind: KindGone, Op: op, StatusCode: status, Err: ErrPostGone}
}

// IsKind reports whether err is a FetchError of kind k.
func IsKind(err error, k FetchKind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == k
}

func retryable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind == KindTransient
	}
	return true
}
