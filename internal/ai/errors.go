package ai

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type Kind string

const (
	KindTimeout Kind = "timeout"
	KindNetwork Kind = "network"
	KindHTTP    Kind = "http"
)

// RequestError is a classified failure of one upstream call. The only
// implementations are *TimeoutError, *NetworkError and *HTTPError.
type RequestError interface {
	error
	Kind() Kind
	requestError()
}

type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("analysis request timed out after %s", e.After)
}

func (*TimeoutError) Kind() Kind    { return KindTimeout }
func (*TimeoutError) requestError() {}

type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("analysis request failed: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }
func (*NetworkError) Kind() Kind      { return KindNetwork }
func (*NetworkError) requestError()   {}

type HTTPError struct {
	Status     int
	Body       string
	RetryAfter *time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("analysis upstream error: status %d: %s", e.Status, e.Body)
}

func (*HTTPError) Kind() Kind    { return KindHTTP }
func (*HTTPError) requestError() {}

// ErrMalformedResponse marks a 2xx response that carried no usable payload.
// It is never retried.
var ErrMalformedResponse = errors.New("malformed analysis response")

// Retryable reports whether another attempt may succeed.
func Retryable(err RequestError) bool {
	switch e := err.(type) {
	case *TimeoutError:
		return true
	case *NetworkError:
		return true
	case *HTTPError:
		return e.Status == http.StatusTooManyRequests || (e.Status >= 500 && e.Status <= 599)
	default:
		return false
	}
}

// serverDelay returns the wait the server asked for, if any.
func serverDelay(err RequestError) (time.Duration, bool) {
	if e, ok := err.(*HTTPError); ok && e.RetryAfter != nil {
		return *e.RetryAfter, true
	}
	return 0, false
}
