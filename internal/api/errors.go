package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed request.
type Kind int

const (
	// KindNetworkUnavailable means no response was received.
	KindNetworkUnavailable Kind = iota + 1
	// KindAuthRejected is a 401 response.
	KindAuthRejected
	// KindServerError is a 5xx response.
	KindServerError
	// KindClientError is any other 4xx response.
	KindClientError
	// KindDecode means the body could not be decoded.
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindNetworkUnavailable:
		return "network_unavailable"
	case KindAuthRejected:
		return "auth_rejected"
	case KindServerError:
		return "server_error"
	case KindClientError:
		return "client_error"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

var (
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrAuthRejected       = errors.New("authentication rejected")
	ErrServerError        = errors.New("server error")
	ErrClientError        = errors.New("client error")
	ErrDecode             = errors.New("decode error")
	ErrNoToken            = errors.New("no auth token")
)

// Error is returned by every Client method that fails.
type Error struct {
	Kind    Kind
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Code != "":
		return fmt.Sprintf("http %d %s: %s", e.Status, e.Code, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("http %d: %s", e.Status, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetworkUnavailable:
		return e.Kind == KindNetworkUnavailable
	case ErrAuthRejected:
		return e.Kind == KindAuthRejected
	case ErrServerError:
		return e.Kind == KindServerError
	case ErrClientError:
		return e.Kind == KindClientError
	case ErrDecode:
		return e.Kind == KindDecode
	}
	return false
}

// KindOf returns the kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return 0
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindNetworkUnavailable, KindServerError:
		return true
	}
	return false
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuthRejected
	case status >= 500:
		return KindServerError
	default:
		return KindClientError
	}
}
