package model

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Remote error kinds. A *RemoteError matches exactly one of these via errors.Is.
var (
	// ErrAuth: the signature or credential was rejected (401). Not retried.
	ErrAuth = errors.New("authentication failed")
	// ErrPermission: the credential is valid but lacks entitlement (403).
	ErrPermission = errors.New("permission denied")
	// ErrThrottled: the remote governance limit was hit (429). Retried with backoff.
	ErrThrottled = errors.New("request throttled")
	// ErrTransient: network failure or 5xx. Retried with backoff.
	ErrTransient = errors.New("transient network failure")
	// ErrMalformed: 400 or a response that violates the documented schema. Not retried.
	ErrMalformed = errors.New("malformed request or response")
	// ErrNotFound: the resource no longer exists (404).
	ErrNotFound = errors.New("resource not found")
	// ErrReadOnly: a mutating request was attempted against the record API.
	ErrReadOnly = errors.New("read-only client: only GET is permitted")
)

// RemoteError carries the request context of a failed remote call.
type RemoteError struct {
	Kind       error
	StatusCode int
	Method     string
	URL        string
	Detail     string
	// Credential is a masked description of the credential used, set for auth failures.
	Credential string
	RetryAfter time.Duration
	Err        error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Credential != "" {
		msg += " [credential " + e.Credential + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the error kind.
func (e *RemoteError) Is(target error) bool {
	return target == e.Kind
}

// Unwrap exposes the underlying transport error, if any.
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// KindForStatus maps an HTTP status code to a remote error kind. It returns nil
// for successful responses.
func KindForStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return ErrAuth
	case status == http.StatusForbidden:
		return ErrPermission
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests:
		return ErrThrottled
	case status == http.StatusRequestTimeout, status >= 500:
		return ErrTransient
	default:
		return ErrMalformed
	}
}

// IsRetryable reports whether err is worth retrying with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrTransient)
}

// IsFatal reports whether err must end the whole pass rather than a single record.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrPermission) || errors.Is(err, ErrReadOnly)
}
