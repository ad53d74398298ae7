// internal/domain/errors.go
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized is matched by a RequestError carrying HTTP 401.
// Callers can check for it using errors.Is to trigger token refresh or re-login.
var ErrUnauthorized = errors.New("unauthorized")

var (
	// ErrAuthExpired marks a session that can no longer be recovered without logging in again.
	ErrAuthExpired = errors.New("session expired")
	// ErrRefreshRejected is the reason carried by AuthExpiredError when the refresh endpoint
	// answered with an error or without a new access token.
	ErrRefreshRejected = errors.New("refresh token rejected")
	// ErrNoRefreshToken is returned when a refresh is requested but none is stored.
	ErrNoRefreshToken = errors.New("no refresh token available")
)

// AuthExpiredError is returned when both the access token and the refresh token are
// unusable, and interactive login is required.
type AuthExpiredError struct {
	Reason error
}

func (e *AuthExpiredError) Error() string {
	if e.Reason == nil {
		return "session expired: login required"
	}
	return fmt.Sprintf("session expired: login required: %v", e.Reason)
}

// Is makes errors.Is(err, ErrAuthExpired) hold for every AuthExpiredError.
func (e *AuthExpiredError) Is(target error) bool {
	return target == ErrAuthExpired
}

func (e *AuthExpiredError) Unwrap() error {
	return e.Reason
}

// RequestError is a non-2xx answer from the backend.
type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	Status     string
	// Detail is the human readable message extracted from the error body, if any.
	Detail string
	Body   []byte
}

func (e *RequestError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Detail != "" {
		return fmt.Sprintf("api error: %s %s: %s: %s", e.Method, e.Path, status, e.Detail)
	}
	return fmt.Sprintf("api error: %s %s: %s", e.Method, e.Path, status)
}

func (e *RequestError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// NetworkError means no response was received at all.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
