package library

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAdminRequired is returned, without any request, when a non-admin
	// session triggers an admin-only action.
	ErrAdminRequired = errors.New("admin access required")

	// ErrProtectedUser is returned when deleting the initial admin account.
	ErrProtectedUser = errors.New("cannot delete the initial admin user")

	// ErrUnknownAction is returned by Dispatch for unregistered action kinds.
	ErrUnknownAction = errors.New("unknown action")

	// ErrSessionNotEstablished is returned when the backend accepts a login
	// but its status query still reports no session.
	ErrSessionNotEstablished = errors.New("session was not established")
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("HTTP error %d", e.Status)
}

// NetworkError is a transport failure: the request never produced a response.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error during %s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError is a local form check failure; no request was sent.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// IsUnauthorized reports whether err is a 401 or 403 from the backend.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
}

// describe turns err into the text shown in the status banner.
func describe(err error) string {
	var (
		netErr *NetworkError
		apiErr *APIError
	)
	switch {
	case errors.As(err, &netErr):
		return "network error"
	case errors.As(err, &apiErr):
		return apiErr.Error()
	default:
		return err.Error()
	}
}
