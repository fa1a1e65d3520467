package driver

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// AuthError means the server rejected our credentials or token. Fatal
// for the whole run: no channel can proceed without authentication.
type AuthError struct {
	Op      string
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: authentication failed (%d): %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: authentication failed (%d)", e.Op, e.Status)
}

// APIError is a non-200 response that is not an authentication failure.
// Rate limits and server-side errors are worth retrying.
type APIError struct {
	Op      string
	Status  int
	Message string
	Detail  string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: server returned %d", e.Op, e.Status)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *APIError) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// TransportError is a network-level failure before any HTTP status
// arrived. Always worth retrying.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }
func (e *TransportError) Transient() bool { return true }

// responseError classifies a non-200 response, pulling the server's
// error message out of the body when there is one.
func responseError(op string, resp *http.Response) error {
	var body struct {
		Message string `json:"message"`
		Detail  string `json:"detailed_error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthError{Op: op, Status: resp.StatusCode, Message: body.Message}
	}
	return &APIError{Op: op, Status: resp.StatusCode, Message: body.Message, Detail: body.Detail}
}
