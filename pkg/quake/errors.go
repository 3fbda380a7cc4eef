package quake

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuthentication matches every *AuthenticationError.
	ErrAuthentication = errors.New("quake: authentication failed")

	ErrNoChannels           = errors.New("quake: no communication channels have been specified")
	ErrMissingWebhookSecret = errors.New("quake: the webhook secret has not been provided")
	ErrClientNotSet         = errors.New("quake: client not set")
	ErrInvalidTelephone     = errors.New("quake: invalid telephone number")
	ErrMissingID            = errors.New("quake: record id is required")
)

// AuthenticationError is returned when the client-credentials exchange is rejected
// or its response cannot be used.
type AuthenticationError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *AuthenticationError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("quake: authentication failed (status %d): %v", e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("quake: authentication failed (status %d)", e.StatusCode)
	}
}

func (e *AuthenticationError) Is(target error) bool { return target == ErrAuthentication }

func (e *AuthenticationError) Unwrap() error { return e.Err }

// TransportError wraps failures where no HTTP response was received
// (connection refused, DNS, timeout, cancelled context).
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("quake: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is a non-2xx response from a resource endpoint.
type APIError struct {
	StatusCode int
	Body       []byte
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("quake: api returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("quake: api returned %d", e.StatusCode)
}

// newAPIError extracts a human message from the common {"message": "..."} or
// {"error": "..."} bodies when present.
func newAPIError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status, Body: body}

	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Message = strings.TrimSpace(payload.Message)
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(payload.Error)
		}
	}
	return apiErr
}
