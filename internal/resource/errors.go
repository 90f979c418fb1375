package resource

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/MarcoPoloResearchLab/studytrack/internal/model"
)

var (
	// ErrNetwork marks transport failures where no response was received.
	ErrNetwork = errors.New("resource: network error")
	// ErrNotFound indicates that the server reported the target id as missing.
	ErrNotFound = errors.New("resource: not found")
	// ErrValidation marks payloads rejected either locally or by the server.
	ErrValidation = errors.New("resource: validation failed")
	// ErrServer marks non-success responses without a recognized shape.
	ErrServer = errors.New("resource: server error")
)

// NetworkError wraps a transport failure.
type NetworkError struct {
	Operation string
	Err       error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Operation, ErrNetwork, e.Err)
}

func (e *NetworkError) Unwrap() []error {
	return []error{ErrNetwork, e.Err}
}

// ServerError reports a non-2xx response, or a 2xx response whose body could not be understood.
type ServerError struct {
	Operation string
	Status    int
	Message   string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: server error (status %d)", e.Operation, e.Status)
	}
	return fmt.Sprintf("%s: server error (status %d): %s", e.Operation, e.Status, e.Message)
}

func (e *ServerError) Unwrap() error {
	return ErrServer
}

// NotFoundError reports that the target of an item operation does not exist.
type NotFoundError struct {
	Kind model.Kind
	ID   uint64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind.Singular(), e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ValidationError reports a rejected payload. Local is true when the payload never left the process.
type ValidationError struct {
	Local   bool
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Cause}
}

// NewLocalValidationError wraps a local payload validation failure.
func NewLocalValidationError(cause error) *ValidationError {
	return &ValidationError{Local: true, Message: cause.Error(), Cause: cause}
}

// Describe renders an error from this package as a sentence suitable for a notification.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		if validationErr.Local {
			return "Not sent: " + validationErr.Message + "."
		}
		if validationErr.Message == "" {
			return "The server rejected the request."
		}
		return "The server rejected the request: " + validationErr.Message + "."
	}
	var notFoundErr *NotFoundError
	if errors.As(err, &notFoundErr) {
		return "This " + notFoundErr.Kind.Singular() + " no longer exists."
	}
	if errors.Is(err, ErrNotFound) {
		return "The requested item no longer exists."
	}
	if errors.Is(err, ErrNetwork) {
		return "Could not reach the server. Check your connection and try again."
	}
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return fmt.Sprintf("The server failed to handle the request (%d %s).", serverErr.Status, http.StatusText(serverErr.Status))
	}
	return err.Error()
}
