package apperrors

import (
	"errors"
	"net/http"
)

// =============================================================================
// Error Codes
// =============================================================================

type ErrorCode string

const (
	ErrorCodeInternalError          ErrorCode = "INTERNAL_ERROR"
	ErrorCodeValidationError        ErrorCode = "VALIDATION_ERROR"
	ErrorCodeNotFound               ErrorCode = "NOT_FOUND"
	ErrorCodeUnauthorized           ErrorCode = "UNAUTHORIZED"
	ErrorCodeAuthTokenExpired       ErrorCode = "AUTH_TOKEN_EXPIRED"
	ErrorCodeAuthTokenInvalid       ErrorCode = "AUTH_TOKEN_INVALID"
	ErrorCodeSonosConnection        ErrorCode = "SONOS_CONNECTION_ERROR"
	ErrorCodeUnsupportedTransition  ErrorCode = "UNSUPPORTED_TRANSITION"
	ErrorCodeSlaveFault             ErrorCode = "SLAVE_FAULT"
	ErrorCodeDecodeFault            ErrorCode = "DECODE_FAULT"
	ErrorCodeDeviceNotFound         ErrorCode = "DEVICE_NOT_FOUND"
	ErrorCodeDeviceUnavailable      ErrorCode = "DEVICE_UNAVAILABLE"
	ErrorCodeInvalidAction          ErrorCode = "INVALID_ACTION"
	ErrorCodeServiceNotBootstrapped ErrorCode = "SERVICE_NOT_BOOTSTRAPPED"
)

// =============================================================================
// Domain error kinds
// =============================================================================

var (
	// ErrConnection covers timeouts and unreachable devices. It is the only
	// kind that asks the poll loop to reconnect.
	ErrConnection = errors.New("sonos connection error")
	// ErrUnsupportedTransition is raised when a transport action is not in
	// the device's current action set or the device answers UPnP fault 701.
	ErrUnsupportedTransition = errors.New("transition not available")
	// ErrSlaveFault is raised when a group follower rejects a command that
	// only its coordinator may execute.
	ErrSlaveFault     = errors.New("command rejected by group member")
	ErrDecodeFault    = errors.New("event payload could not be decoded")
	ErrDeviceNotFound = errors.New("device not found")
	// ErrDeviceUnavailable means the device is known to the state tree but
	// no live handle exists for it in the current discovery set.
	ErrDeviceUnavailable = errors.New("device unavailable")
)

// =============================================================================
// Stripe API Error Types
// =============================================================================

// ErrorType categorizes errors following Stripe API conventions.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates invalid parameters, missing required fields, etc.
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAPIError indicates an internal API error.
	ErrorTypeAPIError ErrorType = "api_error"
	// ErrorTypeAuthError indicates authentication or authorization failure.
	ErrorTypeAuthError ErrorType = "authentication_error"
)

// StripeErrorBody is the Stripe-style error payload.
// Format: {"type": "invalid_request_error", "code": "NOT_FOUND", "message": "..."}
type StripeErrorBody struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

// AppError is the base error type for HTTP responses.
type AppError struct {
	Code       ErrorCode
	Message    string
	StatusCode int
	Details    map[string]any
	cause      error
}

func (err *AppError) Error() string {
	return err.Message
}

// Unwrap exposes the domain error kind the AppError was built from.
func (err *AppError) Unwrap() error {
	return err.cause
}

// StripeErrorBody returns the error in Stripe API format.
func (err *AppError) StripeErrorBody() StripeErrorBody {
	errType := ErrorTypeAPIError
	switch {
	case err.StatusCode == 401 || err.StatusCode == 403:
		errType = ErrorTypeAuthError
	case err.StatusCode >= 400 && err.StatusCode < 500:
		errType = ErrorTypeInvalidRequest
	}

	return StripeErrorBody{
		Type:    errType,
		Code:    string(err.Code),
		Message: err.Message,
	}
}

func NewAppError(code ErrorCode, message string, statusCode int, details map[string]any) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Details:    details,
	}
}

func NewValidationError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeValidationError, message, http.StatusBadRequest, details)
}

func NewUnauthorizedError(message string, code ...ErrorCode) *AppError {
	errCode := ErrorCodeUnauthorized
	if len(code) > 0 {
		errCode = code[0]
	}
	return NewAppError(errCode, message, http.StatusUnauthorized, nil)
}

func NewNotFoundResource(resource, id string) *AppError {
	message := resource + " not found"
	details := map[string]any{
		"resource": resource,
	}
	if id != "" {
		message = resource + " not found: " + id
		details["id"] = id
	}
	return NewAppError(ErrorCodeNotFound, message, http.StatusNotFound, details)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorCodeInternalError, message, http.StatusInternalServerError, nil)
}

// kinds maps each domain error kind to its HTTP representation.
var kinds = []struct {
	err    error
	code   ErrorCode
	status int
}{
	{ErrDeviceNotFound, ErrorCodeDeviceNotFound, http.StatusNotFound},
	{ErrDeviceUnavailable, ErrorCodeDeviceUnavailable, http.StatusServiceUnavailable},
	{ErrUnsupportedTransition, ErrorCodeUnsupportedTransition, http.StatusConflict},
	{ErrSlaveFault, ErrorCodeSlaveFault, http.StatusConflict},
	{ErrConnection, ErrorCodeSonosConnection, http.StatusBadGateway},
	{ErrDecodeFault, ErrorCodeDecodeFault, http.StatusBadGateway},
}

// FromError converts a domain error into an AppError. It returns nil when
// err does not wrap one of the domain error kinds.
func FromError(err error) *AppError {
	for _, kind := range kinds {
		if errors.Is(err, kind.err) {
			return &AppError{
				Code:       kind.code,
				Message:    err.Error(),
				StatusCode: kind.status,
				cause:      kind.err,
			}
		}
	}
	return nil
}

// EnsureAppError converts an arbitrary error into an AppError.
func EnsureAppError(err error) *AppError {
	if err == nil {
		return NewInternalError("Unknown error")
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if mapped := FromError(err); mapped != nil {
		return mapped
	}
	return NewInternalError("Internal server error")
}
