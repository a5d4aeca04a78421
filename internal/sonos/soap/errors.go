package soap

import (
	"errors"
	"fmt"

	"github.com/strefethen/sonos-bridge-go/internal/apperrors"
)

// UPnP error codes returned by Sonos players that map to domain error kinds.
const (
	FaultTransitionNotAvailable = "701"
	FaultNotCoordinator         = "800"
)

// SonosRejectedError represents a UPnP/SOAP error response from a device.
type SonosRejectedError struct {
	Action      string
	Code        string
	Description string
}

func (e *SonosRejectedError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("sonos action %s rejected: code %s", e.Action, e.Code)
	}
	return fmt.Sprintf("sonos action %s rejected: code %s (%s)", e.Action, e.Code, e.Description)
}

// SonosTimeoutError indicates a request timed out.
type SonosTimeoutError struct {
	Action string
}

func (e *SonosTimeoutError) Error() string {
	return fmt.Sprintf("sonos action %s timed out", e.Action)
}

// SonosUnreachableError indicates the device could not be reached.
type SonosUnreachableError struct {
	Action string
	Err    error
}

func (e *SonosUnreachableError) Error() string {
	return fmt.Sprintf("sonos action %s unreachable: %v", e.Action, e.Err)
}

func (e *SonosUnreachableError) Unwrap() error {
	return e.Err
}

// Classify wraps a SOAP error with the matching domain error kind so callers
// can branch with errors.Is. Errors that match no kind are returned as is.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var timeoutErr *SonosTimeoutError
	var unreachableErr *SonosUnreachableError
	var rejectedErr *SonosRejectedError
	switch {
	case errors.As(err, &timeoutErr), errors.As(err, &unreachableErr):
		return fmt.Errorf("%w: %w", apperrors.ErrConnection, err)
	case errors.As(err, &rejectedErr):
		switch rejectedErr.Code {
		case FaultTransitionNotAvailable:
			return fmt.Errorf("%w: %w", apperrors.ErrUnsupportedTransition, err)
		case FaultNotCoordinator:
			return fmt.Errorf("%w: %w", apperrors.ErrSlaveFault, err)
		}
	}
	return err
}
