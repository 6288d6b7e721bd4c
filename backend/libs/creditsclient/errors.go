package creditsclient

import (
	"errors"
	"fmt"
)

// Sentinels matched by errors.Is against *Error values.
var (
	ErrInsufficientCredits = errors.New("credits: insufficient credits")
	ErrInvalidRequest      = errors.New("credits: invalid request")
	ErrMissingReservation  = errors.New("credits: missing reservation")
	ErrUnauthorized        = errors.New("credits: unauthorized")
	ErrUnavailable         = errors.New("credits: service unavailable")
)

// Error is a failure reported by credits-service.
type Error struct {
	StatusCode int
	Reason     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("credits: %s (status %d)", e.Reason, e.StatusCode)
}

// Unwrap maps the wire reason to a sentinel.
func (e *Error) Unwrap() error {
	switch e.Reason {
	case "insufficient_credits":
		return ErrInsufficientCredits
	case "invalid_request":
		return ErrInvalidRequest
	case "missing_reservation":
		return ErrMissingReservation
	case "unauthorized":
		return ErrUnauthorized
	default:
		return ErrUnavailable
	}
}

// Ambiguous reports whether err leaves the outcome of a call unknown: the
// request may or may not have been applied.
func Ambiguous(err error) bool {
	return err != nil && errors.Is(err, ErrUnavailable)
}
