package ledger

import (
	"errors"
)

// Sentinel errors. Benign outcomes such as already_released are reported
// through Result.Status instead.
var (
	ErrInsufficientCredits = errors.New("ledger: insufficient credits")
	ErrInvalidRequest      = errors.New("ledger: invalid request")
	ErrMissingReservation  = errors.New("ledger: missing reservation")
	ErrUnauthorized        = errors.New("ledger: unauthorized")
	ErrConfiguration       = errors.New("ledger: backing store unavailable")
)

// Wire reasons.
const (
	ReasonInsufficientCredits = "insufficient_credits"
	ReasonInvalidRequest      = "invalid_request"
	ReasonMissingReservation  = "missing_reservation"
	ReasonUnauthorized        = "unauthorized"
	ReasonConfiguration       = "configuration_error"
)

// Reason maps an error returned by the ledger to its wire reason. Unknown
// errors are reported as configuration_error.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientCredits):
		return ReasonInsufficientCredits
	case errors.Is(err, ErrInvalidRequest):
		return ReasonInvalidRequest
	case errors.Is(err, ErrMissingReservation):
		return ReasonMissingReservation
	case errors.Is(err, ErrUnauthorized):
		return ReasonUnauthorized
	default:
		return ReasonConfiguration
	}
}

// IsBusiness reports whether err is one of the caller-facing sentinels rather
// than a store failure.
func IsBusiness(err error) bool {
	return errors.Is(err, ErrInsufficientCredits) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrMissingReservation) ||
		errors.Is(err, ErrUnauthorized)
}

func invalid(msg string) error {
	return &fieldError{msg: msg}
}

type fieldError struct {
	msg string
}

func (e *fieldError) Error() string { return "ledger: invalid request: " + e.msg }

func (e *fieldError) Unwrap() error { return ErrInvalidRequest }
