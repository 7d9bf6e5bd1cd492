package model

import "errors"

// Error taxonomy shared by every layer. Match with errors.Is.
var (
	// ErrValidation marks bad user input (area, dates, price ceiling, guests).
	ErrValidation = errors.New("validation error")

	// ErrQuotaExceeded marks a daily action limit or active alert limit hit.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrAuth marks a provider credential failure.
	ErrAuth = errors.New("provider authentication failed")

	// ErrProvider marks a transient provider failure, retried on the next cycle.
	ErrProvider = errors.New("provider unavailable")

	// ErrPersistence marks a store read or write failure.
	ErrPersistence = errors.New("persistence failure")

	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
)

// UserMessage renders err as text that is safe to show to an end user.
// Validation and quota errors carry messages written by this module, so they
// are passed through; everything else is replaced by a generic text.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation), errors.Is(err, ErrQuotaExceeded):
		return err.Error()
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrAuth), errors.Is(err, ErrProvider):
		return "Hotel prices are unavailable right now, please try again later."
	default:
		return "Something went wrong, please try again."
	}
}
