package booking

import (
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("booking not found")

// ValidationError is terminal: the submitter must fix the input, retrying
// won't help.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid booking: " + e.Reason
}

// ConflictError carries the booking that already holds the slot so the
// submitter can pick another one.
type ConflictError struct {
	Existing Booking
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot already booked on %s from %s to %s (booking %s)",
		e.Existing.Resource,
		e.Existing.Start.Format(time.RFC3339),
		e.Existing.End.Format(time.RFC3339),
		e.Existing.ID)
}
