package booking

import (
	"time"

	"github.com/go-playground/validator/v10"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
)

// Booking is one reservation row in the signup sheet. Rows are never
// deleted; cancellation is a status change so ids stay unique for the life
// of the sheet.
type Booking struct {
	ID             string
	Resource       string
	Start          time.Time
	End            time.Time
	RequesterName  string
	RequesterEmail string
	Status         Status

	Reminder24hSent bool
	Reminder1hSent  bool
}

func (b Booking) Active() bool { return b.Status == StatusActive }

// Overlaps reports whether [start, end) intersects the booking's own
// half-open interval. Back-to-back bookings (one ending exactly when the
// next starts) do not overlap.
func (b Booking) Overlaps(start, end time.Time) bool {
	return start.Before(b.End) && b.Start.Before(end)
}

// Request carries the validated field values handed over by the UI or CLI.
type Request struct {
	Resource       string    `validate:"required"`
	Start          time.Time `validate:"required"`
	End            time.Time `validate:"required"`
	RequesterName  string    `validate:"required"`
	RequesterEmail string    `validate:"required,email"`
}

var validate = validator.New()

func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		if ferrs, ok := err.(validator.ValidationErrors); ok && len(ferrs) > 0 {
			f := ferrs[0]
			return &ValidationError{Reason: "field " + f.Field() + " failed on " + f.Tag()}
		}
		return &ValidationError{Reason: err.Error()}
	}
	if !r.End.After(r.Start) {
		return &ValidationError{Reason: "end must be after start"}
	}
	return nil
}
