package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/sheet-scheduler/internal/booking"
	"github.com/example/sheet-scheduler/internal/mail"
	"github.com/example/sheet-scheduler/internal/store"
)

// Kind is one reminder threshold relative to a booking's start.
type Kind string

const (
	Kind24h Kind = "24h"
	Kind1h  Kind = "1h"
)

var kinds = []Kind{Kind24h, Kind1h}

func (k Kind) Offset() time.Duration {
	if k == Kind24h {
		return 24 * time.Hour
	}
	return time.Hour
}

// DueAt is the instant from which the reminder is due. The check against
// it is one-sided (now >= DueAt): the scan runs on a coarse interval, so
// an exact-match window would silently skip reminders whenever a run lands
// past the instant.
func (k Kind) DueAt(start time.Time) time.Time {
	return start.Add(-k.Offset())
}

func (k Kind) sent(b booking.Booking) bool {
	if k == Kind24h {
		return b.Reminder24hSent
	}
	return b.Reminder1hSent
}

func (k Kind) mark(b *booking.Booking) {
	if k == Kind24h {
		b.Reminder24hSent = true
	} else {
		b.Reminder1hSent = true
	}
}

// Sender is the notification adapter boundary; a non-nil error means the
// message was not delivered.
type Sender interface {
	Send(ctx context.Context, to, subject, body string, ics []byte) error
}

// Store is the slice of the storage adapter the reminder core needs.
type Store interface {
	Load(ctx context.Context) ([]booking.Booking, error)
	Commit(ctx context.Context, mutate func([]booking.Booking) ([]booking.Booking, error)) error
}

type Outcome struct {
	BookingID string
	Kind      Kind
	Email     string
	Err       error
}

// Report lists every reminder the run attempted; nothing is swallowed.
type Report struct {
	Outcomes []Outcome
}

func (r Report) Sent() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

func (r Report) Failed() int { return len(r.Outcomes) - r.Sent() }

// Core scans the sheet and dispatches due reminders. It holds no state
// between runs; the per-booking flags in the sheet are the only source of
// idempotency truth, so the external trigger can re-run it at will.
type Core struct {
	Store  Store
	Sender Sender
}

// RunOnce processes every active future booking against now. A kind is due
// when now has passed its threshold and the flag is still false. The send
// happens first; only a confirmed delivery flips the flag, in its own
// small transaction with an inside-lock recheck. A failed send leaves the
// flag false and the booking is retried on the next run.
func (c *Core) RunOnce(ctx context.Context, now time.Time) (Report, error) {
	bs, err := c.Store.Load(ctx)
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, b := range bs {
		if !b.Active() || !b.Start.After(now) {
			// never remind for past or cancelled bookings
			continue
		}
		for _, k := range kinds {
			if k.sent(b) || now.Before(k.DueAt(b.Start)) {
				continue
			}
			out := Outcome{BookingID: b.ID, Kind: k, Email: b.RequesterEmail}
			out.Err = c.dispatch(ctx, b, k)
			report.Outcomes = append(report.Outcomes, out)
		}
	}
	return report, nil
}

func (c *Core) dispatch(ctx context.Context, b booking.Booking, k Kind) error {
	subject, body, ics := compose(b, k)
	if err := c.Sender.Send(ctx, b.RequesterEmail, subject, body, ics); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return c.markSent(ctx, b.ID, k)
}

// errAlreadyMarked signals that another run recorded this send first; the
// duplicate success is dropped rather than double-recorded.
var errAlreadyMarked = errors.New("reminder already marked sent")

// markSent flips the flag in its own transaction, rechecking it under the
// lock. Flags only ever go false to true. The commit is retried on lock
// contention here rather than by re-running the whole scan, because a
// re-run with an unflipped flag would send the mail again.
func (c *Core) markSent(ctx context.Context, id string, k Kind) error {
	err := store.WithRetry(ctx, 3, 200*time.Millisecond, func() error {
		return c.Store.Commit(ctx, func(bs []booking.Booking) ([]booking.Booking, error) {
			for i := range bs {
				if bs[i].ID != id {
					continue
				}
				if k.sent(bs[i]) {
					return nil, errAlreadyMarked
				}
				k.mark(&bs[i])
				return bs, nil
			}
			return nil, booking.ErrNotFound
		})
	})
	if errors.Is(err, errAlreadyMarked) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark %s sent: %w", k, err)
	}
	return nil
}

func compose(b booking.Booking, k Kind) (subject, body string, ics []byte) {
	in := "24 hours"
	if k == Kind1h {
		in = "1 hour"
	}
	subject = fmt.Sprintf("%s reminder: %s", k, b.Resource)
	title := fmt.Sprintf("Reservation: %s", b.Resource)
	details := fmt.Sprintf("Reservation for %s", b.RequesterName)
	gcal := mail.GoogleCalendarLink(title, b.Start, b.End, b.Resource, details)
	body = fmt.Sprintf(
		"Hi %s,\n\nReminder: your reservation is in ~%s.\nResource: %s\nWhen: %s to %s\n\nGoogle Calendar link:\n%s\n",
		b.RequesterName, in, b.Resource,
		b.Start.Format("Monday, January 2, 2006 at 3:04 PM MST"),
		b.End.Format("3:04 PM MST"),
		gcal,
	)
	ics = mail.ICS(title, b.Start, b.End, b.Resource, details, b.ID)
	return subject, body, ics
}
