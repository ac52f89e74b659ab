package booking

import (
	"context"

	"github.com/google/uuid"
)

// Store is the slice of the storage adapter the reservation core needs.
// Commit re-reads current state under an exclusive lock and applies the
// mutator atomically with respect to other processes.
type Store interface {
	Load(ctx context.Context) ([]Booking, error)
	Commit(ctx context.Context, mutate func([]Booking) ([]Booking, error)) error
}

type Core struct {
	store Store
}

func NewCore(s Store) *Core { return &Core{store: s} }

// Propose validates the request, checks it for conflicts against the
// current sheet contents and appends the new booking. The conflict check
// and the write happen inside the same locked transaction: two concurrent
// proposals for overlapping slots cannot both pass against a stale read.
func (c *Core) Propose(ctx context.Context, req Request) (Booking, error) {
	if err := req.Validate(); err != nil {
		return Booking{}, err
	}

	created := Booking{
		ID:             uuid.NewString(),
		Resource:       req.Resource,
		Start:          req.Start,
		End:            req.End,
		RequesterName:  req.RequesterName,
		RequesterEmail: req.RequesterEmail,
		Status:         StatusActive,
	}

	err := c.store.Commit(ctx, func(current []Booking) ([]Booking, error) {
		for _, b := range current {
			if !b.Active() || b.Resource != req.Resource {
				continue
			}
			if b.Overlaps(req.Start, req.End) {
				return nil, &ConflictError{Existing: b}
			}
		}
		return append(current, created), nil
	})
	if err != nil {
		return Booking{}, err
	}
	return created, nil
}

// Cancel flips the booking to cancelled inside a transaction. Tracking
// flags are left alone.
func (c *Core) Cancel(ctx context.Context, id string) (Booking, error) {
	var cancelled Booking
	err := c.store.Commit(ctx, func(current []Booking) ([]Booking, error) {
		for i, b := range current {
			if b.ID != id {
				continue
			}
			current[i].Status = StatusCancelled
			cancelled = current[i]
			return current, nil
		}
		return nil, ErrNotFound
	})
	if err != nil {
		return Booking{}, err
	}
	return cancelled, nil
}

func (c *Core) List(ctx context.Context) ([]Booking, error) {
	return c.store.Load(ctx)
}
