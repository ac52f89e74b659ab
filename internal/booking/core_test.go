package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// memStore applies commits under a mutex, like the file store serializes
// them under its advisory lock.
type memStore struct {
	mu       sync.Mutex
	bookings []Booking
}

func (m *memStore) Load(ctx context.Context) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Booking, len(m.bookings))
	copy(out, m.bookings)
	return out, nil
}

func (m *memStore) Commit(ctx context.Context, mutate func([]Booking) ([]Booking, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := make([]Booking, len(m.bookings))
	copy(current, m.bookings)
	next, err := mutate(current)
	if err != nil {
		return err
	}
	m.bookings = next
	return nil
}

func validRequest(resource string, start time.Time, d time.Duration) Request {
	return Request{
		Resource:       resource,
		Start:          start,
		End:            start.Add(d),
		RequesterName:  "Jamie Haley",
		RequesterEmail: "jamie@example.edu",
	}
}

func TestProposeAssignsFields(t *testing.T) {
	st := &memStore{}
	core := NewCore(st)
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	b, err := core.Propose(context.Background(), validRequest("Room1", start, time.Hour))
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	if b.ID == "" {
		t.Error("Propose() assigned empty id")
	}
	if b.Status != StatusActive {
		t.Errorf("Propose() status = %q, want %q", b.Status, StatusActive)
	}
	if b.Reminder24hSent || b.Reminder1hSent {
		t.Error("Propose() created booking with reminder flags already set")
	}
}

func TestProposeConflicts(t *testing.T) {
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		req          Request
		wantConflict bool
	}{
		{"same slot same resource", validRequest("Room1", start, time.Hour), true},
		{"contained slot", validRequest("Room1", start.Add(30*time.Minute), 15*time.Minute), true},
		{"boundary touch after", validRequest("Room1", start.Add(time.Hour), time.Hour), false},
		{"boundary touch before", validRequest("Room1", start.Add(-time.Hour), time.Hour), false},
		{"other resource", validRequest("Room2", start, time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &memStore{}
			core := NewCore(st)
			existing, err := core.Propose(context.Background(), validRequest("Room1", start, time.Hour))
			if err != nil {
				t.Fatalf("seed Propose() error = %v", err)
			}

			_, err = core.Propose(context.Background(), tt.req)
			var cerr *ConflictError
			if tt.wantConflict {
				if !errors.As(err, &cerr) {
					t.Fatalf("Propose() error = %v, want *ConflictError", err)
				}
				if cerr.Existing.ID != existing.ID {
					t.Errorf("ConflictError references booking %s, want %s", cerr.Existing.ID, existing.ID)
				}
			} else if err != nil {
				t.Fatalf("Propose() error = %v, want nil", err)
			}
		})
	}
}

func TestProposeCancelledNeverBlocks(t *testing.T) {
	st := &memStore{}
	core := NewCore(st)
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	b, err := core.Propose(context.Background(), validRequest("Room1", start, time.Hour))
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	if _, err := core.Cancel(context.Background(), b.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	if _, err := core.Propose(context.Background(), validRequest("Room1", start, time.Hour)); err != nil {
		t.Fatalf("Propose() over cancelled booking error = %v, want nil", err)
	}
}

func TestProposeConcurrentOverlap(t *testing.T) {
	st := &memStore{}
	core := NewCore(st)
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = core.Propose(context.Background(), validRequest("Room1", start, time.Hour))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var cerr *ConflictError
		if !errors.As(err, &cerr) {
			t.Errorf("unexpected error type: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("%d concurrent proposals succeeded, want exactly 1", succeeded)
	}
}

func TestActiveIntervalsStayDisjoint(t *testing.T) {
	st := &memStore{}
	core := NewCore(st)
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	// mixed accept/reject sequence
	for i := 0; i < 20; i++ {
		start := base.Add(time.Duration(i*37) * time.Minute)
		_, _ = core.Propose(context.Background(), validRequest("Room1", start, time.Hour))
	}

	bs, err := core.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	for i := 0; i < len(bs); i++ {
		for j := i + 1; j < len(bs); j++ {
			a, b := bs[i], bs[j]
			if a.Active() && b.Active() && a.Resource == b.Resource && a.Overlaps(b.Start, b.End) {
				t.Errorf("active bookings %s and %s overlap", a.ID, b.ID)
			}
		}
	}
}

func TestCancel(t *testing.T) {
	st := &memStore{}
	core := NewCore(st)
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	b, err := core.Propose(context.Background(), validRequest("Room1", start, time.Hour))
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}

	cancelled, err := core.Cancel(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("Cancel() status = %q, want %q", cancelled.Status, StatusCancelled)
	}

	bs, _ := core.List(context.Background())
	if len(bs) != 1 {
		t.Fatalf("row count after cancel = %d, want 1 (rows are never deleted)", len(bs))
	}

	if _, err := core.Cancel(context.Background(), "no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Cancel(unknown id) error = %v, want ErrNotFound", err)
	}
}

func TestProposeRejectsInvalidWithoutCommit(t *testing.T) {
	st := &memStore{}
	core := NewCore(st)

	_, err := core.Propose(context.Background(), Request{Resource: "Room1"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Propose() error = %v, want *ValidationError", err)
	}
	if len(st.bookings) != 0 {
		t.Error("invalid proposal reached the store")
	}
}
