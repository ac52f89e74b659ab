package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/sheet-scheduler/internal/booking"
)

type memStore struct {
	mu       sync.Mutex
	bookings []booking.Booking
	commits  int
}

func (m *memStore) Load(ctx context.Context) ([]booking.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]booking.Booking, len(m.bookings))
	copy(out, m.bookings)
	return out, nil
}

func (m *memStore) Commit(ctx context.Context, mutate func([]booking.Booking) ([]booking.Booking, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := make([]booking.Booking, len(m.bookings))
	copy(current, m.bookings)
	next, err := mutate(current)
	if err != nil {
		return err
	}
	m.bookings = next
	m.commits++
	return nil
}

func (m *memStore) get(id string) booking.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.ID == id {
			return b
		}
	}
	return booking.Booking{}
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []string // "id/kind" is encoded in the subject by compose
	fail  bool
	calls int
}

func (f *fakeSender) Send(ctx context.Context, to, subject, body string, ics []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return errors.New("smtp: connection refused")
	}
	f.sent = append(f.sent, subject)
	return nil
}

func activeBooking(id string, start time.Time) booking.Booking {
	return booking.Booking{
		ID:             id,
		Resource:       "Room1",
		Start:          start,
		End:            start.Add(time.Hour),
		RequesterName:  "Jamie Haley",
		RequesterEmail: "jamie@example.edu",
		Status:         booking.StatusActive,
	}
}

func TestRunOnceThreshold24h(t *testing.T) {
	// booking starts at T+24h01m: nothing due at T, due at T+1m,
	// nothing further at T+2m
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	start := now.Add(24*time.Hour + time.Minute)

	st := &memStore{bookings: []booking.Booking{activeBooking("b1", start)}}
	sender := &fakeSender{}
	core := &Core{Store: st, Sender: sender}

	report, err := core.RunOnce(context.Background(), now)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if len(report.Outcomes) != 0 {
		t.Fatalf("RunOnce at T produced %d outcomes, want 0", len(report.Outcomes))
	}

	report, err = core.RunOnce(context.Background(), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if report.Sent() != 1 {
		t.Fatalf("RunOnce at T+1m sent %d, want 1", report.Sent())
	}
	if got := report.Outcomes[0].Kind; got != Kind24h {
		t.Errorf("outcome kind = %s, want %s", got, Kind24h)
	}
	if !st.get("b1").Reminder24hSent {
		t.Error("24h flag not set after confirmed send")
	}

	report, err = core.RunOnce(context.Background(), now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if len(report.Outcomes) != 0 {
		t.Errorf("RunOnce at T+2m produced %d outcomes, want 0", len(report.Outcomes))
	}
	if sender.calls != 1 {
		t.Errorf("sender called %d times across runs, want 1", sender.calls)
	}
}

func TestRunOnceIdempotentAtSameNow(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	st := &memStore{bookings: []booking.Booking{activeBooking("b1", now.Add(30*time.Minute))}}
	sender := &fakeSender{}
	core := &Core{Store: st, Sender: sender}

	for i := 0; i < 3; i++ {
		if _, err := core.RunOnce(context.Background(), now); err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
	}
	// 30 minutes out: both 24h and 1h thresholds passed, one send each
	if sender.calls != 2 {
		t.Errorf("sender called %d times, want 2 (one per kind)", sender.calls)
	}
	b := st.get("b1")
	if !b.Reminder24hSent || !b.Reminder1hSent {
		t.Error("both flags should be set")
	}
}

func TestRunOnceNeverRemindsPastOrCancelled(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	past := activeBooking("past", now.Add(-time.Hour))
	starting := activeBooking("starting", now)
	cancelled := activeBooking("cancelled", now.Add(30*time.Minute))
	cancelled.Status = booking.StatusCancelled

	st := &memStore{bookings: []booking.Booking{past, starting, cancelled}}
	sender := &fakeSender{}
	core := &Core{Store: st, Sender: sender}

	report, err := core.RunOnce(context.Background(), now)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if len(report.Outcomes) != 0 || sender.calls != 0 {
		t.Errorf("got %d outcomes and %d sends, want none", len(report.Outcomes), sender.calls)
	}
}

func TestRunOnceSendFailureLeavesFlagFalse(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	st := &memStore{bookings: []booking.Booking{activeBooking("b1", now.Add(30*time.Minute))}}
	sender := &fakeSender{fail: true}
	core := &Core{Store: st, Sender: sender}

	report, err := core.RunOnce(context.Background(), now)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if report.Failed() != 2 {
		t.Fatalf("failed outcomes = %d, want 2", report.Failed())
	}
	b := st.get("b1")
	if b.Reminder24hSent || b.Reminder1hSent {
		t.Error("flags set despite failed sends")
	}
	if st.commits != 0 {
		t.Errorf("store committed %d times on failed sends, want 0", st.commits)
	}

	// next run retries and succeeds
	sender.fail = false
	report, err = core.RunOnce(context.Background(), now)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if report.Sent() != 2 {
		t.Errorf("retry run sent %d, want 2", report.Sent())
	}
	b = st.get("b1")
	if !b.Reminder24hSent || !b.Reminder1hSent {
		t.Error("flags not set after successful retry")
	}
}

func TestMarkSentRecheckUnderLock(t *testing.T) {
	// a second process recorded the send between our load and our commit;
	// the duplicate success is dropped, not double-recorded
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	b := activeBooking("b1", now.Add(30*time.Minute))
	b.Reminder24hSent = true
	b.Reminder1hSent = true
	st := &memStore{bookings: []booking.Booking{b}}
	core := &Core{Store: st, Sender: &fakeSender{}}

	if err := core.markSent(context.Background(), "b1", Kind24h); err != nil {
		t.Fatalf("markSent() on already-marked booking error = %v, want nil", err)
	}
	if st.commits != 0 {
		t.Errorf("store committed %d times, want 0 (recheck under lock)", st.commits)
	}
}

func TestMarkSentUnknownBooking(t *testing.T) {
	st := &memStore{}
	core := &Core{Store: st, Sender: &fakeSender{}}
	if err := core.markSent(context.Background(), "gone", Kind1h); !errors.Is(err, booking.ErrNotFound) {
		t.Errorf("markSent(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestFlagsNeverRevert(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	st := &memStore{bookings: []booking.Booking{activeBooking("b1", now.Add(30*time.Minute))}}
	core := &Core{Store: st, Sender: &fakeSender{}}

	for i := 0; i < 5; i++ {
		if _, err := core.RunOnce(context.Background(), now.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
		b := st.get("b1")
		if i > 0 && (!b.Reminder24hSent || !b.Reminder1hSent) {
			t.Fatalf("run %d: a flag reverted to false", i)
		}
	}
}

func TestDueAt(t *testing.T) {
	start := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	if got := Kind24h.DueAt(start); !got.Equal(start.Add(-24 * time.Hour)) {
		t.Errorf("Kind24h.DueAt = %v", got)
	}
	if got := Kind1h.DueAt(start); !got.Equal(start.Add(-time.Hour)) {
		t.Errorf("Kind1h.DueAt = %v", got)
	}
}
