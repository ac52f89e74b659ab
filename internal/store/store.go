package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/xuri/excelize/v2"

	"github.com/example/sheet-scheduler/internal/booking"
)

// ErrUnavailable means the sheet or its advisory lock could not be
// acquired right now (file open in an editor, another process mid-commit).
// Callers retry with backoff; they never treat it as fatal.
var ErrUnavailable = errors.New("sheet unavailable")

const (
	colID             = "id"
	colResource       = "resource"
	colStart          = "start"
	colEnd            = "end"
	colRequesterName  = "requester_name"
	colRequesterEmail = "requester_email"
	colStatus         = "status"
	colReminder24h    = "reminder_24h_sent"
	colReminder1h     = "reminder_1h_sent"
)

// requiredColumns is the base schema; trackingColumns are appended by
// EnsureSchema when a sheet predates them.
var (
	requiredColumns = []string{colID, colResource, colStart, colEnd, colRequesterName, colRequesterEmail, colStatus}
	trackingColumns = []string{colReminder24h, colReminder1h}
)

const lockRetryDelay = 100 * time.Millisecond

// Store owns the spreadsheet file. Nothing else opens it for writing; all
// mutation goes through Commit, which holds an exclusive advisory lock for
// the duration of one read-modify-write.
type Store struct {
	path     string
	sheet    string
	lockWait time.Duration
}

func New(path, sheet string, lockWait time.Duration) *Store {
	return &Store{path: path, sheet: sheet, lockWait: lockWait}
}

// acquire takes the sidecar advisory lock, shared for reads and exclusive
// for writes, waiting at most lockWait. A miss is ErrUnavailable, never an
// indefinite block.
func (s *Store) acquire(ctx context.Context, exclusive bool) (*flock.Flock, error) {
	fl := flock.New(s.path + ".lock")
	ctx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	var (
		ok  bool
		err error
	)
	if exclusive {
		ok, err = fl.TryLockContext(ctx, lockRetryDelay)
	} else {
		ok, err = fl.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil || !ok {
		return nil, fmt.Errorf("%w: lock %s: timed out after %s", ErrUnavailable, fl.Path(), s.lockWait)
	}
	return fl, nil
}

// Load reconstructs all bookings from the sheet in row order.
func (s *Store) Load(ctx context.Context) ([]booking.Booking, error) {
	fl, err := s.acquire(ctx, false)
	if err != nil {
		return nil, err
	}
	defer fl.Unlock()

	f, err := s.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	_, recs, err := s.read(f)
	if err != nil {
		return nil, err
	}
	bs := make([]booking.Booking, len(recs))
	for i, r := range recs {
		bs[i] = r.b
	}
	return bs, nil
}

// EnsureSchema creates the workbook and sheet when missing and appends any
// absent tracking columns without touching existing cells. Idempotent;
// called once per process startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	fl, err := s.acquire(ctx, true)
	if err != nil {
		return err
	}
	defer fl.Unlock()

	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return s.create()
	}

	f, err := s.open()
	if err != nil {
		return err
	}
	defer f.Close()

	changed := false
	if idx, err := f.GetSheetIndex(s.sheet); err != nil {
		return err
	} else if idx < 0 {
		if _, err := f.NewSheet(s.sheet); err != nil {
			return err
		}
		changed = true
	}

	headerChanged, _, err := s.ensureHeader(f)
	if err != nil {
		return err
	}
	if !changed && !headerChanged {
		return nil
	}
	if err := f.Save(); err != nil {
		return fmt.Errorf("%w: save %s: %v", ErrUnavailable, s.path, err)
	}
	return nil
}

// Commit runs one atomic read-modify-write: exclusive lock, re-read the
// current rows, apply the pure mutator, write the result. The lock is
// released on every exit path. A mutator error (validation, conflict)
// aborts the write and propagates unchanged.
//
// Mutators edit bookings in place and append new ones; rows are never
// reordered or dropped. Each surviving booking is written back to the row
// it came from, so blank or half-filled rows humans leave in the sheet
// keep their places.
func (s *Store) Commit(ctx context.Context, mutate func([]booking.Booking) ([]booking.Booking, error)) error {
	fl, err := s.acquire(ctx, true)
	if err != nil {
		return err
	}
	defer fl.Unlock()

	f, err := s.open()
	if err != nil {
		return err
	}
	defer f.Close()

	header, recs, err := s.read(f)
	if err != nil {
		return err
	}

	current := make([]booking.Booking, len(recs))
	for i, r := range recs {
		current[i] = r.b
	}
	next, err := mutate(current)
	if err != nil {
		return err
	}

	appendAt := s.lastRow(f) + 1
	for i, b := range next {
		row := appendAt
		if i < len(recs) {
			row = recs[i].row
		} else {
			appendAt++
		}
		if err := s.writeRow(f, header, row, b); err != nil {
			return err
		}
	}
	if err := f.Save(); err != nil {
		return fmt.Errorf("%w: save %s: %v", ErrUnavailable, s.path, err)
	}
	return nil
}

// lastRow is the last used row in the sheet, header included.
func (s *Store) lastRow(f *excelize.File) int {
	rows, err := f.GetRows(s.sheet)
	if err != nil || len(rows) == 0 {
		return 1
	}
	return len(rows)
}

func (s *Store) open() (*excelize.File, error) {
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, s.path, err)
	}
	return f, nil
}

func (s *Store) create() error {
	f := excelize.NewFile()
	defer f.Close()

	if s.sheet != "Sheet1" {
		if _, err := f.NewSheet(s.sheet); err != nil {
			return err
		}
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return err
		}
	}
	all := append(append([]string{}, requiredColumns...), trackingColumns...)
	for i, name := range all {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(s.sheet, cell, name); err != nil {
			return err
		}
	}
	if err := f.SaveAs(s.path); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrUnavailable, s.path, err)
	}
	return nil
}

// header maps normalized column names to zero-based column indexes.
func (s *Store) header(f *excelize.File) (map[string]int, error) {
	rows, err := f.GetRows(s.sheet)
	if err != nil {
		return nil, fmt.Errorf("sheet %q: %w", s.sheet, err)
	}
	h := map[string]int{}
	if len(rows) == 0 {
		return h, nil
	}
	for i, v := range rows[0] {
		name := strings.ToLower(strings.TrimSpace(v))
		if name != "" {
			h[name] = i
		}
	}
	return h, nil
}

// ensureHeader appends missing required and tracking columns after the
// last used header cell. Existing columns keep their positions so a sheet
// with extra human-added columns keeps working.
func (s *Store) ensureHeader(f *excelize.File) (changed bool, header map[string]int, err error) {
	header, err = s.header(f)
	if err != nil {
		return false, nil, err
	}
	next := 0
	for _, i := range header {
		if i >= next {
			next = i + 1
		}
	}
	all := append(append([]string{}, requiredColumns...), trackingColumns...)
	for _, name := range all {
		if _, ok := header[name]; ok {
			continue
		}
		cell, cerr := excelize.CoordinatesToCellName(next+1, 1)
		if cerr != nil {
			return false, nil, cerr
		}
		if err := f.SetCellValue(s.sheet, cell, name); err != nil {
			return false, nil, err
		}
		header[name] = next
		next++
		changed = true
	}
	return changed, header, nil
}

// record pairs a parsed booking with its one-based sheet row.
type record struct {
	row int
	b   booking.Booking
}

func (s *Store) read(f *excelize.File) (map[string]int, []record, error) {
	header, err := s.header(f)
	if err != nil {
		return nil, nil, err
	}
	for _, name := range requiredColumns {
		if _, ok := header[name]; !ok {
			return nil, nil, fmt.Errorf("sheet %q: missing column %q (run the schema command)", s.sheet, name)
		}
	}

	rows, err := f.GetRows(s.sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("sheet %q: %w", s.sheet, err)
	}

	cell := func(row []string, name string) string {
		i, ok := header[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []record
	for n, row := range rows {
		if n == 0 {
			continue
		}
		id := cell(row, colID)
		// humans leave blank or half-filled rows; skip anything without
		// the key fields rather than failing the whole sheet
		if id == "" && cell(row, colResource) == "" {
			continue
		}

		start, err := parseTime(cell(row, colStart))
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: start: %w", n+1, err)
		}
		end, err := parseTime(cell(row, colEnd))
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: end: %w", n+1, err)
		}

		out = append(out, record{
			row: n + 1,
			b: booking.Booking{
				ID:              id,
				Resource:        cell(row, colResource),
				Start:           start,
				End:             end,
				RequesterName:   cell(row, colRequesterName),
				RequesterEmail:  cell(row, colRequesterEmail),
				Status:          parseStatus(cell(row, colStatus)),
				Reminder24hSent: parseBool(cell(row, colReminder24h)),
				Reminder1hSent:  parseBool(cell(row, colReminder1h)),
			},
		})
	}
	return header, out, nil
}

func (s *Store) writeRow(f *excelize.File, header map[string]int, row int, b booking.Booking) error {
	values := map[string]string{
		colID:             b.ID,
		colResource:       b.Resource,
		colStart:          b.Start.Format(time.RFC3339),
		colEnd:            b.End.Format(time.RFC3339),
		colRequesterName:  b.RequesterName,
		colRequesterEmail: b.RequesterEmail,
		colStatus:         string(b.Status),
		colReminder24h:    formatBool(b.Reminder24hSent),
		colReminder1h:     formatBool(b.Reminder1hSent),
	}
	for name, v := range values {
		i, ok := header[name]
		if !ok {
			return fmt.Errorf("sheet %q: missing column %q (run the schema command)", s.sheet, name)
		}
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(s.sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q (want RFC3339)", v)
	}
	return t, nil
}

func parseStatus(v string) booking.Status {
	switch strings.ToLower(v) {
	case "", string(booking.StatusActive):
		// pre-migration rows have no status cell; they are live bookings
		return booking.StatusActive
	case string(booking.StatusCancelled):
		return booking.StatusCancelled
	default:
		return booking.Status(strings.ToLower(v))
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes", "x":
		return true
	default:
		return false
	}
}

func formatBool(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}
