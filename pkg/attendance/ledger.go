// Package attendance records who was seen on which day.
// One CSV file per calendar day, one row per person, idempotent within
// the day.
package attendance

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrCodeEU/facemark/pkg/config"
	"github.com/MrCodeEU/facemark/pkg/logging"
)

// Status is the outcome of a Record call.
type Status int

const (
	// Marked means a new row was appended.
	Marked Status = iota
	// AlreadyMarked means the person was on the sheet already.
	AlreadyMarked
)

// Entry is one attendance row.
type Entry struct {
	Name string
	Time time.Time
}

// Notifier receives newly appended entries, for example the websocket
// hub pushing live updates to dashboards. Called synchronously after
// the row is durable.
type Notifier func(Entry)

// csvHeader matches the sheet layout teachers import into spreadsheets.
var csvHeader = []string{"Name", "Time"}

// Ledger is the daily attendance sheet. Safe for concurrent use; the
// camera pipeline and the QR endpoint both record through it.
type Ledger struct {
	dir      string
	rollover string
	notify   Notifier

	mu     sync.Mutex
	day    string
	marked map[string]bool
}

// NewLedger creates a ledger writing into dir. rollover is one of the
// config.Rollover* policies and decides what happens to the marked set
// at midnight.
func NewLedger(dir, rollover string, notify Notifier) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create attendance directory: %w", err)
	}

	l := &Ledger{
		dir:      dir,
		rollover: rollover,
		notify:   notify,
		marked:   make(map[string]bool),
	}
	return l, nil
}

// filePath returns the sheet for a day, named Attendance_YYYY-MM-DD.csv.
func (l *Ledger) filePath(day string) string {
	return filepath.Join(l.dir, "Attendance_"+day+".csv")
}

// Record marks a person present at the given time. Within one day the
// first call appends a row and later calls are no-ops. The row is
// written before the in-memory mark, so a crash between the two causes
// at worst a duplicate-suppressed retry, never a silent miss.
func (l *Ledger) Record(name string, now time.Time) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	day := now.Format("2006-01-02")
	if day != l.day {
		if err := l.rollDay(day); err != nil {
			return AlreadyMarked, err
		}
	}

	if l.marked[name] {
		return AlreadyMarked, nil
	}

	entry := Entry{Name: name, Time: now}
	if err := l.append(entry); err != nil {
		return AlreadyMarked, err
	}
	l.marked[name] = true

	logging.WithFields(logging.Fields{
		"name": name,
		"day":  day,
	}).Info("Attendance marked")

	if l.notify != nil {
		l.notify(entry)
	}
	return Marked, nil
}

// IsMarked reports whether a person is already on the sheet for the
// day containing now.
func (l *Ledger) IsMarked(name string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	day := now.Format("2006-01-02")
	if day != l.day {
		if err := l.rollDay(day); err != nil {
			return false
		}
	}
	return l.marked[name]
}

// rollDay switches the ledger to a new day. Under the reset policy the
// marked set is rebuilt from the new day's sheet, so everyone can be
// marked again; under carry it persists for the life of the process.
func (l *Ledger) rollDay(day string) error {
	if l.rollover == config.RolloverReset || l.day == "" {
		marked, err := l.readMarked(day)
		if err != nil {
			return err
		}
		l.marked = marked
	}
	l.day = day
	return nil
}

// readMarked rebuilds the marked set from an existing day sheet.
// A missing sheet means nobody is marked yet.
func (l *Ledger) readMarked(day string) (map[string]bool, error) {
	marked := make(map[string]bool)

	f, err := os.Open(l.filePath(day))
	if err != nil {
		if os.IsNotExist(err) {
			return marked, nil
		}
		return nil, fmt.Errorf("failed to open attendance sheet: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read attendance sheet: %w", err)
	}

	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			continue // header
		}
		marked[row[0]] = true
	}
	return marked, nil
}

// append writes one row, creating the sheet with its header first if
// needed.
func (l *Ledger) append(entry Entry) error {
	path := l.filePath(entry.Time.Format("2006-01-02"))

	_, statErr := os.Stat(path)
	newSheet := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open attendance sheet: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if newSheet {
		if err := w.Write(csvHeader); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	if err := w.Write([]string{entry.Name, entry.Time.Format("15:04:05")}); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush attendance sheet: %w", err)
	}
	return f.Sync()
}

// Entries returns the rows of the sheet for the day containing now, in
// file order. Used by the CSV export endpoint.
func (l *Ledger) Entries(now time.Time) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	day := now.Format("2006-01-02")
	f, err := os.Open(l.filePath(day))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open attendance sheet: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read attendance sheet: %w", err)
	}

	var entries []Entry
	for i, row := range rows {
		if i == 0 || len(row) < 2 {
			continue
		}
		ts, err := time.Parse("15:04:05", row[1])
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Name: row[0], Time: ts})
	}
	return entries, nil
}
