package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// ErrSlotTaken is returned when the requested (date, time) already has a
// confirmed appointment.
var ErrSlotTaken = errors.New("booking: slot already taken")

// Appointment statuses.
const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// confirmationAttempts bounds retries on the (unlikely) collision of a
// freshly generated confirmation number.
const confirmationAttempts = 5

const schema = `
CREATE TABLE IF NOT EXISTS appointments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	customer_name TEXT NOT NULL,
	phone_number TEXT NOT NULL,
	appointment_date TEXT NOT NULL,
	appointment_time TEXT NOT NULL,
	confirmation_number TEXT NOT NULL UNIQUE,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	call_sid TEXT,
	status TEXT DEFAULT 'confirmed'
);

CREATE INDEX IF NOT EXISTS idx_appointments_slot
	ON appointments(appointment_date, appointment_time);

CREATE INDEX IF NOT EXISTS idx_appointments_confirmation
	ON appointments(confirmation_number);

CREATE UNIQUE INDEX IF NOT EXISTS idx_appointments_confirmed_slot
	ON appointments(appointment_date, appointment_time)
	WHERE status = 'confirmed';
`

// Appointment is one row of the appointments relation.
type Appointment struct {
	ID                 int64
	CustomerName       string
	PhoneNumber        string
	Date               string
	Time               string
	ConfirmationNumber string
	CreatedAt          time.Time
	CallSid            string
	Status             string
}

// CreateParams holds the inputs for a reservation.
type CreateParams struct {
	CustomerName string
	Date         string // YYYY-MM-DD
	Time         string // slot label, e.g. "10:30 AM"
	CallSid      string
	Phone        string
}

// Store provides transactional access to the appointments database. It is
// shared across all concurrent calls on a node; the partial unique index on
// confirmed (date, time) rows is the authority for slot exclusivity.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the appointments database at path,
// enables WAL journaling, and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("booking: open %q: %w", path, err)
	}

	// One writer connection: SQLite serializes writers anyway, and a single
	// connection keeps the pre-check and insert of a reservation on the same
	// transaction without SQLITE_BUSY churn between pooled handles.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("booking: %s: %w", strings.TrimSuffix(pragma, ";"), err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("booking: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable; used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AvailableSlots returns the open slot labels for date in natural time order.
// Weekends return an empty set. date must be YYYY-MM-DD.
func (s *Store) AvailableSlots(ctx context.Context, date string) ([]string, error) {
	day, err := ParseDate(date)
	if err != nil {
		return nil, err
	}

	all := DaySlots(day)
	if len(all) == 0 {
		return []string{}, nil
	}

	booked, err := s.bookedSlots(ctx, date)
	if err != nil {
		return nil, err
	}

	open := make([]string, 0, len(all))
	for _, slot := range all {
		if !booked[slot] {
			open = append(open, slot)
		}
	}
	return open, nil
}

// bookedSlots returns the set of confirmed slot labels on date.
func (s *Store) bookedSlots(ctx context.Context, date string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT appointment_time FROM appointments
		 WHERE appointment_date = ? AND status = ?`, date, StatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("booking: query booked slots: %w", err)
	}
	defer rows.Close()

	booked := make(map[string]bool)
	for rows.Next() {
		var slot string
		if err := rows.Scan(&slot); err != nil {
			return nil, fmt.Errorf("booking: scan slot: %w", err)
		}
		booked[slot] = true
	}
	return booked, rows.Err()
}

// CreateAppointment reserves (date, time) for the caller inside a single
// transaction: it checks that no confirmed row holds the slot, then inserts a
// confirmed row with a fresh confirmation number. Both the pre-check miss and
// a unique-index race with a concurrent caller return [ErrSlotTaken]; exactly
// one of two racing callers wins.
func (s *Store) CreateAppointment(ctx context.Context, p CreateParams) (string, error) {
	if _, err := ParseDate(p.Date); err != nil {
		return "", err
	}

	for attempt := 0; attempt < confirmationAttempts; attempt++ {
		confirmation, err := s.tryCreate(ctx, p)
		if err == nil {
			return confirmation, nil
		}
		// A collision on the confirmation number is retried with a fresh one;
		// everything else propagates.
		if isUniqueViolation(err, "confirmation_number") {
			continue
		}
		return "", err
	}
	return "", fmt.Errorf("booking: could not generate a unique confirmation number")
}

func (s *Store) tryCreate(ctx context.Context, p CreateParams) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("booking: begin: %w", err)
	}
	defer tx.Rollback()

	// Pre-check is an optimization for the common case; the partial unique
	// index below is the authority under races.
	var n int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM appointments
		 WHERE appointment_date = ? AND appointment_time = ? AND status = ?`,
		p.Date, p.Time, StatusConfirmed).Scan(&n)
	if err != nil {
		return "", fmt.Errorf("booking: pre-check: %w", err)
	}
	if n > 0 {
		return "", ErrSlotTaken
	}

	confirmation := fmt.Sprintf("APT-%05d", rand.IntN(100000))
	_, err = tx.ExecContext(ctx,
		`INSERT INTO appointments
		 (customer_name, phone_number, appointment_date, appointment_time,
		  confirmation_number, call_sid, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.CustomerName, p.Phone, p.Date, p.Time, confirmation, p.CallSid, StatusConfirmed)
	if err != nil {
		if isUniqueViolation(err, "confirmation_number") {
			return "", fmt.Errorf("confirmation_number collision: %w", err)
		}
		if isUniqueViolation(err, "appointment_date") || isUniqueViolation(err, "appointment_time") {
			return "", ErrSlotTaken
		}
		return "", fmt.Errorf("booking: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("booking: commit: %w", err)
	}
	return confirmation, nil
}

// isUniqueViolation reports whether err is a SQLite unique-constraint failure
// involving column. The driver surfaces constraint names only in the error
// text, so this matches on it.
func isUniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, column)
}

// AppointmentByConfirmation looks up a reservation by its confirmation number.
func (s *Store) AppointmentByConfirmation(ctx context.Context, confirmation string) (*Appointment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, customer_name, phone_number, appointment_date, appointment_time,
		        confirmation_number, created_at, COALESCE(call_sid, ''), status
		 FROM appointments WHERE confirmation_number = ?`, confirmation)

	var a Appointment
	var createdAt string
	err := row.Scan(&a.ID, &a.CustomerName, &a.PhoneNumber, &a.Date, &a.Time,
		&a.ConfirmationNumber, &createdAt, &a.CallSid, &a.Status)
	if err != nil {
		return nil, fmt.Errorf("booking: lookup %q: %w", confirmation, err)
	}
	// SQLite stores CURRENT_TIMESTAMP as UTC text.
	if t, err := time.Parse("2006-01-02 15:04:05", createdAt); err == nil {
		a.CreatedAt = t
	}
	return &a, nil
}
