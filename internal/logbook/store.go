// Package logbook is the durable trip/leg store and the materializer
// that turns approved candidates into logbook records.
package logbook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"rosterlog/internal/model"
)

// ErrTripNotFound is returned when a trip id is unknown.
var ErrTripNotFound = errors.New("trip not found")

// Open opens (or creates) the application database.
func Open(path string) (*sql.DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Store is the SQLite-backed logbook.
type Store struct {
	db *sql.DB

	// ManualLegAdvance leaves every materialized leg standby so the user
	// advances legs explicitly. Off, the first leg starts active.
	ManualLegAdvance bool
}

// NewStore binds the store to an open database and ensures its schema.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS trips (
  id          TEXT PRIMARY KEY,
  trip_number TEXT NOT NULL,
  trip_date   DATETIME NOT NULL,
  status      TEXT NOT NULL CHECK (status IN ('active','planning','completed')),
  trip_type   TEXT NOT NULL CHECK (trip_type IN ('operating','deadhead')),
  notes       TEXT,
  reminder_at DATETIME,
  created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_trips_date ON trips(trip_date);
CREATE TABLE IF NOT EXISTS legs (
  id            TEXT PRIMARY KEY,
  trip_id       TEXT NOT NULL REFERENCES trips(id) ON DELETE CASCADE,
  position      INTEGER NOT NULL,
  flight_number TEXT NOT NULL,
  departure     TEXT NOT NULL,
  arrival       TEXT NOT NULL,
  scheduled_out DATETIME NOT NULL,
  scheduled_in  DATETIME NOT NULL,
  deadhead      INTEGER NOT NULL DEFAULT 0,
  status        TEXT NOT NULL DEFAULT 'standby'
);
CREATE INDEX IF NOT EXISTS idx_legs_trip ON legs(trip_id, position);
	`); err != nil {
		return nil, fmt.Errorf("logbook schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Snapshot returns all trips with their legs, ordered by date. The
// detection pipeline treats the result as an immutable input.
func (s *Store) Snapshot(ctx context.Context) ([]model.Trip, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, trip_number, trip_date, status, trip_type, notes, reminder_at
FROM trips ORDER BY trip_date, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trips := make([]model.Trip, 0)
	index := make(map[string]int)
	for rows.Next() {
		var (
			t        model.Trip
			notes    sql.NullString
			reminder sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.TripNumber, &t.Date, &t.Status, &t.Type, &notes, &reminder); err != nil {
			return nil, err
		}
		t.Notes = notes.String
		if reminder.Valid {
			at := reminder.Time
			t.ReminderAt = &at
		}
		index[t.ID] = len(trips)
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	legRows, err := s.db.QueryContext(ctx, `
SELECT trip_id, id, flight_number, departure, arrival, scheduled_out, scheduled_in, deadhead, status
FROM legs ORDER BY trip_id, position`)
	if err != nil {
		return nil, err
	}
	defer legRows.Close()

	for legRows.Next() {
		var (
			tripID   string
			leg      model.Leg
			deadhead int
		)
		if err := legRows.Scan(&tripID, &leg.ID, &leg.FlightNumber, &leg.Departure,
			&leg.Arrival, &leg.ScheduledOut, &leg.ScheduledIn, &deadhead, &leg.Status); err != nil {
			return nil, err
		}
		leg.Deadhead = deadhead == 1
		if i, ok := index[tripID]; ok {
			trips[i].Legs = append(trips[i].Legs, leg)
		}
	}
	return trips, legRows.Err()
}

// AddTrip inserts a trip with its legs.
func (s *Store) AddTrip(ctx context.Context, t model.Trip) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var reminder any
	if t.ReminderAt != nil {
		reminder = t.ReminderAt.UTC()
	}
	if _, err = tx.ExecContext(ctx, `
INSERT INTO trips (id, trip_number, trip_date, status, trip_type, notes, reminder_at)
VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.TripNumber, t.Date.UTC(), t.Status, t.Type, nullIfEmpty(t.Notes), reminder); err != nil {
		return err
	}

	if err = insertLegs(ctx, tx, t.ID, 0, t.Legs); err != nil {
		return err
	}

	err = tx.Commit()
	return err
}

// AppendLegs adds legs to an existing trip after a confirmed
// continuation, keeping position order.
func (s *Store) AppendLegs(ctx context.Context, tripID string, legs []model.Leg) error {
	if len(legs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var count int
	if err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM legs WHERE trip_id = ?`, tripID).Scan(&count); err != nil {
		return err
	}
	var exists int
	if err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trips WHERE id = ?`, tripID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		err = ErrTripNotFound
		return err
	}

	if err = insertLegs(ctx, tx, tripID, count, legs); err != nil {
		return err
	}

	err = tx.Commit()
	return err
}

// DueReminders returns trips whose reminder time has passed and clears
// the reminder so it fires once.
func (s *Store) DueReminders(ctx context.Context, now time.Time) ([]model.Trip, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, trip_number, trip_date, status, trip_type, reminder_at
FROM trips WHERE reminder_at IS NOT NULL AND reminder_at <= ?`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	due := make([]model.Trip, 0)
	for rows.Next() {
		var (
			t        model.Trip
			reminder sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.TripNumber, &t.Date, &t.Status, &t.Type, &reminder); err != nil {
			return nil, err
		}
		if reminder.Valid {
			at := reminder.Time
			t.ReminderAt = &at
		}
		due = append(due, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, t := range due {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE trips SET reminder_at = NULL WHERE id = ?`, t.ID); err != nil {
			return due, err
		}
	}
	return due, nil
}

func insertLegs(ctx context.Context, tx *sql.Tx, tripID string, startPos int, legs []model.Leg) error {
	for i, leg := range legs {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO legs (id, trip_id, position, flight_number, departure, arrival,
                  scheduled_out, scheduled_in, deadhead, status)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
			leg.ID, tripID, startPos+i, leg.FlightNumber, leg.Departure, leg.Arrival,
			leg.ScheduledOut.UTC(), leg.ScheduledIn.UTC(), boolToInt(leg.Deadhead),
			legStatus(leg.Status)); err != nil {
			return err
		}
	}
	return nil
}

func legStatus(s string) string {
	if s == "" {
		return "standby"
	}
	return s
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
