// Package pending persists unresolved trip candidates and the sticky
// dismissal registry. All access happens from one serialized execution
// context; the store does its own garbage collection on load.
package pending

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"rosterlog/internal/config"
	appLog "rosterlog/internal/log"
	"rosterlog/internal/model"
)

// ErrNotFound is returned when a candidate id is unknown.
var ErrNotFound = errors.New("pending candidate not found")

// ErrNotMergeable is returned when a leg submitted to AddLegs falls
// outside the merge window (candidate trip date or the next calendar
// day) or its source event already belongs to another candidate.
var ErrNotMergeable = errors.New("leg not mergeable into candidate")

// Store is the SQLite-backed pending-candidate store.
type Store struct {
	db *sql.DB
}

// NewStore binds the store to an open database and ensures its schema.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS pending_candidates (
  id                    TEXT PRIMARY KEY,
  detected_at           DATETIME NOT NULL,
  trip_date             DATETIME NOT NULL,
  display_id            TEXT NOT NULL,
  show_time             DATETIME NOT NULL,
  block_minutes         INTEGER NOT NULL DEFAULT 0,
  state                 TEXT NOT NULL CHECK (state IN ('pending','remind_later')),
  tolerated             INTEGER NOT NULL DEFAULT 0,
  reminder_lead_minutes INTEGER NOT NULL DEFAULT 0,
  legs                  TEXT NOT NULL,
  source_event_ids      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_trip_date ON pending_candidates(trip_date);
CREATE TABLE IF NOT EXISTS dismissals (
  identifier   TEXT PRIMARY KEY,
  dismissed_at DATETIME NOT NULL
);
	`); err != nil {
		return nil, fmt.Errorf("pending schema: %w", err)
	}
	return &Store{db: db}, nil
}

// GCPolicy controls the purge performed by Load.
type GCPolicy struct {
	Now time.Time
	// StaleTripAfter removes candidates whose trip date is older than
	// this regardless of decision state.
	StaleTripAfter time.Duration
	// ShowTimeGrace removes candidates whose show time passed more than
	// this long ago; GraceUnlimited disables the show-time purge.
	ShowTimeGrace  time.Duration
	GraceUnlimited bool
	// DismissalWindow prunes registry entries older than this.
	DismissalWindow time.Duration
}

// PolicyFromConfig derives the GC policy from detection config. The
// show-time grace depends on the active time filter: future-only keeps
// nothing past its show time, today-and-future allows two hours, and
// all-detected never purges on show time.
func PolicyFromConfig(d config.DetectionConfig, now time.Time) GCPolicy {
	p := GCPolicy{
		Now:             now,
		StaleTripAfter:  time.Duration(d.StaleTripDays) * 24 * time.Hour,
		DismissalWindow: time.Duration(d.DismissalDays) * 24 * time.Hour,
	}
	switch d.TimeFilter {
	case config.FilterFutureOnly:
		p.ShowTimeGrace = 0
	case config.FilterTodayAndFuture:
		p.ShowTimeGrace = 2 * time.Hour
	default:
		p.GraceUnlimited = true
	}
	return p
}

// Load returns all unresolved candidates after garbage collection.
// Stale candidates and expired dismissals are deleted, and candidates
// parked as remind-later return to pending so the new detection pass
// surfaces them again. A corrupt row is skipped with a warning rather
// than failing the load.
func (s *Store) Load(ctx context.Context, policy GCPolicy) ([]model.PendingTripCandidate, error) {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_candidates WHERE trip_date < ?`,
		policy.Now.Add(-policy.StaleTripAfter).UTC()); err != nil {
		return nil, err
	}
	if !policy.GraceUnlimited {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM pending_candidates WHERE show_time < ?`,
			policy.Now.Add(-policy.ShowTimeGrace).UTC()); err != nil {
			return nil, err
		}
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM dismissals WHERE dismissed_at < ?`,
		policy.Now.Add(-policy.DismissalWindow).UTC()); err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE pending_candidates SET state = 'pending' WHERE state = 'remind_later'`); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, detected_at, trip_date, display_id, show_time, block_minutes,
       state, tolerated, reminder_lead_minutes, legs, source_event_ids
FROM pending_candidates ORDER BY show_time`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.PendingTripCandidate, 0)
	for rows.Next() {
		cand, err := scanCandidate(rows)
		if err != nil {
			appLog.Warn("pending candidate row skipped", "reason", err.Error())
			continue
		}
		out = append(out, cand)
	}
	return out, rows.Err()
}

// Add inserts new candidates, replacing any stored row with the same id.
func (s *Store) Add(ctx context.Context, cands []model.PendingTripCandidate) error {
	if len(cands) == 0 {
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

	for _, c := range cands {
		legs, jerr := json.Marshal(c.Legs)
		if jerr != nil {
			err = jerr
			return err
		}
		sources, jerr := json.Marshal(c.SourceEventIDs)
		if jerr != nil {
			err = jerr
			return err
		}
		state := string(c.State)
		if state == "" {
			state = string(model.DecisionPending)
		}
		if _, err = tx.ExecContext(ctx, `
INSERT OR REPLACE INTO pending_candidates
  (id, detected_at, trip_date, display_id, show_time, block_minutes,
   state, tolerated, reminder_lead_minutes, legs, source_event_ids)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			c.ID, c.DetectedAt.UTC(), c.TripDate.UTC(), c.DisplayID, c.ShowTime.UTC(),
			c.BlockMinutes, state, boolToInt(c.Tolerated), c.ReminderLeadMinutes,
			string(legs), string(sources)); err != nil {
			return err
		}
	}

	err = tx.Commit()
	return err
}

// Get returns one candidate by id.
func (s *Store) Get(ctx context.Context, id string) (model.PendingTripCandidate, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, detected_at, trip_date, display_id, show_time, block_minutes,
       state, tolerated, reminder_lead_minutes, legs, source_event_ids
FROM pending_candidates WHERE id = ?`, id)

	cand, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PendingTripCandidate{}, ErrNotFound
	}
	return cand, err
}

// Remove deletes a candidate (used after approval hands it to the
// materializer).
func (s *Store) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_candidates WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Dismiss removes the candidate and records its stable identifier in
// the dismissal registry so it cannot resurface within the window.
func (s *Store) Dismiss(ctx context.Context, id string, now time.Time) error {
	cand, err := s.Get(ctx, id)
	if err != nil {
		return err
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

	if _, err = tx.ExecContext(ctx, `DELETE FROM pending_candidates WHERE id = ?`, id); err != nil {
		return err
	}
	identifier := model.DismissalIdentifier(cand.PrimaryFlightNumber(), cand.TripDate)
	if _, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO dismissals (identifier, dismissed_at) VALUES (?,?)`,
		identifier, now.UTC()); err != nil {
		return err
	}

	err = tx.Commit()
	return err
}

// RemindLater keeps the candidate but parks it until the next pass.
func (s *Store) RemindLater(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_candidates SET state = 'remind_later' WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddLegs merges additional legs into an existing candidate (manual
// grouping mode). A leg must depart on the candidate's trip date or the
// next calendar day, and its source events must not already belong to
// another candidate; violations return ErrNotMergeable. Legs are
// re-sorted by scheduled departure and the aggregate block minutes,
// show time and source events recomputed.
func (s *Store) AddLegs(ctx context.Context, id string, legs []model.Leg, sourceEventIDs []string) (model.PendingTripCandidate, error) {
	cand, err := s.Get(ctx, id)
	if err != nil {
		return model.PendingTripCandidate{}, err
	}

	for _, leg := range legs {
		if !model.InMergeWindow(cand.TripDate, leg.ScheduledOut) {
			return model.PendingTripCandidate{}, fmt.Errorf(
				"%w: leg %s departs %s, outside trip date %s",
				ErrNotMergeable, leg.FlightNumber,
				leg.ScheduledOut.UTC().Format("2006-01-02"),
				cand.TripDate.UTC().Format("2006-01-02"))
		}
	}

	consumed, err := s.consumedSourceEvents(ctx, id)
	if err != nil {
		return model.PendingTripCandidate{}, err
	}
	for _, src := range sourceEventIDs {
		if other, ok := consumed[src]; ok {
			return model.PendingTripCandidate{}, fmt.Errorf(
				"%w: source event %s already belongs to candidate %s",
				ErrNotMergeable, src, other)
		}
	}

	cand.Legs = append(cand.Legs, legs...)
	sortLegs(cand.Legs)
	have := make(map[string]bool, len(cand.SourceEventIDs))
	for _, src := range cand.SourceEventIDs {
		have[src] = true
	}
	for _, src := range sourceEventIDs {
		if !have[src] {
			cand.SourceEventIDs = append(cand.SourceEventIDs, src)
			have[src] = true
		}
	}

	cand.BlockMinutes = 0
	for _, leg := range cand.Legs {
		cand.BlockMinutes += leg.BlockMinutes()
	}
	cand.ShowTime = cand.Legs[0].ScheduledOut

	if err := s.Add(ctx, []model.PendingTripCandidate{cand}); err != nil {
		return model.PendingTripCandidate{}, err
	}
	return cand, nil
}

// consumedSourceEvents maps every source event id held by a candidate
// other than excludeID to that candidate's id.
func (s *Store) consumedSourceEvents(ctx context.Context, excludeID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_event_ids FROM pending_candidates WHERE id != ?`, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	consumed := make(map[string]string)
	for rows.Next() {
		var candID, sourceJSON string
		if err := rows.Scan(&candID, &sourceJSON); err != nil {
			return nil, err
		}
		var ids []string
		if err := json.Unmarshal([]byte(sourceJSON), &ids); err != nil {
			appLog.Warn("candidate source events unreadable", "id", candID, "reason", err.Error())
			continue
		}
		for _, id := range ids {
			consumed[id] = candID
		}
	}
	return consumed, rows.Err()
}

// DismissedSet returns the identifiers still inside the dismissal
// window, for use as the pipeline's suppression predicate. A corrupt
// registry degrades to empty: the worst case is one already-reviewed
// candidate resurfacing once.
func (s *Store) DismissedSet(ctx context.Context, now time.Time, window time.Duration) map[string]bool {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identifier FROM dismissals WHERE dismissed_at >= ?`,
		now.Add(-window).UTC())
	if err != nil {
		appLog.Warn("dismissal registry unreadable, treating as empty", "reason", err.Error())
		return map[string]bool{}
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			appLog.Warn("dismissal row skipped", "reason", err.Error())
			continue
		}
		set[id] = true
	}
	return set
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCandidate(row rowScanner) (model.PendingTripCandidate, error) {
	var (
		c          model.PendingTripCandidate
		state      string
		tolerated  int
		legsJSON   string
		sourceJSON string
		detectedAt time.Time
		tripDate   time.Time
		showTime   time.Time
	)
	if err := row.Scan(&c.ID, &detectedAt, &tripDate, &c.DisplayID, &showTime,
		&c.BlockMinutes, &state, &tolerated, &c.ReminderLeadMinutes,
		&legsJSON, &sourceJSON); err != nil {
		return c, err
	}

	c.DetectedAt = detectedAt
	c.TripDate = tripDate
	c.ShowTime = showTime
	c.State = model.DecisionState(state)
	c.Tolerated = tolerated == 1

	if err := json.Unmarshal([]byte(legsJSON), &c.Legs); err != nil {
		return c, fmt.Errorf("candidate %s legs: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(sourceJSON), &c.SourceEventIDs); err != nil {
		return c, fmt.Errorf("candidate %s source events: %w", c.ID, err)
	}
	return c, nil
}

func sortLegs(legs []model.Leg) {
	sort.SliceStable(legs, func(i, j int) bool {
		return legs[i].ScheduledOut.Before(legs[j].ScheduledOut)
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
