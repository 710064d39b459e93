package pending

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"rosterlog/internal/config"
	"rosterlog/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "pending.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	require.NoError(t, err)
	return store
}

func testCandidate(id string, tripDate, showTime time.Time) model.PendingTripCandidate {
	return model.PendingTripCandidate{
		ID:         id,
		DetectedAt: showTime.Add(-48 * time.Hour),
		TripDate:   tripDate,
		DisplayID:  "UJ465",
		Legs: []model.Leg{
			{ID: id + "-l1", FlightNumber: "UJ465", Departure: "LRD", Arrival: "CUU",
				ScheduledOut: showTime, ScheduledIn: showTime.Add(90 * time.Minute)},
		},
		BlockMinutes:   90,
		ShowTime:       showTime,
		SourceEventIDs: []string{id + "-src"},
		State:          model.DecisionPending,
	}
}

func defaultPolicy(now time.Time) GCPolicy {
	return PolicyFromConfig(config.DefaultConfig().Detection, now)
}

func TestStoreAddLoadRoundtrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	cand := testCandidate("c1", now.AddDate(0, 0, 1), now.Add(26*time.Hour))
	cand.Tolerated = true
	cand.ReminderLeadMinutes = 90
	require.NoError(t, store.Add(ctx, []model.PendingTripCandidate{cand}))

	loaded, err := store.Load(ctx, defaultPolicy(now))
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, cand.ID, got.ID)
	assert.Equal(t, cand.DisplayID, got.DisplayID)
	assert.True(t, got.TripDate.Equal(cand.TripDate))
	assert.True(t, got.ShowTime.Equal(cand.ShowTime))
	assert.Equal(t, cand.BlockMinutes, got.BlockMinutes)
	assert.Equal(t, model.DecisionPending, got.State)
	assert.True(t, got.Tolerated)
	assert.Equal(t, 90, got.ReminderLeadMinutes)
	require.Len(t, got.Legs, 1)
	assert.Equal(t, "UJ465", got.Legs[0].FlightNumber)
	assert.Equal(t, []string{"c1-src"}, got.SourceEventIDs)
}

func TestLoadPurgesStaleTripDates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	// Trip date eight days old: purged regardless of state, even when
	// parked as remind-later.
	stale := testCandidate("stale", now.AddDate(0, 0, -8), now.AddDate(0, 0, -8))
	stale.State = model.DecisionRemindLater
	fresh := testCandidate("fresh", now.AddDate(0, 0, 1), now.Add(26*time.Hour))
	require.NoError(t, store.Add(ctx, []model.PendingTripCandidate{stale, fresh}))

	loaded, err := store.Load(ctx, defaultPolicy(now))
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "fresh", loaded[0].ID)

	_, err = store.Get(ctx, "stale")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadShowTimeGraceByTimeFilter(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	// Show time one hour ago. Future-only purges it immediately,
	// today-and-future keeps it inside the two-hour grace, and
	// all-detected never purges on show time.
	tests := []struct {
		filter string
		want   int
	}{
		{config.FilterFutureOnly, 0},
		{config.FilterTodayAndFuture, 1},
		{config.FilterAllDetected, 1},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			store := openTestStore(t)
			ctx := context.Background()

			cand := testCandidate("c1", now, now.Add(-time.Hour))
			require.NoError(t, store.Add(ctx, []model.PendingTripCandidate{cand}))

			d := config.DefaultConfig().Detection
			d.TimeFilter = tt.filter
			loaded, err := store.Load(ctx, PolicyFromConfig(d, now))
			require.NoError(t, err)
			assert.Len(t, loaded, tt.want)
		})
	}
}

func TestLoadResetsRemindLater(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	cand := testCandidate("c1", now.AddDate(0, 0, 1), now.Add(26*time.Hour))
	require.NoError(t, store.Add(ctx, []model.PendingTripCandidate{cand}))
	require.NoError(t, store.RemindLater(ctx, "c1"))

	got, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, model.DecisionRemindLater, got.State)

	loaded, err := store.Load(ctx, defaultPolicy(now))
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, model.DecisionPending, loaded[0].State)
}

func TestDismissIsStickyAndPruned(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	tripDate := now.AddDate(0, 0, 1)
	cand := testCandidate("c1", tripDate, now.Add(26*time.Hour))
	require.NoError(t, store.Add(ctx, []model.PendingTripCandidate{cand}))
	require.NoError(t, store.Dismiss(ctx, "c1", now))

	_, err := store.Get(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)

	identifier := model.DismissalIdentifier("UJ465", tripDate)
	window := 30 * 24 * time.Hour
	assert.True(t, store.DismissedSet(ctx, now, window)[identifier])
	assert.True(t, store.DismissedSet(ctx, now.AddDate(0, 0, 29), window)[identifier])

	// Load past the window prunes the registry entry.
	_, err = store.Load(ctx, defaultPolicy(now.AddDate(0, 0, 31)))
	require.NoError(t, err)
	assert.False(t, store.DismissedSet(ctx, now.AddDate(0, 0, 31), window)[identifier])
}

func TestDismissUnknownCandidate(t *testing.T) {
	store := openTestStore(t)
	err := store.Dismiss(context.Background(), "nope", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveUnknownCandidate(t *testing.T) {
	store := openTestStore(t)
	assert.ErrorIs(t, store.Remove(context.Background(), "nope"), ErrNotFound)
}

func TestAddLegsRecomputesAggregates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	cand := testCandidate("c1", now.AddDate(0, 0, 1), now.Add(26*time.Hour))
	require.NoError(t, store.Add(ctx, []model.PendingTripCandidate{cand}))

	// Merge a leg departing before the existing one: show time must
	// follow the new first leg.
	earlier := model.Leg{
		ID: "c1-l0", FlightNumber: "UJ464", Departure: "MTY", Arrival: "LRD",
		ScheduledOut: cand.ShowTime.Add(-3 * time.Hour),
		ScheduledIn:  cand.ShowTime.Add(-90 * time.Minute),
	}

	got, err := store.AddLegs(ctx, "c1", []model.Leg{earlier}, []string{"src-extra"})
	require.NoError(t, err)
	require.Len(t, got.Legs, 2)
	assert.Equal(t, "UJ464", got.Legs[0].FlightNumber)
	assert.Equal(t, "UJ465", got.Legs[1].FlightNumber)
	assert.Equal(t, 180, got.BlockMinutes)
	assert.True(t, got.ShowTime.Equal(earlier.ScheduledOut))
	assert.Equal(t, []string{"c1-src", "src-extra"}, got.SourceEventIDs)

	// The merge persists.
	stored, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, stored.Legs, 2)
	assert.Equal(t, 180, stored.BlockMinutes)
}

func TestAddLegsRejectsOutOfWindowLeg(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	cand := testCandidate("c1", now.AddDate(0, 0, 1), now.Add(26*time.Hour))
	require.NoError(t, store.Add(ctx, []model.PendingTripCandidate{cand}))

	// Ten days past the trip date: well outside the trip date and the
	// following day, so the merge must be refused.
	far := model.Leg{
		ID: "c1-l9", FlightNumber: "UJ900", Departure: "CUU", Arrival: "LRD",
		ScheduledOut: cand.TripDate.AddDate(0, 0, 10),
		ScheduledIn:  cand.TripDate.AddDate(0, 0, 10).Add(90 * time.Minute),
	}

	_, err := store.AddLegs(ctx, "c1", []model.Leg{far}, []string{"src-far"})
	assert.ErrorIs(t, err, ErrNotMergeable)

	// The candidate is untouched.
	stored, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, stored.Legs, 1)
	assert.Equal(t, []string{"c1-src"}, stored.SourceEventIDs)
}

func TestAddLegsRejectsConsumedSourceEvent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	c1 := testCandidate("c1", now.AddDate(0, 0, 1), now.Add(26*time.Hour))
	c2 := testCandidate("c2", now.AddDate(0, 0, 1), now.Add(30*time.Hour))
	require.NoError(t, store.Add(ctx, []model.PendingTripCandidate{c1, c2}))

	leg := model.Leg{
		ID: "c1-l2", FlightNumber: "UJ466", Departure: "CUU", Arrival: "LRD",
		ScheduledOut: c1.ShowTime.Add(4 * time.Hour),
		ScheduledIn:  c1.ShowTime.Add(5 * time.Hour),
	}

	// c2 already owns c2-src, so merging it into c1 must fail.
	_, err := store.AddLegs(ctx, "c1", []model.Leg{leg}, []string{"c2-src"})
	assert.ErrorIs(t, err, ErrNotMergeable)
	assert.ErrorContains(t, err, "c2")

	// Re-submitting an event the candidate itself owns is fine.
	got, err := store.AddLegs(ctx, "c1", []model.Leg{leg}, []string{"c1-src"})
	require.NoError(t, err)
	assert.Len(t, got.Legs, 2)
	assert.Equal(t, []string{"c1-src"}, got.SourceEventIDs)
}
