package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rosterlog/internal/config"
	"rosterlog/internal/detect"
	"rosterlog/internal/logbook"
	"rosterlog/internal/model"
	"rosterlog/internal/pending"
)

func testServer(t *testing.T, cfg *config.Config) (*httptest.Server, *detect.Runner) {
	t.Helper()

	dir := t.TempDir()
	db, err := logbook.Open(filepath.Join(dir, "rosterlog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logbookStore, err := logbook.NewStore(db)
	require.NoError(t, err)
	pendingStore, err := pending.NewStore(db)
	require.NoError(t, err)

	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	runner := &detect.Runner{
		Cfg:     cfg,
		Pending: pendingStore,
		Logbook: logbookStore,
	}

	srv := httptest.NewServer(NewServer(cfg, runner).Handler())
	t.Cleanup(srv.Close)
	return srv, runner
}

func seedCandidate(t *testing.T, runner *detect.Runner, id string) model.PendingTripCandidate {
	t.Helper()

	show := time.Now().UTC().Add(26 * time.Hour)
	tripDate := time.Date(show.Year(), show.Month(), show.Day(), 0, 0, 0, 0, time.UTC)
	cand := model.PendingTripCandidate{
		ID:        id,
		TripDate:  tripDate,
		DisplayID: "UJ465",
		Legs: []model.Leg{
			{ID: id + "-l1", FlightNumber: "UJ465", Departure: "LRD", Arrival: "CUU",
				ScheduledOut: show, ScheduledIn: show.Add(90 * time.Minute)},
		},
		BlockMinutes:   90,
		ShowTime:       show,
		SourceEventIDs: []string{id + "-src"},
		State:          model.DecisionPending,
	}
	require.NoError(t, runner.Pending.Add(t.Context(), []model.PendingTripCandidate{cand}))
	return cand
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListPending(t *testing.T) {
	srv, runner := testServer(t, nil)
	seedCandidate(t, runner, "c1")

	resp, err := http.Get(srv.URL + "/api/pending")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Candidates []model.PendingTripCandidate `json:"candidates"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Candidates, 1)
	assert.Equal(t, "c1", body.Candidates[0].ID)
	assert.Equal(t, "UJ465", body.Candidates[0].DisplayID)
}

func TestApprove(t *testing.T) {
	srv, runner := testServer(t, nil)
	seedCandidate(t, runner, "c1")

	resp, err := http.Post(srv.URL+"/api/pending/c1/approve", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var trip model.Trip
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&trip))
	assert.Equal(t, "UJ465", trip.TripNumber)
	assert.NotEmpty(t, trip.ID)

	// The candidate is gone and the trip is durable.
	_, err = runner.Pending.Get(t.Context(), "c1")
	assert.ErrorIs(t, err, pending.ErrNotFound)

	trips, err := runner.Logbook.Snapshot(t.Context())
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Equal(t, trip.ID, trips[0].ID)
}

func TestDismiss(t *testing.T) {
	srv, runner := testServer(t, nil)
	cand := seedCandidate(t, runner, "c1")

	resp, err := http.Post(srv.URL+"/api/pending/c1/dismiss", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = runner.Pending.Get(t.Context(), "c1")
	assert.ErrorIs(t, err, pending.ErrNotFound)

	identifier := model.DismissalIdentifier("UJ465", cand.TripDate)
	set := runner.Pending.DismissedSet(t.Context(), time.Now(), 30*24*time.Hour)
	assert.True(t, set[identifier])
}

func TestRemindLater(t *testing.T) {
	srv, runner := testServer(t, nil)
	seedCandidate(t, runner, "c1")

	resp, err := http.Post(srv.URL+"/api/pending/c1/remind", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := runner.Pending.Get(t.Context(), "c1")
	require.NoError(t, err)
	assert.Equal(t, model.DecisionRemindLater, got.State)
}

func TestAddLegs(t *testing.T) {
	srv, runner := testServer(t, nil)
	cand := seedCandidate(t, runner, "c1")

	leg := model.Leg{
		ID: "c1-l2", FlightNumber: "UJ466", Departure: "CUU", Arrival: "LRD",
		ScheduledOut: cand.ShowTime.Add(3 * time.Hour),
		ScheduledIn:  cand.ShowTime.Add(270 * time.Minute),
	}
	payload, err := json.Marshal(map[string]any{
		"legs":             []model.Leg{leg},
		"source_event_ids": []string{"extra-src"},
	})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/api/pending/c1/legs", "application/json", strings.NewReader(string(payload)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got model.PendingTripCandidate
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got.Legs, 2)
	assert.Equal(t, 180, got.BlockMinutes)
}

func TestAddLegsOutOfWindowIsConflict(t *testing.T) {
	srv, runner := testServer(t, nil)
	cand := seedCandidate(t, runner, "c1")

	// A week past the trip date: the store refuses the merge and the
	// API reports a conflict rather than a server error.
	leg := model.Leg{
		ID: "c1-l9", FlightNumber: "UJ900", Departure: "CUU", Arrival: "LRD",
		ScheduledOut: cand.TripDate.AddDate(0, 0, 7),
		ScheduledIn:  cand.TripDate.AddDate(0, 0, 7).Add(90 * time.Minute),
	}
	payload, err := json.Marshal(map[string]any{
		"legs":             []model.Leg{leg},
		"source_event_ids": []string{"far-src"},
	})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/api/pending/c1/legs", "application/json", strings.NewReader(string(payload)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	got, err := runner.Pending.Get(t.Context(), "c1")
	require.NoError(t, err)
	assert.Len(t, got.Legs, 1)
}

func TestAddLegsBadRequest(t *testing.T) {
	srv, runner := testServer(t, nil)
	seedCandidate(t, runner, "c1")

	resp, err := http.Post(srv.URL+"/api/pending/c1/legs", "application/json", strings.NewReader(`{"legs":[]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownCandidateIs404(t *testing.T) {
	srv, _ := testServer(t, nil)

	for _, action := range []string{"approve", "dismiss", "remind"} {
		resp, err := http.Post(srv.URL+"/api/pending/nope/"+action, "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, action)
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "pilot", Password: "hunter2"}
	srv, _ := testServer(t, cfg)

	// Health stays open for probes.
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Everything else requires credentials.
	resp, err = http.Get(srv.URL + "/api/pending")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/pending", nil)
	require.NoError(t, err)
	req.SetBasicAuth("pilot", "hunter2")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req.SetBasicAuth("pilot", "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
