package detect

import (
	"context"
	"fmt"
	"time"

	"rosterlog/internal/config"
	appLog "rosterlog/internal/log"
	"rosterlog/internal/model"
	"rosterlog/internal/pending"
	"rosterlog/internal/profile"
	"rosterlog/internal/roster"
)

// horizonDays bounds how far ahead a pass expands recurring roster
// entries; published rosters rarely exceed two bid periods.
const horizonDays = 62

// Runner wires the pure detection pass to its collaborators: roster
// sources, the profile store, the pending store and the logbook. All
// services are constructed once and injected; a Runner holds no global
// state and every pass snapshots its inputs up front.
type Runner struct {
	Cfg      *config.Config
	Fetcher  *roster.Fetcher
	Profiles *profile.Store
	Pending  *pending.Store
	Logbook  LogbookStore
}

// LogbookStore is the slice of the logbook the runner needs.
type LogbookStore interface {
	Snapshot(ctx context.Context) ([]model.Trip, error)
	AppendLegs(ctx context.Context, tripID string, legs []model.Leg) error
	Materialize(ctx context.Context, cand model.PendingTripCandidate, now time.Time) (model.Trip, error)
}

// PassSummary reports what one detection pass produced.
type PassSummary struct {
	Events        int      `json:"events"`
	Qualified     int      `json:"qualified"`
	NewCandidates []Report `json:"new_candidates"`
	AutoMerged    int      `json:"auto_merged"`
	Suppressed    int      `json:"suppressed"`
	FetchErrors   int      `json:"fetch_errors"`
}

// RunPass executes one detection pass: fetch and parse all roster
// sources, expand recurrences into the detection window, run the pure
// pipeline against logbook and pending snapshots, apply auto-merges,
// and persist the new candidates.
func (r *Runner) RunPass(ctx context.Context, now time.Time) (PassSummary, error) {
	var summary PassSummary

	prof, err := r.Profiles.Resolve(r.Cfg.Profile)
	if err != nil {
		return summary, fmt.Errorf("resolve profile: %w", err)
	}

	sources := make([]roster.Source, 0, len(r.Cfg.Sources))
	for _, src := range r.Cfg.Sources {
		if src.URL == "" {
			continue
		}
		id := src.ID
		if id == "" {
			id = src.Name
		}
		sources = append(sources, roster.Source{ID: id, URL: src.URL})
	}

	fetched, fetchErrs := r.Fetcher.FetchAll(ctx, sources)
	summary.FetchErrors = len(fetchErrs)

	staleWindow := time.Duration(r.Cfg.Detection.StaleTripDays) * 24 * time.Hour
	expandCfg := roster.ExpandConfig{
		RangeStart: now.Add(-staleWindow),
		RangeEnd:   now.AddDate(0, 0, horizonDays),
	}

	events := make([]model.RawCalendarEvent, 0)
	for _, res := range fetched {
		parsed, err := roster.Parse(res.Source.ID, res.Body)
		if err != nil {
			appLog.Error("roster source unusable", err, "id", res.Source.ID)
			continue
		}
		expanded, err := roster.Expand(parsed, expandCfg)
		if err != nil {
			appLog.Error("roster expansion failed", err, "id", res.Source.ID)
			continue
		}
		events = append(events, expanded...)
	}
	summary.Events = len(events)

	trips, err := r.Logbook.Snapshot(ctx)
	if err != nil {
		return summary, fmt.Errorf("logbook snapshot: %w", err)
	}

	policy := pending.PolicyFromConfig(r.Cfg.Detection, now)
	pendingCands, err := r.Pending.Load(ctx, policy)
	if err != nil {
		return summary, fmt.Errorf("load pending candidates: %w", err)
	}

	dismissed := r.Pending.DismissedSet(ctx, now, policy.DismissalWindow)

	result := Detect(Input{
		Events:        events,
		Profile:       prof,
		ExistingTrips: trips,
		Pending:       pendingCands,
		IsDismissed:   func(id string) bool { return dismissed[id] },
		Settings:      SettingsFromConfig(r.Cfg.Detection, now),
	})

	summary.Qualified = result.Qualified
	summary.Suppressed = result.SuppressedDuplicate + result.SuppressedDismissed + result.SuppressedPending

	for _, merge := range result.AutoMerges {
		if err := r.Logbook.AppendLegs(ctx, merge.TripID, merge.Legs); err != nil {
			appLog.Error("auto continuation merge failed", err, "trip_id", merge.TripID)
			continue
		}
		summary.AutoMerged++
	}

	newCands := make([]model.PendingTripCandidate, 0, len(result.Reports))
	for _, rep := range result.Reports {
		newCands = append(newCands, rep.Candidate)
	}
	if err := r.Pending.Add(ctx, newCands); err != nil {
		return summary, fmt.Errorf("persist candidates: %w", err)
	}
	summary.NewCandidates = result.Reports

	return summary, nil
}

// Approve materializes a pending candidate into the logbook and then
// removes it from the pending store.
func (r *Runner) Approve(ctx context.Context, id string, now time.Time) (model.Trip, error) {
	cand, err := r.Pending.Get(ctx, id)
	if err != nil {
		return model.Trip{}, err
	}

	trip, err := r.Logbook.Materialize(ctx, cand, now)
	if err != nil {
		return model.Trip{}, err
	}

	if err := r.Pending.Remove(ctx, id); err != nil {
		// The trip exists; the stale candidate will be caught by dedup
		// on the next pass and GC eventually.
		appLog.Error("approved candidate not removed from pending store", err, "candidate_id", id)
	}
	return trip, nil
}
