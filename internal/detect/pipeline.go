// Package detect implements the roster-to-trip detection pipeline:
// field extraction, classification, duty-period grouping, continuation
// detection and dedup. A pass is a pure function over an immutable
// snapshot; re-running it on identical inputs surfaces zero new
// candidates.
package detect

import (
	"time"

	"github.com/google/uuid"

	"rosterlog/internal/classify"
	"rosterlog/internal/config"
	appLog "rosterlog/internal/log"
	"rosterlog/internal/model"
	"rosterlog/internal/profile"
)

// Input is the immutable snapshot a detection pass operates on.
type Input struct {
	Events        []model.RawCalendarEvent
	Profile       profile.ImportProfile
	ExistingTrips []model.Trip
	// Pending is the current unresolved candidate set; groups matching
	// a pending candidate are not surfaced again.
	Pending []model.PendingTripCandidate
	// IsDismissed consults the sticky dismissal registry. Nil means no
	// registry (nothing suppressed).
	IsDismissed func(identifier string) bool
	Settings    Settings
}

// AutoMerge is a silent continuation merge the caller should apply to
// the logbook (only produced when the auto-merge setting is enabled).
type AutoMerge struct {
	TripID string
	Legs   []model.Leg
}

// Report pairs a new candidate with its continuation advice. In manual
// grouping mode MergeableEventIDs lists the qualified roster events a
// user may merge into the candidate (same or next calendar day, not
// already consumed by another candidate).
type Report struct {
	Candidate         model.PendingTripCandidate `json:"candidate"`
	Advice            Advice                     `json:"advice"`
	MergeableEventIDs []string                   `json:"mergeable_event_ids,omitempty"`
}

// Result of one detection pass.
type Result struct {
	Reports    []Report
	AutoMerges []AutoMerge

	Qualified           int
	SuppressedDuplicate int
	SuppressedDismissed int
	SuppressedPending   int
}

// Detect runs one detection pass over the snapshot.
func Detect(in Input) Result {
	var res Result

	records := qualifyEvents(in)
	res.Qualified = len(records)
	if len(records) == 0 {
		return res
	}

	for _, group := range GroupRecords(records, in.Settings) {
		cand := buildCandidate(group, in.Settings)
		if len(cand.Legs) == 0 {
			continue
		}

		if dup, reason := IsDuplicate(cand, in.ExistingTrips); dup {
			res.SuppressedDuplicate++
			appLog.Debug("candidate suppressed as duplicate", "display_id", cand.DisplayID, "reason", reason)
			continue
		}

		identifier := model.DismissalIdentifier(cand.PrimaryFlightNumber(), cand.TripDate)
		if in.IsDismissed != nil && in.IsDismissed(identifier) {
			res.SuppressedDismissed++
			appLog.Debug("candidate suppressed by dismissal registry", "identifier", identifier)
			continue
		}

		if matchesPending(cand, in.Pending) {
			res.SuppressedPending++
			continue
		}

		advice := DetectContinuation(cand.Legs[0], in.ExistingTrips, in.Settings)
		if advice.Outcome == OutcomeAutoContinuation {
			res.AutoMerges = append(res.AutoMerges, AutoMerge{TripID: advice.TripID, Legs: cand.Legs})
			continue
		}

		res.Reports = append(res.Reports, Report{Candidate: cand, Advice: advice})
	}

	if in.Settings.GroupingMode == config.GroupingManual {
		attachMergeable(res.Reports, records, in.Pending)
	}

	appLog.Info("detection pass completed",
		"qualified", res.Qualified,
		"candidates", len(res.Reports),
		"auto_merges", len(res.AutoMerges),
		"suppressed_duplicate", res.SuppressedDuplicate,
		"suppressed_dismissed", res.SuppressedDismissed,
		"suppressed_pending", res.SuppressedPending,
	)
	return res
}

// qualifyEvents extracts records and keeps those eligible for grouping.
// A record lacking both a flight number and a complete departure +
// arrival pair is ordinary non-flight roster noise, not an error.
func qualifyEvents(in Input) []model.ExtractedFlightRecord {
	out := make([]model.ExtractedFlightRecord, 0, len(in.Events))

	for _, ev := range in.Events {
		rec := in.Profile.Apply(ev)
		if !classify.QualifiesForGrouping(in.Settings.Keywords, rec, in.Settings.MaxLegDuration) {
			continue
		}
		if !passesTimeFilter(rec.ScheduledOut, in.Settings) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func passesTimeFilter(departure time.Time, s Settings) bool {
	switch s.TimeFilter {
	case config.FilterFutureOnly:
		return departure.After(s.Now)
	case config.FilterTodayAndFuture:
		y, m, d := s.Now.UTC().Date()
		startOfToday := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		return !departure.Before(startOfToday)
	default:
		return true
	}
}

// buildCandidate converts a group into a pending candidate. Legs are
// ordered by scheduled departure; the ExtractedFlightRecord ordering
// from GroupRecords already guarantees that.
func buildCandidate(g Group, s Settings) model.PendingTripCandidate {
	legs := make([]model.Leg, 0, len(g.Records))
	sourceIDs := make([]string, 0, len(g.Records))
	blockMinutes := 0
	tripNumber := ""

	for _, rec := range g.Records {
		legs = append(legs, model.Leg{
			ID:           uuid.NewString(),
			FlightNumber: rec.FlightNumber,
			Departure:    rec.Departure,
			Arrival:      rec.Arrival,
			ScheduledOut: rec.ScheduledOut,
			ScheduledIn:  rec.ScheduledIn,
			Deadhead:     classify.Classify(s.Keywords, rec) == model.EventDeadhead,
		})
		sourceIDs = append(sourceIDs, rec.Event.UID)
		blockMinutes += rec.BlockMinutes()
		if tripNumber == "" && rec.TripNumber != "" {
			tripNumber = rec.TripNumber
		}
	}

	first := legs[0]
	out := first.ScheduledOut.UTC()
	tripDate := time.Date(out.Year(), out.Month(), out.Day(), 0, 0, 0, 0, time.UTC)

	displayID := tripNumber
	if displayID == "" {
		displayID = model.CleanFlightNumber(first.FlightNumber)
	}

	return model.PendingTripCandidate{
		ID:                  uuid.NewString(),
		DetectedAt:          s.Now,
		TripDate:            tripDate,
		DisplayID:           displayID,
		Legs:                legs,
		BlockMinutes:        blockMinutes,
		ShowTime:            first.ScheduledOut,
		SourceEventIDs:      sourceIDs,
		State:               model.DecisionPending,
		Tolerated:           g.Tolerated,
		ReminderLeadMinutes: s.ReminderLeadMinutes,
	}
}

// attachMergeable fills each report's MergeableEventIDs with the
// qualified events a user may merge into that candidate. Events already
// inside another new candidate or an unresolved pending one count as
// consumed.
func attachMergeable(reports []Report, records []model.ExtractedFlightRecord, pending []model.PendingTripCandidate) {
	consumed := make(map[string]bool)
	for _, p := range pending {
		for _, id := range p.SourceEventIDs {
			consumed[id] = true
		}
	}
	for _, rep := range reports {
		for _, id := range rep.Candidate.SourceEventIDs {
			consumed[id] = true
		}
	}

	for i := range reports {
		mergeable := MergeableRecords(reports[i].Candidate, records, consumed)
		ids := make([]string, 0, len(mergeable))
		for _, rec := range mergeable {
			ids = append(ids, rec.Event.UID)
		}
		reports[i].MergeableEventIDs = ids
	}
}

// matchesPending reports whether an equivalent candidate is already
// awaiting a decision (including remind-later ones): same display
// identifier on the same trip date, or any shared source event.
func matchesPending(c model.PendingTripCandidate, pending []model.PendingTripCandidate) bool {
	sources := make(map[string]bool, len(c.SourceEventIDs))
	for _, id := range c.SourceEventIDs {
		sources[id] = true
	}

	for _, p := range pending {
		if p.DisplayID == c.DisplayID && model.SameCalendarDay(p.TripDate, c.TripDate) {
			return true
		}
		for _, id := range p.SourceEventIDs {
			if sources[id] {
				return true
			}
		}
	}
	return false
}
