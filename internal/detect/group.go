package detect

import (
	"sort"

	"rosterlog/internal/config"
	"rosterlog/internal/model"
)

// Group is one candidate trip grouping of qualifying records.
type Group struct {
	Records []model.ExtractedFlightRecord

	// Tolerated is set when a non-connecting leg was merged under the
	// same-duty tolerance. The heuristic is uncertain (the gap may hide
	// a misclassified deadhead); review surfaces flag these groups.
	Tolerated bool
}

// GroupRecords reconstructs trip boundaries from duty-rest semantics.
// The roster feed supplies only per-flight entries, so grouping walks
// the chronologically sorted records once, comparing each record's
// scheduled departure against the previous record's scheduled arrival:
//
//   - gap >= RestThreshold: rest period, close the group.
//   - gap < 0: data anomaly, close the group.
//   - gap in [0, RestThreshold) with connecting airports: same group.
//   - gap in [0, SameDutyTolerance) without connectivity: same group,
//     flagged Tolerated.
//   - otherwise: close the group.
//
// In manual grouping mode every record becomes a singleton group and
// merging is left to explicit user action (see MergeableRecords).
func GroupRecords(records []model.ExtractedFlightRecord, s Settings) []Group {
	if len(records) == 0 {
		return nil
	}

	sorted := make([]model.ExtractedFlightRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ScheduledOut.Before(sorted[j].ScheduledOut)
	})

	if s.GroupingMode == config.GroupingManual {
		groups := make([]Group, 0, len(sorted))
		for _, rec := range sorted {
			groups = append(groups, Group{Records: []model.ExtractedFlightRecord{rec}})
		}
		return groups
	}

	groups := make([]Group, 0)
	current := Group{Records: []model.ExtractedFlightRecord{sorted[0]}}

	for i := 1; i < len(sorted); i++ {
		prev := current.Records[len(current.Records)-1]
		next := sorted[i]
		gap := next.ScheduledOut.Sub(prev.ScheduledIn)

		switch {
		case gap < 0 || gap >= s.RestThreshold:
			groups = append(groups, current)
			current = Group{Records: []model.ExtractedFlightRecord{next}}

		case prev.Arrival == next.Departure:
			current.Records = append(current.Records, next)

		case gap < s.SameDutyTolerance:
			current.Records = append(current.Records, next)
			current.Tolerated = true

		default:
			groups = append(groups, current)
			current = Group{Records: []model.ExtractedFlightRecord{next}}
		}
	}

	return append(groups, current)
}

// MergeableRecords lists records a user may merge into an existing
// manual-mode candidate: scheduled on the candidate's trip date or the
// next calendar day, and not already consumed by another candidate.
func MergeableRecords(candidate model.PendingTripCandidate, records []model.ExtractedFlightRecord, consumed map[string]bool) []model.ExtractedFlightRecord {
	out := make([]model.ExtractedFlightRecord, 0)

	for _, rec := range records {
		if consumed[rec.Event.UID] {
			continue
		}
		if model.InMergeWindow(candidate.TripDate, rec.ScheduledOut) {
			out = append(out, rec)
		}
	}
	return out
}
