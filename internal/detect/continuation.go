package detect

import (
	"fmt"
	"time"

	"rosterlog/internal/model"
)

// Confidence grades a continuation match.
type Confidence int

const (
	ConfidenceNone Confidence = iota
	ConfidenceLow
	ConfidenceMedium
	ConfidenceHigh
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceHigh:
		return "high"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceLow:
		return "low"
	default:
		return "none"
	}
}

// Outcome of continuation detection for a candidate.
type Outcome string

const (
	// OutcomeNewTrip: no eligible existing trip matches.
	OutcomeNewTrip Outcome = "new_trip"
	// OutcomeAskUser: an existing trip plausibly continues into this
	// candidate; leg insertion happens only after user confirmation.
	OutcomeAskUser Outcome = "ask_user"
	// OutcomeAutoContinuation: silent merge into the matched trip.
	// Only produced for high-confidence matches when the settings
	// enable automatic merging.
	OutcomeAutoContinuation Outcome = "auto_continuation"
)

// Advice is the advisory result of continuation detection.
type Advice struct {
	Outcome    Outcome    `json:"outcome"`
	TripID     string     `json:"trip_id,omitempty"`
	Confidence Confidence `json:"confidence"`
	Reason     string     `json:"reason,omitempty"`
}

// DetectContinuation decides whether a candidate's first leg should
// extend an already-logged trip instead of starting a new one.
//
// Eligible trips have status active or planning and a last-leg
// scheduled arrival no more than 24 hours before the leg's departure.
// Anchoring on the last arrival rather than the trip date keeps
// multi-day trips in play. Per trip, the gap from that arrival to the
// leg's scheduled departure scores:
//
//   - High: airports connect (last arrival == new departure) and the
//     gap is within [0, ContinuationHigh).
//   - Medium: gap within [0, ContinuationMedium), connectivity ignored.
//   - Low: gap within [0, ContinuationLow).
//
// The highest confidence across all eligible trips wins. The result is
// advisory: unless the auto-merge setting is enabled for a High match,
// the outcome is a question for the user, never a silent insertion.
func DetectContinuation(firstLeg model.Leg, trips []model.Trip, s Settings) Advice {
	best := Advice{Outcome: OutcomeNewTrip, Confidence: ConfidenceNone}

	for _, trip := range trips {
		if trip.Status != model.TripStatusActive && trip.Status != model.TripStatusPlanning {
			continue
		}
		last, ok := trip.LastLeg()
		if !ok {
			continue
		}

		gap := firstLeg.ScheduledOut.Sub(last.ScheduledIn)
		if gap < 0 || gap > 24*time.Hour {
			continue
		}

		var (
			conf   Confidence
			reason string
		)
		switch {
		case firstLeg.Departure == last.Arrival && gap < s.ContinuationHigh:
			conf = ConfidenceHigh
			reason = fmt.Sprintf("departs %s where trip %s last arrived, %s after arrival",
				firstLeg.Departure, trip.TripNumber, gap.Round(time.Minute))
		case gap < s.ContinuationMedium:
			conf = ConfidenceMedium
			reason = fmt.Sprintf("departs %s after trip %s's last arrival", gap.Round(time.Minute), trip.TripNumber)
		case gap < s.ContinuationLow:
			conf = ConfidenceLow
			reason = fmt.Sprintf("departs %s after trip %s's last arrival", gap.Round(time.Minute), trip.TripNumber)
		default:
			continue
		}

		if conf > best.Confidence {
			best = Advice{Outcome: OutcomeAskUser, TripID: trip.ID, Confidence: conf, Reason: reason}
		}
	}

	if best.Confidence == ConfidenceHigh && s.AutoMergeContinuations {
		best.Outcome = OutcomeAutoContinuation
	}
	return best
}
