package logbook

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	appLog "rosterlog/internal/log"
	"rosterlog/internal/model"
)

// Materialize converts an approved candidate into a durable trip.
// Scheduled times are preserved as detected; the first leg is marked
// active and the rest standby (all standby under manual leg
// advancement); the trip type is deadhead when every leg is a deadhead;
// a provenance note records when and from which roster events the trip
// was generated. When the candidate carries a reminder lead, a reminder
// is scheduled relative to the first leg's show time.
//
// The caller removes the candidate from the pending store after this
// returns; doing it in that order means a storage failure here leaves
// the candidate reviewable instead of lost.
func (s *Store) Materialize(ctx context.Context, cand model.PendingTripCandidate, now time.Time) (model.Trip, error) {
	if len(cand.Legs) == 0 {
		return model.Trip{}, fmt.Errorf("candidate %s has no legs", cand.ID)
	}

	legs := make([]model.Leg, len(cand.Legs))
	copy(legs, cand.Legs)

	allDeadhead := true
	for i := range legs {
		legs[i].Status = "standby"
		if !legs[i].Deadhead {
			allDeadhead = false
		}
	}
	if !s.ManualLegAdvance {
		legs[0].Status = "active"
	}

	tripType := model.TripTypeOperating
	if allDeadhead {
		tripType = model.TripTypeDeadhead
	}

	trip := model.Trip{
		ID:         uuid.NewString(),
		TripNumber: cand.DisplayID,
		Date:       cand.TripDate,
		Status:     model.TripStatusActive,
		Type:       tripType,
		Notes: fmt.Sprintf("Generated from roster on %s (%d source events)",
			now.UTC().Format("2006-01-02"), len(cand.SourceEventIDs)),
		Legs: legs,
	}

	if cand.ReminderLeadMinutes > 0 {
		at := cand.ShowTime.Add(-time.Duration(cand.ReminderLeadMinutes) * time.Minute)
		trip.ReminderAt = &at
	}

	if err := s.AddTrip(ctx, trip); err != nil {
		return model.Trip{}, err
	}

	appLog.Info("candidate materialized",
		"trip_id", trip.ID,
		"trip_number", trip.TripNumber,
		"legs", len(trip.Legs),
		"type", trip.Type,
	)
	return trip, nil
}
