package detect

import (
	"fmt"

	"rosterlog/internal/model"
)

// IsDuplicate reports whether the candidate already exists in the
// logbook. The feed carries no stable trip identifier, so detection is
// structural: a candidate is suppressed when ANY existing trip
//
//   - falls on the same calendar day and its first leg departs from the
//     candidate's first-leg departure airport,
//   - has a trip number or leg flight number equal to the candidate's
//     generated identifier,
//   - has a leg sharing both departure and arrival with the
//     candidate's first leg, or
//   - has a leg whose cleaned flight number matches the candidate's.
//
// The returned reason names the matched trip for logging.
func IsDuplicate(c model.PendingTripCandidate, trips []model.Trip) (bool, string) {
	if len(c.Legs) == 0 {
		return false, ""
	}

	first := c.Legs[0]
	candID := model.CleanFlightNumber(c.DisplayID)
	candFlight := model.CleanFlightNumber(first.FlightNumber)

	for _, trip := range trips {
		if model.SameCalendarDay(trip.Date, c.TripDate) && len(trip.Legs) > 0 &&
			trip.Legs[0].Departure == first.Departure {
			return true, fmt.Sprintf("trip %s departs %s the same day", trip.ID, first.Departure)
		}

		if candID != "" && model.CleanFlightNumber(trip.TripNumber) == candID {
			return true, fmt.Sprintf("trip %s has the same trip number", trip.ID)
		}

		for _, leg := range trip.Legs {
			legFlight := model.CleanFlightNumber(leg.FlightNumber)
			if candID != "" && legFlight == candID {
				return true, fmt.Sprintf("trip %s leg %s matches candidate identifier", trip.ID, leg.FlightNumber)
			}
			if leg.Departure == first.Departure && leg.Arrival == first.Arrival {
				return true, fmt.Sprintf("trip %s already flies %s-%s", trip.ID, first.Departure, first.Arrival)
			}
			if candFlight != "" && legFlight == candFlight {
				return true, fmt.Sprintf("trip %s leg %s matches candidate flight number", trip.ID, leg.FlightNumber)
			}
		}
	}

	return false, ""
}
