// Package classify labels roster events and decides which qualify for
// trip grouping.
package classify

import (
	"regexp"
	"strings"
	"time"

	"rosterlog/internal/model"
)

// Keywords holds the keyword sets evaluated against an event's summary
// and description. Matching is case-insensitive substring matching in
// fixed priority order: deadhead, flight, rest, day off, duty day.
// First match wins; no match yields EventUnknown.
type Keywords struct {
	Deadhead []string `yaml:"deadhead" json:"deadhead"`
	Flight   []string `yaml:"flight" json:"flight"`
	Rest     []string `yaml:"rest" json:"rest"`
	DayOff   []string `yaml:"day_off" json:"day_off"`
	DutyDay  []string `yaml:"duty_day" json:"duty_day"`

	// NonFlightPrefixes excludes identifiers that weakly match the
	// flight-number pattern but are known non-flight entries (e.g.
	// "SBY1200", "HOT3" hotel codes).
	NonFlightPrefixes []string `yaml:"non_flight_prefixes" json:"non_flight_prefixes"`
}

// DefaultKeywords covers common roster vocabularies.
func DefaultKeywords() Keywords {
	return Keywords{
		Deadhead:          []string{"deadhead", "dh ", "dhd", "positioning", "reposition"},
		Flight:            []string{"flight", "flt", "fly", "leg"},
		Rest:              []string{"rest", "layover", "hotel", "min rest"},
		DayOff:            []string{"day off", "off duty", "do ", "vacation", "leave"},
		DutyDay:           []string{"duty", "report", "check-in", "check in", "standby", "reserve", "sby"},
		NonFlightPrefixes: []string{"SBY", "RSV", "HOT", "GND", "TRN", "SIM"},
	}
}

// A flight-number-like identifier: two letters + digits ("UJ465") or
// bare digits ("465").
var flightNumberPattern = regexp.MustCompile(`^(?:[A-Z]{2}\d+|\d+)$`)

// Classify assigns an EventType to a roster event.
//
// Events with a flight-number-like extracted identifier and a complete
// departure/arrival pair are treated as flights even without keyword
// evidence, since many roster exports put nothing but "UJ465 LRD-CUU"
// in the summary.
func Classify(k Keywords, rec model.ExtractedFlightRecord) model.EventType {
	text := strings.ToLower(rec.Event.Summary + "\n" + rec.Event.Description)

	switch {
	case matchAny(text, k.Deadhead):
		return model.EventDeadhead
	case matchAny(text, k.Flight):
		return model.EventFlight
	case matchAny(text, k.Rest):
		return model.EventRest
	case matchAny(text, k.DayOff):
		return model.EventDayOff
	case matchAny(text, k.DutyDay):
		return model.EventDutyDay
	}

	if looksLikeFlightNumber(k, rec.FlightNumber) && rec.Departure != "" && rec.Arrival != "" {
		return model.EventFlight
	}

	return model.EventUnknown
}

// QualifiesForGrouping is the stricter predicate used by the grouper.
// Beyond being classified flight/deadhead, the record needs a complete
// departure+arrival pair, a scheduled duration below maxLegDuration
// (duty-period placeholder entries span far longer than any single
// flight), and a flight-number-like identifier that does not carry a
// configured non-flight prefix.
func QualifiesForGrouping(k Keywords, rec model.ExtractedFlightRecord, maxLegDuration time.Duration) bool {
	switch Classify(k, rec) {
	case model.EventFlight, model.EventDeadhead:
	default:
		return false
	}

	if rec.Departure == "" || rec.Arrival == "" {
		return false
	}

	dur := rec.ScheduledIn.Sub(rec.ScheduledOut)
	if dur <= 0 || dur >= maxLegDuration {
		return false
	}

	return looksLikeFlightNumber(k, rec.FlightNumber)
}

func looksLikeFlightNumber(k Keywords, id string) bool {
	cleaned := model.CleanFlightNumber(id)
	if cleaned == "" {
		return false
	}
	for _, prefix := range k.NonFlightPrefixes {
		if strings.HasPrefix(cleaned, strings.ToUpper(prefix)) {
			return false
		}
	}
	return flightNumberPattern.MatchString(cleaned)
}

func matchAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
