// Package model holds the domain types shared across the roster engine.
// Types here carry no behavior beyond small derivations; the packages
// roster, profile, classify, detect, pending and logbook operate on them.
package model

import (
	"strings"
	"time"
)

// EventType is the classification assigned to a roster calendar event.
type EventType string

const (
	EventFlight   EventType = "flight"
	EventDeadhead EventType = "deadhead"
	EventDutyDay  EventType = "duty_day"
	EventDayOff   EventType = "day_off"
	EventRest     EventType = "rest"
	EventUnknown  EventType = "unknown"
)

// RawCalendarEvent is one calendar entry as produced by the roster
// parser. It is immutable and lives only for a single detection pass.
type RawCalendarEvent struct {
	UID         string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	Categories  []string
	Status      string
}

// ExtractedFlightRecord is the result of applying an import profile to
// one event. Every field is independently optional; partial extraction
// is valid.
type ExtractedFlightRecord struct {
	Event RawCalendarEvent

	FlightNumber string
	Departure    string
	Arrival      string
	ScheduledOut time.Time
	ScheduledIn  time.Time
	Aircraft     string
	Role         string
	CheckIn      string
	CheckOut     string
	TripNumber   string
}

// BlockMinutes is the scheduled block time of the record.
func (r ExtractedFlightRecord) BlockMinutes() int {
	if r.ScheduledIn.Before(r.ScheduledOut) {
		return 0
	}
	return int(r.ScheduledIn.Sub(r.ScheduledOut) / time.Minute)
}

// DecisionState is the lifecycle state of a pending candidate.
type DecisionState string

const (
	DecisionPending     DecisionState = "pending"
	DecisionApproved    DecisionState = "approved"
	DecisionDismissed   DecisionState = "dismissed"
	DecisionRemindLater DecisionState = "remind_later"
)

// Leg is one flight segment. Inside a candidate the Status field is
// empty; the materializer assigns active/standby on approval.
type Leg struct {
	ID           string    `json:"id"`
	FlightNumber string    `json:"flight_number"`
	Departure    string    `json:"departure"`
	Arrival      string    `json:"arrival"`
	ScheduledOut time.Time `json:"scheduled_out"`
	ScheduledIn  time.Time `json:"scheduled_in"`
	Deadhead     bool      `json:"deadhead"`
	Status       string    `json:"status,omitempty"`
}

// BlockMinutes is the scheduled block time of the leg.
func (l Leg) BlockMinutes() int {
	if l.ScheduledIn.Before(l.ScheduledOut) {
		return 0
	}
	return int(l.ScheduledIn.Sub(l.ScheduledOut) / time.Minute)
}

// PendingTripCandidate is a provisional trip grouping awaiting a user
// decision. Legs are ordered by scheduled departure ascending.
type PendingTripCandidate struct {
	ID             string        `json:"id"`
	DetectedAt     time.Time     `json:"detected_at"`
	TripDate       time.Time     `json:"trip_date"`
	DisplayID      string        `json:"display_id"`
	Legs           []Leg         `json:"legs"`
	BlockMinutes   int           `json:"block_minutes"`
	ShowTime       time.Time     `json:"show_time"`
	SourceEventIDs []string      `json:"source_event_ids"`
	State          DecisionState `json:"state"`
	// Tolerated marks groups that merged a non-connecting leg within the
	// same-duty tolerance window; review surfaces may flag these.
	Tolerated bool `json:"tolerated,omitempty"`
	// ReminderLeadMinutes, when >0, requests a show-time reminder on approval.
	ReminderLeadMinutes int `json:"reminder_lead_minutes,omitempty"`
}

// PrimaryFlightNumber is the first leg's flight number, used for the
// dismissal identifier and dedup matching.
func (c PendingTripCandidate) PrimaryFlightNumber() string {
	if len(c.Legs) == 0 {
		return ""
	}
	return c.Legs[0].FlightNumber
}

// TripStatus values for logbook trips.
const (
	TripStatusActive    = "active"
	TripStatusPlanning  = "planning"
	TripStatusCompleted = "completed"
)

// TripType values for logbook trips.
const (
	TripTypeOperating = "operating"
	TripTypeDeadhead  = "deadhead"
)

// Trip is a durable logbook trip.
type Trip struct {
	ID         string     `json:"id"`
	TripNumber string     `json:"trip_number"`
	Date       time.Time  `json:"date"`
	Status     string     `json:"status"`
	Type       string     `json:"type"`
	Notes      string     `json:"notes,omitempty"`
	ReminderAt *time.Time `json:"reminder_at,omitempty"`
	Legs       []Leg      `json:"legs"`
}

// LastLeg returns the final leg by position, or false when empty.
func (t Trip) LastLeg() (Leg, bool) {
	if len(t.Legs) == 0 {
		return Leg{}, false
	}
	return t.Legs[len(t.Legs)-1], true
}

// CleanFlightNumber reduces a flight identifier to uppercase
// alphanumerics so that "UJ 465" and "uj465" compare equal. This is the
// canonical form used by the dismissal registry and dedup filter.
func CleanFlightNumber(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(s)) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DismissalIdentifier is the stable key for the dismissal registry:
// cleaned flight number plus trip date as flightNumber_YYYYMMDD.
func DismissalIdentifier(flightNumber string, tripDate time.Time) string {
	return CleanFlightNumber(flightNumber) + "_" + tripDate.UTC().Format("20060102")
}

// SameCalendarDay reports whether a and b fall on the same UTC date.
func SameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// InMergeWindow reports whether t falls on the candidate trip date or
// the following calendar day, the window manual merging allows.
func InMergeWindow(tripDate, t time.Time) bool {
	return SameCalendarDay(t, tripDate) || SameCalendarDay(t, tripDate.Add(24*time.Hour))
}
