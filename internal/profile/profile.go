// Package profile applies per-airline import profiles to roster events.
// A profile maps semantic target fields (flight number, departure, ...)
// to extraction rules over an event's raw text fields. Extraction never
// fails: bad patterns and missing sources degrade to the rule's
// fallback or to an empty value, and partially-populated records are
// valid output.
package profile

import (
	"regexp"
	"strings"
	"time"

	"rosterlog/internal/model"
)

// Method is an extraction method applied to a source field's value.
type Method string

const (
	// MethodDirect returns the trimmed verbatim source value.
	MethodDirect Method = "direct"
	// MethodRegex applies Param as a regular expression and returns the
	// first capture group.
	MethodRegex Method = "regex"
	// MethodSplit splits on the Param delimiter and returns the trimmed
	// first segment; if the delimiter does not occur the fallback wins,
	// so a mis-configured delimiter is visible instead of silently
	// passing the whole value through.
	MethodSplit Method = "split"
	// MethodMultiline selects one zero-based line of the source field;
	// Param is the line index.
	MethodMultiline Method = "multiline"
)

// Source fields a rule may read from.
const (
	SourceSummary     = "summary"
	SourceDescription = "description"
	SourceLocation    = "location"
	SourceUID         = "uid"
)

// Target fields a profile may populate.
const (
	FieldFlightNumber = "flight_number"
	FieldDeparture    = "departure"
	FieldArrival      = "arrival"
	FieldScheduledOut = "scheduled_out"
	FieldScheduledIn  = "scheduled_in"
	FieldAircraft     = "aircraft"
	FieldRole         = "role"
	FieldCheckIn      = "check_in"
	FieldCheckOut     = "check_out"
	FieldTripNumber   = "trip_number"
)

// ParsingRule describes how one target field is pulled out of an event.
type ParsingRule struct {
	Source   string `yaml:"source" json:"source"`
	Method   Method `yaml:"method" json:"method"`
	Param    string `yaml:"param,omitempty" json:"param,omitempty"`
	Fallback string `yaml:"fallback,omitempty" json:"fallback,omitempty"`
}

// ImportProfile is a named set of field-to-rule mappings tailored to
// one airline's roster export format.
type ImportProfile struct {
	Name  string                 `yaml:"name" json:"name"`
	Rules map[string]ParsingRule `yaml:"rules" json:"rules"`
}

// Apply runs the profile against one event and returns the extracted
// record. Each field is extracted independently; a failing rule leaves
// its field at the fallback (or empty) without affecting the others.
func (p ImportProfile) Apply(ev model.RawCalendarEvent) model.ExtractedFlightRecord {
	rec := model.ExtractedFlightRecord{Event: ev}

	get := func(field string) string {
		rule, ok := p.Rules[field]
		if !ok {
			return ""
		}
		return applyRule(rule, ev)
	}

	rec.FlightNumber = get(FieldFlightNumber)
	rec.Departure = strings.ToUpper(get(FieldDeparture))
	rec.Arrival = strings.ToUpper(get(FieldArrival))
	rec.Aircraft = get(FieldAircraft)
	rec.Role = get(FieldRole)
	rec.CheckIn = get(FieldCheckIn)
	rec.CheckOut = get(FieldCheckOut)
	rec.TripNumber = get(FieldTripNumber)

	// Scheduled times default to the event's own span; an extracted
	// value overrides only when it parses.
	rec.ScheduledOut = ev.Start
	rec.ScheduledIn = ev.End
	if v := get(FieldScheduledOut); v != "" {
		if t, ok := parseScheduleTime(v, ev.Start); ok {
			rec.ScheduledOut = t
		}
	}
	if v := get(FieldScheduledIn); v != "" {
		if t, ok := parseScheduleTime(v, ev.Start); ok {
			rec.ScheduledIn = t
		}
	}

	return rec
}

func applyRule(rule ParsingRule, ev model.RawCalendarEvent) string {
	raw := sourceValue(rule.Source, ev)
	if raw == "" {
		return rule.Fallback
	}

	switch rule.Method {
	case MethodDirect, "":
		return strings.TrimSpace(raw)

	case MethodRegex:
		re, err := regexp.Compile(rule.Param)
		if err != nil {
			return rule.Fallback
		}
		m := re.FindStringSubmatch(raw)
		if len(m) < 2 || m[1] == "" {
			return rule.Fallback
		}
		return strings.TrimSpace(m[1])

	case MethodSplit:
		if rule.Param == "" || !strings.Contains(raw, rule.Param) {
			return rule.Fallback
		}
		return strings.TrimSpace(strings.SplitN(raw, rule.Param, 2)[0])

	case MethodMultiline:
		idx, ok := parseLineIndex(rule.Param)
		if !ok {
			return rule.Fallback
		}
		lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
		if idx < 0 || idx >= len(lines) {
			return rule.Fallback
		}
		return strings.TrimSpace(lines[idx])

	default:
		return rule.Fallback
	}
}

func sourceValue(source string, ev model.RawCalendarEvent) string {
	switch source {
	case SourceSummary:
		return ev.Summary
	case SourceDescription:
		return ev.Description
	case SourceLocation:
		return ev.Location
	case SourceUID:
		return ev.UID
	default:
		return ""
	}
}

func parseLineIndex(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// parseScheduleTime interprets an extracted scheduled-time string.
// Accepted forms: "1504" / "15:04" (clock on the event's start date, in
// the event's zone), "20060102T150405Z", and RFC 3339.
func parseScheduleTime(v string, eventStart time.Time) (time.Time, bool) {
	v = strings.TrimSpace(v)

	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, true
	}
	if t, err := time.Parse("20060102T150405Z", v); err == nil {
		return t, true
	}

	for _, layout := range []string{"1504", "15:04"} {
		clock, err := time.Parse(layout, v)
		if err != nil {
			continue
		}
		y, m, d := eventStart.Date()
		return time.Date(y, m, d, clock.Hour(), clock.Minute(), 0, 0, eventStart.Location()), true
	}

	return time.Time{}, false
}
