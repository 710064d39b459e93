package roster

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "rosterlog/internal/log"
	"rosterlog/internal/model"
)

// ParsedEvent is one roster VEVENT plus the recurrence information
// needed by Expand. The embedded Event is the normalized form consumed
// by the rest of the engine.
type ParsedEvent struct {
	Event model.RawCalendarEvent

	AllDay   bool
	RawRRule string
	ExDates  []time.Time
}

// Parse parses a raw roster calendar payload into a list of ParsedEvent.
//
// A structurally invalid payload yields a single top-level error and no
// events; the engine never operates on a silently-partial parse of a
// broken file. Within a valid calendar, a VEVENT that cannot be mapped
// (missing UID, unparseable DTSTART) is dropped with a warning while
// the remaining events are kept, and a malformed optional field is
// dropped without losing its event.
//
// Date-time handling: a trailing "Z" means UTC, a TZID parameter names
// the zone, and a floating value defaults to UTC, which is how airline
// roster exports behave in practice.
func Parse(sourceID string, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty roster body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse roster calendar: %w", err)
	}

	events := make([]ParsedEvent, 0)

	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp)
		if perr != nil {
			appLog.Warn("roster event skipped", "source", sourceID, "reason", perr.Error())
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("roster parse completed", "source", sourceID, "event_count", len(events))
	return events, nil
}

func parseVEvent(ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.Event.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Event.Summary = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Event.Description = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Event.Location = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.Event.Status = strings.ToUpper(strings.TrimSpace(p.Value))
	}

	// CATEGORIES may appear multiple times and each instance may hold a
	// comma-separated list.
	for _, p := range ve.GetProperties(ical.ComponentPropertyCategories) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(unescapeText(part))
			if part != "" {
				out.Event.Categories = append(out.Event.Categories, part)
			}
		}
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}

	start, allDay, err := parseDateTimeProp(dtStart.Value, dtStart.ICalParameters)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.Event.Start = start
	out.AllDay = allDay

	// DTEND is optional and may be malformed; fall back to the start (or
	// a one-day span for all-day entries) rather than dropping the event.
	out.Event.End = start
	if allDay {
		out.Event.End = start.Add(24 * time.Hour)
	}
	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		if end, _, err := parseDateTimeProp(dtEnd.Value, dtEnd.ICalParameters); err == nil {
			out.Event.End = end
		} else {
			appLog.Warn("roster event DTEND dropped", "uid", out.Event.UID, "reason", err.Error())
		}
	}

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = strings.TrimSpace(rruleProp.Value)
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, _, err := parseDateTimeProp(part, p.ICalParameters); err == nil {
				out.ExDates = append(out.ExDates, t)
			} else {
				appLog.Warn("roster event EXDATE entry dropped", "uid", out.Event.UID, "reason", err.Error())
			}
		}
	}

	return out, nil
}

// parseDateTimeProp parses an ICS DATE/DATE-TIME value using its
// property parameters. The second return reports date-only form.
func parseDateTimeProp(value string, params map[string][]string) (time.Time, bool, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	loc := time.UTC
	if tzIDs, ok := params["TZID"]; ok && len(tzIDs) > 0 && strings.TrimSpace(tzIDs[0]) != "" {
		l, err := time.LoadLocation(strings.TrimSpace(tzIDs[0]))
		if err != nil {
			return time.Time{}, false, fmt.Errorf("unknown TZID %q", tzIDs[0])
		}
		loc = l
	}

	dateOnly := !strings.Contains(v, "T")
	if vals, ok := params["VALUE"]; ok && len(vals) > 0 && strings.EqualFold(vals[0], "DATE") {
		dateOnly = true
	}

	if dateOnly {
		t, err := time.ParseInLocation("20060102", v, loc)
		if err != nil {
			return time.Time{}, false, err
		}
		return t, true, nil
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		if err != nil {
			return time.Time{}, false, err
		}
		return t, false, nil
	}

	t, err := time.ParseInLocation("20060102T150405", v, loc)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, false, nil
}

// unescapeText reverses RFC 5545 TEXT escaping: \\ \; \, \n \N.
func unescapeText(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n', 'N':
			b.WriteByte('\n')
		case ';', ',', '\\':
			b.WriteByte(s[i])
		default:
			// Unknown escape; keep both characters verbatim.
			b.WriteByte(c)
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
