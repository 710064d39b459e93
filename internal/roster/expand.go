package roster

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	appLog "rosterlog/internal/log"
	"rosterlog/internal/model"
)

const defaultMaxOccurrencesPerEvent = 1000

// ExpandConfig controls recurrence expansion of parsed roster events.
type ExpandConfig struct {
	// RangeStart / RangeEnd define the inclusive detection window.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps expansion of a single recurring entry
	// (a runaway weekly standby rule should not flood a pass). Zero
	// means defaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int
}

// Expand turns parsed roster events into concrete calendar events
// within the detection window. Airlines publish recurring reserve and
// standby blocks as RRULEs; each occurrence becomes its own event with
// a derived UID so downstream grouping and dedup treat it
// independently. Non-recurring events pass through when they intersect
// the window. An unparseable RRULE drops only that rule's event.
func Expand(events []ParsedEvent, cfg ExpandConfig) ([]model.RawCalendarEvent, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	out := make([]model.RawCalendarEvent, 0, len(events))

	for _, ev := range events {
		if ev.RawRRule == "" {
			if overlaps(ev.Event.Start, ev.Event.End, cfg.RangeStart, cfg.RangeEnd) {
				out = append(out, ev.Event)
			}
			continue
		}
		out = append(out, expandRecurring(ev, cfg)...)
	}

	return out, nil
}

func expandRecurring(ev ParsedEvent, cfg ExpandConfig) []model.RawCalendarEvent {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Warn("roster RRULE dropped", "uid", ev.Event.UID, "rrule", ev.RawRRule, "reason", err.Error())
		return nil
	}
	r.DTStart(ev.Event.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Event.Start.Location()))
	}

	rangeStart := cfg.RangeStart.In(ev.Event.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Event.Start.Location())

	occTimes := set.Between(rangeStart, rangeEnd, true)
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		appLog.Warn("roster RRULE expansion truncated", "uid", ev.Event.UID, "cap", cfg.MaxOccurrencesPerEvent)
	}

	dur := ev.Event.End.Sub(ev.Event.Start)
	if ev.AllDay {
		dur = 24 * time.Hour
	}

	out := make([]model.RawCalendarEvent, 0, len(occTimes))
	for _, start := range occTimes {
		if ev.AllDay {
			start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
		}
		occ := ev.Event
		occ.UID = fmt.Sprintf("%s#%s", ev.Event.UID, start.UTC().Format("20060102T150405Z"))
		occ.Start = start
		occ.End = start.Add(dur)
		out = append(out, occ)
	}
	return out
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}
