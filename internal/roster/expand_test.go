package roster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rosterlog/internal/model"
)

func TestExpand_NonRecurringPassthrough(t *testing.T) {
	start := time.Date(2025, 3, 1, 22, 30, 0, 0, time.UTC)
	events := []ParsedEvent{
		{
			Event: model.RawCalendarEvent{
				UID:   "evt-1",
				Start: start,
				End:   start.Add(90 * time.Minute),
			},
		},
		{
			// Outside the detection window, dropped.
			Event: model.RawCalendarEvent{
				UID:   "evt-old",
				Start: start.AddDate(0, -3, 0),
				End:   start.AddDate(0, -3, 0).Add(time.Hour),
			},
		},
	}

	out, err := Expand(events, ExpandConfig{
		RangeStart: start.AddDate(0, 0, -7),
		RangeEnd:   start.AddDate(0, 0, 30),
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "evt-1", out[0].UID)
}

func TestExpand_RecurringStandbyBlock(t *testing.T) {
	start := time.Date(2025, 3, 3, 6, 0, 0, 0, time.UTC) // Monday
	events := []ParsedEvent{
		{
			Event: model.RawCalendarEvent{
				UID:     "sby-1",
				Summary: "Reserve standby",
				Start:   start,
				End:     start.Add(10 * time.Hour),
			},
			RawRRule: "FREQ=WEEKLY;COUNT=4",
			ExDates:  []time.Time{start.AddDate(0, 0, 7)},
		},
	}

	out, err := Expand(events, ExpandConfig{
		RangeStart: start.AddDate(0, 0, -1),
		RangeEnd:   start.AddDate(0, 0, 60),
	})
	require.NoError(t, err)

	// Four weekly occurrences minus one EXDATE.
	require.Len(t, out, 3)
	for i, occ := range out {
		assert.Equal(t, 10*time.Hour, occ.End.Sub(occ.Start), "occurrence %d", i)
		assert.Equal(t, "Reserve standby", occ.Summary)
		assert.Contains(t, occ.UID, "sby-1#")
	}
	assert.Equal(t, start, out[0].Start)
	assert.Equal(t, start.AddDate(0, 0, 14), out[1].Start)
}

func TestExpand_BadRRuleDropsOnlyThatEvent(t *testing.T) {
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	events := []ParsedEvent{
		{
			Event:    model.RawCalendarEvent{UID: "bad", Start: start, End: start.Add(time.Hour)},
			RawRRule: "FREQ=NONSENSE",
		},
		{
			Event: model.RawCalendarEvent{UID: "good", Start: start, End: start.Add(time.Hour)},
		},
	}

	out, err := Expand(events, ExpandConfig{
		RangeStart: start.AddDate(0, 0, -1),
		RangeEnd:   start.AddDate(0, 0, 1),
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "good", out[0].UID)
}

func TestExpand_InvalidRange(t *testing.T) {
	_, err := Expand(nil, ExpandConfig{
		RangeStart: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.Error(t, err)
}
