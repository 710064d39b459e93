package detect

import (
	"time"

	"rosterlog/internal/classify"
	"rosterlog/internal/config"
)

// Settings is the plain policy value a detection pass operates on. The
// pipeline is a pure function of (events, profile, existing trips,
// settings); nothing in this package reads ambient state.
type Settings struct {
	// GroupingMode is config.GroupingAutomatic or config.GroupingManual.
	GroupingMode string
	// TimeFilter is one of the config.Filter* values.
	TimeFilter string

	// RestThreshold: a gap of at least this much always splits groups.
	RestThreshold time.Duration
	// SameDutyTolerance: non-connecting legs closer than this merge
	// anyway (possible deadhead misclassification in the feed).
	SameDutyTolerance time.Duration

	// Continuation confidence bands. High additionally requires route
	// connectivity; Medium and Low look at the gap alone.
	ContinuationHigh   time.Duration
	ContinuationMedium time.Duration
	ContinuationLow    time.Duration

	// MaxLegDuration excludes duty-period placeholder entries.
	MaxLegDuration time.Duration

	// AutoMergeContinuations enables the silent high-confidence merge
	// path; off, high-confidence matches surface as questions.
	AutoMergeContinuations bool

	// ReminderLeadMinutes is stamped onto new candidates.
	ReminderLeadMinutes int

	// Now anchors the detection time filter.
	Now time.Time

	Keywords classify.Keywords
}

// SettingsFromConfig builds pass settings from the detection config.
func SettingsFromConfig(d config.DetectionConfig, now time.Time) Settings {
	return Settings{
		GroupingMode:           d.GroupingMode,
		TimeFilter:             d.TimeFilter,
		RestThreshold:          time.Duration(d.RestThresholdHours) * time.Hour,
		SameDutyTolerance:      time.Duration(d.SameDutyToleranceHours) * time.Hour,
		ContinuationHigh:       time.Duration(d.ContinuationHighHours) * time.Hour,
		ContinuationMedium:     time.Duration(d.SameDutyToleranceHours) * time.Hour,
		ContinuationLow:        time.Duration(d.ContinuationLowHours) * time.Hour,
		MaxLegDuration:         time.Duration(d.MaxLegDurationHours) * time.Hour,
		AutoMergeContinuations: d.AutoMergeContinuations,
		ReminderLeadMinutes:    d.ReminderLeadMinutes,
		Now:                    now,
		Keywords:               classify.DefaultKeywords(),
	}
}
