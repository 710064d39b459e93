package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SourceConfig describes a single roster calendar source. URL may be an
// http(s) endpoint or a local file path.
type SourceConfig struct {
	URL  string `yaml:"url" json:"url"`
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the review API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Grouping modes.
const (
	GroupingAutomatic = "automatic"
	GroupingManual    = "manual"
)

// Detection time filters.
const (
	FilterFutureOnly     = "future_only"
	FilterTodayAndFuture = "today_and_future"
	FilterAllDetected    = "all_detected"
)

// Leg advancement modes.
const (
	LegAdvanceAutomatic = "automatic"
	LegAdvanceManual    = "manual"
)

// DetectionConfig carries the tunable policy of the detection pipeline.
// The duty-gap thresholds are empirical, not regulatory; they are
// configuration rather than constants so operators can adjust them.
type DetectionConfig struct {
	// GroupingMode is "automatic" (duty-gap grouping) or "manual"
	// (singleton candidates, user merges legs explicitly).
	GroupingMode string `yaml:"grouping_mode" json:"grouping_mode"`

	// TimeFilter is one of future_only, today_and_future, all_detected.
	TimeFilter string `yaml:"time_filter" json:"time_filter"`

	// LegAdvancement is "automatic" (the materializer marks the first
	// leg active) or "manual" (every leg starts standby and the user
	// advances them).
	LegAdvancement string `yaml:"leg_advancement" json:"leg_advancement"`

	// RestThresholdHours is the duty-rest boundary: a gap of at least
	// this many hours between legs always starts a new group.
	RestThresholdHours int `yaml:"rest_threshold_hours" json:"rest_threshold_hours"`

	// SameDutyToleranceHours merges non-connecting legs whose gap is
	// below this bound into the same group (possible deadhead
	// misclassification in the feed).
	SameDutyToleranceHours int `yaml:"same_duty_tolerance_hours" json:"same_duty_tolerance_hours"`

	// ContinuationHighHours / ContinuationLowHours bound the confidence
	// bands when matching a candidate against an existing trip.
	ContinuationHighHours int `yaml:"continuation_high_hours" json:"continuation_high_hours"`
	ContinuationLowHours  int `yaml:"continuation_low_hours" json:"continuation_low_hours"`

	// MaxLegDurationHours excludes duty-period placeholder entries that
	// span longer than a plausible single flight.
	MaxLegDurationHours int `yaml:"max_leg_duration_hours" json:"max_leg_duration_hours"`

	// AutoMergeContinuations enables the silent high-confidence merge
	// path. Off by default; high-confidence matches then surface as
	// questions instead.
	AutoMergeContinuations bool `yaml:"auto_merge_continuations" json:"auto_merge_continuations"`

	// DismissalDays is how long a dismissed candidate identifier stays
	// suppressed. StaleTripDays bounds how old a pending candidate's
	// trip date may be before GC removes it on load.
	DismissalDays int `yaml:"dismissal_days" json:"dismissal_days"`
	StaleTripDays int `yaml:"stale_trip_days" json:"stale_trip_days"`

	// ReminderLeadMinutes is the default show-time reminder lead.
	ReminderLeadMinutes int `yaml:"reminder_lead_minutes" json:"reminder_lead_minutes"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the review API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used when roster events carry no
	// explicit zone information in display contexts.
	Timezone string `yaml:"timezone" json:"timezone"`

	// DBPath is the SQLite database holding the logbook and the
	// pending-candidate store.
	DBPath string `yaml:"db_path" json:"db_path"`

	// CacheDir is where the roster fetcher keeps ETag metadata and bodies.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// DetectCron is a cron-style schedule for periodic detection passes
	// in daemon mode (e.g. "*/30 * * * *").
	DetectCron string `yaml:"detect_cron" json:"detect_cron"`

	// Profile is the import profile name applied to roster events.
	Profile string `yaml:"profile" json:"profile"`

	// ProfileDir holds user-customized import profiles as YAML files.
	ProfileDir string `yaml:"profile_dir" json:"profile_dir"`

	// Sources is the list of roster calendar sources.
	Sources []SourceConfig `yaml:"sources" json:"sources"`

	Detection DetectionConfig `yaml:"detection" json:"detection"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// review API endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:     "127.0.0.1:8080",
		Timezone:   "UTC",
		DBPath:     "rosterlog.sqlite",
		CacheDir:   "cache/roster",
		DetectCron: "*/30 * * * *",
		Profile:    "generic",
		ProfileDir: "profiles",
		Sources:    []SourceConfig{},
		Detection: DetectionConfig{
			GroupingMode:           GroupingAutomatic,
			TimeFilter:             FilterTodayAndFuture,
			LegAdvancement:         LegAdvanceAutomatic,
			RestThresholdHours:     12,
			SameDutyToleranceHours: 4,
			ContinuationHighHours:  12,
			ContinuationLowHours:   8,
			MaxLegDurationHours:    20,
			DismissalDays:          30,
			StaleTripDays:          7,
			ReminderLeadMinutes:    90,
		},
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.DBPath == "" {
		c.DBPath = def.DBPath
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.DetectCron == "" {
		c.DetectCron = def.DetectCron
	}
	if c.Profile == "" {
		c.Profile = def.Profile
	}
	if c.ProfileDir == "" {
		c.ProfileDir = def.ProfileDir
	}
	if c.Sources == nil {
		c.Sources = []SourceConfig{}
	}

	d := &c.Detection
	switch d.GroupingMode {
	case GroupingAutomatic, GroupingManual:
	default:
		d.GroupingMode = GroupingAutomatic
	}
	switch d.TimeFilter {
	case FilterFutureOnly, FilterTodayAndFuture, FilterAllDetected:
	default:
		d.TimeFilter = FilterTodayAndFuture
	}
	switch d.LegAdvancement {
	case LegAdvanceAutomatic, LegAdvanceManual:
	default:
		d.LegAdvancement = LegAdvanceAutomatic
	}
	if d.RestThresholdHours <= 0 {
		d.RestThresholdHours = def.Detection.RestThresholdHours
	}
	if d.SameDutyToleranceHours <= 0 {
		d.SameDutyToleranceHours = def.Detection.SameDutyToleranceHours
	}
	if d.ContinuationHighHours <= 0 {
		d.ContinuationHighHours = def.Detection.ContinuationHighHours
	}
	if d.ContinuationLowHours <= 0 {
		d.ContinuationLowHours = def.Detection.ContinuationLowHours
	}
	if d.MaxLegDurationHours <= 0 {
		d.MaxLegDurationHours = def.Detection.MaxLegDurationHours
	}
	if d.DismissalDays <= 0 {
		d.DismissalDays = def.Detection.DismissalDays
	}
	if d.StaleTripDays <= 0 {
		d.StaleTripDays = def.Detection.StaleTripDays
	}
	if d.ReminderLeadMinutes <= 0 {
		d.ReminderLeadMinutes = def.Detection.ReminderLeadMinutes
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist: create parent directory, write a
//     default config with 0600 perms, and return the defaults.
//   - If the file exists: read YAML, unmarshal, normalize defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the configuration atomically (temp file + rename) with
// 0600 permissions, creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".rosterlog-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method delegating to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
