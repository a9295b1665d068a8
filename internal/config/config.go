// Package config holds groovedeck's compiled-in defaults, grounded on the
// teacher's HaloConfig / config.NewConfig shape (robmorgan/halo's
// config.go and config/config.go): a plain struct built by a constructor
// that currently just returns sane defaults, with a TODO-shaped seam for a
// future config file.
package config

import "time"

// Config is groovedeck's daemon-wide configuration (§1 "ambient stack").
type Config struct {
	// LogLevel is a logrus level name, per applog.Options.
	LogLevel string
	// LogJSON selects JSON log output.
	LogJSON bool

	// InitialBPM seeds the Clock before any tempo CC arrives (§4.1).
	InitialBPM float64
	// InitialBeatsPerBar seeds the Clock's bar length.
	InitialBeatsPerBar int

	// SnapshotExportPath is where a persistence collaborator would read/write
	// the Store's JSON export (§1 explicitly scopes persistence itself out,
	// but the daemon still needs a place to point one at).
	SnapshotExportPath string

	// InterpolationFrameInterval paces Jump transitions (§4.3). Exposed here
	// so a deployment can trade CPU for smoothness without a code change.
	InterpolationFrameInterval time.Duration
}

// New returns Config with reasonable defaults for real usage.
func New() (Config, error) {
	// TODO - support loading overrides from a file one day.
	return Config{
		LogLevel:                   "info",
		LogJSON:                    false,
		InitialBPM:                 120,
		InitialBeatsPerBar:         4,
		SnapshotExportPath:         "groovedeck-snapshots.json",
		InterpolationFrameInterval: 16 * time.Millisecond,
	}, nil
}
