// Package applog sets up the process-wide logrus logger used across the
// groovedeck daemon. It is grounded on the teacher's logger.GetProjectLogger
// pattern (referenced throughout robmorgan/halo's cuelist and legacy
// packages), generalized here into an explicit constructor that returns
// per-component *logrus.Entry values instead of a package-level singleton,
// so each collaborator (Clock, Store, Engine, Coordinator) gets its own
// "component" field for free.
package applog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Options configures the root logger.
type Options struct {
	// Level is a logrus level name: "debug", "info", "warn", "error". Empty
	// defaults to "info".
	Level string
	// JSON selects JSON-formatted output instead of logrus's default text
	// formatter. Useful when the daemon runs under a log collector.
	JSON bool
	// Output defaults to os.Stderr when nil.
	Output io.Writer
}

// New builds the root *logrus.Logger for the process.
func New(opts Options) *logrus.Logger {
	log := logrus.New()

	if opts.Output != nil {
		log.SetOutput(opts.Output)
	} else {
		log.SetOutput(os.Stderr)
	}

	if opts.JSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	return log
}

// Component returns a *logrus.Entry tagged with a "component" field, the
// shape every package in this module expects its injected logger to have.
func Component(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}
