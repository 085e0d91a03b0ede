package store

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"blockfile/metrics"
	"blockfile/observer"
)

// Default idle-close schedule: the actor waits InitialWait after open
// before its first idle check, then MonitorCheck between subsequent checks.
const (
	InitialWait  = 60 * time.Second
	MonitorCheck = 10 * time.Second
)

// openConfig collects the open option set from spec section 4.5:
// {create, overwrite, read_only, sys, no_log_if_missing}.
type openConfig struct {
	create         bool
	overwrite      bool
	readOnly       bool
	sys            bool
	noLogIfMissing bool

	logger    *logrus.Logger
	metrics   *metrics.Store
	observers *observer.Tracker
	ownerCtx  context.Context

	initialWait  time.Duration
	monitorCheck time.Duration
}

// OpenOption configures a call to Open.
type OpenOption func(*openConfig)

// Create opens (creating if necessary) the file for read/write. Without
// Overwrite, Open fails with ErrAlreadyExists against a non-empty file.
func Create() OpenOption { return func(c *openConfig) { c.create = true } }

// Overwrite, combined with Create, truncates a pre-existing non-empty file
// to zero length instead of failing.
func Overwrite() OpenOption { return func(c *openConfig) { c.overwrite = true } }

// ReadOnly opens an existing file without write access. Has no effect
// combined with Create.
func ReadOnly() OpenOption { return func(c *openConfig) { c.readOnly = true } }

// Sys marks the file as a system file, excluded from user-facing open-file
// tracking. Idle accounting does not distinguish system files: as for user
// files, a statistics-tracker registration alone does not keep one open.
func Sys() OpenOption { return func(c *openConfig) { c.sys = true } }

// NoLogIfMissing suppresses the NotFound log line when the file does not
// exist and Create was not requested.
func NoLogIfMissing() OpenOption { return func(c *openConfig) { c.noLogIfMissing = true } }

// WithLogger attaches a logger; the default is logrus.StandardLogger().
func WithLogger(l *logrus.Logger) OpenOption { return func(c *openConfig) { c.logger = l } }

// WithMetrics attaches a metrics.Store; metrics are skipped when nil.
func WithMetrics(m *metrics.Store) OpenOption { return func(c *openConfig) { c.metrics = m } }

// WithObservers attaches an observer.Tracker driving idle-close decisions.
// A fresh tracker is created when omitted.
func WithObservers(t *observer.Tracker) OpenOption { return func(c *openConfig) { c.observers = t } }

// WithOwner ties the file actor's idle-close lifecycle to ownerCtx: its
// cancellation triggers an immediate idle check, the same way the spec's
// owner-death signal does.
func WithOwner(ownerCtx context.Context) OpenOption {
	return func(c *openConfig) { c.ownerCtx = ownerCtx }
}

// WithIdleSchedule overrides the default InitialWait/MonitorCheck timings,
// primarily so tests can exercise idle-close without waiting 60 seconds.
func WithIdleSchedule(initialWait, monitorCheck time.Duration) OpenOption {
	return func(c *openConfig) {
		c.initialWait = initialWait
		c.monitorCheck = monitorCheck
	}
}
