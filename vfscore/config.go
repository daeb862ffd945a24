// Package vfscore wires the wait table, node tree, open-file table,
// channel bus, devices, and signal table from the sibling packages into
// one subsystem value and exposes the syscall-shaped API spec.md §6
// lists, grounded on the way fuse.MountedFileSystem and Connection tie
// their own lower-level pieces (Connection, fuseops, buffer) together
// behind one entry point.
package vfscore

import (
	"github.com/jacobsa/timeutil"
	"github.com/sirupsen/logrus"
)

// Config bounds the fixed-size pools spec.md's data model calls for
// (the wait table's entry pool, the node tree's negative-lookup cache)
// and the ambient dependencies (clock, logger) every component threads
// through rather than reaching for globally.
type Config struct {
	// WaitCapacity bounds the wait table's pre-allocated entry pool
	// (spec.md §4.1: "fails with no-resource if the shared pool is
	// exhausted").
	WaitCapacity int

	// NegativeCacheSize bounds vfsnode.Tree's negative-lookup cache.
	NegativeCacheSize int

	// PipeCapacity is the ring-buffer size newly created pipes get.
	PipeCapacity int

	// Clock overrides the default real clock, primarily for tests.
	Clock timeutil.Clock

	// Scheduler overrides the default goroutine-based Scheduler.
	Scheduler Scheduler

	// Log receives the subsystem's structured log events (device
	// registration, failed device closes). A nil value gets logrus's
	// default logger.
	Log *logrus.Logger
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.WaitCapacity <= 0 {
		out.WaitCapacity = 4096
	}
	if out.NegativeCacheSize <= 0 {
		out.NegativeCacheSize = 1024
	}
	if out.PipeCapacity <= 0 {
		out.PipeCapacity = 8192
	}
	if out.Log == nil {
		out.Log = logrus.StandardLogger()
	}
	return out
}
