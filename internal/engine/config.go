package engine

import "time"

// Config holds the engine's operational knobs, sourced from
// config.DaemonConfig at wiring time in cmd/rollerd.
type Config struct {
	GitTimeout   time.Duration
	BuildTimeout time.Duration
	ExecTimeout  time.Duration
	StopTimeout  time.Duration

	// ReadinessRetryBudget is how many failed container starts (failed
	// create or non-zero wait_ready) a rotation or fleet-fill cycle retries
	// in total; the next failure after that aborts the cycle (spec.md §9
	// open question, §8 scenario 6).
	ReadinessRetryBudget int

	// BuildLogTailLines bounds how much of a failed build's output is
	// retained for the failure log line.
	BuildLogTailLines int
}
