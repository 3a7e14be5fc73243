// Package containerrt is the runtime adapter of spec.md §6: it builds
// images and manages the container lifecycle through a narrow capability
// set so the engine can be tested without a Docker daemon.
package containerrt

import (
	"context"
	"regexp"
)

// Handle is an opaque container identifier returned by Create. A real
// adapter returns exactly 64 hex characters; Valid is the sanity check
// spec.md §6 calls out ("used as a validity check").
type Handle string

var hexHandle = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Valid reports whether h looks like a real container identifier.
func (h Handle) Valid() bool {
	return hexHandle.MatchString(string(h))
}

// BuildOutput is invoked with incremental build log lines.
type BuildOutput func(line string)

// Interface is the runtime adapter contract.
type Interface interface {
	// Build builds and tags an image from recipePath (a Dockerfile path)
	// rooted at contextDir.
	Build(ctx context.Context, tag, recipePath, contextDir string, onOutput BuildOutput) error

	// Create starts a detached container from tag and returns its handle.
	Create(ctx context.Context, tag string) (Handle, error)

	// Exec runs cmd inside a running container and returns its stdout.
	// A non-zero exit is a failure.
	Exec(ctx context.Context, h Handle, cmd []string) (string, error)

	// Run is an ephemeral one-shot invocation; the container is
	// auto-removed regardless of outcome.
	Run(ctx context.Context, tag string, cmd []string) (string, error)

	// Stop terminates and removes a container.
	Stop(ctx context.Context, h Handle) error

	// Stats returns a point-in-time resource sample for a running
	// container, used by the status reporter's metrics extension.
	Stats(ctx context.Context, h Handle) (Stats, error)
}

// Stats is a point-in-time resource sample for one container.
type Stats struct {
	CPUPercent  float64
	MemoryBytes uint64
}
