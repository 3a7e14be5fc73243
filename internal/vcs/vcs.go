// Package vcs resolves commit identifiers and performs clone/pull against
// a working directory. It is the VCS adapter of spec.md §6: a narrow
// capability set so the engine can be tested without invoking git.
package vcs

import "context"

// Interface is the VCS adapter contract.
type Interface interface {
	// GetCommit resolves the current commit identifier of dir. It fails
	// if dir is not a valid repository.
	GetCommit(ctx context.Context, dir string) (string, error)

	// Clone clones url into a fresh dir. It fails if dir already exists.
	Clone(ctx context.Context, url, dir string) error

	// Pull fast-forwards dir and returns the resulting commit identifier.
	Pull(ctx context.Context, dir string) (string, error)
}
