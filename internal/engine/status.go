package engine

import (
	"context"
	"sort"
)

// RepoSnapshot is a read-only view of one Repo for the status reporter
// (spec.md §2 component 7).
type RepoSnapshot struct {
	CloneURL      string `json:"clone_url"`
	Commit        string `json:"commit"`
	State         string `json:"state"`
	UpdatePending bool   `json:"update_pending"`
	LockCount     int    `json:"lock_count"`
}

// ProjectSnapshot is a read-only view of one Project.
type ProjectSnapshot struct {
	Index         int      `json:"index"`
	State         string   `json:"state"`
	UpdatePending bool     `json:"update_pending"`
	Active        int      `json:"active"`
	Starting      int      `json:"starting"`
	Ending        int      `json:"ending"`
	Image         string   `json:"image"`
	Hooks         []string `json:"hooks"`
}

// Snapshot is the full status payload served at GET /status.
type Snapshot struct {
	Repos    []RepoSnapshot    `json:"repos"`
	Projects []ProjectSnapshot `json:"projects"`
}

// Status builds a Snapshot by posting a statusRequestEvent onto the
// intake queue and waiting for the engine loop to answer it. This keeps
// every read of Repo/Project state on the same goroutine that mutates
// it, so internal/httpapi never races the engine.
func (e *Engine) Status(ctx context.Context) (Snapshot, error) {
	resp := make(chan Snapshot, 1)
	e.queue.push(statusRequestEvent{resp: resp})
	select {
	case snap := <-resp:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (e *Engine) buildSnapshot() Snapshot {
	snap := Snapshot{}
	for _, r := range e.repos.All() {
		snap.Repos = append(snap.Repos, RepoSnapshot{
			CloneURL:      r.CloneURL,
			Commit:        r.Commit,
			State:         r.State.String(),
			UpdatePending: r.UpdatePending,
			LockCount:     r.LockCount,
		})
	}
	for _, p := range e.projects.All() {
		snap.Projects = append(snap.Projects, ProjectSnapshot{
			Index:         p.Index,
			State:         p.State.String(),
			UpdatePending: p.UpdatePending,
			Active:        len(p.Active),
			Starting:      len(p.Starting),
			Ending:        len(p.Ending),
			Image:         p.Image,
			Hooks:         sortedHooks(p.Hooks),
		})
	}
	return snap
}

func sortedHooks(hooks map[string]struct{}) []string {
	out := make([]string, 0, len(hooks))
	for name := range hooks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
