package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"rollerd/internal/containerrt/containerrttest"
	"rollerd/internal/registry"
	"rollerd/internal/vcs/vcstest"
)

// testHarness wires a real Engine against the in-memory vcs and runtime
// fakes and drives its loop on a background goroutine, the way cmd/rollerd
// does against the real adapters.
type testHarness struct {
	t        *testing.T
	engine   *Engine
	repos    *registry.RepoRegistry
	projects *registry.ProjectRegistry
	vcs      *vcstest.Fake
	rt       *containerrttest.Fake
	fatalErr chan error
	cancel   context.CancelFunc
	nextID   int
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		t:        t,
		repos:    registry.NewRepoRegistry(),
		projects: registry.NewProjectRegistry(),
		vcs:      vcstest.New(),
		rt:       containerrttest.New(),
		fatalErr: make(chan error, 8),
	}
	cfg := Config{
		GitTimeout:           2 * time.Second,
		BuildTimeout:         2 * time.Second,
		ExecTimeout:          2 * time.Second,
		StopTimeout:          2 * time.Second,
		ReadinessRetryBudget: 1,
		BuildLogTailLines:    10,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	h.engine = New(h.repos, h.projects, h.vcs, h.rt, cfg, logger, nil, func(err error) { h.fatalErr <- err }, h.newID)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.engine.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func (h *testHarness) newID() string {
	h.nextID++
	return fmt.Sprintf("test-cycle-%d", h.nextID)
}

// addProject registers one project against the repo for cloneURL,
// creating and registering that repo on first use. Called once per test it
// gives the common single-project-per-repo setup most scenario tests need.
func (h *testHarness) addProject(cloneURL, dir string, min, max int) (*registry.Repo, *registry.Project) {
	repo := h.repos.Get(cloneURL)
	if repo == nil {
		repo = registry.NewRepo(cloneURL, dir)
		h.repos.Put(repo)
	}
	p := registry.NewProject(len(h.projects.All()), "Dockerfile", min, max, "/hooks", "svc", repo)
	h.projects.Add(p)
	return repo, p
}

// waitUntil polls cond by repeatedly snapshotting status, failing the
// test if it does not become true within a short deadline.
func (h *testHarness) waitUntil(cond func(Snapshot) bool) Snapshot {
	h.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		snap, err := h.engine.Status(ctx)
		cancel()
		if err != nil {
			h.t.Fatalf("status request failed: %v", err)
		}
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("condition not met before deadline, last snapshot: %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func projectByIndex(snap Snapshot, index int) ProjectSnapshot {
	for _, p := range snap.Projects {
		if p.Index == index {
			return p
		}
	}
	return ProjectSnapshot{}
}

func repoByURL(snap Snapshot, cloneURL string) RepoSnapshot {
	for _, r := range snap.Repos {
		if r.CloneURL == cloneURL {
			return r
		}
	}
	return RepoSnapshot{}
}
