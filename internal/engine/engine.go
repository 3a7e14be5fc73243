// Package engine is the orchestration core of rollerd: the Repo and
// Project state machines, the pending-update coalescing rule, the
// lock-count protocol, and rolling container rotation. Everything here
// runs on a single logical goroutine (Run's loop); background tasks only
// ever communicate back by pushing completion events onto the queue.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"rollerd/internal/containerrt"
	"rollerd/internal/registry"
	"rollerd/internal/vcs"
)

// cycle tracks one in-flight fleet-fill or rotation for a Project. A nil
// entry in Engine.cycles means the project is idle.
type cycle struct {
	// old is the snapshot of containers being retired, consumed one at a
	// time as their replacements become active. nil means this cycle is
	// an initial fleet fill rather than a rotation.
	old []containerrt.Handle

	// remaining counts the containers still to start during an initial
	// fleet fill (old == nil). Unused during rotation.
	remaining int

	retriesLeft int
	id          string
}

// Engine owns both registries exclusively; no other package writes to a
// Repo or Project field.
type Engine struct {
	repos    *registry.RepoRegistry
	projects *registry.ProjectRegistry

	vcs vcs.Interface
	rt  containerrt.Interface

	cfg     Config
	logger  *slog.Logger
	queue   *queue
	metrics Metrics

	cycles   map[int]*cycle
	inFlight map[int]bool

	// fatal is called on invariant violations (spec.md §7 kind 4). It is
	// a field, not a direct os.Exit call, so tests can observe it.
	fatal func(error)

	newID func() string
}

// New constructs an Engine. fatalFunc and idFunc are injected so tests can
// assert on invariant violations and correlate rotation cycles
// deterministically; cmd/rollerd wires real implementations.
func New(repos *registry.RepoRegistry, projects *registry.ProjectRegistry, vcsAdapter vcs.Interface, rt containerrt.Interface, cfg Config, logger *slog.Logger, metrics Metrics, fatalFunc func(error), idFunc func() string) *Engine {
	return &Engine{
		repos:    repos,
		projects: projects,
		vcs:      vcsAdapter,
		rt:       rt,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		queue:    newQueue(),
		cycles:   map[int]*cycle{},
		inFlight: map[int]bool{},
		fatal:    fatalFunc,
		newID:    idFunc,
	}
}

// observeFleet reports current container-set sizes for a project.
func (e *Engine) observeFleet(p *registry.Project) {
	if e.metrics != nil {
		e.metrics.SetFleet(p.Index, len(p.Active), len(p.Starting), len(p.Ending))
	}
}

// Start kicks off the initial pull for every registered repo. Call it
// once, before Run, after registries are populated.
func (e *Engine) Start() {
	for _, repo := range e.repos.All() {
		e.startPull(repo)
	}
}

// Webhook enqueues a webhook(clone_url) event (spec.md §4.7). Safe to
// call from any goroutine, including an HTTP handler.
func (e *Engine) Webhook(cloneURL string) {
	e.queue.push(webhookEvent{cloneURL: cloneURL})
}

// AdminRefresh enqueues an admin_refresh(project_index) event.
func (e *Engine) AdminRefresh(projectIndex int) {
	e.queue.push(adminRefreshEvent{projectIndex: projectIndex})
}

// Run drains the intake queue until ctx is cancelled. In-flight
// background tasks are not cancelled; they run to completion and their
// completion events are simply never processed once Run has returned
// (spec.md §5: "cancellation is not supported").
func (e *Engine) Run(ctx context.Context) {
	for {
		for {
			ev, ok := e.queue.pop()
			if !ok {
				break
			}
			ev.handle(e)
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !e.queue.wait(ctx) {
			return
		}
	}
}

// invariant reports a violated invariant (spec.md §7 kind 4): fatal,
// logged, and the loop is expected to be stopped by the caller's fatal
// function.
func (e *Engine) invariant(format string, args ...any) {
	e.fatal(fmt.Errorf("engine invariant violated: "+format, args...))
}
