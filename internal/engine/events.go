package engine

import "errors"
import "rollerd/internal/registry"
import "rollerd/internal/containerrt"

// webhookEvent is spec.md §4.7's webhook(clone_url).
type webhookEvent struct{ cloneURL string }

func (ev webhookEvent) handle(e *Engine) { e.handleWebhook(ev.cloneURL) }

// adminRefreshEvent is spec.md §4.7's admin_refresh(project_index).
type adminRefreshEvent struct{ projectIndex int }

func (ev adminRefreshEvent) handle(e *Engine) { e.handleAdminRefresh(ev.projectIndex) }

// lockReleasedEvent is spec.md §4.7's lock_released(repo): the build
// pipeline's release call is posted through the queue rather than run
// inline, so the dec_lock protocol is a standalone, directly dispatched
// handler.
type lockReleasedEvent struct{ repo *registry.Repo }

func (ev lockReleasedEvent) handle(e *Engine) { e.releaseLock(ev.repo) }

// pullCompletedEvent reports the outcome of a background vcs.Pull/Clone.
type pullCompletedEvent struct {
	repo   *registry.Repo
	commit string
	err    error
}

func (ev pullCompletedEvent) handle(e *Engine) { e.onPullCompleted(ev) }

// buildCompletedEvent reports the outcome of a background image build,
// including hook discovery.
type buildCompletedEvent struct {
	project *registry.Project
	tag     string
	hooks   []string
	logTail []string
	err     error
}

func (ev buildCompletedEvent) handle(e *Engine) { e.onBuildCompleted(ev) }

// containerCreatedEvent reports that Create succeeded; the container is
// now live but not yet known to be ready.
type containerCreatedEvent struct {
	project *registry.Project
	h       containerrt.Handle
}

func (ev containerCreatedEvent) handle(e *Engine) {
	ev.project.AddStarting(ev.h)
	e.observeFleet(ev.project)
}

// containerCreateFailedEvent reports that Create itself failed; no
// container exists to clean up.
type containerCreateFailedEvent struct {
	project *registry.Project
	err     error
}

func (ev containerCreateFailedEvent) handle(e *Engine) {
	if errors.Is(ev.err, containerrt.ErrMalformedHandle) {
		e.invariant("project %d: %v", ev.project.Index, ev.err)
		return
	}
	e.logger.Warn("container create failed", "project", ev.project.Index, "error", ev.err)
	e.onContainerStartFailed(ev.project)
}

// containerReadyEvent reports that a starting container passed its
// readiness check (or had none to run).
type containerReadyEvent struct {
	project *registry.Project
	h       containerrt.Handle
}

func (ev containerReadyEvent) handle(e *Engine) { e.onContainerReady(ev.project, ev.h) }

// containerReadyFailedEvent reports that a starting container's
// wait_ready hook exited non-zero; the container has already been
// terminated by the background task.
type containerReadyFailedEvent struct {
	project *registry.Project
	h       containerrt.Handle
	err     error
}

func (ev containerReadyFailedEvent) handle(e *Engine) {
	e.logger.Warn("container readiness check failed", "project", ev.project.Index, "handle", ev.h, "error", ev.err)
	ev.project.RemoveStarting(ev.h)
	e.onContainerStartFailed(ev.project)
}

// containerStoppedEvent reports the outcome of a background Stop,
// issued by rotation against a retired container.
type containerStoppedEvent struct {
	project *registry.Project
	h       containerrt.Handle
	err     error
}

func (ev containerStoppedEvent) handle(e *Engine) { e.onContainerStopped(ev) }

// statusRequestEvent carries back a Snapshot to a caller blocked on
// resp, keeping every read of engine state on the engine's own goroutine.
type statusRequestEvent struct{ resp chan Snapshot }

func (ev statusRequestEvent) handle(e *Engine) { ev.resp <- e.buildSnapshot() }

// activeHandlesRequestEvent carries back the set of currently active
// containers, one list entry per project, so the periodic metrics sampler
// never reads Project.Active off its own goroutine.
type activeHandlesRequestEvent struct{ resp chan []activeHandleTarget }

func (ev activeHandlesRequestEvent) handle(e *Engine) {
	var out []activeHandleTarget
	for _, p := range e.projects.All() {
		for _, h := range p.SnapshotActive() {
			out = append(out, activeHandleTarget{projectIndex: p.Index, handle: h})
		}
	}
	ev.resp <- out
}
