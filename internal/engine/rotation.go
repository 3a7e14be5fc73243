package engine

import (
	"context"

	"rollerd/internal/containerrt"
	"rollerd/internal/registry"
)

// stepCycle drives the in-flight fleet-fill or rotation cycle for p one
// step forward (spec.md §4.4). It is re-entered from every completion
// event that can unblock progress: a container becoming ready, a
// retired container finishing its stop, or the cycle just having been
// created. Only one container is ever starting at a time.
func (e *Engine) stepCycle(p *registry.Project) {
	c := e.cycles[p.Index]
	if c == nil {
		return
	}
	if len(p.Starting) > 0 {
		return
	}
	if c.old == nil {
		if c.remaining <= 0 {
			e.finishCycle(p)
			return
		}
	} else if len(c.old) == 0 {
		e.finishCycle(p)
		return
	}
	e.launchContainerStart(p)
}

// finishCycle completes spec.md §4.2's updating→normal transition,
// consuming a pending notification if one arrived meanwhile.
func (e *Engine) finishCycle(p *registry.Project) {
	delete(e.cycles, p.Index)
	if e.metrics != nil {
		e.metrics.ObserveRotation(p.Index, "success")
	}
	if p.UpdatePending {
		p.UpdatePending = false
		p.State = registry.ProjectUpdating
		e.startBuildTask(p)
		return
	}
	p.State = registry.ProjectNormal
	e.inFlight[p.Index] = false
	e.logger.Info("project settled", "project", p.Index, "state", p.State.String(), "active", len(p.Active))
}

// abortCycle is spec.md §8 scenario 6's "retry once, then abort": the
// fleet keeps whatever has already rotated in and gives up on the rest.
// During a rotation an old container is only retired after its
// replacement became active, so the active count is unchanged; an aborted
// initial fleet fill leaves the project with fewer than Min active
// containers (possibly none).
func (e *Engine) abortCycle(p *registry.Project) {
	delete(e.cycles, p.Index)
	e.logger.Error("rotation cycle aborted after exhausting retry budget", "project", p.Index)
	if e.metrics != nil {
		e.metrics.ObserveRotation(p.Index, "aborted")
	}
	if p.UpdatePending {
		p.UpdatePending = false
		p.State = registry.ProjectUpdating
		e.startBuildTask(p)
		return
	}
	p.State = registry.ProjectNormal
	e.inFlight[p.Index] = false
}

// launchContainerStart is spec.md §4.5 steps 1-2, split across two
// completion events (containerCreated, then containerReady/Failed) so
// the Starting set is observable by the status reporter for the whole
// lifetime of the attempt, not just the atomic result.
func (e *Engine) launchContainerStart(p *registry.Project) {
	tag := p.Image
	wantReady := p.HasHook("wait_ready")
	go e.runContainerStartTask(p, tag, wantReady)
}

func (e *Engine) runContainerStartTask(p *registry.Project, tag string, wantReady bool) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ExecTimeout)
	defer cancel()

	handle, err := e.rt.Create(ctx, tag)
	if err != nil {
		e.queue.push(containerCreateFailedEvent{project: p, err: err})
		return
	}
	e.queue.push(containerCreatedEvent{project: p, h: handle})

	if !wantReady {
		e.queue.push(containerReadyEvent{project: p, h: handle})
		return
	}
	if _, err := e.rt.Exec(ctx, handle, []string{"wait_ready"}); err != nil {
		_ = e.rt.Stop(context.Background(), handle)
		e.queue.push(containerReadyFailedEvent{project: p, h: handle, err: err})
		return
	}
	e.queue.push(containerReadyEvent{project: p, h: handle})
}

// onContainerReady handles spec.md §4.5 step 2's success path: the
// container moves from starting to active, and, during a rotation, one
// retired container is selected and stopped before the cycle continues.
func (e *Engine) onContainerReady(p *registry.Project, handle containerrt.Handle) {
	p.RemoveStarting(handle)
	p.AddActive(handle)
	e.observeFleet(p)

	c := e.cycles[p.Index]
	if c == nil {
		return
	}
	if c.old != nil {
		if len(c.old) > 0 {
			retiring := c.old[0]
			c.old = c.old[1:]
			p.MoveActiveToEnding(retiring)
			e.observeFleet(p)
			go e.runContainerStopTask(p, retiring)
			return
		}
		e.stepCycle(p)
		return
	}
	c.remaining--
	e.stepCycle(p)
}

// onContainerStartFailed handles both containerCreateFailedEvent and
// containerReadyFailedEvent: the retry budget decides whether the same
// slot is attempted again or the whole cycle aborts.
func (e *Engine) onContainerStartFailed(p *registry.Project) {
	c := e.cycles[p.Index]
	if c == nil {
		return
	}
	c.retriesLeft--
	if c.retriesLeft < 0 {
		e.abortCycle(p)
		return
	}
	e.stepCycle(p)
}

func (e *Engine) runContainerStopTask(p *registry.Project, handle containerrt.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.StopTimeout)
	defer cancel()
	err := e.rt.Stop(ctx, handle)
	e.queue.push(containerStoppedEvent{project: p, h: handle, err: err})
}

// onContainerStopped handles spec.md §4.6's completion: the container
// leaves Ending regardless of outcome (a failed Stop is logged and
// treated as best-effort, matching spec.md's "no retry budget defined
// for shutdown" silence — see DESIGN.md), and the cycle continues.
func (e *Engine) onContainerStopped(ev containerStoppedEvent) {
	if ev.err != nil {
		e.logger.Warn("container stop failed", "project", ev.project.Index, "handle", ev.h, "error", ev.err)
	}
	ev.project.RemoveEnding(ev.h)
	e.observeFleet(ev.project)
	if e.metrics != nil {
		e.metrics.ForgetContainer(ev.project.Index, string(ev.h))
	}
	e.stepCycle(ev.project)
}
