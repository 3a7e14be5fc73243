package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"rollerd/internal/registry"
)

// onRepoCommitChanged is spec.md §4.2's project transition table: a
// changed commit starts the pipeline immediately for a normal or idle
// project, and is coalesced into update_pending for one already running.
func (e *Engine) onRepoCommitChanged(p *registry.Project, firstPull bool) {
	switch {
	case firstPull:
		e.startBuildTask(p)
	case p.State == registry.ProjectNormal:
		p.State = registry.ProjectUpdating
		e.startBuildTask(p)
	case !e.inFlight[p.Index]:
		// Updating but idle: a previous cycle ended without consuming a
		// pending flag (e.g. a build failed and nothing was queued since).
		// Retrying immediately here, rather than only flagging pending,
		// is what guarantees the system eventually observes the newest
		// commit (see DESIGN.md).
		e.startBuildTask(p)
	default:
		p.UpdatePending = true
	}
}

// handleAdminRefresh is spec.md §4.7's admin_refresh(project_index): force
// a rebuild against the repo's current commit, independent of whether it
// has changed.
func (e *Engine) handleAdminRefresh(index int) {
	p := e.projects.Get(index)
	if p == nil {
		e.logger.Warn("admin refresh for unknown project", "index", index)
		return
	}
	if p.Repo.State != registry.RepoNormal {
		p.UpdatePending = true
		return
	}
	switch {
	case p.State == registry.ProjectNormal:
		p.State = registry.ProjectUpdating
		e.startBuildTask(p)
	case !e.inFlight[p.Index]:
		e.startBuildTask(p)
	default:
		p.UpdatePending = true
	}
}

// startBuildTask acquires the repo lock and launches the background
// build pipeline (spec.md §4.3).
func (e *Engine) startBuildTask(p *registry.Project) {
	if !e.acquireLock(p.Repo) {
		return
	}
	e.inFlight[p.Index] = true
	tag := fmt.Sprintf("%s:%s", p.BaseName, shortCommit(p.Repo.Commit))
	go e.runBuildTask(p, p.Repo.Dir, tag)
}

func (e *Engine) runBuildTask(p *registry.Project, repoDir, tag string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.BuildTimeout)
	defer cancel()

	tail := newLogTail(e.cfg.BuildLogTailLines)
	recipePath := filepath.Join(repoDir, p.Recipe)

	if err := e.rt.Build(ctx, tag, recipePath, repoDir, tail.add); err != nil {
		e.queue.push(buildCompletedEvent{project: p, tag: tag, err: err, logTail: tail.lines()})
		return
	}
	hooks, err := e.discoverHooks(ctx, tag, p.HookDir)
	if err != nil {
		e.queue.push(buildCompletedEvent{project: p, tag: tag, err: err, logTail: tail.lines()})
		return
	}
	e.queue.push(buildCompletedEvent{project: p, tag: tag, hooks: hooks})
}

// discoverHooks is spec.md §4.3 step 3: a throwaway container lists the
// hook directory. The listing command swallows a missing directory
// itself (spec.md §9) so the adapter's Run never has to special-case it.
func (e *Engine) discoverHooks(ctx context.Context, tag, hookDir string) ([]string, error) {
	listCmd := []string{"sh", "-c", fmt.Sprintf("ls -1 %s 2>/dev/null || true", shellQuote(hookDir))}
	out, err := e.rt.Run(ctx, tag, listCmd)
	if err != nil {
		return nil, fmt.Errorf("hook discovery: %w", err)
	}
	return splitNonEmptyLines(out), nil
}

// onBuildCompleted handles spec.md §4.3 step 4 (release, unconditionally)
// and then either starts the rotation/fleet-fill cycle on success or
// applies the build-failure policy of spec.md §7 kind 2.
func (e *Engine) onBuildCompleted(ev buildCompletedEvent) {
	p := ev.project
	e.queue.push(lockReleasedEvent{repo: p.Repo})

	if ev.err != nil {
		e.logger.Error("build failed", "project", p.Index, "tag", ev.tag, "error", ev.err, "log_tail", ev.logTail)
		if e.metrics != nil {
			e.metrics.ObserveBuild("failure")
		}
		if p.UpdatePending {
			p.UpdatePending = false
			e.startBuildTask(p)
		} else {
			e.inFlight[p.Index] = false
		}
		return
	}

	if e.metrics != nil {
		e.metrics.ObserveBuild("success")
	}
	p.Image = ev.tag
	p.SetHooks(ev.hooks)
	e.logger.Info("image built", "project", p.Index, "tag", ev.tag, "hooks", ev.hooks)

	if p.State == registry.ProjectInit {
		e.cycles[p.Index] = &cycle{remaining: p.Min, retriesLeft: e.cfg.ReadinessRetryBudget, id: e.newID()}
	} else {
		e.cycles[p.Index] = &cycle{old: p.SnapshotActive(), retriesLeft: e.cfg.ReadinessRetryBudget, id: e.newID()}
	}
	e.stepCycle(p)
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
