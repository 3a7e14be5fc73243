package engine

import (
	"context"

	"rollerd/internal/registry"
)

// handleWebhook is spec.md §4.1's repo transition table collapsed into
// one dispatch: a pull is started immediately whenever none is already
// in flight and the lock count allows it; otherwise the notification is
// coalesced into update_pending.
func (e *Engine) handleWebhook(cloneURL string) {
	repo := e.repos.Get(cloneURL)
	if repo == nil {
		e.logger.Warn("webhook for unregistered repo", "clone_url", cloneURL)
		return
	}
	switch repo.State {
	case registry.RepoNormal:
		if repo.LockCount == 0 {
			e.startPull(repo)
		} else {
			repo.UpdatePending = true
		}
	default: // RepoInit or RepoUpdating: a pull is already in flight.
		repo.UpdatePending = true
	}
}

// startPull moves repo into updating and launches the background
// clone-or-pull. The very first pull for a repo also starts from
// RepoInit; spec.md's table shows init transitioning straight to normal,
// which this realizes by routing the initial pull through the same
// updating→normal path as every later pull (the repo's lock count is
// necessarily zero before it has ever reached normal, so no separate
// "init pull in flight" state is needed — see DESIGN.md).
func (e *Engine) startPull(repo *registry.Repo) {
	repo.State = registry.RepoUpdating
	go e.runPullTask(repo)
}

func (e *Engine) runPullTask(repo *registry.Repo) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.GitTimeout)
	defer cancel()

	firstPull := repo.Commit == ""
	if firstPull {
		if err := e.vcs.Clone(ctx, repo.CloneURL, repo.Dir); err != nil {
			e.queue.push(pullCompletedEvent{repo: repo, err: err})
			return
		}
		commit, err := e.vcs.GetCommit(ctx, repo.Dir)
		e.queue.push(pullCompletedEvent{repo: repo, commit: commit, err: err})
		return
	}
	commit, err := e.vcs.Pull(ctx, repo.Dir)
	e.queue.push(pullCompletedEvent{repo: repo, commit: commit, err: err})
}

// onPullCompleted handles a pullCompletedEvent: the repo always returns
// to normal, a changed commit fans the notification out to every project
// sharing the repo, and a pending webhook received meanwhile is consumed.
func (e *Engine) onPullCompleted(ev pullCompletedEvent) {
	repo := ev.repo
	firstPull := repo.Commit == ""
	repo.State = registry.RepoNormal

	if ev.err != nil {
		e.logger.Error("pull failed", "clone_url", repo.CloneURL, "error", ev.err)
		if e.metrics != nil {
			e.metrics.ObservePull("failure")
		}
		e.afterRepoNormal(repo)
		return
	}
	if e.metrics != nil {
		e.metrics.ObservePull("success")
	}

	changed := firstPull || ev.commit != repo.Commit
	repo.Commit = ev.commit
	e.logger.Info("pull completed", "clone_url", repo.CloneURL, "commit", ev.commit, "changed", changed)

	if changed {
		for _, p := range e.projects.ForRepo(repo) {
			e.onRepoCommitChanged(p, firstPull)
		}
	}
	e.afterRepoNormal(repo)
}

// afterRepoNormal is the deferred-pull trigger of spec.md §4.1: whenever
// a repo settles back into normal with its lock count at zero and a
// pending notification queued, that notification is consumed immediately.
// Before that, an idle project still holding a pending admin refresh
// (recorded while the repo was pulling) has its rebuild started.
func (e *Engine) afterRepoNormal(repo *registry.Repo) {
	if repo.State != registry.RepoNormal {
		return
	}
	for _, p := range e.projects.ForRepo(repo) {
		if p.UpdatePending && !e.inFlight[p.Index] {
			p.UpdatePending = false
			e.handleAdminRefresh(p.Index)
		}
	}
	if repo.LockCount == 0 && repo.UpdatePending {
		repo.UpdatePending = false
		e.startPull(repo)
	}
}

// acquireLock implements spec.md §4.1's acquire half of the lock-count
// protocol: callable only while the repo is normal.
func (e *Engine) acquireLock(repo *registry.Repo) bool {
	if repo.State != registry.RepoNormal {
		e.invariant("acquire on repo %s while state=%s", repo.CloneURL, repo.State)
		return false
	}
	repo.LockCount++
	return true
}

// releaseLock implements the release half, including the dec_lock
// trigger: dropping to zero with a pending webhook starts the deferred
// pull (spec.md §4.1, the "TODO_start_new_repo_update" open question).
func (e *Engine) releaseLock(repo *registry.Repo) {
	if repo.LockCount <= 0 {
		e.invariant("release on repo %s with lock_count=%d", repo.CloneURL, repo.LockCount)
		return
	}
	repo.LockCount--
	e.afterRepoNormal(repo)
}
