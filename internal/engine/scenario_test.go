package engine

import (
	"fmt"
	"strings"
	"testing"

	"rollerd/internal/containerrt"
	"rollerd/internal/registry"
)

func countCalls(calls []string, prefix string) int {
	n := 0
	for _, c := range calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// TestStartupFillsSharedRepoProjectsToTheirOwnMinimum covers spec.md §8
// scenario 1: two projects sharing one repo, each filled to its own
// configured minimum independently of the other.
func TestStartupFillsSharedRepoProjectsToTheirOwnMinimum(t *testing.T) {
	h := newHarness(t)
	repo, p0 := h.addProject("https://example/repo", "/work/repo", 1, 3)
	p1 := registry.NewProject(len(h.projects.All()), "Dockerfile", 2, 2, "/hooks", "svc", repo)
	h.projects.Add(p1)

	h.vcs.QueueCommit(repo.Dir, "commit1")
	h.engine.Start()

	snap := h.waitUntil(func(s Snapshot) bool {
		a := projectByIndex(s, p0.Index)
		b := projectByIndex(s, p1.Index)
		return a.State == "normal" && a.Active == 1 && b.State == "normal" && b.Active == 2
	})

	if got := projectByIndex(snap, p0.Index).Active; got != 1 {
		t.Fatalf("project 0: expected active=1, got %d", got)
	}
	if got := projectByIndex(snap, p1.Index).Active; got != 2 {
		t.Fatalf("project 1: expected active=2, got %d", got)
	}
}

// TestWebhookDuringBuildCoalescesAndDeferredPullFollowsLockRelease covers
// spec.md §8 scenario 2 together with the dec_lock deferred-pull trigger:
// a webhook arriving while a build holds the repo lock is coalesced into
// update_pending, and consumed the moment the lock count returns to zero.
func TestWebhookDuringBuildCoalescesAndDeferredPullFollowsLockRelease(t *testing.T) {
	h := newHarness(t)
	repo, p := h.addProject("https://example/repo", "/work/repo", 1, 1)
	h.vcs.QueueCommit(repo.Dir, "commit1")

	gate := make(chan struct{})
	h.rt.BuildGate = gate

	h.engine.Start()

	h.waitUntil(func(s Snapshot) bool {
		return repoByURL(s, repo.CloneURL).LockCount == 1
	})

	h.engine.Webhook(repo.CloneURL)
	h.waitUntil(func(s Snapshot) bool {
		return repoByURL(s, repo.CloneURL).UpdatePending
	})

	h.vcs.QueueCommit(repo.Dir, "commit2")
	close(gate)

	snap := h.waitUntil(func(s Snapshot) bool {
		r := repoByURL(s, repo.CloneURL)
		return r.Commit == "commit2" && !r.UpdatePending && r.LockCount == 0
	})

	if got := projectByIndex(snap, p.Index).Image; got != "svc:commit2" {
		t.Fatalf("expected project rebuilt against the deferred commit, got image %q", got)
	}
}

// TestBurstOfWebhooksCoalescesIntoOnePendingFlag covers spec.md §8
// scenario 3: several webhooks arriving back to back while a pull or
// build is already in flight collapse into a single pending bit rather
// than queuing N separate update attempts.
func TestBurstOfWebhooksCoalescesIntoOnePendingFlag(t *testing.T) {
	h := newHarness(t)
	repo, _ := h.addProject("https://example/repo", "/work/repo", 1, 1)
	h.vcs.QueueCommit(repo.Dir, "commit1")

	gate := make(chan struct{})
	h.rt.BuildGate = gate
	h.engine.Start()

	h.waitUntil(func(s Snapshot) bool {
		return repoByURL(s, repo.CloneURL).LockCount == 1
	})

	for i := 0; i < 5; i++ {
		h.engine.Webhook(repo.CloneURL)
	}
	h.waitUntil(func(s Snapshot) bool {
		return repoByURL(s, repo.CloneURL).UpdatePending
	})

	close(gate)
	h.waitUntil(func(s Snapshot) bool {
		r := repoByURL(s, repo.CloneURL)
		return !r.UpdatePending && r.LockCount == 0
	})

	pullCalls := countCalls(h.vcs.Calls(), "pull:")
	if pullCalls != 1 {
		t.Fatalf("expected the burst to collapse into exactly one deferred pull, got %d", pullCalls)
	}
}

// TestUnchangedCommitSkipsRebuild covers spec.md §8 scenario 4: a pull
// that resolves to the same commit already on record does not disturb a
// settled project.
func TestUnchangedCommitSkipsRebuild(t *testing.T) {
	h := newHarness(t)
	repo, p := h.addProject("https://example/repo", "/work/repo", 1, 1)
	h.vcs.QueueCommit(repo.Dir, "commit1")
	h.engine.Start()

	h.waitUntil(func(s Snapshot) bool {
		a := projectByIndex(s, p.Index)
		return a.State == "normal" && a.Active == 1
	})

	buildsBefore := countCalls(h.rt.Calls(), "build:")

	h.engine.Webhook(repo.CloneURL)
	h.waitUntil(func(s Snapshot) bool {
		r := repoByURL(s, repo.CloneURL)
		return countCalls(h.vcs.Calls(), "pull:") >= 1 && r.State == "normal" && !r.UpdatePending
	})

	buildsAfter := countCalls(h.rt.Calls(), "build:")
	if buildsAfter != buildsBefore {
		t.Fatalf("expected no rebuild on an unchanged commit, builds went from %d to %d", buildsBefore, buildsAfter)
	}
	snap := h.waitUntil(func(Snapshot) bool { return true })
	if got := projectByIndex(snap, p.Index).Active; got != 1 {
		t.Fatalf("expected fleet untouched, active=%d", got)
	}
}

// TestAdminRefreshRollsTheFleetWithinRange covers spec.md §8 scenario 5:
// admin_refresh rebuilds and rotates a [min,max] fleet one container at a
// time, ending back at the configured size.
func TestAdminRefreshRollsTheFleetWithinRange(t *testing.T) {
	h := newHarness(t)
	repo, p := h.addProject("https://example/repo", "/work/repo", 2, 5)
	h.vcs.QueueCommit(repo.Dir, "commit1")
	h.engine.Start()

	h.waitUntil(func(s Snapshot) bool {
		a := projectByIndex(s, p.Index)
		return a.State == "normal" && a.Active == 2
	})
	createsBefore := countCalls(h.rt.Calls(), "create:")
	stopsBefore := countCalls(h.rt.Calls(), "stop:")

	h.engine.AdminRefresh(p.Index)

	snap := h.waitUntil(func(s Snapshot) bool {
		a := projectByIndex(s, p.Index)
		return a.State == "normal" && a.Active == 2 &&
			countCalls(h.rt.Calls(), "create:") == createsBefore+2 &&
			countCalls(h.rt.Calls(), "stop:") == stopsBefore+2
	})
	if got := projectByIndex(snap, p.Index).Active; got != 2 {
		t.Fatalf("expected fleet to settle back at 2, got %d", got)
	}
}

// TestReadinessRetrySucceedsOnSecondAttempt covers the retry half of
// spec.md §8 scenario 6: a failed readiness hook is retried against a
// fresh container before the budget is exhausted.
func TestReadinessRetrySucceedsOnSecondAttempt(t *testing.T) {
	h := newHarness(t)
	repo, p := h.addProject("https://example/repo", "/work/repo", 1, 1)
	p.SetHooks([]string{"wait_ready"})
	h.vcs.QueueCommit(repo.Dir, "commit1")
	h.rt.RunOutput["svc:commit1"] = "wait_ready"

	firstHandle := containerrt.Handle(fmt.Sprintf("%064x", 1))
	h.rt.ReadyHookErr[firstHandle] = fmt.Errorf("readiness probe failed")

	h.engine.Start()

	snap := h.waitUntil(func(s Snapshot) bool {
		a := projectByIndex(s, p.Index)
		return a.State == "normal" && a.Active == 1
	})
	if got := projectByIndex(snap, p.Index).Active; got != 1 {
		t.Fatalf("expected the cycle to recover after one retry, active=%d", got)
	}
	if countCalls(h.rt.Calls(), "create:") != 2 {
		t.Fatalf("expected exactly one retry (2 creates), got calls=%v", h.rt.Calls())
	}
}

// TestReadinessExhaustsBudgetAndAbortsCycle covers the abort half of
// spec.md §8 scenario 6: every attempt failing exhausts the retry budget
// and the cycle gives up rather than retrying indefinitely.
func TestReadinessExhaustsBudgetAndAbortsCycle(t *testing.T) {
	h := newHarness(t)
	repo, p := h.addProject("https://example/repo", "/work/repo", 1, 1)
	p.SetHooks([]string{"wait_ready"})
	h.vcs.QueueCommit(repo.Dir, "commit1")
	h.rt.RunOutput["svc:commit1"] = "wait_ready"

	h.rt.ReadyHookErr[containerrt.Handle(fmt.Sprintf("%064x", 1))] = fmt.Errorf("readiness probe failed")
	h.rt.ReadyHookErr[containerrt.Handle(fmt.Sprintf("%064x", 2))] = fmt.Errorf("readiness probe failed")

	h.engine.Start()

	snap := h.waitUntil(func(s Snapshot) bool {
		a := projectByIndex(s, p.Index)
		return a.State == "normal" && countCalls(h.rt.Calls(), "create:") == 2
	})
	if got := projectByIndex(snap, p.Index).Active; got != 0 {
		t.Fatalf("expected the aborted cycle to leave the fleet empty, active=%d", got)
	}
}
