package registry

import "testing"

func TestProjectHooksAreSetMembership(t *testing.T) {
	p := NewProject(0, "Dockerfile", 2, 5, "/hooks", "demo", nil)
	p.SetHooks([]string{"wait_ready", "wait_drain"})

	if !p.HasHook("wait_ready") {
		t.Fatalf("expected wait_ready to be present")
	}
	if p.HasHook("wait_ready_typo") {
		t.Fatalf("expected unrelated name to be absent")
	}

	p.SetHooks(nil)
	if p.HasHook("wait_ready") {
		t.Fatalf("expected hook set to be replaced atomically, not merged")
	}
}

func TestProjectRegistryForRepo(t *testing.T) {
	repoA := NewRepo("https://example/a", "/work/a")
	repoB := NewRepo("https://example/b", "/work/b")

	reg := NewProjectRegistry()
	reg.Add(NewProject(0, "Dockerfile", 1, 1, "/hooks", "p0", repoA))
	reg.Add(NewProject(1, "Dockerfile", 1, 1, "/hooks", "p1", repoA))
	reg.Add(NewProject(2, "Dockerfile", 1, 1, "/hooks", "p2", repoB))

	forA := reg.ForRepo(repoA)
	if len(forA) != 2 {
		t.Fatalf("expected 2 projects sharing repoA, got %d", len(forA))
	}
	if forA[0].Index != 0 || forA[1].Index != 1 {
		t.Fatalf("expected configuration order preserved, got %d,%d", forA[0].Index, forA[1].Index)
	}

	forB := reg.ForRepo(repoB)
	if len(forB) != 1 || forB[0].Index != 2 {
		t.Fatalf("expected 1 project sharing repoB, got %v", forB)
	}
}
