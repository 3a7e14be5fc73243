package registry

import "rollerd/internal/containerrt"

// ProjectState mirrors RepoState for a Project (spec.md §4.2).
type ProjectState int

const (
	ProjectInit ProjectState = iota
	ProjectNormal
	ProjectUpdating
)

func (s ProjectState) String() string {
	switch s {
	case ProjectInit:
		return "init"
	case ProjectNormal:
		return "normal"
	case ProjectUpdating:
		return "updating"
	default:
		return "unknown"
	}
}

// Project is one deployable unit: a build recipe, a desired fleet size
// range, and a live container fleet, all hanging off a shared Repo.
type Project struct {
	Index int

	// Recipe is the Dockerfile path, relative to the repo's working
	// directory.
	Recipe string
	Min    int
	Max    int

	// HookDir is the absolute path inside built images where hook
	// executables are discovered (spec.md §4.3 step 3).
	HookDir  string
	BaseName string

	// Repo is a shared, non-owning reference. Nothing outside
	// internal/engine ever writes through this pointer.
	Repo *Repo

	State         ProjectState
	UpdatePending bool

	// Hooks is the set of hook names discovered in the current image.
	Hooks map[string]struct{}

	// Active, Starting, and Ending are pairwise disjoint at every
	// observable moment (spec.md §3 invariants).
	Active   map[containerrt.Handle]struct{}
	Starting map[containerrt.Handle]struct{}
	Ending   map[containerrt.Handle]struct{}

	// Image is the tag of the most recently built image. Empty until
	// the first successful build.
	Image string
}

// NewProject constructs a Project in its initial state.
func NewProject(index int, recipe string, min, max int, hookDir, baseName string, repo *Repo) *Project {
	return &Project{
		Index:    index,
		Recipe:   recipe,
		Min:      min,
		Max:      max,
		HookDir:  hookDir,
		BaseName: baseName,
		Repo:     repo,
		State:    ProjectInit,
		Hooks:    map[string]struct{}{},
		Active:   map[containerrt.Handle]struct{}{},
		Starting: map[containerrt.Handle]struct{}{},
		Ending:   map[containerrt.Handle]struct{}{},
	}
}

// HasHook reports whether name was discovered in the current image's hook
// directory. spec.md §9 calls out that hook detection must be set
// membership, not a string scan.
func (p *Project) HasHook(name string) bool {
	_, ok := p.Hooks[name]
	return ok
}

// SetHooks atomically replaces the hook set.
func (p *Project) SetHooks(names []string) {
	hooks := make(map[string]struct{}, len(names))
	for _, n := range names {
		hooks[n] = struct{}{}
	}
	p.Hooks = hooks
}

// ProjectRegistry is the ordered collection of Project records.
type ProjectRegistry struct {
	projects []*Project
}

// NewProjectRegistry returns an empty registry.
func NewProjectRegistry() *ProjectRegistry {
	return &ProjectRegistry{}
}

// Add appends p; Index is expected to equal len(registry) before the call.
func (reg *ProjectRegistry) Add(p *Project) {
	reg.projects = append(reg.projects, p)
}

// Get returns the project at index, or nil if out of range.
func (reg *ProjectRegistry) Get(index int) *Project {
	if index < 0 || index >= len(reg.projects) {
		return nil
	}
	return reg.projects[index]
}

// All returns every registered Project in configuration order.
func (reg *ProjectRegistry) All() []*Project {
	return append([]*Project(nil), reg.projects...)
}

// ForRepo returns every project sharing the given repo, in configuration
// order. Projects sharing a repo update independently of one another
// (spec.md §4.2).
func (reg *ProjectRegistry) ForRepo(repo *Repo) []*Project {
	var out []*Project
	for _, p := range reg.projects {
		if p.Repo == repo {
			out = append(out, p)
		}
	}
	return out
}

// The methods below are the only place Active/Starting/Ending membership
// changes. They exist so internal/engine never pokes at the maps directly
// and every mutation keeps the three sets pairwise disjoint.

func (p *Project) AddStarting(h containerrt.Handle) {
	p.Starting[h] = struct{}{}
}

func (p *Project) RemoveStarting(h containerrt.Handle) {
	delete(p.Starting, h)
}

func (p *Project) AddActive(h containerrt.Handle) {
	p.Active[h] = struct{}{}
}

// MoveActiveToEnding removes h from Active and inserts it into Ending, the
// transition a container makes when rotation selects it for retirement
// (spec.md §4.6).
func (p *Project) MoveActiveToEnding(h containerrt.Handle) {
	delete(p.Active, h)
	p.Ending[h] = struct{}{}
}

func (p *Project) RemoveEnding(h containerrt.Handle) {
	delete(p.Ending, h)
}

// SnapshotActive returns the current Active set as a slice, used to seed a
// rotation cycle's "old" queue without aliasing the live map.
func (p *Project) SnapshotActive() []containerrt.Handle {
	out := make([]containerrt.Handle, 0, len(p.Active))
	for h := range p.Active {
		out = append(out, h)
	}
	return out
}

// CountFleet returns the combined size of Active and Starting, the
// quantity the rolling-rotation and fleet-fill invariants bound.
func (p *Project) CountFleet() int {
	return len(p.Active) + len(p.Starting)
}
