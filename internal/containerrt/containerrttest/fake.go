// Package containerrttest provides an in-memory containerrt.Interface for
// engine tests.
package containerrttest

import (
	"context"
	"fmt"
	"sync"

	"rollerd/internal/containerrt"
)

// Fake is a scriptable, in-memory runtime adapter.
type Fake struct {
	mu sync.Mutex

	BuildErr map[string]error // keyed by tag

	// ReadyHookErr, keyed by handle, makes Exec for that handle fail once,
	// simulating a readiness-hook non-zero exit.
	ReadyHookErr map[containerrt.Handle]error

	RunOutput map[string]string // keyed by tag, returned by Run
	RunErr    map[string]error

	// BuildGate, if set, makes Build block until a value is received on
	// it, so a test can hold a build "in flight" to exercise coalescing.
	BuildGate chan struct{}

	created map[containerrt.Handle]bool
	stopped map[containerrt.Handle]bool
	next    int
	calls   []string
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		BuildErr:     map[string]error{},
		ReadyHookErr: map[containerrt.Handle]error{},
		RunOutput:    map[string]string{},
		RunErr:       map[string]error{},
		created:      map[containerrt.Handle]bool{},
		stopped:      map[containerrt.Handle]bool{},
	}
}

func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) Build(_ context.Context, tag, _ string, _ string, onOutput containerrt.BuildOutput) error {
	f.mu.Lock()
	f.calls = append(f.calls, "build:"+tag)
	gate := f.BuildGate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	if onOutput != nil {
		onOutput("Successfully built " + tag)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.BuildErr[tag]
}

func (f *Fake) Create(_ context.Context, tag string) (containerrt.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	h := containerrt.Handle(fmt.Sprintf("%064x", f.next))
	f.created[h] = true
	f.calls = append(f.calls, "create:"+tag+":"+string(h))
	return h, nil
}

func (f *Fake) Exec(_ context.Context, h containerrt.Handle, cmd []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "exec:"+string(h))
	if err, ok := f.ReadyHookErr[h]; ok && err != nil {
		delete(f.ReadyHookErr, h)
		return "", err
	}
	_ = cmd
	return "ok", nil
}

func (f *Fake) Run(_ context.Context, tag string, _ []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "run:"+tag)
	if err := f.RunErr[tag]; err != nil {
		return "", err
	}
	return f.RunOutput[tag], nil
}

func (f *Fake) Stop(_ context.Context, h containerrt.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "stop:"+string(h))
	if !f.created[h] {
		return fmt.Errorf("fake containerrt: stop of unknown handle %s", h)
	}
	f.stopped[h] = true
	return nil
}

func (f *Fake) Stats(_ context.Context, h containerrt.Handle) (containerrt.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.created[h] || f.stopped[h] {
		return containerrt.Stats{}, containerrt.ErrNotFound
	}
	return containerrt.Stats{CPUPercent: 1.5, MemoryBytes: 1024 * 1024}, nil
}
