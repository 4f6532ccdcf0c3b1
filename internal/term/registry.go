package term

import (
	"fmt"
	"sort"
	"sync"
)

// Registry tracks the live Process for every session id. It is the only
// place a Process is created, which is what makes "create if absent"
// race-free: two simultaneous first-attaches for one id start exactly one
// shell.
type Registry struct {
	mu    sync.Mutex
	procs map[string]Process

	// newProcess is swappable in tests.
	newProcess func(id, workDir string) Process
}

// NewRegistry returns an empty registry. It is created at service start
// and closed at service stop; nothing else holds Process references
// outside of it.
func NewRegistry() *Registry {
	return &Registry{
		procs:      make(map[string]Process),
		newProcess: New,
	}
}

// NewRegistryWithFactory returns a registry whose processes come from
// factory instead of New. It exists for tests that need to control
// process behavior, in this package and above it.
func NewRegistryWithFactory(factory func(id, workDir string) Process) *Registry {
	r := NewRegistry()
	r.newProcess = factory
	return r
}

// GetOrCreate returns the running Process for id, creating and starting
// one rooted at workDir when absent. created reports whether this call
// started the process. A start failure leaves the registry without an
// entry for id so a later attach can retry from scratch.
func (r *Registry) GetOrCreate(id, workDir string) (Process, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if proc, ok := r.procs[id]; ok {
		return proc, false, nil
	}

	proc := r.newProcess(id, workDir)
	if err := proc.Start(); err != nil {
		return nil, false, fmt.Errorf("term: create session %q: %w", id, err)
	}
	r.procs[id] = proc
	return proc, true, nil
}

// Get returns the Process for id, if registered.
func (r *Registry) Get(id string) (Process, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	proc, ok := r.procs[id]
	return proc, ok
}

// Destroy unregisters id and stops its process. Calling it for an
// unknown id is a no-op, which keeps teardown idempotent.
func (r *Registry) Destroy(id string) {
	r.mu.Lock()
	proc, ok := r.procs[id]
	delete(r.procs, id)
	r.mu.Unlock()

	if ok {
		proc.Stop()
	}
}

// Running reports whether id has a registered, live process.
func (r *Registry) Running(id string) bool {
	proc, ok := r.Get(id)
	return ok && proc.Running()
}

// IDs returns the registered session ids, sorted for stable listings.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.procs))
	for id := range r.procs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops every registered process.
func (r *Registry) Close() {
	r.mu.Lock()
	procs := make([]Process, 0, len(r.procs))
	for id, proc := range r.procs {
		procs = append(procs, proc)
		delete(r.procs, id)
	}
	r.mu.Unlock()

	for _, proc := range procs {
		proc.Stop()
	}
}
