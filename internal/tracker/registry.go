package tracker

import "sync"

// Lease identifies one poll loop for a job id. A loop may only advance,
// write, or stop while its lease is still the registered one.
type Lease struct {
	JobID string
	Gen   uint64
}

// PollRegistry tracks which job ids have an active poll loop and how many
// non-terminal polls each has made. Implementations must be safe for
// concurrent use; Start must be an atomic check-and-insert.
type PollRegistry interface {
	// Start registers a loop for jobID with its attempt counter at 0.
	// It returns false if a loop for jobID is already active.
	Start(jobID string) (Lease, bool)
	IsActive(jobID string) bool
	Holds(lease Lease) bool
	// Advance increments the attempt counter and returns the new count.
	Advance(lease Lease) (int, bool)
	// Stop removes the entry if lease still holds it.
	Stop(lease Lease) bool
	// Cancel removes the entry for jobID regardless of which loop holds it.
	Cancel(jobID string)
	Reset()
}

type registryEntry struct {
	gen      uint64
	attempts int
}

// MemoryRegistry is an in-process PollRegistry. Its state is lost on restart;
// the reconcile sweep restarts loops from the persisted rules.
type MemoryRegistry struct {
	mu      sync.Mutex
	nextGen uint64
	entries map[string]*registryEntry
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[string]*registryEntry)}
}

func (r *MemoryRegistry) Start(jobID string) (Lease, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[jobID]; ok {
		return Lease{}, false
	}
	r.nextGen++
	r.entries[jobID] = &registryEntry{gen: r.nextGen}
	return Lease{JobID: jobID, Gen: r.nextGen}, true
}

func (r *MemoryRegistry) IsActive(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[jobID]
	return ok
}

func (r *MemoryRegistry) Holds(lease Lease) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[lease.JobID]
	return ok && e.gen == lease.Gen
}

func (r *MemoryRegistry) Advance(lease Lease) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[lease.JobID]
	if !ok || e.gen != lease.Gen {
		return 0, false
	}
	e.attempts++
	return e.attempts, true
}

func (r *MemoryRegistry) Stop(lease Lease) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[lease.JobID]
	if !ok || e.gen != lease.Gen {
		return false
	}
	delete(r.entries, lease.JobID)
	return true
}

func (r *MemoryRegistry) Cancel(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, jobID)
}

func (r *MemoryRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*registryEntry)
}

// Len returns the number of active loops.
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

var _ PollRegistry = (*MemoryRegistry)(nil)
