// Package registry tracks which jobs are currently executing and enforces the
// global concurrency limit.
package registry

import (
	"sort"
	"sync"
)

const DefaultLimit = 5

// Handle is what the registry keeps for a running process; it is only used to
// end the process early.
type Handle interface {
	Terminate() error
}

// Lease identifies one admitted run of a job. A lease is invalidated by Stop,
// so releasing a stale lease never frees a slot held by a newer run.
type Lease struct {
	JobID string
	seq   uint64
}

type entry struct {
	seq    uint64
	handle Handle
}

type Registry struct {
	mu       sync.Mutex
	limit    int
	seq      uint64
	entries  map[string]*entry
	inFlight int
}

// New returns a registry admitting at most limit concurrent runs. A limit
// below one falls back to DefaultLimit.
func New(limit int) *Registry {
	if limit < 1 {
		limit = DefaultLimit
	}
	return &Registry{
		limit:   limit,
		entries: make(map[string]*entry),
	}
}

// TryAcquire admits jobID if it is not already running and a slot is free.
func (r *Registry) TryAcquire(jobID string) (Lease, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, running := r.entries[jobID]; running {
		return Lease{}, false
	}
	if r.inFlight >= r.limit {
		return Lease{}, false
	}
	r.seq++
	r.entries[jobID] = &entry{seq: r.seq}
	r.inFlight++
	return Lease{JobID: jobID, seq: r.seq}, true
}

// Attach stores the process handle for an admitted lease. It returns false when
// the lease was stopped in the meantime; the caller then owns terminating h.
func (r *Registry) Attach(l Lease, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[l.JobID]
	if !ok || e.seq != l.seq {
		return false
	}
	e.handle = h
	return true
}

// Release frees the slot held by l. Releasing an unknown or superseded lease is a no-op.
func (r *Registry) Release(l Lease) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[l.JobID]
	if !ok || e.seq != l.seq {
		return false
	}
	delete(r.entries, l.JobID)
	r.inFlight--
	return true
}

// Stop terminates the process of jobID, if any, and frees its slot right away.
// It reports whether a process was attached. An admitted run without a process
// still loses its slot; its Attach then fails and the runner kills what it started.
func (r *Registry) Stop(jobID string) bool {
	r.mu.Lock()
	e, ok := r.entries[jobID]
	if ok {
		delete(r.entries, jobID)
		r.inFlight--
	}
	r.mu.Unlock()

	if !ok || e.handle == nil {
		return false
	}
	_ = e.handle.Terminate()
	return true
}

// StopAll terminates every registered process and returns how many were stopped.
func (r *Registry) StopAll() int {
	r.mu.Lock()
	stopped := r.entries
	r.entries = make(map[string]*entry)
	r.inFlight = 0
	r.mu.Unlock()

	for _, e := range stopped {
		if e.handle != nil {
			_ = e.handle.Terminate()
		}
	}
	return len(stopped)
}

func (r *Registry) IsRunning(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[jobID]
	return ok
}

func (r *Registry) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight
}

func (r *Registry) Limit() int {
	return r.limit
}

// Running returns the IDs of registered jobs in sorted order.
func (r *Registry) Running() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)
	return ids
}
