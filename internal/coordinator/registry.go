package coordinator

import (
	"fmt"
	"sync"

	"yqhp/rowfarm/pkg/types"
)

// WorkerState is the coordinator's view of one worker.
type WorkerState string

const (
	// WorkerIdle was told NO_WORK during seeding.
	WorkerIdle WorkerState = "idle"
	// WorkerBusy holds exactly one unit.
	WorkerBusy WorkerState = "busy"
	// WorkerDrained found the queue empty after a completion and waits for STOP.
	WorkerDrained WorkerState = "drained"
	// WorkerStopped has been sent STOP.
	WorkerStopped WorkerState = "stopped"
)

// WorkerStatus is a copy of one registry entry.
type WorkerStatus struct {
	ID          string      `json:"id"`
	State       WorkerState `json:"state"`
	Outstanding *int        `json:"outstanding,omitempty"`
	Assigned    int         `json:"assigned"`
	Completed   int         `json:"completed"`
}

type workerEntry struct {
	state     WorkerState
	unit      int
	assigned  int
	completed int
}

// Registry tracks every worker of a run. It is safe for concurrent readers;
// only the coordinator mutates it.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	workers map[string]*workerEntry
}

// NewRegistry creates a registry for the given worker ids.
func NewRegistry(ids []string) (*Registry, error) {
	r := &Registry{
		order:   make([]string, 0, len(ids)),
		workers: make(map[string]*workerEntry, len(ids)),
	}
	for _, id := range ids {
		if id == "" {
			return nil, fmt.Errorf("worker id cannot be empty")
		}
		if _, exists := r.workers[id]; exists {
			return nil, fmt.Errorf("worker already registered: %s", id)
		}
		r.order = append(r.order, id)
		r.workers[id] = &workerEntry{state: WorkerIdle, unit: -1}
	}
	return r, nil
}

// IDs returns the worker ids in registration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

func (r *Registry) entry(id string) (*workerEntry, error) {
	w, ok := r.workers[id]
	if !ok {
		return nil, &types.ProtocolError{WorkerID: id, Message: "unknown worker"}
	}
	return w, nil
}

// Assign records that unit was sent to worker id. A worker holds at most one unit.
func (r *Registry) Assign(id string, unit types.Unit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.entry(id)
	if err != nil {
		return err
	}
	switch w.state {
	case WorkerBusy:
		return fmt.Errorf("worker %s already holds unit %d, cannot assign %d", id, w.unit, unit.ID)
	case WorkerStopped:
		return fmt.Errorf("worker %s is stopped, cannot assign %d", id, unit.ID)
	}

	w.state = WorkerBusy
	w.unit = unit.ID
	w.assigned++
	return nil
}

// Complete clears the outstanding unit of worker id. The reported unit must
// be the one the worker holds.
func (r *Registry) Complete(id string, unitID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.entry(id)
	if err != nil {
		return err
	}
	if w.state != WorkerBusy {
		return &types.ProtocolError{WorkerID: id, Message: fmt.Sprintf("unsolicited result for unit %d while %s", unitID, w.state)}
	}
	if w.unit != unitID {
		return &types.ProtocolError{WorkerID: id, Message: fmt.Sprintf("result for unit %d, but holds unit %d", unitID, w.unit)}
	}

	w.state = WorkerIdle
	w.unit = -1
	w.completed++
	return nil
}

// Drain marks an idle worker as waiting for STOP.
func (r *Registry) Drain(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.entry(id)
	if err != nil {
		return err
	}
	if w.state != WorkerIdle {
		return fmt.Errorf("worker %s cannot drain while %s", id, w.state)
	}
	w.state = WorkerDrained
	return nil
}

// Stop records that STOP is being sent to worker id. It fails with
// *types.StrandedWorkerError if the worker still owes a result, and refuses
// a second STOP.
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.entry(id)
	if err != nil {
		return err
	}
	switch w.state {
	case WorkerBusy:
		return &types.StrandedWorkerError{WorkerID: id, UnitID: w.unit}
	case WorkerStopped:
		return fmt.Errorf("worker %s already stopped", id)
	}
	w.state = WorkerStopped
	return nil
}

// Busy returns the number of workers holding a unit.
func (r *Registry) Busy() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, w := range r.workers {
		if w.state == WorkerBusy {
			n++
		}
	}
	return n
}

// Status returns a copy of one entry.
func (r *Registry) Status(id string) (WorkerStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[id]
	if !ok {
		return WorkerStatus{}, false
	}
	return w.status(id), true
}

// Snapshot returns every entry in registration order.
func (r *Registry) Snapshot() []WorkerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]WorkerStatus, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.workers[id].status(id))
	}
	return out
}

func (w *workerEntry) status(id string) WorkerStatus {
	s := WorkerStatus{
		ID:        id,
		State:     w.state,
		Assigned:  w.assigned,
		Completed: w.completed,
	}
	if w.state == WorkerBusy {
		unit := w.unit
		s.Outstanding = &unit
	}
	return s
}
