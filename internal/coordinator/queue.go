package coordinator

import (
	"fmt"

	"yqhp/rowfarm/pkg/types"
)

// TaskQueue is the cursor over units [0, total).
type TaskQueue struct {
	total       int
	next        int
	outstanding map[int]struct{}
}

// NewTaskQueue creates a queue over total units. A negative total is treated as zero.
func NewTaskQueue(total int) *TaskQueue {
	if total < 0 {
		total = 0
	}
	return &TaskQueue{
		total:       total,
		outstanding: make(map[int]struct{}),
	}
}

// Next returns the lowest undispatched unit and marks it outstanding.
// It returns false once every unit has been handed out.
func (q *TaskQueue) Next() (types.Unit, bool) {
	if q.next >= q.total {
		return types.Unit{}, false
	}
	u := types.Unit{ID: q.next}
	q.next++
	q.outstanding[u.ID] = struct{}{}
	return u, true
}

// Ack clears the outstanding mark of a unit whose result arrived.
func (q *TaskQueue) Ack(id int) error {
	if _, ok := q.outstanding[id]; !ok {
		return fmt.Errorf("unit %d is not outstanding", id)
	}
	delete(q.outstanding, id)
	return nil
}

// Remaining returns the number of dispatched units without a result.
func (q *TaskQueue) Remaining() int {
	return len(q.outstanding)
}

// Exhausted reports whether every unit has been dispatched.
func (q *TaskQueue) Exhausted() bool {
	return q.next >= q.total
}

// Dispatched returns how many units have been handed out.
func (q *TaskQueue) Dispatched() int {
	return q.next
}

// Total returns the number of units.
func (q *TaskQueue) Total() int {
	return q.total
}
