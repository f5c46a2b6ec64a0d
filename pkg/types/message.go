package types

// MessageKind identifies one of the four protocol messages.
type MessageKind string

const (
	// Coordinator -> Worker
	KindAssign MessageKind = "assign"
	KindNoWork MessageKind = "no_work"
	KindStop   MessageKind = "stop"

	// Worker -> Coordinator
	KindResult MessageKind = "result"
)

// Message is a protocol message. The set of implementations is closed:
// *Assign, *Completion, *NoWork and *Stop.
type Message interface {
	Kind() MessageKind
	sealed()
}

// Assign hands one unit to a worker.
type Assign struct {
	Unit Unit `json:"unit"`
}

// Completion carries a computed Result back to the coordinator.
type Completion struct {
	Result Result `json:"result"`
}

// NoWork tells a worker that nothing is available right now. The worker keeps waiting.
type NoWork struct{}

// Stop tells a worker to exit. It is sent exactly once per worker.
type Stop struct{}

func (*Assign) Kind() MessageKind     { return KindAssign }
func (*Completion) Kind() MessageKind { return KindResult }
func (*NoWork) Kind() MessageKind     { return KindNoWork }
func (*Stop) Kind() MessageKind       { return KindStop }

func (*Assign) sealed()     {}
func (*Completion) sealed() {}
func (*NoWork) sealed()     {}
func (*Stop) sealed()       {}

// NewAssign creates an assignment for unit id.
func NewAssign(id int) *Assign {
	return &Assign{Unit: Unit{ID: id}}
}

// NewCompletion creates a completion message for the given unit and values.
func NewCompletion(id int, values []float64) *Completion {
	return &Completion{Result: Result{UnitID: id, Values: values}}
}
