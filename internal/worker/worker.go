// Package worker implements the worker side of the protocol.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"yqhp/rowfarm/internal/kernel"
	"yqhp/rowfarm/internal/transport"
	"yqhp/rowfarm/pkg/logger"
	"yqhp/rowfarm/pkg/types"
)

// State is the worker's position in its state machine.
type State int32

const (
	// Idle waits for the next message.
	Idle State = iota
	// Busy holds one unit and runs the kernel.
	Busy
	// Stopped is terminal.
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Worker pulls units from a link, computes them and reports results.
type Worker struct {
	link   transport.Link
	kernel kernel.Kernel
	logger *zap.Logger

	state     atomic.Int32
	processed atomic.Int64
	idles     atomic.Int64
}

// New creates a worker. A nil logger falls back to the global one.
func New(link transport.Link, k kernel.Kernel, log *zap.Logger) *Worker {
	if log == nil {
		log = logger.Named("worker")
	}
	return &Worker{
		link:   link,
		kernel: k,
		logger: log.With(zap.String("worker", link.ID())),
	}
}

// ID returns the link id.
func (w *Worker) ID() string {
	return w.link.ID()
}

// State returns the current state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Processed returns the number of units computed and reported.
func (w *Worker) Processed() int {
	return int(w.processed.Load())
}

// Idles returns the number of NO_WORK messages received.
func (w *Worker) Idles() int {
	return int(w.idles.Load())
}

// Run loops until STOP. NO_WORK only means keep waiting. A kernel or
// channel failure ends the worker's participation and is returned; the link
// is closed in every case.
func (w *Worker) Run(ctx context.Context) error {
	defer func() {
		w.state.Store(int32(Stopped))
		_ = w.link.Close()
	}()

	for {
		msg, err := w.link.Receive(ctx)
		if err != nil {
			return fmt.Errorf("worker %s: %w", w.ID(), err)
		}

		switch m := msg.(type) {
		case *types.Assign:
			if err := w.compute(ctx, m.Unit); err != nil {
				return err
			}

		case *types.NoWork:
			w.idles.Add(1)
			w.logger.Debug("no work available")

		case *types.Stop:
			w.logger.Info("stopped", zap.Int("processed", w.Processed()))
			return nil

		default:
			return &types.ProtocolError{WorkerID: w.ID(), Message: fmt.Sprintf("unexpected %s message", msg.Kind())}
		}
	}
}

func (w *Worker) compute(ctx context.Context, unit types.Unit) error {
	w.state.Store(int32(Busy))
	defer w.state.Store(int32(Idle))

	values, err := w.kernel.Compute(unit)
	if err != nil {
		return fmt.Errorf("worker %s: compute unit %d: %w", w.ID(), unit.ID, err)
	}

	if err := w.link.Send(ctx, types.NewCompletion(unit.ID, values)); err != nil {
		return fmt.Errorf("worker %s: %w", w.ID(), err)
	}
	w.processed.Add(1)
	w.logger.Debug("unit computed", zap.Int("unit", unit.ID))
	return nil
}
