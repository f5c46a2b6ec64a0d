package coordinator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"yqhp/rowfarm/internal/transport"
	"yqhp/rowfarm/pkg/logger"
	"yqhp/rowfarm/pkg/types"
)

// Observer is notified of every protocol step. Calls happen on the coordinator
// goroutine, in protocol order.
type Observer interface {
	OnAssign(workerID string, unitID int)
	OnComplete(workerID string, unitID int)
	// OnIdle fires when a worker is sent NO_WORK or held after draining.
	OnIdle(workerID string)
	OnStop(workerID string)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) OnAssign(string, int)   {}
func (NopObserver) OnComplete(string, int) {}
func (NopObserver) OnIdle(string)          {}
func (NopObserver) OnStop(string)          {}

// Config configures a Coordinator.
type Config struct {
	// Height is the number of units. Zero is a valid, empty run.
	Height int
	// Width is the number of values in every result.
	Width int

	Logger   *zap.Logger
	Observer Observer
}

// Progress is a point-in-time view of a run, safe to take from any goroutine.
type Progress struct {
	Total      int            `json:"total"`
	Dispatched int            `json:"dispatched"`
	Completed  int            `json:"completed"`
	Phase      string         `json:"phase"`
	Elapsed    string         `json:"elapsed"`
	Workers    []WorkerStatus `json:"workers"`
}

// Run phases reported by Progress.
const (
	PhasePending     = "pending"
	PhaseSeeding     = "seeding"
	PhaseDispatching = "dispatching"
	PhaseStopping    = "stopping"
	PhaseDone        = "done"
	PhaseFailed      = "failed"
)

// Coordinator drives one run to completion over a transport.Hub.
type Coordinator struct {
	cfg       Config
	hub       transport.Hub
	workers   []string
	queue     *TaskQueue
	assembler *Assembler
	registry  *Registry
	logger    *zap.Logger
	observer  Observer

	started    atomic.Bool
	startedAt  atomic.Int64
	phase      atomic.Value
	dispatched atomic.Int64
	completed  atomic.Int64
}

// New creates a coordinator for every worker the hub knows.
func New(cfg Config, hub transport.Hub) (*Coordinator, error) {
	if cfg.Height < 0 || cfg.Width < 0 || (cfg.Height > 0 && cfg.Width == 0) {
		return nil, &types.InvalidDimensionsError{Height: cfg.Height, Width: cfg.Width}
	}
	if hub == nil {
		return nil, fmt.Errorf("coordinator: hub cannot be nil")
	}

	workers := hub.Workers()
	if len(workers) == 0 {
		return nil, fmt.Errorf("coordinator: no workers")
	}
	registry, err := NewRegistry(workers)
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.Named("coordinator")
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}

	c := &Coordinator{
		cfg:       cfg,
		hub:       hub,
		workers:   workers,
		queue:     NewTaskQueue(cfg.Height),
		assembler: NewAssembler(cfg.Height, cfg.Width),
		registry:  registry,
		logger:    cfg.Logger,
		observer:  cfg.Observer,
	}
	c.phase.Store(PhasePending)
	return c, nil
}

// Run executes the protocol once and returns the assembled matrix. Any
// transport or protocol error aborts the run and is returned as is.
func (c *Coordinator) Run(ctx context.Context) (*types.ResultMatrix, error) {
	if c.started.Swap(true) {
		return nil, fmt.Errorf("coordinator: run already started")
	}
	c.startedAt.Store(time.Now().UnixNano())

	matrix, err := c.run(ctx)
	if err != nil {
		c.phase.Store(PhaseFailed)
		c.logger.Error("run failed",
			zap.Int("completed", int(c.completed.Load())),
			zap.Int("total", c.cfg.Height),
			zap.Error(err))
		return nil, err
	}

	c.phase.Store(PhaseDone)
	c.logger.Info("run complete",
		zap.Int("rows", matrix.Height),
		zap.Int("workers", len(c.workers)),
		zap.Duration("elapsed", c.elapsed()))
	return matrix, nil
}

func (c *Coordinator) run(ctx context.Context) (*types.ResultMatrix, error) {
	c.logger.Info("run starting",
		zap.Int("height", c.cfg.Height),
		zap.Int("width", c.cfg.Width),
		zap.Int("workers", len(c.workers)))

	c.phase.Store(PhaseSeeding)
	if err := c.seed(ctx); err != nil {
		return nil, err
	}

	c.phase.Store(PhaseDispatching)
	for !c.assembler.IsComplete() {
		in, err := c.hub.Receive(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.handle(ctx, in); err != nil {
			return nil, err
		}
	}

	c.phase.Store(PhaseStopping)
	if err := c.terminate(ctx); err != nil {
		return nil, err
	}

	return c.assembler.Materialize()
}

// seed sends every worker exactly one message.
func (c *Coordinator) seed(ctx context.Context) error {
	for _, id := range c.workers {
		if unit, ok := c.queue.Next(); ok {
			if err := c.assign(ctx, id, unit); err != nil {
				return err
			}
			continue
		}

		if err := c.hub.Send(ctx, id, &types.NoWork{}); err != nil {
			return err
		}
		c.logger.Debug("no work for worker", zap.String("worker", id))
		c.observer.OnIdle(id)
	}
	return nil
}

// handle records one completion and re-feeds the worker that sent it.
func (c *Coordinator) handle(ctx context.Context, in transport.Inbound) error {
	done, ok := in.Message.(*types.Completion)
	if !ok {
		return &types.ProtocolError{WorkerID: in.WorkerID, Message: fmt.Sprintf("unexpected %s message", kindOf(in.Message))}
	}
	result := done.Result

	if err := c.assembler.Record(result); err != nil {
		return err
	}
	if err := c.registry.Complete(in.WorkerID, result.UnitID); err != nil {
		return err
	}
	if err := c.queue.Ack(result.UnitID); err != nil {
		return err
	}
	c.completed.Add(1)
	c.observer.OnComplete(in.WorkerID, result.UnitID)

	if unit, ok := c.queue.Next(); ok {
		return c.assign(ctx, in.WorkerID, unit)
	}

	// held until every outstanding unit is back
	if err := c.registry.Drain(in.WorkerID); err != nil {
		return err
	}
	c.logger.Debug("worker drained",
		zap.String("worker", in.WorkerID),
		zap.Int("outstanding", c.queue.Remaining()))
	c.observer.OnIdle(in.WorkerID)
	return nil
}

func (c *Coordinator) assign(ctx context.Context, id string, unit types.Unit) error {
	if err := c.registry.Assign(id, unit); err != nil {
		return err
	}
	if err := c.hub.Send(ctx, id, &types.Assign{Unit: unit}); err != nil {
		return err
	}
	c.dispatched.Add(1)
	c.logger.Debug("unit assigned", zap.String("worker", id), zap.Int("unit", unit.ID))
	c.observer.OnAssign(id, unit.ID)
	return nil
}

// terminate sends STOP to every worker once. Registry.Stop refuses a worker
// that still holds a unit.
func (c *Coordinator) terminate(ctx context.Context) error {
	if n := c.queue.Remaining(); n != 0 {
		return fmt.Errorf("coordinator: %d units outstanding at termination", n)
	}
	for _, id := range c.workers {
		if err := c.registry.Stop(id); err != nil {
			return err
		}
		if err := c.hub.Send(ctx, id, &types.Stop{}); err != nil {
			return err
		}
		c.observer.OnStop(id)
	}
	return nil
}

// Progress reports the run state. It may be called concurrently with Run.
func (c *Coordinator) Progress() Progress {
	phase, _ := c.phase.Load().(string)
	return Progress{
		Total:      c.cfg.Height,
		Dispatched: int(c.dispatched.Load()),
		Completed:  int(c.completed.Load()),
		Phase:      phase,
		Elapsed:    c.elapsed().String(),
		Workers:    c.registry.Snapshot(),
	}
}

// Workers returns the worker ids in seeding order.
func (c *Coordinator) Workers() []string {
	return append([]string(nil), c.workers...)
}

func (c *Coordinator) elapsed() time.Duration {
	start := c.startedAt.Load()
	if start == 0 {
		return 0
	}
	return time.Since(time.Unix(0, start)).Round(time.Millisecond)
}

func kindOf(msg types.Message) string {
	if msg == nil {
		return "nil"
	}
	return string(msg.Kind())
}
