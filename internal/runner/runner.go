// Package runner wires transports, kernels, workers and the coordinator into
// complete runs, in-process or distributed.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/duke-git/lancet/v2/retry"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"yqhp/rowfarm/internal/coordinator"
	"yqhp/rowfarm/internal/kernel"
	"yqhp/rowfarm/internal/stats"
	"yqhp/rowfarm/internal/transport"
	"yqhp/rowfarm/internal/worker"
	"yqhp/rowfarm/pkg/logger"
	"yqhp/rowfarm/pkg/types"
)

// Result is the outcome of a run.
type Result struct {
	RunID   string
	Matrix  *types.ResultMatrix
	Summary stats.Summary
}

// NewRunID returns a fresh run id.
func NewRunID() string {
	return uuid.NewString()
}

// WorkerIDs returns worker-1 .. worker-n.
func WorkerIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("worker-%d", i+1)
	}
	return ids
}

// RemoteHub is a hub whose workers join over the network.
type RemoteHub interface {
	transport.Hub
	WaitForWorkers(ctx context.Context) error
}

// prepare validates the job and fills in its run id.
func prepare(job *types.JobSpec) error {
	if job == nil {
		return fmt.Errorf("runner: nil job")
	}
	if err := job.Validate(); err != nil {
		return err
	}
	if job.RunID == "" {
		job.RunID = NewRunID()
	}
	return nil
}

func named(log *zap.Logger, name string) *zap.Logger {
	if log == nil {
		return logger.Named(name)
	}
	return log.Named(name)
}

// RunLocal runs the coordinator and workers goroutines in this process over
// Go channels. Every worker builds its own kernel.
func RunLocal(ctx context.Context, job *types.JobSpec, workers int, log *zap.Logger) (*Result, error) {
	if err := prepare(job); err != nil {
		return nil, err
	}
	if workers < 1 {
		return nil, fmt.Errorf("runner: at least one worker is required, got %d", workers)
	}

	hub, links, err := transport.NewLocalHub(WorkerIDs(workers))
	if err != nil {
		return nil, err
	}
	defer hub.Close()

	pool := make([]*worker.Worker, len(links))
	for i, l := range links {
		k, err := kernel.New(job)
		if err != nil {
			return nil, err
		}
		pool[i] = worker.New(l, k, named(log, "worker"))
	}

	collector := stats.NewCollector()
	coord, err := coordinator.New(coordinator.Config{
		Height:   job.Height,
		Width:    job.Width,
		Logger:   named(log, "coordinator"),
		Observer: collector,
	}, hub)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range pool {
		w := w
		g.Go(func() error { return w.Run(gctx) })
	}

	var matrix *types.ResultMatrix
	g.Go(func() error {
		m, err := coord.Run(gctx)
		matrix = m
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Result{RunID: job.RunID, Matrix: matrix, Summary: collector.Summary()}, nil
}

// CoordinatorOptions tunes RunCoordinator.
type CoordinatorOptions struct {
	// RegisterTimeout bounds the wait for workers. Zero waits for ctx.
	RegisterTimeout time.Duration

	// OnReady is called with the coordinator before the run starts.
	OnReady func(*coordinator.Coordinator)

	Logger *zap.Logger
}

// RunCoordinator waits for the hub's workers, runs the protocol and closes the hub.
func RunCoordinator(ctx context.Context, hub RemoteHub, job *types.JobSpec, opts CoordinatorOptions) (*Result, error) {
	defer hub.Close()

	if err := prepare(job); err != nil {
		return nil, err
	}
	log := named(opts.Logger, "coordinator")

	waitCtx := ctx
	if opts.RegisterTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.RegisterTimeout)
		defer cancel()
	}
	log.Info("waiting for workers", zap.String("run", job.RunID))
	if err := hub.WaitForWorkers(waitCtx); err != nil {
		return nil, err
	}

	collector := stats.NewCollector()
	coord, err := coordinator.New(coordinator.Config{
		Height:   job.Height,
		Width:    job.Width,
		Logger:   log,
		Observer: collector,
	}, hub)
	if err != nil {
		return nil, err
	}
	if opts.OnReady != nil {
		opts.OnReady(coord)
	}

	matrix, err := coord.Run(ctx)
	if err != nil {
		return nil, err
	}
	return &Result{RunID: job.RunID, Matrix: matrix, Summary: collector.Summary()}, nil
}

// RunWorker builds the job's kernel and serves the link until STOP.
// It returns the number of units processed.
func RunWorker(ctx context.Context, link transport.Link, job *types.JobSpec, log *zap.Logger) (int, error) {
	k, err := kernel.New(job)
	if err != nil {
		_ = link.Close()
		return 0, err
	}
	w := worker.New(link, k, named(log, "worker"))
	err = w.Run(ctx)
	return w.Processed(), err
}

// RetryOptions controls bootstrap retries of a dial or join.
type RetryOptions struct {
	Attempts int
	Interval time.Duration
}

// withRetry calls fn until it succeeds, ctx ends or attempts run out.
func withRetry(ctx context.Context, opts RetryOptions, log *zap.Logger, what string, fn func() error) error {
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}

	try := 0
	var last error
	err := retry.Retry(func() error {
		try++
		last = fn()
		if last != nil {
			log.Warn(what+" failed", zap.Int("attempt", try), zap.Error(last))
		}
		return last
	},
		retry.RetryTimes(uint(attempts)),
		retry.RetryWithLinearBackoff(interval),
		retry.Context(ctx),
	)
	if err != nil {
		if last != nil {
			return fmt.Errorf("%s: giving up after %d attempts: %w", what, try, last)
		}
		return err
	}
	return nil
}
