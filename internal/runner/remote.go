package runner

import (
	"context"
	"errors"
	"net"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"yqhp/rowfarm/internal/coordinator"
	"yqhp/rowfarm/internal/transport/redisq"
	"yqhp/rowfarm/internal/transport/ws"
	"yqhp/rowfarm/pkg/types"
)

// WSCoordinatorOptions configures RunWSCoordinator.
type WSCoordinatorOptions struct {
	// Listen is the address to serve on; Listener wins when set.
	Listen   string
	Listener net.Listener

	Workers int
	CoordinatorOptions
}

// RunWSCoordinator serves the WebSocket hub and runs the job once the
// expected workers registered.
func RunWSCoordinator(ctx context.Context, job *types.JobSpec, opts WSCoordinatorOptions) (*Result, error) {
	if err := prepare(job); err != nil {
		return nil, err
	}

	hub, err := ws.NewHub(ws.HubConfig{
		Expected: opts.Workers,
		Job:      job,
		Logger:   named(opts.Logger, "ws-hub"),
	})
	if err != nil {
		return nil, err
	}

	ready := opts.OnReady
	opts.OnReady = func(c *coordinator.Coordinator) {
		hub.SetStatusSource(func() any { return c.Progress() })
		if ready != nil {
			ready(c)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if opts.Listener != nil {
			return hub.Serve(opts.Listener)
		}
		return hub.ListenAndServe(opts.Listen)
	})

	var res *Result
	g.Go(func() error {
		r, err := RunCoordinator(gctx, hub, job, opts.CoordinatorOptions)
		res = r
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// WSWorkerOptions configures RunWSWorker.
type WSWorkerOptions struct {
	URL      string
	WorkerID string
	Retry    RetryOptions
	Logger   *zap.Logger
}

// RunWSWorker dials the coordinator, retrying per opts.Retry, and serves
// the link until STOP.
func RunWSWorker(ctx context.Context, opts WSWorkerOptions) (int, error) {
	log := named(opts.Logger, "worker")

	var (
		link *ws.Link
		job  *types.JobSpec
	)
	err := withRetry(ctx, opts.Retry, log, "dial coordinator", func() error {
		var err error
		link, job, err = ws.Dial(ctx, ws.DialConfig{URL: opts.URL, WorkerID: opts.WorkerID})
		return err
	})
	if err != nil {
		return 0, err
	}

	log.Info("registered", zap.String("worker", link.ID()), zap.String("run", job.RunID))
	return RunWorker(ctx, link, job, opts.Logger)
}

// RedisCoordinatorOptions configures RunRedisCoordinator.
type RedisCoordinatorOptions struct {
	Prefix  string
	Workers int
	CoordinatorOptions
}

// RunRedisCoordinator publishes the job under its run id and runs it over Redis lists.
func RunRedisCoordinator(ctx context.Context, client redis.UniversalClient, job *types.JobSpec, opts RedisCoordinatorOptions) (*Result, error) {
	if err := prepare(job); err != nil {
		return nil, err
	}

	hub, err := redisq.NewHub(ctx, client, redisq.HubConfig{
		Prefix:   opts.Prefix,
		Job:      job,
		Expected: opts.Workers,
		Logger:   named(opts.Logger, "redis-hub"),
	})
	if err != nil {
		return nil, err
	}
	return RunCoordinator(ctx, hub, job, opts.CoordinatorOptions)
}

// RedisWorkerOptions configures RunRedisWorker.
type RedisWorkerOptions struct {
	Prefix   string
	RunID    string
	WorkerID string
	Retry    RetryOptions
	Logger   *zap.Logger
}

// RunRedisWorker joins a published run, retrying until the job appears. A
// registration made against an older publication of the run id is repeated
// against the current one.
func RunRedisWorker(ctx context.Context, client redis.UniversalClient, opts RedisWorkerOptions) (int, error) {
	log := named(opts.Logger, "worker")
	if opts.WorkerID == "" {
		opts.WorkerID = "worker-" + NewRunID()[:8]
	}

	for {
		var (
			link *redisq.Link
			job  *types.JobSpec
		)
		err := withRetry(ctx, opts.Retry, log, "join run", func() error {
			var err error
			link, job, err = redisq.Join(ctx, client, opts.Prefix, opts.RunID, opts.WorkerID)
			return err
		})
		if err != nil {
			return 0, err
		}

		log.Info("joined", zap.String("worker", link.ID()), zap.String("run", job.RunID))
		n, err := RunWorker(ctx, link, job, opts.Logger)
		if errors.Is(err, redisq.ErrRunRepublished) {
			log.Info("run republished, joining again", zap.String("worker", link.ID()))
			continue
		}
		return n, err
	}
}
