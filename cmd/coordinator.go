package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yqhp/rowfarm/internal/config"
	"yqhp/rowfarm/internal/runner"
	"yqhp/rowfarm/internal/transport/redisq"
)

type coordinatorOptions struct {
	renderOptions
	transport       string
	listen          string
	redisAddr       string
	runID           string
	registerTimeout time.Duration
}

func newCoordinatorCmd(g *globals) *cobra.Command {
	o := &coordinatorOptions{}

	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Coordinate remote workers",
		Long: `Coordinator publishes the job, waits until --workers workers registered over
WebSocket or Redis, distributes the rows and writes the assembled matrix.`,
		Example: `  # WebSocket, three workers
  rowfarm coordinator --workers 3 --listen :8090
  rowfarm worker --coordinator ws://localhost:8090

  # Redis lists
  rowfarm coordinator --transport redis --redis localhost:6379 --run demo --workers 2
  rowfarm worker --redis localhost:6379 --run demo`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCoordinator(cmd, g, o)
		},
	}

	f := cmd.Flags()
	f.IntVar(&o.height, "height", 1000, "grid height (rows)")
	f.IntVar(&o.width, "width", 1000, "grid width (columns)")
	f.IntVar(&o.maxIter, "max-iter", 511, "mandelbrot iteration limit")
	f.IntVarP(&o.workers, "workers", "w", 4, "number of workers to wait for")
	f.StringVarP(&o.kernel, "kernel", "k", "mandelbrot", "kernel name (mandelbrot, identity, script)")
	f.StringVar(&o.script, "script", "", "JavaScript kernel file for --kernel script")
	f.StringVarP(&o.output, "output", "o", "mandelbrot.png", "output file")
	f.StringVar(&o.format, "format", "", "output format (png, csv, json)")
	f.StringVar(&o.transport, "transport", config.TransportWS, "worker transport (ws, redis)")
	f.StringVar(&o.listen, "listen", ":8090", "WebSocket listen address")
	f.StringVar(&o.redisAddr, "redis", "localhost:6379", "Redis address")
	f.StringVar(&o.runID, "run", "", "run id; generated when empty")
	f.DurationVar(&o.registerTimeout, "register-timeout", 60*time.Second, "how long to wait for workers")

	return cmd
}

func runCoordinator(cmd *cobra.Command, g *globals, o *coordinatorOptions) error {
	overrides := append(jobOverrides(),
		override{flag: "listen", path: "coordinator.listen"},
		override{flag: "register-timeout", path: "coordinator.register_timeout"},
		override{flag: "redis", path: "redis.addr"},
		override{flag: "run", path: "redis.run_id"},
	)
	extra := map[string]string{"run.transport": o.transport}
	if o.transport == config.TransportLocal {
		return fmt.Errorf("coordinator needs a remote transport; use render for local runs")
	}

	cfg, err := loadConfig(cmd, g, overrides, extra)
	if err != nil {
		return err
	}
	log := setupLogger(cfg)
	defer log.Sync()

	runID := cfg.Redis.RunID
	if runID == "" {
		runID = runner.NewRunID()
	}
	job, err := cfg.JobSpec(runID)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	out := cmd.OutOrStdout()
	if !g.quiet {
		fmt.Fprintf(out, Banner, Version)
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  run:       %s\n", job.RunID)
		fmt.Fprintf(out, "  transport: %s\n", cfg.Run.Transport)
		fmt.Fprintf(out, "  grid:      %d x %d (%s)\n", job.Height, job.Width, job.Kernel)
		fmt.Fprintf(out, "  waiting for %d workers\n", cfg.Run.Workers)
		fmt.Fprintln(out)
	}

	copts := runner.CoordinatorOptions{
		RegisterTimeout: cfg.Coordinator.RegisterTimeout,
		Logger:          log,
	}

	started := time.Now()
	var res *runner.Result
	switch cfg.Run.Transport {
	case config.TransportWS:
		log.Info("listening", zap.String("addr", cfg.Coordinator.Listen))
		res, err = runner.RunWSCoordinator(ctx, job, runner.WSCoordinatorOptions{
			Listen:             cfg.Coordinator.Listen,
			Workers:            cfg.Run.Workers,
			CoordinatorOptions: copts,
		})

	case config.TransportRedis:
		client, cerr := redisq.NewClient(ctx, redisOptions(cfg))
		if cerr != nil {
			return cerr
		}
		defer client.Close()
		res, err = runner.RunRedisCoordinator(ctx, client, job, runner.RedisCoordinatorOptions{
			Prefix:             cfg.Redis.KeyPrefix,
			Workers:            cfg.Run.Workers,
			CoordinatorOptions: copts,
		})

	default:
		return fmt.Errorf("unsupported transport %q", cfg.Run.Transport)
	}
	if err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	return finish(out, g, cfg, res, started)
}

func redisOptions(cfg *config.Config) redisq.Options {
	return redisq.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}
