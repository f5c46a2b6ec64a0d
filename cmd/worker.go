package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"yqhp/rowfarm/internal/config"
	"yqhp/rowfarm/internal/runner"
	"yqhp/rowfarm/internal/transport/redisq"
)

type workerOptions struct {
	coordinator string
	redisAddr   string
	runID       string
	id          string
}

func newWorkerCmd(g *globals) *cobra.Command {
	o := &workerOptions{}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve rows for a coordinator",
		Long: `Worker connects to a coordinator, receives the job on registration and
computes the rows it is assigned until the coordinator sends STOP.`,
		Example: `  rowfarm worker --coordinator ws://10.0.0.5:8090
  rowfarm worker --redis localhost:6379 --run demo --id node-7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd, g, o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.coordinator, "coordinator", "", "coordinator WebSocket URL")
	f.StringVar(&o.redisAddr, "redis", "", "Redis address; selects the Redis transport")
	f.StringVar(&o.runID, "run", "", "run id to join (Redis)")
	f.StringVar(&o.id, "id", "", "worker id; generated when empty")
	cmd.MarkFlagsMutuallyExclusive("coordinator", "redis")

	return cmd
}

func runWorker(cmd *cobra.Command, g *globals, o *workerOptions) error {
	extra := map[string]string{}
	switch {
	case o.redisAddr != "":
		extra["run.transport"] = config.TransportRedis
		extra["redis.addr"] = o.redisAddr
	case o.coordinator != "":
		extra["run.transport"] = config.TransportWS
		extra["coordinator.url"] = o.coordinator
	}
	if o.runID != "" {
		extra["redis.run_id"] = o.runID
	}

	cfg, err := loadConfig(cmd, g, nil, extra)
	if err != nil {
		return err
	}
	log := setupLogger(cfg)
	defer log.Sync()

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	id := o.id
	if id == "" {
		id = "worker-" + runner.NewRunID()[:8]
	}

	var processed int
	switch cfg.Run.Transport {
	case config.TransportWS:
		processed, err = runner.RunWSWorker(ctx, runner.WSWorkerOptions{
			URL:      cfg.Coordinator.URL,
			WorkerID: id,
			Retry:    retryOptions(cfg),
			Logger:   log,
		})

	case config.TransportRedis:
		if cfg.Redis.RunID == "" {
			return fmt.Errorf("worker: --run is required with --redis")
		}
		client, cerr := redisq.NewClient(ctx, redisOptions(cfg))
		if cerr != nil {
			return cerr
		}
		defer client.Close()
		processed, err = runner.RunRedisWorker(ctx, client, runner.RedisWorkerOptions{
			Prefix:   cfg.Redis.KeyPrefix,
			RunID:    cfg.Redis.RunID,
			WorkerID: id,
			Retry:    retryOptions(cfg),
			Logger:   log,
		})

	default:
		return fmt.Errorf("worker: pass --coordinator or --redis")
	}
	if err != nil {
		return fmt.Errorf("worker %s: %w", id, err)
	}

	if !g.quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "worker %s stopped after %d rows\n", id, processed)
	}
	return nil
}
