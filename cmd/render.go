package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"yqhp/rowfarm/internal/runner"
)

type renderOptions struct {
	height  int
	width   int
	maxIter int
	workers int
	kernel  string
	script  string
	output  string
	format  string
}

func newRenderCmd(g *globals) *cobra.Command {
	o := &renderOptions{}

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a grid with an in-process worker pool",
		Long: `Render runs the coordinator and the workers inside this process, connected
by channels, then writes the assembled matrix.`,
		Example: `  # 1000x1000 Mandelbrot with 8 workers
  rowfarm render --workers 8 --output mandelbrot.png

  # custom kernel written in JavaScript
  rowfarm render --kernel script --script rows.js --output rows.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, g, o)
		},
	}

	f := cmd.Flags()
	f.IntVar(&o.height, "height", 1000, "grid height (rows)")
	f.IntVar(&o.width, "width", 1000, "grid width (columns)")
	f.IntVar(&o.maxIter, "max-iter", 511, "mandelbrot iteration limit")
	f.IntVarP(&o.workers, "workers", "w", 4, "number of workers")
	f.StringVarP(&o.kernel, "kernel", "k", "mandelbrot", "kernel name (mandelbrot, identity, script)")
	f.StringVar(&o.script, "script", "", "JavaScript kernel file for --kernel script")
	f.StringVarP(&o.output, "output", "o", "mandelbrot.png", "output file")
	f.StringVar(&o.format, "format", "", "output format (png, csv, json); guessed from --output when empty")

	return cmd
}

// jobOverrides are the flags render and coordinator share.
func jobOverrides() []override {
	return []override{
		{flag: "height", path: "job.height"},
		{flag: "width", path: "job.width"},
		{flag: "max-iter", path: "job.max_iter"},
		{flag: "kernel", path: "job.kernel"},
		{flag: "script", path: "job.script_path"},
		{flag: "output", path: "output.path"},
		{flag: "format", path: "output.format"},
		{flag: "workers", path: "run.workers"},
	}
}

func runRender(cmd *cobra.Command, g *globals, o *renderOptions) error {
	extra := map[string]string{"run.transport": "local"}
	if o.script != "" && !cmd.Flags().Changed("kernel") {
		extra["job.kernel"] = "script"
	}
	cfg, err := loadConfig(cmd, g, jobOverrides(), extra)
	if err != nil {
		return err
	}
	log := setupLogger(cfg)
	defer log.Sync()

	job, err := cfg.JobSpec(runner.NewRunID())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !g.quiet {
		fmt.Fprintf(out, Banner, Version)
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  kernel:  %s\n", job.Kernel)
		fmt.Fprintf(out, "  grid:    %d x %d\n", job.Height, job.Width)
		fmt.Fprintf(out, "  workers: %d\n", cfg.Run.Workers)
		fmt.Fprintln(out)
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	started := time.Now()
	res, err := runner.RunLocal(ctx, job, cfg.Run.Workers, log)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	return finish(out, g, cfg, res, started)
}
