package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yqhp/rowfarm/internal/config"
	"yqhp/rowfarm/internal/encoder"
	"yqhp/rowfarm/internal/runner"
	"yqhp/rowfarm/pkg/logger"
)

// override maps a flag to the config path it overrides.
type override struct {
	flag string
	path string
	// value renders the flag's current value; defaults to the flag's string form.
	value func() string
}

// loadConfig layers file, environment and changed flags, then validates.
func loadConfig(cmd *cobra.Command, g *globals, overrides []override, extra map[string]string) (*config.Config, error) {
	args := make(map[string]string, len(overrides)+len(extra))
	for _, o := range overrides {
		f := cmd.Flags().Lookup(o.flag)
		if f == nil || !f.Changed {
			continue
		}
		if o.value != nil {
			args[o.path] = o.value()
		} else {
			args[o.path] = f.Value.String()
		}
	}
	for k, v := range extra {
		args[k] = v
	}

	loader := config.NewLoader().WithCmdArgs(args)
	if g.cfgFile != "" {
		loader = loader.WithConfigPath(g.cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if g.debug {
		cfg.Logging.Level = "debug"
	} else if g.quiet {
		cfg.Logging.Level = "error"
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogger(cfg *config.Config) *zap.Logger {
	logger.Init(&logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	})
	return logger.L()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func retryOptions(cfg *config.Config) runner.RetryOptions {
	return runner.RetryOptions{
		Attempts: cfg.Coordinator.DialAttempts,
		Interval: cfg.Coordinator.DialInterval,
	}
}

// finish writes the matrix and prints the run report.
func finish(out io.Writer, g *globals, cfg *config.Config, res *runner.Result, started time.Time) error {
	if cfg.Output.Path != "" {
		if err := encoder.WriteFile(cfg.Output.Path, cfg.Output.Format, res.Matrix); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
	if g.quiet {
		return nil
	}

	fmt.Fprintf(out, "run %s: %d x %d rows assembled\n", res.RunID, res.Matrix.Height, res.Matrix.Width)
	if cfg.Output.Path != "" {
		fmt.Fprintf(out, "output: %s\n", cfg.Output.Path)
	}
	fmt.Fprintln(out, res.Summary.String())
	fmt.Fprintf(out, "Timestamp: %f s\n", time.Since(started).Seconds())
	return nil
}
