// Package cmd implements the rowfarm command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	// every result encoder
	_ "yqhp/rowfarm/internal/encoder/all"
)

const (
	// Version is the current release.
	Version = "0.1.0"
	// Banner is printed on start unless --quiet.
	Banner = `
   _ __ _____      __  / _| __ _ _ __ _ __ ___
  | '__/ _ \ \ /\ / / | |_ / _' | '__| '_ ' _ \
  | | | (_) \ V  V /  |  _| (_| | |  | | | | | |   rowfarm %s
  |_|  \___/ \_/\_/   |_|  \__,_|_|  |_| |_| |_|
`
)

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	cfgFile string
	debug   bool
	quiet   bool
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "rowfarm",
		Short: "Distributed row-by-row grid renderer",
		Long: `rowfarm evaluates a kernel over every row of a 2-D grid, handing rows out
dynamically to a pool of workers and assembling the results in order.

Workers run in-process (render) or as separate processes connected to a
coordinator over WebSocket or Redis.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&g.cfgFile, "config", "", "config file path")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().BoolVarP(&g.quiet, "quiet", "q", false, "print nothing but errors")

	root.CompletionOptions.DisableDefaultCmd = true
	root.SetVersionTemplate(fmt.Sprintf(Banner, Version) + "\n")

	root.AddCommand(
		newRenderCmd(g),
		newCoordinatorCmd(g),
		newWorkerCmd(g),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command line and exits non-zero on error.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// GetRootCmd returns a fresh command tree (for tests).
func GetRootCmd() *cobra.Command {
	return newRootCmd()
}
