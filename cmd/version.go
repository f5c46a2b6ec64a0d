package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"yqhp/rowfarm/internal/encoder"
	"yqhp/rowfarm/internal/kernel"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version, kernels and encoders",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rowfarm %s (%s %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(out, "kernels:  %v\n", kernel.List())
			fmt.Fprintf(out, "encoders: %v\n", encoder.List())
		},
	}
}
