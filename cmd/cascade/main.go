package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cascade",
		Short: "Disease-rate model preparation for the dismod engine",
		Long: `cascade builds disease-rate models (rates, priors, smoothing grids and
covariates), writes them with measurement data into an engine file, and drives
the dismod engine through init, fit, predict, simulate and sample.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("log-level", "", "Override logging.level (info, debug, trace)")
	rootCmd.PersistentFlags().String("metrics-file", "", "Write engine metrics in Prometheus text format to this file")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(),
		newBuildCmd(),
		newFitCmd(),
		newPredictCmd(),
		newSimulateCmd(),
		newSampleCmd(),
		newStatusCmd(),
		newBackupCmd(),
	)
	return rootCmd
}
