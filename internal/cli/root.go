// Package cli implements the command-line interface for quakewatch.
package cli

import (
	"fmt"
	"os"

	"github.com/quakewatch/quakewatch-go/internal/core"
	"github.com/spf13/cobra"
)

// Global flags
var (
	verbose  bool
	quiet    bool
	raw      bool
	timezone string
	dbPath   string
	region   string
	minMag   float64
	maxMag   float64
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "quakewatch",
	Short:   "quakewatch – cached seismic event queries",
	Long:    `A command-line utility for querying USGS earthquake and PNSN tremor data through a local day-granular cache.`,
	Version: core.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags available to all commands
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose debug output to stderr")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress progress messages")
	rootCmd.PersistentFlags().BoolVar(&raw, "raw", false, "Emit raw JSON instead of a table")
	rootCmd.PersistentFlags().StringVar(&timezone, "timezone", "", fmt.Sprintf("Timezone for day bucketing (default: %s)", core.DefaultTZ))
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Cache database path (default: ~/.quakewatch/cache.db)")
	rootCmd.PersistentFlags().StringVar(&region, "region", core.RegionUS, "Region scope: us or worldwide")
	rootCmd.PersistentFlags().Float64Var(&minMag, "min-mag", 2.5, "Minimum magnitude")
	rootCmd.PersistentFlags().Float64Var(&maxMag, "max-mag", 10, "Maximum magnitude")
}
