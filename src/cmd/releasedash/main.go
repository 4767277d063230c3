// Package main provides the releasedash entry point: a release-health
// dashboard for a CI fleet, rendering build status cross-referenced with
// mirrored JUnit failure detail.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "releasedash",
	Short: "Release-health dashboard for a CI builder fleet",
	Long: `releasedash renders a point-in-time view of which builders and
branches are passing, failing, or stale, cross-referenced with test
failures parsed from locally-mirrored JUnit XML artifacts.

The view is heavily cached and deliberately tolerant of inconsistency:
cells mix fresh and stale data rather than blocking on unreachable
sources, and are marked accordingly.`,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "releasedash.yaml", "path to the configuration file")
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
