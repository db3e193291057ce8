package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mapwatch",
		Short: "Track settlement growth across game-world map dumps",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(ingestCmd())
	root.AddCommand(datesCmd())
	root.AddCommand(growthCmd())
	root.AddCommand(infoCmd())
	root.AddCommand(alliancesCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func ingestCmd() *cobra.Command {
	var worldID int

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch and store today's dump for a world (all enabled worlds by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(worldID)
		},
	}

	cmd.Flags().IntVar(&worldID, "world", 0, "ingest only this world id")
	return cmd
}

func datesCmd() *cobra.Command {
	var (
		worldID int
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "dates",
		Short: "List stored snapshot dates for a world, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDates(worldID, limit)
		},
	}

	cmd.Flags().IntVar(&worldID, "world", 0, "world id (required)")
	cmd.Flags().IntVar(&limit, "limit", 30, "max dates to show")
	cmd.MarkFlagRequired("world")
	return cmd
}

func growthCmd() *cobra.Command {
	var (
		worldID    int
		days       int
		quadrant   string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "growth",
		Short: "Show per-settlement growth and inactivity streaks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGrowth(worldID, days, quadrant, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&worldID, "world", 0, "world id (required)")
	cmd.Flags().IntVar(&days, "days", 7, "lookback window in days")
	cmd.Flags().StringVar(&quadrant, "quadrant", "", "filter by map quadrant (ne, se, sw, nw)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.MarkFlagRequired("world")
	return cmd
}

func infoCmd() *cobra.Command {
	var (
		worldID int
		top     int
	)

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show world totals, tribe stats and top players",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(worldID, top)
		},
	}

	cmd.Flags().IntVar(&worldID, "world", 0, "world id (required)")
	cmd.Flags().IntVar(&top, "top", 10, "number of top players")
	cmd.MarkFlagRequired("world")
	return cmd
}

func alliancesCmd() *cobra.Command {
	var (
		worldID int
		top     int
	)

	cmd := &cobra.Command{
		Use:   "alliances",
		Short: "Show top alliances with day-over-day growth",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAlliances(worldID, top)
		},
	}

	cmd.Flags().IntVar(&worldID, "world", 0, "world id (required)")
	cmd.Flags().IntVar(&top, "top", 10, "number of alliances")
	cmd.MarkFlagRequired("world")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
