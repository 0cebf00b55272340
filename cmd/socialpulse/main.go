package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "socialpulse",
		Short:         "Collect social media engagement, store it and chart it",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default: from config)")

	root.AddCommand(collectCmd())
	root.AddCommand(reportCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func collectCmd() *cobra.Command {
	var opts collectOptions

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect, store and chart the configured sources once",
		Example: `  socialpulse collect
  socialpulse collect --platform x --handle @golang --handle @rustlang --count 20
  socialpulse collect --platform youtube --handle https://www.youtube.com/@GoogleDevelopers --backend sqlite`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.platform, "platform", "", "platform for --handle (x, nitter, youtube, youtube-api, facebook)")
	cmd.Flags().StringArrayVar(&opts.handles, "handle", nil, "handle or URL to collect; repeatable (overrides config sources)")
	cmd.Flags().IntVar(&opts.count, "count", 10, "items to request per handle")
	cmd.Flags().StringVar(&opts.backend, "backend", "", "storage backend: json, sqlite, mongo (default: from config)")
	cmd.Flags().BoolVar(&opts.noStore, "no-store", false, "skip persistence")
	cmd.Flags().BoolVar(&opts.noCharts, "no-charts", false, "skip chart rendering")
	cmd.Flags().StringVar(&opts.export, "export", "", "write the run's records as one JSON document (default: from config)")
	return cmd
}

func reportCmd() *cobra.Command {
	var opts reportOptions

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render charts from stored records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.source, "source", "", "only records from this source tag")
	cmd.Flags().StringVar(&opts.platform, "platform", "", "only records from this platform")
	cmd.Flags().DurationVar(&opts.since, "since", 0, "only records collected within this window (e.g. 72h)")
	cmd.Flags().StringVar(&opts.backend, "backend", "", "storage backend (default: from config)")
	cmd.Flags().BoolVar(&opts.perSource, "per-source", false, "also render one chart set per source")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "output results as JSON")
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
	var (
		port     int
		interval string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port, interval)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	cmd.Flags().StringVar(&interval, "interval", "", "collection interval (default: from config)")
	return cmd
}
