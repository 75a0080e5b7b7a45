package main

import (
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	config   string
	baseURL  string
	store    string
	dsn      string
	table    string
	ttl      time.Duration
	rate     float64
	strict   bool
	verbose  bool
	logLevel slog.Level
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "fetchcache",
		Short: "Cached, coalesced GET requests",
		Long: `fetchcache sends GET requests through a request cache.

Identical requests made while one is in flight share its result, and
results are served from the cache until their TTL passes.`,
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if opts.verbose {
				opts.logLevel = slog.LevelDebug
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.config, "config", "c", "", "Path to a YAML or TOML configuration file")
	flags.StringVar(&opts.baseURL, "base-url", "", "Base URL prepended to endpoints")
	flags.StringVar(&opts.store, "store", storeMemory, "Cache store: memory, sqlite, postgres or dynamodb")
	flags.StringVar(&opts.dsn, "dsn", "", "Data source name for sqlite or postgres stores")
	flags.StringVar(&opts.table, "table", "", "DynamoDB table name")
	flags.DurationVar(&opts.ttl, "ttl", 0, "How long fetched values are served from cache (default 30s)")
	flags.Float64Var(&opts.rate, "rate", 0, "Maximum requests per second to the backend, 0 for unlimited")
	flags.BoolVar(&opts.strict, "strict", false, "Do not cache results of fetches invalidated while in flight")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output")

	cmd.AddCommand(newGetCmd(opts))
	cmd.AddCommand(newKeyCmd())

	return cmd
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
