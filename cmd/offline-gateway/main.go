package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	offlinegateway "github.com/always-cache/offline-gateway"
	"github.com/always-cache/offline-gateway/cache"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// CLI flags
	configFilenameFlag  string
	originFlag          string
	hostFlag            string
	portFlag            int
	dbFilenameFlag      string
	versionTagFlag      string
	verbosityDebugFlag  bool
	verbosityTraceFlag  bool
	logFilenameFlag     string
	shutdownTimeoutFlag time.Duration

	// this is set by goreleaser
	version string
)

var rootCmd = &cobra.Command{
	Use:   "offline-gateway",
	Short: "Offline-capable caching gateway",
	Long: `offline-gateway sits between clients and an origin and keeps a versioned
store of responses, so that static assets, pages and API results stay
available when the origin cannot be reached.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
}

func init() {
	if version == "" {
		version = "DEV"
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFilenameFlag, "config", "c", "", "Config file (YAML)")
	flags.StringVar(&originFlag, "origin", "", "Origin URL to fetch from")
	flags.StringVar(&hostFlag, "host", "", "Hostname of origin, if different from the origin URL")
	flags.StringVar(&dbFilenameFlag, "db", "", "Cache DB file name (use 'memory' for in-memory db)")
	flags.StringVar(&versionTagFlag, "version-tag", "", "Version tag, i.e. name of the current store")
	flags.BoolVarP(&verbosityDebugFlag, "verbose", "v", false, "Verbosity: debug logging")
	flags.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flags.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	serveCmd.Flags().IntVarP(&portFlag, "port", "p", 0, "Port to listen on")
	serveCmd.Flags().DurationVar(&shutdownTimeoutFlag, "shutdown-timeout", 10*time.Second, "Time to wait for open requests on shutdown")

	rootCmd.AddCommand(serveCmd, installCmd, activateCmd, syncCmd, storesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() error {
	logLevel := zerolog.InfoLevel
	if verbosityDebugFlag {
		logLevel = zerolog.DebugLevel
	}
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		logOutputs = append(logOutputs, logFileOutput)
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("build", version).Logger()
	return nil
}

// getConfig loads the config and applies the flags that were set on the command line.
func getConfig(cmd *cobra.Command) (Config, error) {
	config, err := loadConfig(configFilenameFlag)
	if err != nil {
		return config, err
	}
	flags := cmd.Flags()
	if flags.Changed("origin") {
		config.Origin = originFlag
	}
	if flags.Changed("host") {
		config.OriginHost = hostFlag
	}
	if flags.Changed("db") {
		config.DB = dbFilenameFlag
	}
	if flags.Changed("version-tag") {
		config.Version = versionTagFlag
	}
	if flags.Changed("port") {
		config.Port = portFlag
	}
	return config, nil
}

// newGateway creates the gateway described by the config.
// The returned close function releases the gateway and its store.
func newGateway(config Config, requireOrigin bool) (*offlinegateway.Gateway, func(), error) {
	sqliteCache, err := cache.NewSQLiteCache(config.dbFilename())
	if err != nil {
		return nil, nil, fmt.Errorf("open cache: %w", err)
	}

	gatewayConfig := offlinegateway.Config{
		Cache:          sqliteCache,
		Version:        config.Version,
		Manifest:       config.Manifest,
		Classifier:     config.Classifier,
		SyncTag:        config.SyncTag,
		SyncPathMarker: config.SyncPathMarker,
		AppName:        config.AppName,
		Logger:         &log.Logger,
	}
	originURL, err := config.originURL()
	switch {
	case err == nil:
		gatewayConfig.Fetcher = offlinegateway.NewOriginFetcher(*originURL, config.OriginHost)
		gatewayConfig.OriginId = originURL.String()
	case requireOrigin || !errors.Is(err, errNoOrigin):
		sqliteCache.Close()
		return nil, nil, err
	}

	g := offlinegateway.CreateGateway(gatewayConfig)
	return g, func() {
		g.Close()
		if err := sqliteCache.Close(); err != nil {
			log.Error().Err(err).Msg("Could not close cache")
		}
	}, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Install and activate the current version, then serve requests",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := getConfig(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdownTracing, err := setupTracing(ctx, config.OtelEndpoint, version)
		if err != nil {
			return fmt.Errorf("set up tracing: %w", err)
		}
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				log.Error().Err(err).Msg("Could not flush traces")
			}
		}()

		g, closeGateway, err := newGateway(config, true)
		if err != nil {
			return err
		}
		defer closeGateway()

		if err := g.Start(ctx); err != nil {
			// keep serving, requests still reach the origin when it is available
			log.Error().Err(err).Msg("Could not start version")
		}

		server := &http.Server{
			Addr:    fmt.Sprintf(":%d", config.Port),
			Handler: g.Handler(),
		}
		serveErr := make(chan error, 1)
		go func() {
			log.Info().Msgf("Serving version %s on port %v for %s (with hostname '%s')", g.Version(), config.Port, config.Origin, config.OriginHost)
			serveErr <- server.ListenAndServe()
		}()

		select {
		case err := <-serveErr:
			return err
		case <-ctx.Done():
		}
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeoutFlag)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	},
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Populate the current store with the manifest",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := getConfig(cmd)
		if err != nil {
			return err
		}
		g, closeGateway, err := newGateway(config, true)
		if err != nil {
			return err
		}
		defer closeGateway()
		return g.Install(cmd.Context())
	},
}

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Delete all stores except the current one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := getConfig(cmd)
		if err != nil {
			return err
		}
		g, closeGateway, err := newGateway(config, false)
		if err != nil {
			return err
		}
		defer closeGateway()
		return g.Activate(cmd.Context())
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync <tag>",
	Short: "Refresh stored API responses for a background sync tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := getConfig(cmd)
		if err != nil {
			return err
		}
		g, closeGateway, err := newGateway(config, true)
		if err != nil {
			return err
		}
		defer closeGateway()
		report, err := g.Sync(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d refreshed, %d failed\n", report.Tag, report.Refreshed, report.Failed)
		return nil
	},
}

var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "List stores",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := getConfig(cmd)
		if err != nil {
			return err
		}
		sqliteCache, err := cache.NewSQLiteCache(config.dbFilename())
		if err != nil {
			return fmt.Errorf("open cache: %w", err)
		}
		defer sqliteCache.Close()
		stores, err := sqliteCache.Stores()
		if err != nil {
			return err
		}
		for _, store := range stores {
			current := ""
			if store == config.Version {
				current = " (current)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", store, current)
		}
		return nil
	},
}
