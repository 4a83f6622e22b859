package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/docbroker/internal/broker"
	"github.com/marmos91/docbroker/internal/history"
	"github.com/marmos91/docbroker/internal/logger"
	brokermetrics "github.com/marmos91/docbroker/internal/metrics"
	"github.com/marmos91/docbroker/internal/model"
	"github.com/marmos91/docbroker/internal/pool"
	"github.com/marmos91/docbroker/internal/store/mongo"
	"github.com/marmos91/docbroker/internal/telemetry"
	"github.com/marmos91/docbroker/pkg/api"
	"github.com/marmos91/docbroker/pkg/config"
	"github.com/marmos91/docbroker/pkg/metrics"
	"github.com/marmos91/docbroker/pkg/server"

	// Import prometheus metrics to register init() functions
	_ "github.com/marmos91/docbroker/pkg/metrics/prometheus"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the docbroker server",
	Long: `Start the docbroker server with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/docbroker/config.yaml.

Examples:
  # Start with default config location
  docbroker start

  # Start with custom config file
  docbroker start --config /etc/docbroker/config.yaml

  # Start with environment variable overrides
  DOCBROKER_LOGGING_LEVEL=DEBUG docbroker start

  # Start with flag overrides
  docbroker start --port 4200 --log-level DEBUG`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().String("bind-address", "", "interface to bind the broker listener (overrides server.bind_address)")
	startCmd.Flags().Int("port", 0, "broker TCP port (overrides server.port)")
	startCmd.Flags().Int("max-connections", 0, "client connection cap (overrides server.max_connections)")
	startCmd.Flags().Int("workers", 0, "scheduler parallelism cap (overrides server.workers)")
	startCmd.Flags().String("store-uri", "", "document store connection string (overrides store.uri)")
	startCmd.Flags().String("log-level", "", "log level: DEBUG, INFO, WARN or ERROR (overrides logging.level)")
	startCmd.Flags().String("log-format", "", "log format: text or json (overrides logging.format)")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile(), cmd.Flags())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "docbroker",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "docbroker",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	fmt.Println("docbroker - BSON request broker for MongoDB")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	} else {
		logger.Info("Profiling disabled")
	}

	// Cap request parallelism before anything spawns goroutines
	if cfg.Server.Workers > 0 {
		runtime.GOMAXPROCS(cfg.Server.Workers)
		logger.Info("Worker cap applied", "workers", cfg.Server.Workers)
	}

	// Initialize prometheus FIRST so the instrument constructors are live
	// before any consumer asks for them
	if cfg.Admin.Enabled && cfg.Admin.Prometheus {
		metrics.InitRegistry()
		logger.Info("Prometheus metrics enabled")
	} else {
		logger.Info("Prometheus metrics disabled")
	}

	// Connect the document store
	st, err := mongo.Connect(ctx, mongo.Config{
		URI:            cfg.Store.URI,
		ConnectTimeout: cfg.Store.ConnectTimeout,
		AppName:        cfg.Store.AppName,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to store: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := st.Close(closeCtx); err != nil {
			logger.Error("store close error", "error", err)
		}
	}()
	logger.Info("Store connected", "uri", cfg.Store.URI)

	// Session pool
	p := pool.New(ctx, st, pool.Config{
		InitialSize:    cfg.Pool.InitialSize,
		MaxIdle:        cfg.Pool.MaxIdle,
		MaxConnections: cfg.Pool.MaxConnections,
		IdleTTL:        cfg.Pool.IdleTTL,
		SweepInterval:  cfg.Pool.SweepInterval,
	})
	defer p.Close()
	logger.Info("Session pool ready", "max_connections", cfg.Pool.MaxConnections, "initial_size", cfg.Pool.InitialSize)

	// Version history writer
	historyLocation := model.Location{
		Database:   cfg.History.Database,
		Collection: cfg.History.Collection,
	}
	hw := history.NewWriter(historyLocation)
	if err := ensureHistoryIndexes(ctx, p, hw); err != nil {
		logger.Warn("history index setup failed", "error", err)
	}
	logger.Info("History writer configured", "location", historyLocation.String())

	// Telemetry pipeline (request metrics to store or ILP endpoint)
	collector, err := buildCollector(ctx, cfg, st)
	if err != nil {
		return err
	}
	if collector != nil {
		defer collector.Close()
	}

	// Dispatcher over pool and history
	opts := broker.Options{Prom: metrics.NewBrokerMetrics()}
	if collector != nil {
		opts.Recorder = collector
	}
	dispatcher := broker.New(p, hw, opts)
	defer dispatcher.Close()

	// Pool gauge snapshots
	startPoolGauges(ctx, p)

	// TCP broker server
	srv := server.New(server.Config{
		BindAddress:     cfg.Server.BindAddress,
		Port:            cfg.Server.Port,
		MaxConnections:  cfg.Server.MaxConnections,
		ReadTimeout:     cfg.Server.ReadTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, dispatcher)

	// Admin HTTP listener (if enabled)
	if cfg.Admin.Enabled {
		adminSrv := api.NewServer(api.Config{
			Enabled:     true,
			BindAddress: cfg.Admin.BindAddress,
			Port:        cfg.Admin.Port,
		}, p, collector)
		go func() {
			if err := adminSrv.Start(ctx); err != nil {
				logger.Error("admin listener error", "error", err)
			}
		}()
		logger.Info("Admin listener enabled", "port", cfg.Admin.Port)
	} else {
		logger.Info("Admin listener disabled")
	}

	// Start server in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()
	logger.Info("Broker listening", "bind", cfg.Server.BindAddress, "port", cfg.Server.Port)

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		// Wait for server to shut down gracefully
		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}

// buildCollector assembles the request metric pipeline configured under
// [metrics]. Returns nil when capture is disabled.
func buildCollector(ctx context.Context, cfg *config.Config, st *mongo.Store) (*brokermetrics.Collector, error) {
	if !cfg.Metrics.Enabled {
		logger.Info("Request metric capture disabled")
		return nil, nil
	}

	var sink brokermetrics.Sink
	switch cfg.Metrics.Sink {
	case "ilp":
		sink = brokermetrics.NewILPSink(cfg.Metrics.Endpoint, cfg.Metrics.Measurement)
		logger.Info("Metric sink configured", "sink", "ilp", "endpoint", cfg.Metrics.Endpoint)
	default:
		storeSink, err := brokermetrics.NewStoreSink(ctx, st, model.Location{
			Database:   cfg.Metrics.Database,
			Collection: cfg.Metrics.Collection,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open metric sink: %w", err)
		}
		if err := storeSink.EnsureIndexes(ctx); err != nil {
			logger.Warn("metric index setup failed", "error", err)
		}
		sink = storeSink
		logger.Info("Metric sink configured", "sink", "store",
			"location", cfg.Metrics.Database+"."+cfg.Metrics.Collection)
	}

	return brokermetrics.NewCollector(sink, brokermetrics.Config{
		QueueSize:     cfg.Metrics.QueueSize,
		BatchSize:     cfg.Metrics.BatchSize,
		FlushInterval: cfg.Metrics.FlushInterval,
	}), nil
}

// ensureHistoryIndexes creates the history collection indexes on a borrowed
// session.
func ensureHistoryIndexes(ctx context.Context, p *pool.Pool, hw *history.Writer) error {
	lease, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()
	return hw.EnsureIndexes(ctx, lease.Session)
}

// startPoolGauges publishes pool counters to prometheus on a fixed cadence
// until ctx is cancelled. A no-op when metrics are disabled.
func startPoolGauges(ctx context.Context, p *pool.Pool) {
	pm := metrics.NewPoolMetrics()
	if pm == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := p.Stats()
				pm.ObservePool(stats.Active, stats.Idle, stats.TotalCreated, stats.Exhausted)
			}
		}
	}()
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
