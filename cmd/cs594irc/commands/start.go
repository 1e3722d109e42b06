package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crzysdrs/CS594IRC/internal/logger"
	"github.com/crzysdrs/CS594IRC/pkg/broker"
	"github.com/crzysdrs/CS594IRC/pkg/config"
	"github.com/crzysdrs/CS594IRC/pkg/metrics"

	// Import prometheus metrics to register init() functions
	_ "github.com/crzysdrs/CS594IRC/pkg/metrics/prometheus"
)

var (
	startHostname string
	startPort     int
	startLogFile  string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the relay server",
	Long: `Start the relay server with the specified configuration.

Configuration is read from the config file (if any), overridden by
CS594IRC_* environment variables, overridden in turn by flags.

Examples:
  # Start with default config location
  cs594irc start

  # Start on a specific interface and port
  cs594irc start --hostname 0.0.0.0 --port 6667

  # Log to a file instead of stdout
  cs594irc start --log /var/log/cs594irc.log

  # Start with environment variable overrides
  CS594IRC_LOGGING_LEVEL=DEBUG cs594irc start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startHostname, "hostname", "", "Hostname or address to bind (default: localhost)")
	startCmd.Flags().IntVar(&startPort, "port", 0, "TCP port to listen on (default: 50000)")
	startCmd.Flags().StringVar(&startLogFile, "log", "", "Path to log file (default: stdout)")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Flags win over file and environment.
	if cmd.Flags().Changed("hostname") {
		cfg.Listen.Hostname = startHostname
	}
	if cmd.Flags().Changed("port") {
		cfg.Listen.Port = startPort
	}
	if cmd.Flags().Changed("log") {
		cfg.Logging.Output = startLogFile
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics are opt-in; the registry must exist before the broker metrics
	// constructor runs.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		metricsServer = metrics.NewServer(cfg.Metrics.Port)
		go func() {
			logger.Info("metrics server listening", "port", cfg.Metrics.Port)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", logger.Err(err))
			}
		}()
	} else {
		logger.Info("metrics collection disabled")
	}

	b := broker.New(cfg, metrics.NewBrokerMetrics())

	// Start server in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- b.Serve(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	defer func() {
		if metricsServer != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}
	}()

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()

		// Wait for server to shut down gracefully
		if err := <-serverDone; err != nil {
			logger.Error("server shutdown error", logger.Err(err))
			return err
		}
		logger.Info("server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("server error", logger.Err(err))
			return err
		}
		logger.Info("server stopped")
	}

	return nil
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
