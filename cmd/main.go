// Convassist Workflow Daemon
//
// Standalone daemon hosting the conversion workflow manager: session
// state machines, the commbus surface for other services, Prometheus
// metrics, and background session cleanup.
//
// Usage:
//
//	go run ./cmd/main.go                        # Metrics on :9464
//	go run ./cmd/main.go -metrics-addr :8080    # Custom metrics port
//	go build -o convassistd ./cmd && ./convassistd
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datamorph-labs/convassist/commbus"
	"github.com/datamorph-labs/convassist/coreengine/bridge"
	"github.com/datamorph-labs/convassist/coreengine/config"
	"github.com/datamorph-labs/convassist/coreengine/convert"
	"github.com/datamorph-labs/convassist/coreengine/observability"
	"github.com/datamorph-labs/convassist/coreengine/versionstore"
	"github.com/datamorph-labs/convassist/coreengine/workflow"
)

// stdLogger implements the package Logger interfaces using standard library log.
type stdLogger struct{}

func (l *stdLogger) Debug(msg string, keysAndValues ...any) {
	log.Printf("[DEBUG] %s %v", msg, keysAndValues)
}

func (l *stdLogger) Info(msg string, keysAndValues ...any) {
	log.Printf("[INFO] %s %v", msg, keysAndValues)
}

func (l *stdLogger) Warn(msg string, keysAndValues ...any) {
	log.Printf("[WARN] %s %v", msg, keysAndValues)
}

func (l *stdLogger) Error(msg string, keysAndValues ...any) {
	log.Printf("[ERROR] %s %v", msg, keysAndValues)
}

func loadConfig(path string) (*config.CoreConfig, error) {
	if path == "" {
		return config.DefaultCoreConfig(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return config.CoreConfigFromMap(values), nil
}

func main() {
	// Parse command-line flags
	metricsAddr := flag.String("metrics-addr", ":9464", "Prometheus metrics listen address")
	configPath := flag.String("config", "", "Path to JSON config file (defaults apply when empty)")
	otlpEndpoint := flag.String("otlp-endpoint", "", "OTLP trace collector endpoint (tracing disabled when empty)")
	queryTimeout := flag.Duration("query-timeout", 5*time.Second, "Commbus query timeout")
	flag.Parse()

	logger := &stdLogger{}
	logger.Info("convassist_starting", "version", "1.0.0", "metrics_addr", *metricsAddr)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	config.SetCoreConfig(cfg)

	// Tracing is optional; the daemon runs fine without a collector.
	if *otlpEndpoint != "" {
		shutdownTracer, err := observability.InitTracer("convassist", *otlpEndpoint)
		if err != nil {
			logger.Warn("tracer_init_failed", "error", err.Error())
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracer(ctx); err != nil {
					logger.Warn("tracer_shutdown_failed", "error", err.Error())
				}
			}()
			logger.Info("tracer_initialized", "endpoint", *otlpEndpoint)
		}
	}

	// Assemble the workflow manager and its collaborators.
	versions := versionstore.NewStore(logger)

	var rateLimit *workflow.RateLimitConfig
	if cfg.RateLimitEnabled {
		rateLimit = &workflow.RateLimitConfig{
			RequestsPerMinute: cfg.RequestsPerMinute,
			RequestsPerHour:   cfg.RequestsPerHour,
		}
	}
	manager := workflow.NewManager(logger, &workflow.ManagerConfig{
		MaxRetryAttempts:       cfg.MaxRetryAttempts,
		RequiredMetadataFields: cfg.RequiredMetadataFields,
		MaxMetadataQuestions:   cfg.MaxMetadataQuestions,
		QuestionTTL:            cfg.QuestionTTL(),
		RateLimit:              rateLimit,
	}, versions)
	manager.OnEvent(observability.NewMetricsObserver())

	// The daemon advertises format capabilities over the bus; concrete
	// converter backends are registered by the embedding integration.
	registry := convert.NewFormatRegistry(logger)
	registry.Register(convert.NewFormatInfo("nwb", ".nwb"), nil)

	bus := commbus.NewInMemoryCommBus(*queryTimeout)
	bus.SetLogger(logger)

	busLogging := commbus.NewLoggingMiddleware(cfg.LogLevel)
	busLogging.SetLogger(logger)
	bus.AddMiddleware(busLogging)

	br := bridge.New(logger, bus, manager, registry, bridge.NewMemorySessionStore())
	if err := br.Attach(); err != nil {
		log.Fatalf("Failed to attach bridge: %v", err)
	}

	stopCleanup := manager.StartCleanupLoop(workflow.CleanupConfig{
		Interval:          cfg.CleanupInterval(),
		TerminalRetention: cfg.TerminalRetention(),
		StaleRetention:    cfg.StaleRetention(),
	})
	defer stopCleanup()

	// Metrics endpoint.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	httpServer := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Metrics server failed: %v", err)
		}
	}()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("convassist_ready", "metrics_addr", *metricsAddr)
	fmt.Printf("\nConvassist workflow daemon running, metrics on %s\n", *metricsAddr)
	fmt.Println("Press Ctrl+C to stop")

	sig := <-sigCh
	logger.Info("shutdown_signal_received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("metrics_server_shutdown_failed", "error", err.Error())
	}
	logger.Info("convassist_stopped")
}
