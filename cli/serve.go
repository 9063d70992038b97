package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"

	"github.com/adflow-labs/adflow/engine"
	"github.com/adflow-labs/adflow/notify"
	adflowotel "github.com/adflow-labs/adflow/otel"
	"github.com/adflow-labs/adflow/server"
	"github.com/adflow-labs/adflow/store"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the AdFlow backend HTTP server",
		RunE:  runServe,
	}

	cmd.Flags().IntP("port", "p", 8787, "Listen port")
	cmd.Flags().String("host", "0.0.0.0", "Listen host")
	cmd.Flags().String("cors-origin", "*", "Allowed CORS origin")
	cmd.Flags().String("sqlite-path", "", "Path to SQLite database (default: ~/.adflow/adflow.db)")
	cmd.Flags().String("config", "", "Path to adflow.yaml configuration")
	cmd.Flags().String("tls-cert", "", "TLS certificate file")
	cmd.Flags().String("tls-key", "", "TLS key file")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 0, "HTTP write timeout (0 keeps SSE streams open)")
	cmd.Flags().Int64("max-body", 1<<20, "Max request body size in bytes")
	cmd.Flags().Duration("retention", store.DefaultRetention, "How long terminal executions are kept")
	cmd.Flags().String("janitor-schedule", store.DefaultJanitorSchedule, "Cron schedule for the retention sweep")
	cmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP collector endpoint for trace export")
	cmd.Flags().Bool("otlp-insecure", false, "Use plain HTTP for the OTLP exporter")

	return cmd
}

// serveConfig is the flattened result of merging the config file with flags.
type serveConfig struct {
	host            string
	port            int
	corsOrigin      string
	sqlitePath      string
	tlsCert         string
	tlsKey          string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	maxBody         int64
	retention       time.Duration
	janitorSchedule string
	otlpEndpoint    string
	otlpInsecure    bool
}

// resolveServeConfig loads the optional config file and applies flag
// overrides. A flag the user set always wins over the file.
func resolveServeConfig(cmd *cobra.Command) (serveConfig, error) {
	cfg := serveConfig{}
	cfg.host, _ = cmd.Flags().GetString("host")
	cfg.port, _ = cmd.Flags().GetInt("port")
	cfg.corsOrigin, _ = cmd.Flags().GetString("cors-origin")
	cfg.sqlitePath, _ = cmd.Flags().GetString("sqlite-path")
	cfg.tlsCert, _ = cmd.Flags().GetString("tls-cert")
	cfg.tlsKey, _ = cmd.Flags().GetString("tls-key")
	cfg.readTimeout, _ = cmd.Flags().GetDuration("read-timeout")
	cfg.writeTimeout, _ = cmd.Flags().GetDuration("write-timeout")
	cfg.maxBody, _ = cmd.Flags().GetInt64("max-body")
	cfg.retention, _ = cmd.Flags().GetDuration("retention")
	cfg.janitorSchedule, _ = cmd.Flags().GetString("janitor-schedule")
	cfg.otlpEndpoint, _ = cmd.Flags().GetString("otlp-endpoint")
	cfg.otlpInsecure, _ = cmd.Flags().GetBool("otlp-insecure")

	explicit, _ := cmd.Flags().GetString("config")
	file, found, err := ResolveFileConfig(explicit)
	if err != nil {
		return serveConfig{}, err
	}
	if found {
		applyFileConfig(&cfg, file, cmd)
	}

	if cfg.sqlitePath == "" {
		cfg.sqlitePath = strings.TrimSpace(os.Getenv("ADFLOW_SQLITE_PATH"))
	}
	if cfg.sqlitePath == "" {
		defaultPath, err := DefaultSQLitePath()
		if err != nil {
			return serveConfig{}, fmt.Errorf("resolving default sqlite path: %w", err)
		}
		cfg.sqlitePath = defaultPath
	}
	return cfg, nil
}

// applyFileConfig copies file values into cfg for every flag the user left at
// its default.
func applyFileConfig(cfg *serveConfig, file FileConfig, cmd *cobra.Command) {
	unset := func(name string) bool { return !cmd.Flags().Changed(name) }

	if unset("host") && file.Server.Host != "" {
		cfg.host = file.Server.Host
	}
	if unset("port") && file.Server.Port != 0 {
		cfg.port = file.Server.Port
	}
	if unset("cors-origin") && file.Server.CORSOrigin != "" {
		cfg.corsOrigin = file.Server.CORSOrigin
	}
	if unset("max-body") && file.Server.MaxBody != 0 {
		cfg.maxBody = file.Server.MaxBody
	}
	if unset("read-timeout") && file.Server.ReadTimeout != 0 {
		cfg.readTimeout = file.Server.ReadTimeout
	}
	if unset("write-timeout") && file.Server.WriteTimeout != 0 {
		cfg.writeTimeout = file.Server.WriteTimeout
	}
	if unset("sqlite-path") && file.Storage.SQLitePath != "" {
		cfg.sqlitePath = file.Storage.SQLitePath
	}
	if unset("retention") && file.Storage.Retention != 0 {
		cfg.retention = file.Storage.Retention
	}
	if unset("janitor-schedule") && file.Storage.JanitorSchedule != "" {
		cfg.janitorSchedule = file.Storage.JanitorSchedule
	}
	if unset("otlp-endpoint") && file.Telemetry.OTLPEndpoint != "" {
		cfg.otlpEndpoint = file.Telemetry.OTLPEndpoint
	}
	if unset("otlp-insecure") {
		cfg.otlpInsecure = file.Telemetry.OTLPInsecure
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveServeConfig(cmd)
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}
	logger := slog.Default()

	shutdownTracing, err := adflowotel.SetupTracing(cmd.Context(), adflowotel.ExporterConfig{
		Endpoint: cfg.otlpEndpoint,
		Insecure: cfg.otlpInsecure,
	})
	if err != nil {
		return fmt.Errorf("setting up trace export: %w", err)
	}
	defer func() {
		_ = shutdownTracing(context.Background())
	}()

	st, err := store.Open(store.Config{DSN: cfg.sqlitePath})
	if err != nil {
		return fmt.Errorf("opening sqlite store: %w", err)
	}
	defer func() {
		_ = st.Close()
	}()

	events, err := notify.NewSQLiteEventStore(notify.SQLiteStoreConfig{DSN: cfg.sqlitePath})
	if err != nil {
		return fmt.Errorf("opening sqlite event store: %w", err)
	}
	defer func() {
		_ = events.Close()
	}()

	bus := notify.NewMemBus(notify.MemBusConfig{})

	// Observability: one bus subscriber drives spans, metrics, and the
	// durable event log. Events are stamped with trace context before they
	// are persisted.
	tracer := otelapi.GetTracerProvider().Tracer("adflow/engine")
	meter := otelapi.GetMeterProvider().Meter("adflow/engine")
	tracing := adflowotel.NewTracingHandler(tracer)
	metrics, err := adflowotel.NewMetricsHandler(meter)
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	storeHandler := adflowotel.EnrichHandler(notify.NewStoreSubscriber(events, logger).Handle, tracing)
	notify.Pump(bus.SubscribeAll(), func(event notify.Event) {
		tracing.Handle(event)
		metrics.Handle(event)
		storeHandler(event)
	})

	runner, err := adflowotel.NewObservedRunner(engine.Passthrough{}, meter, tracer)
	if err != nil {
		return fmt.Errorf("initializing runner observability: %w", err)
	}
	eng, err := engine.New(engine.Config{
		Store:  st,
		Bus:    bus,
		Runner: runner,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	janitor, err := store.NewJanitor(store.JanitorConfig{
		Store:     st,
		Events:    events,
		Retention: cfg.retention,
		Schedule:  cfg.janitorSchedule,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("creating janitor: %w", err)
	}
	if err := janitor.Start(); err != nil {
		return fmt.Errorf("starting janitor: %w", err)
	}
	defer janitor.Stop()

	apiServer := server.New(server.Config{
		Store:      st,
		Runner:     eng,
		Bus:        bus,
		Events:     events,
		CORSOrigin: cfg.corsOrigin,
		MaxBody:    cfg.maxBody,
		Logger:     logger,
	})

	addr := net.JoinHostPort(cfg.host, fmt.Sprintf("%d", cfg.port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      apiServer.Handler(),
		ReadTimeout:  cfg.readTimeout,
		WriteTimeout: cfg.writeTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "AdFlow backend listening on %s\n", addr)
		if cfg.tlsCert != "" && cfg.tlsKey != "" {
			errCh <- httpServer.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			errCh <- httpServer.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		_ = bus.Close()
		return nil
	case err := <-errCh:
		_ = bus.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}
