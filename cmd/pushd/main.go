// Command pushd runs the push ingestion and notification dispatcher as a
// daemon. Inbound actions arrive over NATS or HTTP; analytics messages are
// batched into envelopes and uploaded over HTTP or to S3.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/SebastienMelki/causality-push/internal/alarm"
	"github.com/SebastienMelki/causality-push/internal/analytics"
	"github.com/SebastienMelki/causality-push/internal/appstate"
	"github.com/SebastienMelki/causality-push/internal/auth"
	"github.com/SebastienMelki/causality-push/internal/batch"
	"github.com/SebastienMelki/causality-push/internal/broadcast"
	"github.com/SebastienMelki/causality-push/internal/config"
	"github.com/SebastienMelki/causality-push/internal/dedup"
	"github.com/SebastienMelki/causality-push/internal/device"
	"github.com/SebastienMelki/causality-push/internal/dispatch"
	"github.com/SebastienMelki/causality-push/internal/identity"
	"github.com/SebastienMelki/causality-push/internal/messaging"
	"github.com/SebastienMelki/causality-push/internal/nats"
	"github.com/SebastienMelki/causality-push/internal/notify"
	"github.com/SebastienMelki/causality-push/internal/observability"
	"github.com/SebastienMelki/causality-push/internal/storage"
	"github.com/SebastienMelki/causality-push/internal/transport"
	"github.com/SebastienMelki/causality-push/internal/wake"
)

// Uploader kinds.
const (
	UploaderHTTP = "http"
	UploaderS3   = "s3"
)

// Config holds all daemon configuration.
type Config struct {
	// LogLevel is the log level (debug, info, warn, error)
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// LogFormat is the log format (json, text)
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// SDKConfigPath points at the JSON SDK configuration. When empty the
	// SDK configuration is built from PUSH_API_KEY and PUSH_ENVIRONMENT.
	SDKConfigPath string `env:"PUSH_SDK_CONFIG"`
	APIKey        string `env:"PUSH_API_KEY"`
	Environment   string `env:"PUSH_ENVIRONMENT" envDefault:"production"`

	// Scope is the package scope broadcasts are addressed to.
	Scope string `env:"PUSH_SCOPE" envDefault:"com.example.app"`

	DBPath   string `env:"PUSH_DB_PATH"   envDefault:"pushd.db"`
	HTTPAddr string `env:"PUSH_HTTP_ADDR" envDefault:":8090"`

	// AdminTokens guard the admin HTTP API. Empty disables authentication.
	AdminTokens []string `env:"PUSH_ADMIN_TOKENS" envSeparator:","`

	// Uploader is "http" or "s3".
	Uploader string                 `env:"PUSH_UPLOADER" envDefault:"http"`
	Upload   transport.ClientConfig `envPrefix:"PUSH_UPLOAD_"`
	S3       transport.S3Config     `envPrefix:"PUSH_S3_"`

	Dedup dedup.Config `envPrefix:"PUSH_DEDUP_"`

	NATSEnabled bool        `env:"PUSH_NATS_ENABLED" envDefault:"true"`
	NATS        nats.Config `envPrefix:""`

	ShutdownTimeout time.Duration `env:"PUSH_SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Error("failed to parse config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("pushd failed", "error", err)
		os.Exit(1)
	}
	logger.Info("pushd stopped")
}

func run(cfg Config, logger *slog.Logger) error {
	sdkCfg, err := loadSDKConfig(cfg)
	if err != nil {
		return err
	}
	settings := config.NewManager(sdkCfg)

	logger.Info("starting pushd",
		"environment", settings.Environment(),
		"uploader", cfg.Uploader,
		"nats_enabled", cfg.NATSEnabled,
		"http_addr", cfg.HTTPAddr,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	obs, err := observability.New("causality-pushd")
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		if err := obs.Shutdown(context.Background()); err != nil {
			logger.Error("observability shutdown error", "error", err)
		}
	}()
	metrics, err := observability.NewMetrics(obs.Meter())
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	db, err := storage.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	prefs := storage.NewPrefs(db)
	queue := storage.NewQueue(db, settings.MaxQueueSize())
	devices := device.NewManager(prefs)

	appState := appstate.NewManager(
		time.Duration(settings.SessionTimeoutMs())*time.Millisecond,
		func(sessionID string) {
			logger.Info("session started", "session_id", sessionID)
		},
		func(sessionID string, durationMs int64) {
			moved, err := queue.MoveToHistory(context.Background(), sessionID)
			if err != nil {
				logger.Error("failed to move session to history", "session_id", sessionID, "error", err)
				return
			}
			logger.Info("session ended", "session_id", sessionID, "duration_ms", durationMs, "messages", moved)
		},
	)

	uploader, err := newUploader(ctx, cfg, settings, metrics, logger)
	if err != nil {
		return err
	}
	batcher := batch.NewBatcher(
		queue,
		batch.NewAssembler(settings, prefs),
		uploader,
		devices,
		settings,
		settings.BatchSize(),
		time.Duration(settings.UploadIntervalMs())*time.Millisecond,
		metrics,
		logger,
	)
	analyticsLogger := analytics.NewLogger(batcher, appState, devices, prefs, logger)

	bus := broadcast.NewBus(logger)
	router := broadcast.NewRouter(bus, bus, cfg.Scope, metrics, logger)

	dedupFilter := dedup.New(cfg.Dedup, metrics, logger)
	scheduler := alarm.NewScheduler(storage.NewAlarmStore(db), metrics, logger)
	notifications := notify.NewLogManager(logger)
	renderer := notify.NewRenderer(notifications, analyticsLogger, appState, settings, metrics, logger)

	dispatcher := dispatch.New(dispatch.Deps{
		Guard:         wake.NewGuard(wake.NopLock{}, logger),
		Decoder:       messaging.NewDecoder(settings.PushKeys(), messaging.WithLogger(logger)),
		Scheduler:     scheduler,
		Renderer:      renderer,
		Router:        router,
		Analytics:     analyticsLogger,
		Notifications: notifications,
		State:         appState,
		Launcher:      logLauncher{logger: logger},
		Deduper:       dedupFilter,
		Metrics:       metrics,
	}, logger)
	router.SetFallback(dispatcher)

	var natsRT *natsRuntime
	var natsClient *nats.Client
	if cfg.NATSEnabled {
		natsRT, err = startNATS(ctx, cfg.NATS, router, dispatcher, metrics, logger)
		if err != nil {
			return err
		}
		natsClient = natsRT.client
	}

	// Start order: consumers of the dispatcher come up after it.
	appState.AppLaunched()
	dedupFilter.Start(ctx)
	batcher.StartFlushLoop(ctx)
	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	if err := scheduler.Start(ctx, dispatcher.FireDelayed); err != nil {
		return fmt.Errorf("start alarm scheduler: %w", err)
	}
	if natsRT != nil {
		if natsRT.deadLetter != nil {
			if err := natsRT.deadLetter.Start(ctx); err != nil {
				return fmt.Errorf("start dead-letter forwarding: %w", err)
			}
		}
		if err := natsRT.subscriber.Start(ctx); err != nil {
			return fmt.Errorf("start NATS subscriber: %w", err)
		}
	}

	mux := newAdminMux(adminDeps{
		Dispatcher: dispatcher,
		Lifecycle:  appState,
		Flusher:    batcher,
		Users:      identity.NewStore(prefs, settings.APIKey()),
		OptOut:     settings,
		NATS:       natsClient,
		Obs:        obs,
		Metrics:    metrics,
		Logger:     logger,
	})
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           auth.NewGuard(cfg.AdminTokens, logger).Middleware()(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		runErr = fmt.Errorf("http server: %w", err)
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	if natsRT != nil {
		natsRT.subscriber.Stop()
	}
	scheduler.Stop()
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Error("dispatcher shutdown error", "error", err)
	}
	bus.Close()
	appState.AppTerminated()
	batcher.Stop()
	dedupFilter.Stop()
	cancel()

	if natsRT != nil {
		if natsRT.deadLetter != nil {
			natsRT.deadLetter.Stop()
		}
		if err := natsRT.client.Drain(); err != nil {
			logger.Error("NATS drain error", "error", err)
		}
	}
	return runErr
}

func loadSDKConfig(cfg Config) (*config.Config, error) {
	if cfg.SDKConfigPath != "" {
		data, err := os.ReadFile(cfg.SDKConfigPath)
		if err != nil {
			return nil, fmt.Errorf("read SDK config: %w", err)
		}
		return config.FromJSON(data)
	}

	c := &config.Config{APIKey: cfg.APIKey, Environment: cfg.Environment}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func newUploader(ctx context.Context, cfg Config, settings *config.Manager, metrics *observability.Metrics, logger *slog.Logger) (batch.Uploader, error) {
	switch cfg.Uploader {
	case UploaderS3:
		u, err := transport.NewS3Uploader(ctx, cfg.S3, metrics, logger)
		if err != nil {
			return nil, fmt.Errorf("create S3 uploader: %w", err)
		}
		if err := u.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return u, nil
	case UploaderHTTP, "":
		upload := cfg.Upload
		if upload.APIKey == "" {
			upload.APIKey = settings.APIKey()
		}
		return transport.NewClient(upload, metrics, logger), nil
	default:
		return nil, fmt.Errorf("unknown uploader %q", cfg.Uploader)
	}
}

// natsRuntime groups the components that exist only when NATS is enabled.
type natsRuntime struct {
	client     *nats.Client
	subscriber *nats.Subscriber
	deadLetter *nats.DeadLetter
}

func startNATS(
	ctx context.Context,
	cfg nats.Config,
	router *broadcast.Router,
	dispatcher *dispatch.Dispatcher,
	metrics *observability.Metrics,
	logger *slog.Logger,
) (*natsRuntime, error) {
	client, err := nats.NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	stream, err := nats.EnsureStream(ctx, client.JetStream(), cfg, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	consumer, err := nats.EnsureConsumer(ctx, stream, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}

	rt := &natsRuntime{
		client:     client,
		subscriber: nats.NewSubscriber(consumer, dispatcher, cfg.Consumer.FetchSize, metrics, logger),
	}
	if cfg.Consumer.DeadLetter {
		rt.deadLetter = nats.NewDeadLetter(client.Conn(), stream, client.JetStream(), cfg, metrics, logger)
	}
	router.AddMirror(nats.NewPublisher(client.JetStream(), cfg, logger))
	return rt, nil
}

// setupLogger creates a logger based on configuration.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
