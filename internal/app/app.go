// Package app wires every pipeline component described in SPEC_FULL.md
// into one running process: configuration, the ingestion queue, the
// processing orchestrator, the notification engine, the result
// broadcaster, the supplemental file monitor, and a small HTTP surface
// for health, stats, metrics, and log submission.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ssw-logs-capture/internal/config"
	"ssw-logs-capture/internal/dispatcher"
	"ssw-logs-capture/internal/metrics"
	"ssw-logs-capture/internal/monitors"
	"ssw-logs-capture/internal/processing"
	"ssw-logs-capture/pkg/apperrors"
	"ssw-logs-capture/pkg/broadcast"
	"ssw-logs-capture/pkg/dlq"
	"ssw-logs-capture/pkg/logentry"
	"ssw-logs-capture/pkg/notify"

	"github.com/sirupsen/logrus"
)

// App is the main application instance coordinating the ingestion queue,
// the processing orchestrator, the notification/broadcast fan-out, the
// supplemental file monitor, and the HTTP surface.
type App struct {
	config *config.Config
	logger *logrus.Logger

	queue        *dispatcher.Queue
	orchestrator *processing.Orchestrator
	notifyEngine *notify.Engine
	broadcaster  *broadcast.Broadcaster
	errHandler   *apperrors.Handler
	history      *metrics.HistoryRecorder
	dlqRing      *dlq.Ring
	fileMonitor  *monitors.FileMonitor
	hostStats    *metrics.HostStatsUpdater
	kafkaChannel *notify.KafkaChannel

	httpServer *http.Server

	ctx        context.Context
	cancel     context.CancelFunc
	configFile string
	startTime  time.Time
	wg         sync.WaitGroup
}

// New loads the configuration at configFile and constructs every
// component it names, ready to Start.
func New(configFile string) (*App, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.App.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		config:     cfg,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		configFile: configFile,
	}

	logger.WithFields(logrus.Fields{
		"server_enabled": cfg.Server.Enabled,
		"server_host":    cfg.Server.Host,
		"server_port":    cfg.Server.Port,
	}).Info("Server configuration loaded")

	if err := app.initializeComponents(); err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	return app, nil
}

// initializeComponents builds every collaborator in dependency order:
// broadcaster/error handler first (they are cycle-breaking leaves), then
// the pipeline stages, then the orchestrator, then the queue that drives
// it, then the supplemental file monitor, and finally the HTTP surface.
func (app *App) initializeComponents() error {
	if err := app.initPipeline(); err != nil {
		return err
	}
	if err := app.initQueue(); err != nil {
		return err
	}
	if err := app.initFileMonitor(); err != nil {
		return err
	}
	app.initHostStats()
	app.initHTTPServer()
	return nil
}

// Start begins the application lifecycle: host stats sampling, the
// ingestion queue's worker pool, the supplemental file monitor, and the
// HTTP server (in a background goroutine).
func (app *App) Start() error {
	app.logger.Info("Starting SSW Logs Capture Go")
	app.startTime = time.Now()

	if app.hostStats != nil {
		app.hostStats.Start()
	}
	if err := app.queue.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start queue: %w", err)
	}
	if app.fileMonitor != nil {
		if err := app.fileMonitor.Start(app.ctx); err != nil {
			return fmt.Errorf("failed to start file monitor: %w", err)
		}
	}
	if app.httpServer != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.logger.WithField("addr", app.httpServer.Addr).Info("Starting HTTP server")
			if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				app.logger.WithError(err).Error("HTTP server error")
			}
		}()
	}

	app.logger.Info("SSW Logs Capture Go started successfully")
	return nil
}

// Stop performs graceful shutdown: cancel the root context, drain the
// queue, stop the file monitor, close the Kafka channel, and shut down
// the HTTP server within a bounded timeout.
func (app *App) Stop() error {
	app.logger.Info("Stopping SSW Logs Capture Go")
	app.cancel()

	if app.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := app.httpServer.Shutdown(ctx); err != nil {
			app.logger.WithError(err).Error("Failed to shut down HTTP server")
		}
	}
	if app.fileMonitor != nil {
		app.fileMonitor.Stop()
	}
	if app.hostStats != nil {
		app.hostStats.Stop()
	}

	app.queue.Stop()

	if app.kafkaChannel != nil {
		if err := app.kafkaChannel.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close Kafka notification channel")
		}
	}

	app.wg.Wait()
	app.logger.Info("SSW Logs Capture Go stopped")
	return nil
}

// Run starts the application and blocks until SIGINT or SIGTERM is
// received, then performs graceful shutdown.
func (app *App) Run() error {
	if err := app.Start(); err != nil {
		return err
	}
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	app.logger.Info("Shutdown signal received")
	return app.Stop()
}

// Enqueue exposes the ingestion queue's submission interface directly,
// for callers embedding App as a library rather than driving it over
// HTTP. A higher layer (HTTP handler, file monitor) is responsible for
// authentication, rate limiting, and edge validation.
func (app *App) Enqueue(content, sourcePath, sourceName string, priority logentry.Priority) bool {
	entry := logentry.New(content, sourcePath, sourceName, priority, time.Now().UTC())
	return app.queue.Enqueue(entry)
}
