// Package app initialization methods for component setup and configuration
package app

import (
	"net/http"
	"strconv"
	"time"

	"ssw-logs-capture/internal/dispatcher"
	"ssw-logs-capture/internal/metrics"
	"ssw-logs-capture/internal/monitors"
	"ssw-logs-capture/internal/processing"
	"ssw-logs-capture/pkg/analyzer"
	"ssw-logs-capture/pkg/apperrors"
	"ssw-logs-capture/pkg/broadcast"
	"ssw-logs-capture/pkg/clock"
	"ssw-logs-capture/pkg/dlq"
	"ssw-logs-capture/pkg/formatdetect"
	"ssw-logs-capture/pkg/logentry"
	"ssw-logs-capture/pkg/notify"
	"ssw-logs-capture/pkg/parsing"
	"ssw-logs-capture/pkg/persistence"
	"ssw-logs-capture/pkg/security"

	"github.com/gorilla/mux"
)

// initPipeline builds the broadcaster, error handler, pipeline stage
// collaborators, the notification engine, and the orchestrator that ties
// them together. Order matters: the broadcaster is built first since the
// error handler reports to it as an ErrorSink, breaking the cycle that
// would otherwise exist between error handling and the orchestrator
// (design note 9).
func (app *App) initPipeline() error {
	clk := clock.Real()
	now := func() time.Time { return clk.Now() }

	app.broadcaster = broadcast.New(app.logger, clk)
	app.errHandler = apperrors.NewHandler(500, app.broadcaster)

	validator := security.NewValidator(security.ValidatorConfig{
		MaxContentLength: app.config.Security.MaxContentLength,
		MaxLineLength:    app.config.Security.MaxLineLength,
	})
	sanitizer := security.NewSanitizer(security.SanitizerConfig{
		MaxLineLength:              app.config.Security.MaxLineLength,
		MaxConsecutiveReplacements: app.config.Security.MaxConsecutiveReplacements,
	}, clk)
	parser := parsing.New(now)
	detector := formatdetect.New(formatdetect.Config{MaxPatterns: app.config.FormatDetect.MaxPatterns}, app.logger, now)
	scorer := analyzer.NewLocalScorer(now)
	store := persistence.NewMemoryStore()
	app.history = metrics.NewHistoryRecorder(500)

	if err := app.initNotifyEngine(clk); err != nil {
		return err
	}

	procCfg := processing.DefaultConfig()
	if app.config.Processing.AnalyzerTimeoutMs > 0 {
		procCfg.AnalyzerTimeout = time.Duration(app.config.Processing.AnalyzerTimeoutMs) * time.Millisecond
	}
	if app.config.Processing.ChannelSendTimeoutMs > 0 {
		procCfg.NotificationTimeout = time.Duration(app.config.Processing.ChannelSendTimeoutMs) * time.Millisecond
	}

	app.orchestrator = processing.New(
		procCfg,
		app.logger,
		clk,
		validator,
		sanitizer,
		parser,
		detector,
		scorer,
		store,
		app.notifyEngine,
		app.broadcaster,
		app.errHandler,
		app.history,
	)
	return nil
}

// initNotifyEngine builds the notification engine's channel registry and
// rule set from configuration. The Kafka channel is optional; if disabled
// the engine runs with zero channels and every rule match is a harmless
// no-op dispatch.
func (app *App) initNotifyEngine(clk clock.Clock) error {
	channels := make(map[string]notify.Channel)

	if app.config.Notify.Kafka.Enabled {
		kafkaCfg := notify.KafkaChannelConfig{
			Brokers:       app.config.Notify.Kafka.Brokers,
			Topic:         app.config.Notify.Kafka.Topic,
			Compression:   app.config.Notify.Kafka.Compression,
			SASLUser:      app.config.Notify.Kafka.SASL.Username,
			SASLPassword:  app.config.Notify.Kafka.SASL.Password,
			SASLMechanism: app.config.Notify.Kafka.SASL.Mechanism,
		}
		channel, err := notify.NewKafkaChannel(kafkaCfg, app.logger)
		if err != nil {
			return err
		}
		app.kafkaChannel = channel
		channels["kafka"] = channel
	}

	rules := make([]notify.Rule, 0, len(app.config.Notify.Rules))
	for _, r := range app.config.Notify.Rules {
		categories := make([]parsing.Category, 0, len(r.Categories))
		for _, c := range r.Categories {
			categories = append(categories, parsing.Category(c))
		}
		rules = append(rules, notify.Rule{
			ID:              r.ID,
			Enabled:         r.Enabled,
			MinSeverity:     r.MinSeverity,
			MaxSeverity:     r.MaxSeverity,
			Categories:      categories,
			Sources:         r.Sources,
			Channels:        r.Channels,
			ThrottleMinutes: r.ThrottleMinutes,
		})
	}

	app.notifyEngine = notify.New(notify.DefaultConfig(), rules, channels, app.logger, clk)
	return nil
}

// initQueue builds the bounded ingestion queue, wires the orchestrator in
// as its batch processor, and installs a dead-letter ring plus a terminal
// failure logger.
func (app *App) initQueue() error {
	clk := clock.Real()
	now := func() time.Time { return clk.Now() }

	app.dlqRing = dlq.NewRing(dlq.DefaultConfig(), app.logger, now)

	qCfg := dispatcher.Config{
		MaxQueueSize:  app.config.Queue.MaxQueueSize,
		Workers:       app.config.Queue.Workers,
		BatchSize:     app.config.Queue.BatchSize,
		FlushInterval: time.Duration(app.config.Queue.FlushIntervalMs) * time.Millisecond,
		MaxRetries:    app.config.Queue.MaxRetries,
		RetryBase:     time.Duration(app.config.Queue.RetryBaseMs) * time.Millisecond,
		RetryMax:      time.Duration(app.config.Queue.RetryMaxMs) * time.Millisecond,
	}
	app.queue = dispatcher.New(qCfg, app.logger, now)
	app.queue.SetBatchProcessor(app.orchestrator.ProcessBatch)
	app.queue.SetDeadLetterSink(app.dlqRing)
	app.queue.SetErrorHandler(func(entry *logentry.LogEntry) {
		app.logger.WithFields(map[string]interface{}{
			"source_path": entry.SourcePath(),
			"source_name": entry.SourceName(),
		}).Warn("Entry reached a terminal failure state")
	})
	return nil
}

// initFileMonitor constructs the supplemental file-tailing monitor when
// enabled, converting the flat config surface into monitors.Config.
func (app *App) initFileMonitor() error {
	if !app.config.FileMonitor.Enabled {
		return nil
	}
	mCfg := monitors.Config{
		WatchDirectories:    app.config.FileMonitor.WatchDirectories,
		IncludePatterns:     app.config.FileMonitor.IncludePatterns,
		ExcludePatterns:     app.config.FileMonitor.ExcludePatterns,
		SeekStrategy:        app.config.FileMonitor.SeekStrategy,
		SeekRecentBytes:     app.config.FileMonitor.SeekRecentBytes,
		IgnoreOldTimestamps: app.config.FileMonitor.IgnoreOldTimestamps,
	}
	fm, err := monitors.NewFileMonitor(mCfg, app.queue, app.logger)
	if err != nil {
		return err
	}
	app.fileMonitor = fm
	return nil
}

// initHostStats starts the periodic runtime/host resource sampler that
// feeds internal/metrics' gauges, when metrics are enabled.
func (app *App) initHostStats() {
	if !app.config.Metrics.Enabled {
		return
	}
	app.hostStats = metrics.NewHostStatsUpdater(app.logger, 30*time.Second)
}

// initHTTPServer builds the gorilla/mux router and wraps it in an
// *http.Server, when the server is enabled in configuration.
func (app *App) initHTTPServer() {
	if !app.config.Server.Enabled {
		return
	}
	router := mux.NewRouter()
	app.registerHandlers(router)

	addr := app.config.Server.Host + ":" + strconv.Itoa(app.config.Server.Port)
	app.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}
