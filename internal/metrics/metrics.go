// Package metrics exposes the pipeline's Prometheus surface: counters and
// gauges for each pipeline stage plus a rolling window of processing-time
// samples, registered through the teacher's promauto global-var idiom.
package metrics

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

var (
	EntriesProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "log_capturer_entries_processed_total",
		Help: "Total number of log entries that completed the processing pipeline",
	})

	EntriesParsedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "log_capturer_entries_parsed_total",
		Help: "Total number of events produced by the parser, by category",
	}, []string{"category"})

	EntriesFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "log_capturer_entries_failed_total",
		Help: "Total number of entries that reached a terminal FAILED state",
	})

	EntriesRetriedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "log_capturer_entries_retried_total",
		Help: "Total number of entry retry attempts scheduled by the queue",
	})

	EntriesDeadLetteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "log_capturer_entries_dead_lettered_total",
		Help: "Total number of entries dead-lettered, by reason",
	}, []string{"reason"})

	ValidationVerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "log_capturer_validation_verdicts_total",
		Help: "Total number of validation verdicts issued, by verdict",
	}, []string{"verdict"})

	AnalysesScoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "log_capturer_analyses_scored_total",
		Help: "Total number of events successfully scored by the analyzer",
	})

	AnalysesFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "log_capturer_analyses_failed_total",
		Help: "Total number of analyzer invocations that returned an error",
	})

	NotificationsTriggeredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "log_capturer_notifications_triggered_total",
		Help: "Total number of rule matches that triggered a notification dispatch",
	}, []string{"rule_id"})

	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "log_capturer_notifications_sent_total",
		Help: "Total number of notifications successfully sent, by channel",
	}, []string{"channel"})

	NotificationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "log_capturer_notifications_failed_total",
		Help: "Total number of notification send failures, by channel",
	}, []string{"channel"})

	NotificationsThrottledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "log_capturer_notifications_throttled_total",
		Help: "Total number of rule matches suppressed by throttling",
	})

	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "log_capturer_broadcasts_total",
		Help: "Total number of messages broadcast, by message type",
	}, []string{"message_type"})

	BroadcastsThrottledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "log_capturer_broadcasts_throttled_total",
		Help: "Total number of broadcasts suppressed by throttling",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "log_capturer_queue_depth",
		Help: "Current number of entries held in the ingestion queue",
	})

	QueuePressure = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "log_capturer_queue_pressure",
		Help: "Current ingestion queue occupancy ratio (0.0 to 1.0)",
	})

	FileMonitorLinesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "log_capturer_file_monitor_lines_total",
		Help: "Total number of lines read from monitored files, by file path",
	}, []string{"file"})

	FileMonitorErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "log_capturer_file_monitor_errors_total",
		Help: "Total number of file monitor errors, by file path",
	}, []string{"file"})

	FileMonitorDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "log_capturer_file_monitor_drops_total",
		Help: "Total number of file monitor lines dropped because the queue rejected them",
	})

	FileMonitorOldLogsIgnoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "log_capturer_file_monitor_old_logs_ignored_total",
		Help: "Total number of file tailers started at end of file so that existing lines are skipped",
	})

	FileMonitorFilesWatched = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "log_capturer_file_monitor_files_watched",
		Help: "Current number of files under active tail",
	})

	ProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "log_capturer_processing_duration_seconds",
		Help:    "Time spent processing a single entry end to end",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	})

	ErrorsByKindTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "log_capturer_errors_by_kind_total",
		Help: "Total number of classified errors handled, by kind",
	}, []string{"kind", "recovery_action"})

	GoroutineCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "log_capturer_goroutines",
		Help: "Number of goroutines",
	})

	HeapAllocBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "log_capturer_heap_alloc_bytes",
		Help: "Bytes of allocated heap objects",
	})

	HostCPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "log_capturer_host_cpu_percent",
		Help: "Host-wide CPU utilization percentage",
	})

	HostMemoryUsedPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "log_capturer_host_memory_used_percent",
		Help: "Host-wide memory utilization percentage",
	})

	ResponseTimeSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "log_capturer_http_response_time_seconds",
		Help:    "HTTP handler response time, by path and method",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"path", "method"})
)

// Handler returns the HTTP handler serving the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HistoryRecorder keeps a bounded rolling window of processing-time samples
// to derive min/max/avg without an unbounded slice, grounded on
// RealtimeProcessingMetrics's 1000-sample buffer trimmed to 500.
type HistoryRecorder struct {
	mu      sync.Mutex
	samples []time.Duration
	max     int
}

// NewHistoryRecorder constructs a recorder capped at max samples.
func NewHistoryRecorder(max int) *HistoryRecorder {
	if max <= 0 {
		max = 500
	}
	return &HistoryRecorder{max: max}
}

// Record appends a sample, trimming the oldest entry once the window is full.
func (h *HistoryRecorder) Record(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = append(h.samples, d)
	if len(h.samples) > h.max {
		h.samples = h.samples[len(h.samples)-h.max:]
	}
}

// HistorySnapshot is the derived view over a HistoryRecorder's window.
type HistorySnapshot struct {
	Count int
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot computes min/max/avg over the current window.
func (h *HistoryRecorder) Snapshot() HistorySnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := HistorySnapshot{Count: len(h.samples)}
	if len(h.samples) == 0 {
		return snap
	}

	var total time.Duration
	snap.Min = h.samples[0]
	snap.Max = h.samples[0]
	for _, s := range h.samples {
		total += s
		if s < snap.Min {
			snap.Min = s
		}
		if s > snap.Max {
			snap.Max = s
		}
	}
	snap.Avg = total / time.Duration(len(h.samples))
	return snap
}

// HostStatsUpdater periodically samples runtime and host-level resource
// usage into the gauges above.
type HostStatsUpdater struct {
	logger   *logrus.Logger
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewHostStatsUpdater constructs an updater sampling every interval.
func NewHostStatsUpdater(logger *logrus.Logger, interval time.Duration) *HostStatsUpdater {
	if logger == nil {
		logger = logrus.New()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HostStatsUpdater{logger: logger, interval: interval, stop: make(chan struct{}), done: make(chan struct{})}
}

// Start launches the periodic sampling loop in a goroutine.
func (u *HostStatsUpdater) Start() {
	go u.loop()
}

// Stop halts the sampling loop and waits for it to exit.
func (u *HostStatsUpdater) Stop() {
	close(u.stop)
	<-u.done
}

func (u *HostStatsUpdater) loop() {
	defer close(u.done)
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	u.sampleOnce()
	for {
		select {
		case <-ticker.C:
			u.sampleOnce()
		case <-u.stop:
			return
		}
	}
}

func (u *HostStatsUpdater) sampleOnce() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
	HeapAllocBytes.Set(float64(m.HeapAlloc))

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		HostCPUPercent.Set(percents[0])
	} else if err != nil {
		u.logger.WithError(err).Debug("host cpu sample failed")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		HostMemoryUsedPercent.Set(vm.UsedPercent)
	} else {
		u.logger.WithError(err).Debug("host memory sample failed")
	}
}
