// Package app HTTP handlers for API endpoints and monitoring
package app

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"runtime"
	"time"

	"ssw-logs-capture/internal/metrics"
	"ssw-logs-capture/pkg/logentry"

	"github.com/gorilla/mux"
)

// checkFileDescriptorUsage reports open file descriptor count and status
// on Linux; on other platforms it reports unknown rather than failing.
func checkFileDescriptorUsage() (string, map[string]interface{}) {
	openFDs := getOpenFileDescriptors()
	if openFDs < 0 {
		return "unknown", map[string]interface{}{
			"status":  "unknown",
			"message": "unable to read file descriptor count (non-Linux system)",
		}
	}

	maxFDs := 1024
	utilizationPct := float64(openFDs) / float64(maxFDs) * 100
	status := "healthy"
	if utilizationPct > 90 {
		status = "critical"
	} else if utilizationPct > 70 {
		status = "warning"
	}
	return status, map[string]interface{}{
		"status": status,
		"open":   openFDs,
		"max":    maxFDs,
	}
}

func getOpenFileDescriptors() int {
	files, err := ioutil.ReadDir("/proc/self/fd")
	if err != nil {
		return -1
	}
	return len(files)
}

// metricsMiddleware records per-endpoint response latency.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		metrics.ResponseTimeSeconds.WithLabelValues(r.URL.Path, r.Method).Observe(time.Since(start).Seconds())
	})
}

// registerHandlers wires every HTTP endpoint onto router, each wrapped
// with metricsMiddleware.
//
//   - GET  /health        overall health plus per-component checks
//   - GET  /stats         queue/dead-letter/history snapshots
//   - GET  /metrics       Prometheus exposition
//   - POST /api/v1/logs   log submission (the HTTP edge's Enqueue caller)
//   - GET  /dlq/stats     dead-letter ring snapshot
func (app *App) registerHandlers(router *mux.Router) {
	router.Handle("/health", metricsMiddleware(http.HandlerFunc(app.healthHandler))).Methods("GET")
	router.Handle("/stats", metricsMiddleware(http.HandlerFunc(app.statsHandler))).Methods("GET")
	router.Handle("/metrics", metricsMiddleware(metrics.Handler())).Methods("GET")
	router.Handle("/api/v1/logs", metricsMiddleware(http.HandlerFunc(app.logsIngestHandler))).Methods("POST")
	router.Handle("/dlq/stats", metricsMiddleware(http.HandlerFunc(app.dlqStatsHandler))).Methods("GET")
}

// healthHandler reports overall health plus per-component checks. A
// degraded queue (>70% occupancy) or critical file descriptor usage
// downgrades the overall status and the HTTP response code.
func (app *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"version":   app.config.App.Version,
		"uptime":    time.Since(app.startTime).String(),
		"checks":    make(map[string]interface{}),
	}
	checks := health["checks"].(map[string]interface{})
	allHealthy := true

	pressure := app.queue.Pressure()
	queueStatus := "healthy"
	if pressure > 0.9 {
		queueStatus = "critical"
		allHealthy = false
	} else if pressure > 0.7 {
		queueStatus = "warning"
		allHealthy = false
	}
	checks["queue_pressure"] = map[string]interface{}{
		"status":   queueStatus,
		"pressure": pressure,
		"stats":    app.queue.Stats(),
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	checks["memory"] = map[string]interface{}{
		"alloc_mb":   memStats.Alloc / 1024 / 1024,
		"goroutines": runtime.NumGoroutine(),
	}

	fdStatus, fdUsage := checkFileDescriptorUsage()
	if fdStatus == "critical" {
		allHealthy = false
	}
	checks["file_descriptors"] = fdUsage

	if app.fileMonitor != nil {
		checks["file_monitor"] = map[string]interface{}{"enabled": true}
	}

	if !allHealthy {
		health["status"] = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// statsHandler reports queue, dead-letter, and processing-time history
// snapshots alongside basic process metadata.
func (app *App) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"application": map[string]interface{}{
			"name":       app.config.App.Name,
			"version":    app.config.App.Version,
			"uptime":     time.Since(app.startTime).String(),
			"goroutines": runtime.NumGoroutine(),
		},
		"queue":               app.queue.Stats(),
		"queue_pressure":      app.queue.Pressure(),
		"processing_duration": app.history.Snapshot(),
		"parsing":             app.orchestrator.ParsingStats(),
	}
	if app.dlqRing != nil {
		stats["dead_letters"] = map[string]interface{}{
			"total":  app.dlqRing.Total(),
			"recent": app.dlqRing.Recent(20),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// dlqStatsHandler reports the dead-letter ring's recent records and total
// count.
func (app *App) dlqStatsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if app.dlqRing == nil {
		json.NewEncoder(w).Encode(map[string]interface{}{"total": 0, "recent": []interface{}{}})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"total":  app.dlqRing.Total(),
		"recent": app.dlqRing.Recent(100),
	})
}

// logSubmission is the JSON body accepted by POST /api/v1/logs.
type logSubmission struct {
	Content    string `json:"content"`
	SourcePath string `json:"source_path"`
	SourceName string `json:"source_name"`
	Priority   string `json:"priority"`
}

// logsIngestHandler is the HTTP edge caller of the queue's submission
// interface. Authentication, rate limiting, and edge validation belong
// here, at the edge — the queue itself trusts its caller.
func (app *App) logsIngestHandler(w http.ResponseWriter, r *http.Request) {
	var sub logSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if sub.Content == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}

	priority := parsePriority(sub.Priority)
	entry := logentry.New(sub.Content, sub.SourcePath, sub.SourceName, priority, time.Now().UTC())
	accepted := app.queue.Enqueue(entry)

	w.Header().Set("Content-Type", "application/json")
	if !accepted {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{"accepted": false})
		return
	}
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{"accepted": true, "entry_id": entry.EntryID()})
}

func parsePriority(s string) logentry.Priority {
	switch s {
	case "critical":
		return logentry.PriorityCritical
	case "high":
		return logentry.PriorityHigh
	case "low":
		return logentry.PriorityLow
	default:
		return logentry.PriorityMedium
	}
}
