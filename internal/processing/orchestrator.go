// Package processing hosts the processing orchestrator: the per-entry
// pipeline that validates, sanitizes, parses, persists, analyzes, notifies
// and broadcasts a single LogEntry inside a queue worker.
//
// Grounded on app/realtime/enhanced_processor.py's
// EnhancedBackgroundProcessor._process_single_entry, restructured into the
// teacher's per-worker pipeline-function idiom: one Go function per stage
// instead of an async task, each with its own error check, and a single
// defer recover() boundary at the call site (the only exception catch is
// at stage boundaries).
package processing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ssw-logs-capture/internal/metrics"
	"ssw-logs-capture/pkg/analyzer"
	"ssw-logs-capture/pkg/apperrors"
	"ssw-logs-capture/pkg/broadcast"
	"ssw-logs-capture/pkg/clock"
	"ssw-logs-capture/pkg/formatdetect"
	"ssw-logs-capture/pkg/logentry"
	"ssw-logs-capture/pkg/parsing"
	"ssw-logs-capture/pkg/persistence"
	"ssw-logs-capture/pkg/security"
	"ssw-logs-capture/pkg/valuemap"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ProcessingResult is the per-entry outcome handed to callbacks and the
// broadcaster.
type ProcessingResult struct {
	EntryID          string
	Success          bool
	ProcessingTime   time.Duration
	ValidationResult security.Verdict
	Sanitized        bool
	Errors           []string
	Warnings         []string
	Metadata         map[string]interface{}
}

// Callback is invoked with (entry, result) after a pipeline run completes.
type Callback func(entry *logentry.LogEntry, result ProcessingResult)

// ResultBroadcaster is the subset of pkg/broadcast's surface the
// orchestrator depends on.
type ResultBroadcaster interface {
	BroadcastProcessingStatus(entryID, status, sourceName string) int
	BroadcastProcessingResult(sourceName string, outcome broadcast.ProcessingOutcome) (int, bool)
}

// Notifier is the subset of pkg/notify's surface the orchestrator depends on.
type Notifier interface {
	Send(ctx context.Context, event *parsing.ParsedEvent, an *analyzer.AIAnalysis) map[string]bool
}

var tracer = otel.Tracer("ssw-logs-capture/internal/processing")

// Config bounds per-stage timeouts.
type Config struct {
	AnalyzerTimeout     time.Duration
	NotificationTimeout time.Duration
}

// DefaultConfig returns the spec's default per-stage timeouts.
func DefaultConfig() Config {
	return Config{AnalyzerTimeout: 30 * time.Second, NotificationTimeout: 30 * time.Second}
}

// Orchestrator runs the 8-step per-entry pipeline described in SPEC_FULL.md
// §4.6, invoked as the ingestion queue's BatchProcessorFunc.
type Orchestrator struct {
	config     Config
	logger     *logrus.Logger
	clock      clock.Clock
	validator  *security.Validator
	sanitizer  *security.Sanitizer
	parser     *parsing.Parser
	detector   formatdetect.Detector
	analyzer   analyzer.Analyzer
	store      persistence.TransactionalStore
	notifier   Notifier
	broadcaster ResultBroadcaster
	errHandler *apperrors.Handler
	history    *metrics.HistoryRecorder

	mu             sync.Mutex
	callbacks      []Callback
	sourcePatterns map[string]*formatdetect.FormatPattern
	parseStats     *parsing.Stats
}

// New constructs an Orchestrator wiring every pipeline stage's collaborator.
func New(
	config Config,
	logger *logrus.Logger,
	clk clock.Clock,
	validator *security.Validator,
	sanitizer *security.Sanitizer,
	parser *parsing.Parser,
	detector formatdetect.Detector,
	an analyzer.Analyzer,
	store persistence.TransactionalStore,
	notifier Notifier,
	broadcaster ResultBroadcaster,
	errHandler *apperrors.Handler,
	history *metrics.HistoryRecorder,
) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	if clk == nil {
		clk = clock.Real()
	}
	if history == nil {
		history = metrics.NewHistoryRecorder(500)
	}
	return &Orchestrator{
		config:         config,
		logger:         logger,
		clock:          clk,
		validator:      validator,
		sanitizer:      sanitizer,
		parser:         parser,
		detector:       detector,
		analyzer:       an,
		store:          store,
		notifier:       notifier,
		broadcaster:    broadcaster,
		errHandler:     errHandler,
		history:        history,
		sourcePatterns: make(map[string]*formatdetect.FormatPattern),
		parseStats:     parsing.NewStats(),
	}
}

// ParsingStats returns a snapshot of this orchestrator's lifetime parsing
// counters, for the stats HTTP surface.
func (o *Orchestrator) ParsingStats() parsing.Snapshot {
	return o.parseStats.Snapshot()
}

// AddCallback registers a processing callback, invoked for every completed
// entry regardless of outcome.
func (o *Orchestrator) AddCallback(cb Callback) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callbacks = append(o.callbacks, cb)
}

// ProcessBatch adapts dispatcher.BatchProcessorFunc: it runs each entry's
// pipeline independently and returns a per-entry error map.
func (o *Orchestrator) ProcessBatch(ctx context.Context, batch []*logentry.LogEntry) map[string]error {
	out := make(map[string]error, len(batch))
	for _, entry := range batch {
		out[entry.EntryID()] = o.processOne(ctx, entry)
	}
	return out
}

// processOne runs the 8-step pipeline for a single entry. The defer/recover
// is the pipeline's sole panic boundary — every stage below reports errors
// through plain returns.
func (o *Orchestrator) processOne(ctx context.Context, entry *logentry.LogEntry) (procErr error) {
	ctx, span := tracer.Start(ctx, "processing.process_entry",
		trace.WithAttributes(attribute.String("entry_id", entry.EntryID())))
	defer span.End()

	start := o.clock.Now()
	result := ProcessingResult{EntryID: entry.EntryID(), Metadata: make(map[string]interface{})}

	defer func() {
		if r := recover(); r != nil {
			procErr = fmt.Errorf("processing: panic recovered: %v", r)
			o.handleError(apperrors.InternalError("process_entry", fmt.Sprintf("%v", r)).WithCorrelationID(entry.EntryID()))
			result.Success = false
			result.Errors = append(result.Errors, procErr.Error())
		}
		result.ProcessingTime = o.clock.Now().Sub(start)
		o.history.Record(result.ProcessingTime)
		metrics.ProcessingDuration.Observe(result.ProcessingTime.Seconds())
		o.finish(entry, result)
	}()

	// Step 1: mark PROCESSING, broadcast status.
	if err := entry.MarkProcessing(o.clock.Now()); err != nil {
		return err
	}
	if o.broadcaster != nil {
		o.broadcaster.BroadcastProcessingStatus(entry.EntryID(), "PROCESSING", entry.SourceName())
	}

	// Step 2/3: validate, possibly sanitize, bail on INVALID.
	verdict, workingEntry := o.validateAndSanitize(ctx, entry, &result)
	if verdict == security.VerdictInvalid {
		metrics.EntriesFailedTotal.Inc()
		_ = entry.MarkFailed(o.clock.Now(), "validation: INVALID")
		result.Success = false
		return nil
	}

	// Step 4: parse.
	events := o.parseEntry(ctx, workingEntry, &result)

	// Step 5: persist + analyze in one transaction.
	analyses, err := o.persistAndAnalyze(ctx, events, &result)
	if err != nil {
		o.handleError(apperrors.StorageError("commit", err.Error()).WithCorrelationID(entry.EntryID()))
		metrics.EntriesFailedTotal.Inc()
		return err
	}

	// Step 6: notification rules.
	o.notifyAll(ctx, workingEntry, events, analyses)

	result.Success = true
	metrics.EntriesProcessedTotal.Inc()
	if err := entry.MarkCompleted(o.clock.Now()); err != nil {
		o.logger.WithError(err).Debug("mark completed after terminal transition")
	}
	return nil
}

func (o *Orchestrator) validateAndSanitize(ctx context.Context, entry *logentry.LogEntry, result *ProcessingResult) (security.Verdict, *logentry.LogEntry) {
	_, span := tracer.Start(ctx, "processing.validate")
	defer span.End()

	verdict := o.validator.Validate(entry)
	result.ValidationResult = verdict
	metrics.ValidationVerdictsTotal.WithLabelValues(string(verdict)).Inc()

	working := entry
	if verdict == security.VerdictRepairable || verdict == security.VerdictSuspicious {
		sanitized, modified := o.sanitizer.Sanitize(entry)
		if modified {
			working = sanitized
			result.Sanitized = true
		}
	}
	if verdict == security.VerdictSuspicious {
		result.Warnings = append(result.Warnings, "content matched a suspicious-payload signature")
	}
	return verdict, working
}

// parseEntry tries the per-source learned pattern, then fresh
// auto-detection, then the static parser, then a synthesized UNPARSED
// event — never returning zero events. A detector match only counts as a
// genuine hit on tiers one and two when the pattern used isn't the
// detector's universal fallback (FormatPattern.Generic): that fallback
// matches any non-empty line, so treating it as success would make the
// static-parser and synthesized-UNPARSED tiers below unreachable.
func (o *Orchestrator) parseEntry(ctx context.Context, entry *logentry.LogEntry, result *ProcessingResult) []*parsing.ParsedEvent {
	_, span := tracer.Start(ctx, "processing.parse")
	defer span.End()

	content := entry.Content()

	if o.detector != nil {
		if pattern := o.learnedPattern(entry.SourceName()); pattern != nil {
			events, used, err := o.detector.ParseWithDetectedFormat(content, entry.EntryID(), pattern)
			if err == nil && len(events) > 0 && used != nil && !used.Generic {
				o.recordParsed(events)
				return events
			}
		}

		if len(splitNonEmptyLines(content)) > 0 {
			events, used, err := o.detector.ParseWithDetectedFormat(content, entry.EntryID(), nil)
			if err == nil && len(events) > 0 && used != nil && !used.Generic {
				o.rememberPattern(entry.SourceName(), used)
				o.recordParsed(events)
				return events
			}
		}
	}

	if event, err := o.parser.ParseLine(content, entry.EntryID()); err == nil && event.Category != parsing.CategoryUnknown {
		o.recordParsed([]*parsing.ParsedEvent{event})
		return []*parsing.ParsedEvent{event}
	}

	result.Warnings = append(result.Warnings, valuemap.KeyUnparsed)
	unparsed := &parsing.ParsedEvent{
		ID:       entry.EntryID(),
		RawLogID: entry.EntryID(),
		Source:   entry.SourceName(),
		Message:  truncate(content, 1024),
		Category: parsing.CategoryUnknown,
		ParsedAt: o.clock.Now(),
	}
	o.recordUnparsed(unparsed)
	return []*parsing.ParsedEvent{unparsed}
}

func (o *Orchestrator) recordParsed(events []*parsing.ParsedEvent) {
	for _, e := range events {
		metrics.EntriesParsedTotal.WithLabelValues(string(e.Category)).Inc()
		o.parseStats.RecordParsed(e.Category)
	}
}

// recordUnparsed records the synthesized-UNPARSED tier's outcome: the event
// still carries a category for downstream consumers, but the source line
// itself failed every parse tier, so it counts against failedLines rather
// than parsedEvents.
func (o *Orchestrator) recordUnparsed(event *parsing.ParsedEvent) {
	metrics.EntriesParsedTotal.WithLabelValues(string(event.Category)).Inc()
	o.parseStats.RecordFailed()
}

func (o *Orchestrator) learnedPattern(sourceName string) *formatdetect.FormatPattern {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sourcePatterns[sourceName]
}

func (o *Orchestrator) rememberPattern(sourceName string, pattern *formatdetect.FormatPattern) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sourcePatterns[sourceName] = pattern
}

// persistAndAnalyze inserts every event (and its analysis, when scoring
// succeeds) inside one transaction, committing only if every insert
// succeeds.
func (o *Orchestrator) persistAndAnalyze(ctx context.Context, events []*parsing.ParsedEvent, result *ProcessingResult) ([]*analyzer.AIAnalysis, error) {
	ctx, span := tracer.Start(ctx, "processing.persist_and_analyze")
	defer span.End()

	tx, err := o.store.Begin(ctx)
	if err != nil {
		return nil, err
	}

	analyses := make([]*analyzer.AIAnalysis, 0, len(events))
	for _, event := range events {
		if err := tx.InsertEvent(ctx, event); err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}

		analysisCtx, cancel := context.WithTimeout(ctx, o.timeoutOrDefault())
		an, analyzeErr := o.analyzer.Score(analysisCtx, event)
		cancel()

		if analyzeErr != nil {
			metrics.AnalysesFailedTotal.Inc()
			result.Errors = append(result.Errors, analyzeErr.Error())
			o.handleError(apperrors.AnalysisError("score", analyzeErr.Error()).WithCorrelationID(event.ID))
			continue
		}

		if err := tx.InsertAnalysis(ctx, an); err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}
		metrics.AnalysesScoredTotal.Inc()
		analyses = append(analyses, an)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return analyses, nil
}

func (o *Orchestrator) timeoutOrDefault() time.Duration {
	if o.config.AnalyzerTimeout > 0 {
		return o.config.AnalyzerTimeout
	}
	return DefaultConfig().AnalyzerTimeout
}

func (o *Orchestrator) notifyAll(ctx context.Context, entry *logentry.LogEntry, events []*parsing.ParsedEvent, analyses []*analyzer.AIAnalysis) {
	if o.notifier == nil {
		return
	}
	_, span := tracer.Start(ctx, "processing.notify")
	defer span.End()

	byEvent := make(map[string]*analyzer.AIAnalysis, len(analyses))
	for _, a := range analyses {
		byEvent[a.EventID] = a
	}

	notifyCtx, cancel := context.WithTimeout(ctx, o.notificationTimeoutOrDefault())
	defer cancel()

	for _, event := range events {
		results := o.notifier.Send(notifyCtx, event, byEvent[event.ID])
		for channel, ok := range results {
			if ok {
				metrics.NotificationsSentTotal.WithLabelValues(channel).Inc()
			} else {
				metrics.NotificationsFailedTotal.WithLabelValues(channel).Inc()
				o.handleError(apperrors.NotificationError("send", "channel send failed").WithCorrelationID(event.ID).WithMetadata("channel", channel))
			}
		}
	}
	_ = entry
}

// finish invokes callbacks and broadcasts the final result — step 7/8.
func (o *Orchestrator) finish(entry *logentry.LogEntry, result ProcessingResult) {
	o.mu.Lock()
	callbacks := append([]Callback(nil), o.callbacks...)
	o.mu.Unlock()

	for _, cb := range callbacks {
		cb(entry, result)
	}

	if o.broadcaster != nil {
		o.broadcaster.BroadcastProcessingResult(entry.SourceName(), broadcast.ProcessingOutcome{
			EntryID:          result.EntryID,
			Success:          result.Success,
			Errors:           result.Errors,
			Warnings:         result.Warnings,
			ValidationResult: string(result.ValidationResult),
		})
	}
}

func (o *Orchestrator) handleError(appErr *apperrors.AppError) {
	if o.errHandler == nil {
		return
	}
	metrics.ErrorsByKindTotal.WithLabelValues(string(appErr.Kind), string(appErr.RecoveryAction)).Inc()
	o.errHandler.Handle(appErr)
}

func splitNonEmptyLines(content string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			if line := content[start:i]; line != "" {
				lines = append(lines, line)
			}
			start = i + 1
		}
	}
	if start < len(content) {
		lines = append(lines, content[start:])
	}
	return lines
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func (o *Orchestrator) notificationTimeoutOrDefault() time.Duration {
	if o.config.NotificationTimeout > 0 {
		return o.config.NotificationTimeout
	}
	return DefaultConfig().NotificationTimeout
}
