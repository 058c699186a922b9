// Package broadcast implements the result broadcaster: typed envelopes,
// priority ordering, and per-(source,result_type) throttling — grounded on
// app/realtime/result_broadcaster.py's ProcessingResultBroadcaster.
package broadcast

import (
	"fmt"
	"sync"
	"time"

	"ssw-logs-capture/internal/metrics"
	"ssw-logs-capture/pkg/apperrors"
	"ssw-logs-capture/pkg/clock"
	"ssw-logs-capture/pkg/idgen"

	"github.com/sirupsen/logrus"
)

// MessageType is the kind of envelope being broadcast.
type MessageType string

const (
	MessageProcessingStatus   MessageType = "processing_status"
	MessageProcessingResult   MessageType = "processing_result"
	MessageErrorNotification  MessageType = "error_notification"
	MessageSystemStatusUpdate MessageType = "system_status_update"
	MessageNotificationStatus MessageType = "notification_status"
)

// ResultType classifies a processing_result payload.
type ResultType string

const (
	ResultSuccess        ResultType = "success"
	ResultPartialSuccess ResultType = "partial_success"
	ResultFailure        ResultType = "failure"
	ResultWarning        ResultType = "warning"
	ResultInfo           ResultType = "info"
)

// Priority is the broadcast's delivery priority.
type Priority int

const (
	PriorityDebug    Priority = 1
	PriorityLow      Priority = 3
	PriorityMedium   Priority = 5
	PriorityHigh     Priority = 8
	PriorityCritical Priority = 10
)

// Envelope is the message handed to every observer.
type Envelope struct {
	MessageID     string
	Type          MessageType
	Priority      Priority
	Timestamp     time.Time
	EntryID       string
	Payload       map[string]interface{}
}

// Observer receives broadcast envelopes — the fan-out target (e.g. the
// health/status HTTP surface, or a test spy).
type Observer interface {
	Notify(env Envelope)
}

// ProcessingOutcome is the subset of a ProcessingResult the broadcaster
// needs to classify a result and decide its priority.
type ProcessingOutcome struct {
	EntryID          string
	Success          bool
	Errors           []string
	Warnings         []string
	ValidationResult string // e.g. "SUSPICIOUS"
}

// Broadcaster fans out envelopes to observers with priority classification
// and per-(source,result_type) throttling.
type Broadcaster struct {
	logger    *logrus.Logger
	clock     clock.Clock
	mu        sync.RWMutex
	observers []Observer

	throttleMu     sync.Mutex
	throttleRules  map[string]time.Duration // key: "source|result_type"
	lastBroadcasts map[string]time.Time
}

// New constructs a Broadcaster.
func New(logger *logrus.Logger, clk clock.Clock) *Broadcaster {
	if logger == nil {
		logger = logrus.New()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Broadcaster{
		logger:         logger,
		clock:          clk,
		throttleRules:  make(map[string]time.Duration),
		lastBroadcasts: make(map[string]time.Time),
	}
}

// Subscribe registers an observer to receive future broadcasts.
func (b *Broadcaster) Subscribe(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// AddThrottleRule sets a minimum interval between broadcasts sharing
// (sourceName, resultType).
func (b *Broadcaster) AddThrottleRule(sourceName string, resultType ResultType, minInterval time.Duration) {
	b.throttleMu.Lock()
	defer b.throttleMu.Unlock()
	b.throttleRules[throttleKey(sourceName, string(resultType))] = minInterval
}

func throttleKey(sourceName, resultType string) string {
	return fmt.Sprintf("%s|%s", sourceName, resultType)
}

// Broadcast emits an envelope of messageType/priority to every observer,
// returning the number of observers reached.
func (b *Broadcaster) Broadcast(messageType MessageType, priority Priority, entryID string, payload map[string]interface{}) int {
	env := Envelope{
		MessageID: idgen.NewMessageID(),
		Type:      messageType,
		Priority:  priority,
		Timestamp: b.clock.Now(),
		EntryID:   entryID,
		Payload:   payload,
	}

	metrics.BroadcastsTotal.WithLabelValues(string(messageType)).Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, o := range b.observers {
		o.Notify(env)
	}
	return len(b.observers)
}

// BroadcastProcessingStatus emits a processing_status envelope for entryID.
func (b *Broadcaster) BroadcastProcessingStatus(entryID, status, sourceName string) int {
	return b.Broadcast(MessageProcessingStatus, PriorityLow, entryID, map[string]interface{}{
		"status": status, "source_name": sourceName,
	})
}

// BroadcastProcessingResult classifies outcome into a ResultType/Priority,
// applies the source+result-type throttle rule, and broadcasts unless
// suppressed. Returns (clientsReached, throttled).
func (b *Broadcaster) BroadcastProcessingResult(sourceName string, outcome ProcessingOutcome) (int, bool) {
	resultType := determineResultType(outcome)
	priority := determinePriority(resultType, outcome)

	if b.shouldThrottle(sourceName, resultType) {
		metrics.BroadcastsThrottledTotal.Inc()
		return 0, true
	}
	b.updateThrottleTimestamp(sourceName, resultType)

	reached := b.Broadcast(MessageProcessingResult, priority, outcome.EntryID, map[string]interface{}{
		"result_type": resultType,
		"success":     outcome.Success,
		"errors":      outcome.Errors,
		"warnings":    outcome.Warnings,
	})
	return reached, false
}

// BroadcastError emits an error_notification envelope. It implements
// apperrors's ErrorSink role so the error handler can report through the
// broadcaster without a back-reference to the orchestrator (design note 9's
// cycle-breaking rule).
func (b *Broadcaster) BroadcastError(appErr *apperrors.AppError) {
	b.Broadcast(MessageErrorNotification, PriorityHigh, appErr.CorrelationID, appErr.ToMap())
}

// BroadcastSystemStatus emits a system_status_update envelope.
func (b *Broadcaster) BroadcastSystemStatus(payload map[string]interface{}) int {
	return b.Broadcast(MessageSystemStatusUpdate, PriorityMedium, "", payload)
}

// BroadcastNotificationStatus emits a notification_status envelope
// reporting the outcome of a notification engine dispatch.
func (b *Broadcaster) BroadcastNotificationStatus(entryID string, results map[string]bool) int {
	payload := make(map[string]interface{}, len(results))
	for k, v := range results {
		payload[k] = v
	}
	return b.Broadcast(MessageNotificationStatus, PriorityLow, entryID, payload)
}

func determineResultType(outcome ProcessingOutcome) ResultType {
	switch {
	case !outcome.Success:
		return ResultFailure
	case len(outcome.Errors) > 0:
		return ResultPartialSuccess
	case len(outcome.Warnings) > 0:
		return ResultWarning
	default:
		return ResultSuccess
	}
}

func determinePriority(resultType ResultType, outcome ProcessingOutcome) Priority {
	switch {
	case resultType == ResultFailure:
		return PriorityHigh
	case resultType == ResultPartialSuccess:
		return PriorityMedium
	case resultType == ResultWarning:
		return PriorityMedium
	case outcome.ValidationResult == "SUSPICIOUS":
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// shouldThrottle never suppresses FAILURE or PARTIAL_SUCCESS results.
func (b *Broadcaster) shouldThrottle(sourceName string, resultType ResultType) bool {
	if resultType == ResultFailure || resultType == ResultPartialSuccess {
		return false
	}

	b.throttleMu.Lock()
	defer b.throttleMu.Unlock()

	key := throttleKey(sourceName, string(resultType))
	minInterval, ok := b.throttleRules[key]
	if !ok {
		return false
	}
	last, ok := b.lastBroadcasts[key]
	if !ok {
		return false
	}
	return b.clock.Now().Sub(last) < minInterval
}

func (b *Broadcaster) updateThrottleTimestamp(sourceName string, resultType ResultType) {
	b.throttleMu.Lock()
	defer b.throttleMu.Unlock()
	b.lastBroadcasts[throttleKey(sourceName, string(resultType))] = b.clock.Now()
}
