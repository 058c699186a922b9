// Package notify implements the notification engine: rule matching,
// per-rule throttling, and bounded-retry fan-out to pluggable channels.
package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ssw-logs-capture/internal/metrics"
	"ssw-logs-capture/pkg/analyzer"
	"ssw-logs-capture/pkg/clock"
	"ssw-logs-capture/pkg/parsing"

	"github.com/sirupsen/logrus"
)

// Rule gates which events dispatch through which channels.
type Rule struct {
	ID              string
	Enabled         bool
	MinSeverity     int
	MaxSeverity     int
	Categories      []parsing.Category // empty = any
	Sources         []string           // empty = any, exact match on event source
	Channels        []string
	ThrottleMinutes int
}

// Context bundles the event, its (optional) analysis, and the rule that
// matched, handed to a Channel's Send method.
type Context struct {
	Event    *parsing.ParsedEvent
	Analysis *analyzer.AIAnalysis
	Rule     Rule
}

// Channel is the minimal contract a notification transport must satisfy —
// grounded on the teacher's types.Sink shape (Start/Send/Stop/IsHealthy),
// narrowed to the two methods the engine actually calls.
type Channel interface {
	ValidateConfig() bool
	Send(ctx context.Context, nctx Context) bool
}

// Config controls retry behavior for channel sends.
type Config struct {
	RetryAttempts int
	RetryBase     time.Duration
}

// DefaultConfig mirrors enhanced_processor.py's
// send_notification_with_retry(max_retries=2, retry_delay=0.5).
func DefaultConfig() Config {
	return Config{RetryAttempts: 2, RetryBase: 500 * time.Millisecond}
}

// Engine matches events against rules and fans out to channels.
type Engine struct {
	config   Config
	logger   *logrus.Logger
	clock    clock.Clock
	rules    []Rule
	channels map[string]Channel

	throttle sync.Map // key: string -> *int64 (unix nano of last dispatch)
}

// New constructs an Engine with rules and the channel registry.
func New(config Config, rules []Rule, channels map[string]Channel, logger *logrus.Logger, clk clock.Clock) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	if clk == nil {
		clk = clock.Real()
	}
	if channels == nil {
		channels = make(map[string]Channel)
	}
	return &Engine{config: config, logger: logger, clock: clk, rules: rules, channels: channels}
}

// Send evaluates every rule against event/analysis and dispatches to each
// matching rule's channels, returning a per-channel success map.
func (e *Engine) Send(ctx context.Context, event *parsing.ParsedEvent, an *analyzer.AIAnalysis) map[string]bool {
	results := make(map[string]bool)

	for _, rule := range e.rules {
		if !e.matches(rule, event, an) {
			continue
		}
		if e.throttled(rule, event, an) {
			metrics.NotificationsThrottledTotal.Inc()
			continue
		}

		metrics.NotificationsTriggeredTotal.WithLabelValues(rule.ID).Inc()
		nctx := Context{Event: event, Analysis: an, Rule: rule}
		for _, channelID := range rule.Channels {
			channel, ok := e.channels[channelID]
			if !ok {
				results[channelID] = false
				continue
			}
			results[channelID] = e.sendWithRetry(ctx, channel, nctx)
		}
	}

	return results
}

func (e *Engine) matches(rule Rule, event *parsing.ParsedEvent, an *analyzer.AIAnalysis) bool {
	if !rule.Enabled {
		return false
	}

	severity := 1
	if an != nil {
		severity = an.SeverityScore
	}
	if severity < rule.MinSeverity || severity > rule.MaxSeverity {
		return false
	}

	if len(rule.Categories) > 0 && !containsCategory(rule.Categories, event.Category) {
		return false
	}

	if len(rule.Sources) > 0 && !containsSourceSubstring(rule.Sources, event.Source) {
		return false
	}

	return true
}

func containsCategory(categories []parsing.Category, c parsing.Category) bool {
	for _, want := range categories {
		if want == c {
			return true
		}
	}
	return false
}

func containsSourceSubstring(sources []string, source string) bool {
	for _, s := range sources {
		if s == source {
			return true
		}
	}
	return false
}

// throttled reports whether this rule/signature pair fired too recently.
// CRITICAL-severity events always bypass throttling. The CAS loop gives the
// per-key check-and-update an atomic feel without a package-wide lock.
func (e *Engine) throttled(rule Rule, event *parsing.ParsedEvent, an *analyzer.AIAnalysis) bool {
	if an != nil && an.SeverityScore >= 10 {
		return false
	}
	if rule.ThrottleMinutes <= 0 {
		return false
	}

	key := fmt.Sprintf("%s|%s|%s", rule.ID, event.Source, event.Category)
	now := e.clock.Now().UnixNano()
	window := int64(time.Duration(rule.ThrottleMinutes) * time.Minute)

	for {
		val, loaded := e.throttle.LoadOrStore(key, new(int64))
		last := val.(*int64)
		if !loaded {
			atomic.StoreInt64(last, now)
			return false
		}
		prev := atomic.LoadInt64(last)
		if now-prev < window {
			return true
		}
		if atomic.CompareAndSwapInt64(last, prev, now) {
			return false
		}
	}
}

func (e *Engine) sendWithRetry(ctx context.Context, channel Channel, nctx Context) bool {
	attempts := e.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if channel.Send(ctx, nctx) {
			return true
		}
		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(e.config.RetryBase * time.Duration(1<<attempt)):
			}
		}
	}

	e.logger.WithFields(logrus.Fields{
		"rule_id": nctx.Rule.ID,
		"event":   nctx.Event.ID,
	}).Warn("notification channel exhausted retries")
	return false
}
