package notify

import (
	"context"
	"testing"
	"time"

	"ssw-logs-capture/pkg/analyzer"
	"ssw-logs-capture/pkg/clock"
	"ssw-logs-capture/pkg/parsing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	sends  int
	accept bool
}

func (f *fakeChannel) ValidateConfig() bool { return true }

func (f *fakeChannel) Send(ctx context.Context, nctx Context) bool {
	f.sends++
	return f.accept
}

func testEvent(category parsing.Category, source string) *parsing.ParsedEvent {
	return &parsing.ParsedEvent{ID: "evt-1", Category: category, Source: source, Message: "boom"}
}

func TestSendDispatchesToMatchingRuleChannel(t *testing.T) {
	ch := &fakeChannel{accept: true}
	rules := []Rule{{ID: "r1", Enabled: true, MinSeverity: 1, MaxSeverity: 10, Channels: []string{"c1"}}}
	e := New(DefaultConfig(), rules, map[string]Channel{"c1": ch}, nil, clock.NewFake(time.Now()))

	results := e.Send(context.Background(), testEvent(parsing.CategorySecurity, "sshd"), &analyzer.AIAnalysis{SeverityScore: 7})
	require.True(t, results["c1"])
	assert.Equal(t, 1, ch.sends)
}

func TestSendSkipsDisabledRule(t *testing.T) {
	ch := &fakeChannel{accept: true}
	rules := []Rule{{ID: "r1", Enabled: false, MaxSeverity: 10, Channels: []string{"c1"}}}
	e := New(DefaultConfig(), rules, map[string]Channel{"c1": ch}, nil, clock.NewFake(time.Now()))

	results := e.Send(context.Background(), testEvent(parsing.CategorySecurity, "sshd"), nil)
	assert.Empty(t, results)
	assert.Equal(t, 0, ch.sends)
}

func TestSendRespectsSeverityRange(t *testing.T) {
	ch := &fakeChannel{accept: true}
	rules := []Rule{{ID: "r1", Enabled: true, MinSeverity: 8, MaxSeverity: 10, Channels: []string{"c1"}}}
	e := New(DefaultConfig(), rules, map[string]Channel{"c1": ch}, nil, clock.NewFake(time.Now()))

	results := e.Send(context.Background(), testEvent(parsing.CategorySecurity, "sshd"), &analyzer.AIAnalysis{SeverityScore: 3})
	assert.Empty(t, results)
}

func TestThrottleSuppressesRepeatWithinWindow(t *testing.T) {
	ch := &fakeChannel{accept: true}
	rules := []Rule{{ID: "r1", Enabled: true, MaxSeverity: 10, Channels: []string{"c1"}, ThrottleMinutes: 5}}
	fc := clock.NewFake(time.Now())
	e := New(DefaultConfig(), rules, map[string]Channel{"c1": ch}, nil, fc)

	event := testEvent(parsing.CategorySecurity, "sshd")
	e.Send(context.Background(), event, &analyzer.AIAnalysis{SeverityScore: 5})
	results := e.Send(context.Background(), event, &analyzer.AIAnalysis{SeverityScore: 5})

	assert.Empty(t, results)
	assert.Equal(t, 1, ch.sends)
}

func TestCriticalSeverityBypassesThrottle(t *testing.T) {
	ch := &fakeChannel{accept: true}
	rules := []Rule{{ID: "r1", Enabled: true, MaxSeverity: 10, Channels: []string{"c1"}, ThrottleMinutes: 5}}
	fc := clock.NewFake(time.Now())
	e := New(DefaultConfig(), rules, map[string]Channel{"c1": ch}, nil, fc)

	event := testEvent(parsing.CategorySecurity, "sshd")
	e.Send(context.Background(), event, &analyzer.AIAnalysis{SeverityScore: 10})
	e.Send(context.Background(), event, &analyzer.AIAnalysis{SeverityScore: 10})

	assert.Equal(t, 2, ch.sends)
}

func TestSendWithRetryRecoversAfterFailure(t *testing.T) {
	ch := &flakyChannel{failFirst: 1, accept: true}
	rules := []Rule{{ID: "r1", Enabled: true, MaxSeverity: 10, Channels: []string{"c1"}}}
	e := New(Config{RetryAttempts: 2, RetryBase: time.Millisecond}, rules, map[string]Channel{"c1": ch}, nil, clock.NewFake(time.Now()))

	results := e.Send(context.Background(), testEvent(parsing.CategorySecurity, "sshd"), nil)
	assert.True(t, results["c1"])
	assert.Equal(t, 2, ch.attempts)
}

type flakyChannel struct {
	failFirst int
	attempts  int
	accept    bool
}

func (f *flakyChannel) ValidateConfig() bool { return true }

func (f *flakyChannel) Send(ctx context.Context, nctx Context) bool {
	f.attempts++
	if f.attempts <= f.failFirst {
		return false
	}
	return f.accept
}
