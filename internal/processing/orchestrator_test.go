package processing

import (
	"context"
	"testing"
	"time"

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	calls int
}

func (f *fakeNotifier) Send(ctx context.Context, event *parsing.ParsedEvent, an *analyzer.AIAnalysis) map[string]bool {
	f.calls++
	return map[string]bool{"c1": true}
}

type fakeBroadcaster struct {
	statuses []string
	results  []broadcast.ProcessingOutcome
}

func (f *fakeBroadcaster) BroadcastProcessingStatus(entryID, status, sourceName string) int {
	f.statuses = append(f.statuses, status)
	return 1
}

func (f *fakeBroadcaster) BroadcastProcessingResult(sourceName string, outcome broadcast.ProcessingOutcome) (int, bool) {
	f.results = append(f.results, outcome)
	return 1, false
}

func newTestOrchestrator(t *testing.T, now time.Time) (*Orchestrator, *persistence.MemoryStore, *fakeBroadcaster, *fakeNotifier) {
	t.Helper()
	clk := clock.NewFake(now)
	store := persistence.NewMemoryStore()
	bc := &fakeBroadcaster{}
	notifier := &fakeNotifier{}

	o := New(
		DefaultConfig(),
		nil,
		clk,
		security.NewValidator(security.DefaultValidatorConfig()),
		security.NewSanitizer(security.DefaultSanitizerConfig(), clk),
		parsing.New(func() time.Time { return clk.Now() }),
		formatdetect.New(formatdetect.DefaultConfig(), nil, func() time.Time { return clk.Now() }),
		analyzer.NewLocalScorer(func() time.Time { return clk.Now() }),
		store,
		notifier,
		bc,
		apperrors.NewHandler(50, nil),
		nil,
	)
	return o, store, bc, notifier
}

func TestProcessBatchSuccessPersistsAndNotifies(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	o, store, bc, notifier := newTestOrchestrator(t, now)

	entry := logentry.New("Jan 2 03:04:05 host sshd[123]: authentication failure for user", "/var/log/auth.log", "auth", logentry.PriorityMedium, now)

	errs := o.ProcessBatch(context.Background(), []*logentry.LogEntry{entry})
	require.NoError(t, errs[entry.EntryID()])

	assert.Equal(t, logentry.StatusCompleted, entry.Status())
	assert.Len(t, store.Events(), 1)
	assert.Equal(t, 1, notifier.calls)
	assert.Contains(t, bc.statuses, "PROCESSING")
	require.Len(t, bc.results, 1)
	assert.True(t, bc.results[0].Success)
}

func TestProcessBatchInvalidContentFailsWithoutPersisting(t *testing.T) {
	now := time.Now()
	o, store, _, _ := newTestOrchestrator(t, now)

	entry := logentry.New("", "/var/log/empty.log", "empty", logentry.PriorityLow, now)

	errs := o.ProcessBatch(context.Background(), []*logentry.LogEntry{entry})
	require.NoError(t, errs[entry.EntryID()])

	assert.Equal(t, logentry.StatusFailed, entry.Status())
	assert.Empty(t, store.Events())
}

func TestProcessBatchUnparsableContentSynthesizesUnknownEvent(t *testing.T) {
	now := time.Now()
	o, store, _, _ := newTestOrchestrator(t, now)

	entry := logentry.New("totally unstructured content with no timestamp at all", "/var/log/x.log", "x", logentry.PriorityLow, now)

	errs := o.ProcessBatch(context.Background(), []*logentry.LogEntry{entry})
	require.NoError(t, errs[entry.EntryID()])

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, parsing.CategoryUnknown, events[0].Category)
}

func TestProcessBatchUnparsableContentWarnsUnparsed(t *testing.T) {
	now := time.Now()
	o, _, _, _ := newTestOrchestrator(t, now)

	var captured ProcessingResult
	o.AddCallback(func(entry *logentry.LogEntry, result ProcessingResult) {
		captured = result
	})

	entry := logentry.New("totally unstructured content with no timestamp at all", "/var/log/x.log", "x", logentry.PriorityLow, now)
	errs := o.ProcessBatch(context.Background(), []*logentry.LogEntry{entry})
	require.NoError(t, errs[entry.EntryID()])

	assert.Contains(t, captured.Warnings, valuemap.KeyUnparsed)
}

func TestProcessBatchStructuredContentDoesNotWarnUnparsed(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	o, _, _, _ := newTestOrchestrator(t, now)

	var captured ProcessingResult
	o.AddCallback(func(entry *logentry.LogEntry, result ProcessingResult) {
		captured = result
	})

	entry := logentry.New("Jan 2 03:04:05 host sshd[123]: authentication failure for user", "/var/log/auth.log", "auth", logentry.PriorityMedium, now)
	errs := o.ProcessBatch(context.Background(), []*logentry.LogEntry{entry})
	require.NoError(t, errs[entry.EntryID()])

	assert.NotContains(t, captured.Warnings, valuemap.KeyUnparsed)
}
