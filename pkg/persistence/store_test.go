package persistence

import (
	"context"
	"testing"
	"time"

	"ssw-logs-capture/pkg/analyzer"
	"ssw-logs-capture/pkg/parsing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitPersistsEventsAndAnalyses(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	event := &parsing.ParsedEvent{ID: "evt-1", Message: "hello", ParsedAt: time.Now()}
	require.NoError(t, tx.InsertEvent(ctx, event))
	require.NoError(t, tx.InsertAnalysis(ctx, &analyzer.AIAnalysis{ID: "an-1", EventID: "evt-1", SeverityScore: 5}))
	require.NoError(t, tx.Commit(ctx))

	assert.Len(t, store.Events(), 1)
	assert.Len(t, store.Analyses(), 1)
}

func TestRollbackDiscardsChanges(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertEvent(ctx, &parsing.ParsedEvent{ID: "evt-2"}))
	require.NoError(t, tx.Rollback(ctx))

	assert.Empty(t, store.Events())
}

func TestInsertAnalysisRequiresKnownEvent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	err = tx.InsertAnalysis(ctx, &analyzer.AIAnalysis{ID: "an-2", EventID: "missing"})
	assert.Error(t, err)
}

func TestCommitJournalsEventsAndReplaysThem(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	event := &parsing.ParsedEvent{ID: "evt-4", Source: "auth.log", Message: "login failure", ParsedAt: time.Now()}
	require.NoError(t, tx.InsertEvent(ctx, event))
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, 1, store.JournalLen())

	replayed, err := store.ReplayJournal()
	require.NoError(t, err)
	require.Len(t, replayed, 1)
	assert.Equal(t, event.ID, replayed[0].ID)
	assert.Equal(t, event.Message, replayed[0].Message)
}

func TestRollbackDoesNotJournal(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertEvent(ctx, &parsing.ParsedEvent{ID: "evt-5"}))
	require.NoError(t, tx.Rollback(ctx))

	assert.Equal(t, 0, store.JournalLen())
}

func TestOperationsAfterCommitFail(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	assert.Error(t, tx.InsertEvent(ctx, &parsing.ParsedEvent{ID: "evt-3"}))
	assert.Error(t, tx.Commit(ctx))
}
