package analyzer

import (
	"context"
	"testing"
	"time"

	"ssw-logs-capture/pkg/parsing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreSecurityEventWithEscalationKeywords(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	s := NewLocalScorer(func() time.Time { return now })

	event := &parsing.ParsedEvent{
		ID:       "evt-1",
		Category: parsing.CategorySecurity,
		Message:  "blocked intrusion attempt detected from unauthorized host",
	}

	analysis, err := s.Score(context.Background(), event)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, analysis.SeverityScore, 6)
	assert.LessOrEqual(t, analysis.SeverityScore, 10)
	assert.Equal(t, "evt-1", analysis.EventID)
	assert.NotEmpty(t, analysis.Explanation)
	assert.NotEmpty(t, analysis.Recommendations)
}

func TestScoreUnknownCategoryLowSeverity(t *testing.T) {
	s := NewLocalScorer(nil)
	event := &parsing.ParsedEvent{ID: "evt-2", Category: parsing.CategoryUnknown, Message: "routine heartbeat"}

	analysis, err := s.Score(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, 1, analysis.SeverityScore)
}

func TestScoreClampsAtTen(t *testing.T) {
	s := NewLocalScorer(nil)
	event := &parsing.ParsedEvent{
		ID:       "evt-3",
		Category: parsing.CategorySecurity,
		Message:  "failed denied blocked attack breach exploit violation panic segfault unauthorized intrusion",
	}

	analysis, err := s.Score(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, 10, analysis.SeverityScore)
}

func TestScoreNilEventErrors(t *testing.T) {
	s := NewLocalScorer(nil)
	_, err := s.Score(context.Background(), nil)
	assert.Error(t, err)
}

func TestScoreRespectsCancelledContext(t *testing.T) {
	s := NewLocalScorer(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Score(ctx, &parsing.ParsedEvent{ID: "evt-4", Category: parsing.CategorySystem})
	assert.ErrorIs(t, err, context.Canceled)
}
