// Package analyzer defines the pluggable severity-scoring boundary the
// orchestrator calls after an event is parsed, plus a local rule-based
// fallback implementation.
package analyzer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ssw-logs-capture/pkg/idgen"
	"ssw-logs-capture/pkg/parsing"
)

// AIAnalysis is the scoring result attached to a ParsedEvent.
type AIAnalysis struct {
	ID              string
	EventID         string
	SeverityScore   int // 1..10
	Explanation     string
	Recommendations []string
	AnalyzedAt      time.Time
}

// Analyzer scores a ParsedEvent. A real implementation would call an
// external AI provider; that integration is an external collaborator
// (Non-goal) — this package only defines the boundary plus a local
// fallback.
type Analyzer interface {
	Score(ctx context.Context, event *parsing.ParsedEvent) (*AIAnalysis, error)
}

// categoryBaseSeverity mirrors the categorizer's own signal: categories the
// parser treats as higher-risk keyword families get a higher floor.
var categoryBaseSeverity = map[parsing.Category]int{
	parsing.CategorySecurity:    6,
	parsing.CategoryKernel:      5,
	parsing.CategoryAuth:        4,
	parsing.CategoryNetwork:     3,
	parsing.CategoryApplication: 2,
	parsing.CategorySystem:      2,
	parsing.CategoryUnknown:     1,
}

var escalationKeywords = []string{
	"failed", "denied", "blocked", "attack", "breach", "exploit",
	"violation", "panic", "segfault", "unauthorized", "intrusion",
}

// LocalScorer is a deterministic, keyword-weighted stand-in for an external
// AI analysis provider: it derives a severity score from the event's
// category and the presence of escalation keywords in its message.
type LocalScorer struct {
	now func() time.Time
}

// NewLocalScorer constructs a LocalScorer using now as its clock source.
func NewLocalScorer(now func() time.Time) *LocalScorer {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &LocalScorer{now: now}
}

// Score implements Analyzer.
func (s *LocalScorer) Score(ctx context.Context, event *parsing.ParsedEvent) (*AIAnalysis, error) {
	if event == nil {
		return nil, fmt.Errorf("analyzer: nil event")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	base, ok := categoryBaseSeverity[event.Category]
	if !ok {
		base = 1
	}

	lower := strings.ToLower(event.Message)
	hits := 0
	for _, kw := range escalationKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}

	score := base + hits
	if score > 10 {
		score = 10
	}
	if score < 1 {
		score = 1
	}

	explanation := fmt.Sprintf(
		"category %s contributed base severity %d; %d escalation keyword(s) matched in the message",
		event.Category, base, hits,
	)

	recommendations := []string{"Review the source log entry for additional context."}
	if hits > 0 {
		recommendations = append(recommendations, "Correlate with recent events from the same source.")
	}
	if event.Category == parsing.CategorySecurity || event.Category == parsing.CategoryAuth {
		recommendations = append(recommendations, "Confirm whether this activity was authorized.")
	}

	return &AIAnalysis{
		ID:              idgen.NewAnalysisID(),
		EventID:         event.ID,
		SeverityScore:   score,
		Explanation:     explanation,
		Recommendations: recommendations,
		AnalyzedAt:      s.now(),
	}, nil
}
