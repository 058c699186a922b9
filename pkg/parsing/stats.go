package parsing

import "sync"

// Stats accumulates per-session parsing counters, mirroring the source's
// get_parsing_stats() snapshot but safe for concurrent batch workers.
type Stats struct {
	mu            sync.Mutex
	totalLines    int64
	parsedEvents  int64
	failedLines   int64
	categoryCount map[Category]int64
}

// NewStats returns a zeroed Stats.
func NewStats() *Stats {
	return &Stats{categoryCount: make(map[Category]int64)}
}

// RecordParsed records one successfully parsed line.
func (s *Stats) RecordParsed(category Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalLines++
	s.parsedEvents++
	s.categoryCount[category]++
}

// RecordFailed records one line that yielded no event.
func (s *Stats) RecordFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalLines++
	s.failedLines++
}

// Snapshot is an immutable copy of the counters at the time of the call.
type Snapshot struct {
	TotalLines   int64
	ParsedEvents int64
	FailedLines  int64
	Categories   map[Category]int64
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	categories := make(map[Category]int64, len(s.categoryCount))
	for k, v := range s.categoryCount {
		categories[k] = v
	}
	return Snapshot{
		TotalLines:   s.totalLines,
		ParsedEvents: s.parsedEvents,
		FailedLines:  s.failedLines,
		Categories:   categories,
	}
}
