// Package dlq holds dead-lettered entries — those displaced by backpressure
// or that exhausted their retry budget — in a bounded in-memory ring so an
// operator can inspect recent failures. Persisting dead letters to durable
// storage is an external collaborator's concern; the queue only needs a
// place to hand them off.
package dlq

import (
	"sync"
	"time"

	"ssw-logs-capture/pkg/logentry"

	"github.com/sirupsen/logrus"
)

// Record is a dead-lettered entry plus the time it was ingested.
type Record struct {
	Entry      *logentry.LogEntry
	Reason     logentry.DeadLetterReason
	IngestedAt time.Time
}

// Config bounds the ring's capacity.
type Config struct {
	Capacity int `yaml:"capacity"`
}

// DefaultConfig returns the default ring capacity.
func DefaultConfig() Config {
	return Config{Capacity: 1000}
}

// Ring is a fixed-capacity dead-letter buffer, evicting the oldest record
// once full — grounded on the teacher's DeadLetterQueue role, narrowed from
// a persistent file-backed store to an in-memory ring per §4.1.
type Ring struct {
	config Config
	logger *logrus.Logger
	clock  func() time.Time

	mu      sync.Mutex
	records []Record
	start   int
	count   int
	total   int64
}

// NewRing constructs a Ring with config.
func NewRing(config Config, logger *logrus.Logger, clock func() time.Time) *Ring {
	if config.Capacity <= 0 {
		config.Capacity = DefaultConfig().Capacity
	}
	if logger == nil {
		logger = logrus.New()
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Ring{
		config:  config,
		logger:  logger,
		clock:   clock,
		records: make([]Record, config.Capacity),
	}
}

// Ingest implements dispatcher.DeadLetterSink.
func (r *Ring) Ingest(entry *logentry.LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := Record{Entry: entry, Reason: entry.DeadLetterReason(), IngestedAt: r.clock()}

	if r.count < len(r.records) {
		r.records[(r.start+r.count)%len(r.records)] = rec
		r.count++
	} else {
		r.records[r.start] = rec
		r.start = (r.start + 1) % len(r.records)
	}
	r.total++

	r.logger.WithFields(logrus.Fields{
		"entry_id": entry.EntryID(),
		"reason":   rec.Reason,
	}).Warn("entry dead-lettered")
}

// Recent returns up to n of the most recently ingested records, newest
// first.
func (r *Ring) Recent(n int) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > r.count {
		n = r.count
	}
	out := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.start + r.count - 1 - i + len(r.records)) % len(r.records)
		out = append(out, r.records[idx])
	}
	return out
}

// Total returns the cumulative number of entries ever ingested, including
// those since evicted.
func (r *Ring) Total() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
