// Package persistence defines the transactional storage boundary the
// processing orchestrator writes parsed events and their analyses through.
// A concrete database-backed implementation is an external collaborator
// (spec §6); this package only declares the contract plus an in-memory
// reference implementation used by tests and local/dev runs.
package persistence

import (
	"context"
	"fmt"
	"sync"

	"ssw-logs-capture/pkg/analyzer"
	"ssw-logs-capture/pkg/compression"
	"ssw-logs-capture/pkg/parsing"
)

// journalEntry is one committed transaction's events, compressed via
// BatchCodec so the store carries a replayable record alongside the live
// in-memory slices.
type journalEntry struct {
	payload   []byte
	algorithm compression.Algorithm
	eventIDs  []string
}

// Transaction batches one entry's events and analyses so they commit or
// roll back atomically, per §6's "one transaction per entry" requirement.
type Transaction interface {
	InsertEvent(ctx context.Context, event *parsing.ParsedEvent) error
	InsertAnalysis(ctx context.Context, analysis *analyzer.AIAnalysis) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TransactionalStore opens transactions against the backing store.
type TransactionalStore interface {
	Begin(ctx context.Context) (Transaction, error)
}

// MemoryStore is a TransactionalStore reference implementation that keeps
// committed events/analyses in memory, guarded by a mutex. It exists so the
// orchestrator and its tests have a working store without depending on an
// external database.
type MemoryStore struct {
	mu       sync.Mutex
	events   []*parsing.ParsedEvent
	analyses []*analyzer.AIAnalysis
	codec    *BatchCodec
	journal  []journalEntry
}

// NewMemoryStore constructs an empty MemoryStore. Each commit is also
// encoded through a BatchCodec into an append-only in-memory journal, so the
// store has a compressed, replayable record of every batch it has accepted.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{codec: NewBatchCodec(compression.AlgorithmAuto)}
}

// ReplayJournal decodes every journaled batch back into events, in commit
// order. It exists to exercise the codec's Decode path from production code
// rather than leaving it reachable only from the codec's own tests — a
// caller rebuilding state after a restart would use this.
func (m *MemoryStore) ReplayJournal() ([]*parsing.ParsedEvent, error) {
	m.mu.Lock()
	journal := make([]journalEntry, len(m.journal))
	copy(journal, m.journal)
	m.mu.Unlock()

	var out []*parsing.ParsedEvent
	for _, entry := range journal {
		events, err := m.codec.Decode(entry.payload, entry.algorithm)
		if err != nil {
			return nil, fmt.Errorf("persistence: replay journal: %w", err)
		}
		out = append(out, events...)
	}
	return out, nil
}

// JournalLen returns the number of committed batches recorded in the
// journal.
func (m *MemoryStore) JournalLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.journal)
}

// Begin starts a new transaction against the store.
func (m *MemoryStore) Begin(ctx context.Context) (Transaction, error) {
	return &memoryTransaction{store: m}, nil
}

// Events returns a snapshot of every committed event.
func (m *MemoryStore) Events() []*parsing.ParsedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*parsing.ParsedEvent, len(m.events))
	copy(out, m.events)
	return out
}

// Analyses returns a snapshot of every committed analysis.
func (m *MemoryStore) Analyses() []*analyzer.AIAnalysis {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*analyzer.AIAnalysis, len(m.analyses))
	copy(out, m.analyses)
	return out
}

type memoryTransaction struct {
	store     *MemoryStore
	events    []*parsing.ParsedEvent
	analyses  []*analyzer.AIAnalysis
	done      bool
	eventIDs  map[string]bool
}

func (tx *memoryTransaction) InsertEvent(ctx context.Context, event *parsing.ParsedEvent) error {
	if tx.done {
		return fmt.Errorf("persistence: transaction already closed")
	}
	if event == nil {
		return fmt.Errorf("persistence: nil event")
	}
	if tx.eventIDs == nil {
		tx.eventIDs = make(map[string]bool)
	}
	tx.eventIDs[event.ID] = true
	tx.events = append(tx.events, event)
	return nil
}

func (tx *memoryTransaction) InsertAnalysis(ctx context.Context, analysis *analyzer.AIAnalysis) error {
	if tx.done {
		return fmt.Errorf("persistence: transaction already closed")
	}
	if analysis == nil {
		return fmt.Errorf("persistence: nil analysis")
	}
	if !tx.eventIDs[analysis.EventID] {
		return fmt.Errorf("persistence: analysis references event %q not in this transaction", analysis.EventID)
	}
	tx.analyses = append(tx.analyses, analysis)
	return nil
}

func (tx *memoryTransaction) Commit(ctx context.Context) error {
	if tx.done {
		return fmt.Errorf("persistence: transaction already closed")
	}

	var entry journalEntry
	if len(tx.events) > 0 {
		payload, algorithm, err := tx.store.codec.Encode(tx.events)
		if err != nil {
			return fmt.Errorf("persistence: encode commit journal: %w", err)
		}
		ids := make([]string, len(tx.events))
		for i, e := range tx.events {
			ids[i] = e.ID
		}
		entry = journalEntry{payload: payload, algorithm: algorithm, eventIDs: ids}
	}

	tx.done = true
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	tx.store.events = append(tx.store.events, tx.events...)
	tx.store.analyses = append(tx.store.analyses, tx.analyses...)
	if len(tx.events) > 0 {
		tx.store.journal = append(tx.store.journal, entry)
	}
	return nil
}

func (tx *memoryTransaction) Rollback(ctx context.Context) error {
	tx.done = true
	tx.events = nil
	tx.analyses = nil
	return nil
}
