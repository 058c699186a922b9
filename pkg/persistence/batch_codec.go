package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"ssw-logs-capture/pkg/compression"
	"ssw-logs-capture/pkg/parsing"
)

// batchRecord is the wire shape one ParsedEvent is flattened to before
// compression — scalar fields only, since valuemap.Map carries no JSON
// codec of its own.
type batchRecord struct {
	ID        string            `json:"id"`
	RawLogID  string            `json:"raw_log_id"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"`
	Message   string            `json:"message"`
	Category  string            `json:"category"`
	ParsedAt  time.Time         `json:"parsed_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// BatchCodec compresses a batch of events before handoff to a backing
// store's transaction, and restores it on read. The store decides when to
// use it; TransactionalStore implementations are free to insert events
// uncompressed when the backing medium doesn't benefit from it.
type BatchCodec struct {
	compressor *compression.HTTPCompressor
	algorithm  compression.Algorithm
}

// NewBatchCodec constructs a codec using algorithm (AlgorithmAuto picks the
// best ratio for the batch's size, matching the teacher's sink-compression
// selection logic).
func NewBatchCodec(algorithm compression.Algorithm) *BatchCodec {
	if algorithm == "" {
		algorithm = compression.AlgorithmAuto
	}
	cfg := compression.Config{
		DefaultAlgorithm: algorithm,
		MinBytes:         1,
		Level:            0,
		PoolSize:         4,
	}
	return &BatchCodec{
		compressor: compression.NewHTTPCompressor(cfg, nil),
		algorithm:  algorithm,
	}
}

// Encode marshals and compresses a batch of events, returning the
// compressed payload and the algorithm actually used (relevant when
// algorithm is AlgorithmAuto).
func (c *BatchCodec) Encode(events []*parsing.ParsedEvent) ([]byte, compression.Algorithm, error) {
	records := make([]batchRecord, 0, len(events))
	for _, e := range events {
		rec := batchRecord{
			ID:        e.ID,
			RawLogID:  e.RawLogID,
			Timestamp: e.Timestamp,
			Source:    e.Source,
			Message:   e.Message,
			Category:  string(e.Category),
			ParsedAt:  e.ParsedAt,
		}
		if e.Metadata != nil {
			rec.Metadata = e.Metadata.ToStringMap()
		}
		records = append(records, rec)
	}

	raw, err := json.Marshal(records)
	if err != nil {
		return nil, "", fmt.Errorf("persistence: marshal batch: %w", err)
	}

	result, err := c.compressor.Compress(raw, c.algorithm, "persistence_batch")
	if err != nil {
		return nil, "", fmt.Errorf("persistence: compress batch: %w", err)
	}
	return result.Data, result.Algorithm, nil
}

// Decode reverses Encode, returning events with Metadata left nil
// (batch-codec round trips are for at-rest storage; downstream analysis
// reads the original in-memory events, not the decoded copies).
func (c *BatchCodec) Decode(payload []byte, algorithm compression.Algorithm) ([]*parsing.ParsedEvent, error) {
	raw, err := c.compressor.Decompress(payload, algorithm)
	if err != nil {
		return nil, fmt.Errorf("persistence: decompress batch: %w", err)
	}

	var records []batchRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("persistence: unmarshal batch: %w", err)
	}

	events := make([]*parsing.ParsedEvent, 0, len(records))
	for _, rec := range records {
		events = append(events, &parsing.ParsedEvent{
			ID:        rec.ID,
			RawLogID:  rec.RawLogID,
			Timestamp: rec.Timestamp,
			Source:    rec.Source,
			Message:   rec.Message,
			Category:  parsing.Category(rec.Category),
			ParsedAt:  rec.ParsedAt,
		})
	}
	return events, nil
}
