// Package dispatcher implements the bounded, priority-ordered ingestion
// queue that sits between log sources and the processing orchestrator.
//
// A fixed-size worker pool pulls batches off a container/heap-backed
// priority queue, invokes an injected batch processor function, and
// re-enqueues failed entries with exponential backoff until they are
// exhausted and dead-lettered.
package dispatcher

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"ssw-logs-capture/internal/metrics"
	"ssw-logs-capture/pkg/logentry"

	"github.com/sirupsen/logrus"
)

// BatchProcessorFunc processes one batch of entries (sorted by priority,
// highest first) and reports per-entry outcome via the returned map: a nil
// error for an entry means success, a non-nil error schedules a retry.
type BatchProcessorFunc func(ctx context.Context, batch []*logentry.LogEntry) map[string]error

// ErrorHandlerFunc is invoked for every terminal failure (retries exhausted
// or displaced by backpressure), in the teacher's fixed-sink-callback
// idiom generalized to a pluggable function (§4.1).
type ErrorHandlerFunc func(entry *logentry.LogEntry)

// DeadLetterSink receives entries that reach a terminal DEAD state.
// Grounded on pkg/dlq's reprocessing-queue boundary, narrowed here to a
// simple ingest method since persistence of dead letters is the
// collaborator's job.
type DeadLetterSink interface {
	Ingest(entry *logentry.LogEntry)
}

// Config controls queue capacity, batching and retry policy.
type Config struct {
	MaxQueueSize    int           `yaml:"max_queue_size"`
	Workers         int           `yaml:"workers"`
	BatchSize       int           `yaml:"batch_size"`
	FlushInterval   time.Duration `yaml:"flush_interval_ms"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBase       time.Duration `yaml:"retry_base_ms"`
	RetryMax        time.Duration `yaml:"retry_max_ms"`
}

// DefaultConfig returns sane defaults for local/dev use.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize:  10_000,
		Workers:       4,
		BatchSize:     100,
		FlushInterval: 500 * time.Millisecond,
		MaxRetries:    3,
		RetryBase:     200 * time.Millisecond,
		RetryMax:      30 * time.Second,
	}
}

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	Total      int64
	Pending    int64
	Processing int64
	Completed  int64
	Failed     int64
	Dead       int64
	Retried    int64
}

// heapItem wraps a LogEntry with the ordering key (−priority weight,
// created_at) required by container/heap's min-heap semantics so that
// higher priority and older entries surface first.
type heapItem struct {
	entry *logentry.LogEntry
	index int
}

type entryHeap []*heapItem

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	pi, pj := h[i].entry.Priority().Weight(), h[j].entry.Priority().Weight()
	if pi != pj {
		return pi > pj // higher weight first
	}
	return h[i].entry.CreatedAt().Before(h[j].entry.CreatedAt()) // FIFO within priority
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	item := x.(*heapItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Queue is the bounded priority-heap ingestion queue described in §4.1. It
// is safe for concurrent Enqueue calls from multiple producers and runs a
// fixed worker pool once started.
type Queue struct {
	config Config
	logger *logrus.Logger
	clock  func() time.Time

	mu   sync.Mutex
	heap entryHeap

	statsMu sync.RWMutex
	stats   Stats

	processor    BatchProcessorFunc
	errorHandler ErrorHandlerFunc
	deadLetter   DeadLetterSink

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mutex     sync.RWMutex
	isRunning bool
	stopped   bool
}

// New constructs a Queue. clock defaults to time.Now when nil.
func New(config Config, logger *logrus.Logger, clock func() time.Time) *Queue {
	if config.MaxQueueSize <= 0 {
		config.MaxQueueSize = DefaultConfig().MaxQueueSize
	}
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = DefaultConfig().FlushInterval
	}
	if config.RetryBase <= 0 {
		config.RetryBase = DefaultConfig().RetryBase
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultConfig().RetryMax
	}
	if logger == nil {
		logger = logrus.New()
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	q := &Queue{config: config, logger: logger, clock: clock}
	heap.Init(&q.heap)
	return q
}

// SetBatchProcessor installs the batch processing callback.
func (q *Queue) SetBatchProcessor(fn BatchProcessorFunc) { q.processor = fn }

// SetErrorHandler installs the terminal-failure callback.
func (q *Queue) SetErrorHandler(fn ErrorHandlerFunc) { q.errorHandler = fn }

// SetDeadLetterSink installs the dead-letter sink.
func (q *Queue) SetDeadLetterSink(sink DeadLetterSink) { q.deadLetter = sink }

// Enqueue admits entry into the queue. It is rejected if the queue is
// stopped, or if it is at capacity and entry's priority is below HIGH;
// CRITICAL/HIGH entries displace the lowest-priority pending entry instead.
func (q *Queue) Enqueue(entry *logentry.LogEntry) bool {
	q.mutex.RLock()
	stopped := q.stopped
	q.mutex.RUnlock()
	if stopped {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) >= q.config.MaxQueueSize {
		if entry.Priority() < logentry.PriorityHigh {
			return false
		}
		if !q.displaceLowestLocked() {
			return false
		}
	}

	heap.Push(&q.heap, &heapItem{entry: entry})
	q.incStat(func(s *Stats) { s.Total++; s.Pending++ })
	q.updateQueueGaugesLocked()
	return true
}

// updateQueueGaugesLocked refreshes the depth/pressure gauges; caller must
// hold q.mu.
func (q *Queue) updateQueueGaugesLocked() {
	depth := len(q.heap)
	metrics.QueueDepth.Set(float64(depth))
	if q.config.MaxQueueSize > 0 {
		metrics.QueuePressure.Set(float64(depth) / float64(q.config.MaxQueueSize))
	}
}

// displaceLowestLocked evicts the lowest-priority pending entry to make
// room for an incoming CRITICAL/HIGH entry; caller must hold q.mu.
func (q *Queue) displaceLowestLocked() bool {
	if len(q.heap) == 0 {
		return false
	}
	// Less orders highest priority first, so the displacement target is the
	// item that is never the "lesser" of any pair — a linear scan for it.
	worstIdx := 0
	for i := 1; i < len(q.heap); i++ {
		if q.heap.Less(i, worstIdx) {
			continue
		}
		worstIdx = i
	}

	victim := heap.Remove(&q.heap, worstIdx).(*heapItem)
	victim.entry.MarkDead(q.clock(), logentry.ReasonDisplacedByBackpressure, "displaced by backpressure")
	q.incStat(func(s *Stats) { s.Pending--; s.Dead++ })
	metrics.EntriesDeadLetteredTotal.WithLabelValues(string(logentry.ReasonDisplacedByBackpressure)).Inc()
	q.updateQueueGaugesLocked()
	if q.deadLetter != nil {
		q.deadLetter.Ingest(victim.entry)
	}
	if q.errorHandler != nil {
		q.errorHandler(victim.entry)
	}
	return true
}

// Pressure reports pending/capacity as a fraction in [0,1].
func (q *Queue) Pressure() float64 {
	q.mu.Lock()
	pending := len(q.heap)
	q.mu.Unlock()
	if q.config.MaxQueueSize == 0 {
		return 0
	}
	return float64(pending) / float64(q.config.MaxQueueSize)
}

// Stats returns a snapshot of the queue's counters.
func (q *Queue) Stats() Stats {
	q.statsMu.RLock()
	defer q.statsMu.RUnlock()
	return q.stats
}

func (q *Queue) incStat(mutate func(*Stats)) {
	q.statsMu.Lock()
	defer q.statsMu.Unlock()
	mutate(&q.stats)
}

// Start is idempotent: calling it while already running is a no-op. It
// launches the configured worker pool.
func (q *Queue) Start(ctx context.Context) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.isRunning {
		return nil
	}
	if q.processor == nil {
		return fmt.Errorf("dispatcher: no batch processor installed")
	}

	q.ctx, q.cancel = context.WithCancel(ctx)
	q.isRunning = true
	q.stopped = false

	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.logger.WithFields(logrus.Fields{"workers": q.config.Workers, "max_queue_size": q.config.MaxQueueSize}).Info("ingestion queue started")
	return nil
}

// Stop is idempotent: it refuses new enqueues, signals workers to drain
// in-flight batches, and waits for them to exit.
func (q *Queue) Stop() {
	q.mutex.Lock()
	if !q.isRunning {
		q.mutex.Unlock()
		return
	}
	q.stopped = true
	q.isRunning = false
	cancel := q.cancel
	q.mutex.Unlock()

	cancel()
	q.wg.Wait()
	q.logger.Info("ingestion queue stopped")
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			q.drainRemaining()
			return
		case <-ticker.C:
			q.drainOnce()
		}
	}
}

// drainOnce pulls up to BatchSize entries, marks them PROCESSING, invokes
// the processor, and routes each outcome.
func (q *Queue) drainOnce() {
	batch := q.popBatch(q.config.BatchSize)
	if len(batch) == 0 {
		return
	}
	q.runBatch(batch)
}

// drainRemaining flushes whatever is left on shutdown, one batch at a time.
func (q *Queue) drainRemaining() {
	for {
		batch := q.popBatch(q.config.BatchSize)
		if len(batch) == 0 {
			return
		}
		q.runBatch(batch)
	}
}

func (q *Queue) popBatch(max int) []*logentry.LogEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := max
	if n > len(q.heap) {
		n = len(q.heap)
	}
	batch := make([]*logentry.LogEntry, 0, n)
	for i := 0; i < n; i++ {
		item := heap.Pop(&q.heap).(*heapItem)
		batch = append(batch, item.entry)
	}
	if n > 0 {
		q.updateQueueGaugesLocked()
	}
	return batch
}

func (q *Queue) runBatch(batch []*logentry.LogEntry) {
	now := q.clock()
	for _, e := range batch {
		e.MarkProcessing(now)
	}
	q.incStat(func(s *Stats) {
		s.Pending -= int64(len(batch))
		s.Processing += int64(len(batch))
	})

	results := q.processor(q.ctx, batch)

	for _, e := range batch {
		err, failed := results[e.EntryID()]
		q.incStat(func(s *Stats) { s.Processing-- })
		if failed && err != nil {
			q.handleFailure(e, err)
			continue
		}
		e.MarkCompleted(q.clock())
		q.incStat(func(s *Stats) { s.Completed++ })
	}
}

func (q *Queue) handleFailure(entry *logentry.LogEntry, cause error) {
	if entry.RetryCount() >= entry.MaxRetries() {
		entry.MarkDead(q.clock(), logentry.ReasonRetriesExhausted, cause.Error())
		q.incStat(func(s *Stats) { s.Dead++; s.Failed++ })
		metrics.EntriesDeadLetteredTotal.WithLabelValues(string(logentry.ReasonRetriesExhausted)).Inc()
		if q.deadLetter != nil {
			q.deadLetter.Ingest(entry)
		}
		if q.errorHandler != nil {
			q.errorHandler(entry)
		}
		return
	}

	entry.MarkRetrying(q.clock(), cause.Error())
	q.incStat(func(s *Stats) { s.Retried++ })
	metrics.EntriesRetriedTotal.Inc()

	delay := backoffDelay(entry.RetryCount(), q.config.RetryBase, q.config.RetryMax)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-q.ctx.Done():
			return
		case <-timer.C:
		}
		q.mu.Lock()
		heap.Push(&q.heap, &heapItem{entry: entry})
		q.updateQueueGaugesLocked()
		q.mu.Unlock()
		q.incStat(func(s *Stats) { s.Pending++ })
	}()
}

// backoffDelay implements delay = base * 2^retryCount, capped at max.
func backoffDelay(retryCount int, base, max time.Duration) time.Duration {
	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
