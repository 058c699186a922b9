package monitors

import (
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"ssw-logs-capture/pkg/logentry"
)

// ===================================================================================
// Shared Test Helpers for Monitor Tests
// ===================================================================================

// newTestLogger creates a logger for tests with minimal output
func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel) // Reduce noise in test output
	logger.SetOutput(io.Discard)      // Discard logs during tests
	return logger
}

// MockEnqueuer implements Enqueuer for testing.
type MockEnqueuer struct {
	mu         sync.Mutex
	calls      []EnqueueCall
	rejectNext bool
	callCount  int
}

// EnqueueCall records a single call to Enqueue.
type EnqueueCall struct {
	Content    string
	SourcePath string
	SourceName string
	Timestamp  time.Time
}

// NewMockEnqueuer creates a new MockEnqueuer.
func NewMockEnqueuer() *MockEnqueuer {
	return &MockEnqueuer{calls: make([]EnqueueCall, 0)}
}

// Enqueue implements Enqueuer.
func (m *MockEnqueuer) Enqueue(entry *logentry.LogEntry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rejectNext {
		m.rejectNext = false
		return false
	}

	m.calls = append(m.calls, EnqueueCall{
		Content:    entry.Content(),
		SourcePath: entry.SourcePath(),
		SourceName: entry.SourceName(),
		Timestamp:  entry.CreatedAt(),
	})
	m.callCount++
	return true
}

// GetCallCount returns the number of accepted Enqueue calls.
func (m *MockEnqueuer) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// GetCalls returns a copy of all accepted Enqueue calls.
func (m *MockEnqueuer) GetCalls() []EnqueueCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	callsCopy := make([]EnqueueCall, len(m.calls))
	copy(callsCopy, m.calls)
	return callsCopy
}

// Reset clears all recorded calls.
func (m *MockEnqueuer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make([]EnqueueCall, 0)
	m.callCount = 0
}

// RejectNext makes the next Enqueue call return false, simulating a full queue.
func (m *MockEnqueuer) RejectNext() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectNext = true
}

// WaitForCalls waits for at least n calls to be made.
func (m *MockEnqueuer) WaitForCalls(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.GetCallCount() >= n {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}

// waitForCondition waits for a condition to be true with timeout
func waitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

// writeToFile appends lines to a file (helper for file monitor tests)
func writeToFile(t *testing.T, path string, lines ...string) {
	t.Helper()
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	defer file.Close()

	for _, line := range lines {
		_, err := file.WriteString(line + "\n")
		require.NoError(t, err)
	}

	// Ensure data is written to disk
	err = file.Sync()
	require.NoError(t, err)
}
