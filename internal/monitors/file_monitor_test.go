package monitors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ===================================================================================
// Test Helpers (shared helpers in test_helpers.go)
// ===================================================================================

// createTestFile creates a temporary file for testing
func createTestFile(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "test.log")

	file, err := os.Create(filePath)
	require.NoError(t, err)
	defer file.Close()

	return filePath
}

// ===================================================================================
// TAREFA 2: Testes de Construtor
// ===================================================================================

func TestNewFileMonitor_Success(t *testing.T) {
	config := Config{
		WatchDirectories: []string{"/tmp/test.log"},
	}

	enqueuer := NewMockEnqueuer()
	logger := newTestLogger()

	fm, err := NewFileMonitor(config, enqueuer, logger)

	require.NoError(t, err)
	require.NotNil(t, fm)
	assert.NotNil(t, fm.logger)
	assert.NotNil(t, fm.enqueuer)
	assert.Equal(t, config.WatchDirectories, fm.config.WatchDirectories)
	assert.NotNil(t, fm.tailers)
	assert.False(t, fm.running)
}

func TestNewFileMonitor_NilLogger(t *testing.T) {
	config := Config{}
	enqueuer := NewMockEnqueuer()

	_, err := NewFileMonitor(config, enqueuer, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "logger é obrigatório")
}

func TestNewFileMonitor_NilEnqueuer(t *testing.T) {
	config := Config{}
	logger := newTestLogger()

	_, err := NewFileMonitor(config, nil, logger)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "enqueuer é obrigatório")
}

func TestNewFileMonitor_EmptyConfig(t *testing.T) {
	config := Config{
		WatchDirectories: []string{},
	}

	enqueuer := NewMockEnqueuer()
	logger := newTestLogger()

	fm, err := NewFileMonitor(config, enqueuer, logger)

	require.NoError(t, err, "Constructor should succeed even with empty config")
	require.NotNil(t, fm)
}

// ===================================================================================
// TAREFA 3: Testes de Start/Stop
// ===================================================================================

func TestFileMonitor_StartStop(t *testing.T) {
	testFile := createTestFile(t)

	config := Config{
		WatchDirectories: []string{testFile},
	}

	enqueuer := NewMockEnqueuer()
	logger := newTestLogger()

	fm, err := NewFileMonitor(config, enqueuer, logger)
	require.NoError(t, err)

	ctx := context.Background()
	err = fm.Start(ctx)
	require.NoError(t, err)

	time.Sleep(500 * time.Millisecond)

	fm.runningMux.RLock()
	running := fm.running
	fm.runningMux.RUnlock()
	assert.True(t, running, "FileMonitor should be running after Start")

	err = fm.Stop()
	require.NoError(t, err)

	fm.runningMux.RLock()
	running = fm.running
	fm.runningMux.RUnlock()
	assert.False(t, running, "FileMonitor should be stopped after Stop")
}

func TestFileMonitor_PreventDoubleStart(t *testing.T) {
	testFile := createTestFile(t)

	config := Config{
		WatchDirectories: []string{testFile},
	}

	enqueuer := NewMockEnqueuer()
	logger := newTestLogger()

	fm, err := NewFileMonitor(config, enqueuer, logger)
	require.NoError(t, err)
	defer fm.Stop()

	ctx := context.Background()

	err = fm.Start(ctx)
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)

	err = fm.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "já está em execução")
}

func TestFileMonitor_StopWithoutStart(t *testing.T) {
	testFile := createTestFile(t)

	config := Config{
		WatchDirectories: []string{testFile},
	}

	enqueuer := NewMockEnqueuer()
	logger := newTestLogger()

	fm, err := NewFileMonitor(config, enqueuer, logger)
	require.NoError(t, err)

	err = fm.Stop()
	assert.NoError(t, err)
}

func TestFileMonitor_MultipleStopCalls(t *testing.T) {
	testFile := createTestFile(t)

	config := Config{
		WatchDirectories: []string{testFile},
	}

	enqueuer := NewMockEnqueuer()
	logger := newTestLogger()

	fm, err := NewFileMonitor(config, enqueuer, logger)
	require.NoError(t, err)

	ctx := context.Background()
	err = fm.Start(ctx)
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)

	err = fm.Stop()
	assert.NoError(t, err)

	err = fm.Stop()
	assert.NoError(t, err)
}

func TestFileMonitor_StartWithNoFiles(t *testing.T) {
	config := Config{
		WatchDirectories: []string{},
	}

	enqueuer := NewMockEnqueuer()
	logger := newTestLogger()

	fm, err := NewFileMonitor(config, enqueuer, logger)
	require.NoError(t, err)
	defer fm.Stop()

	ctx := context.Background()
	err = fm.Start(ctx)
	require.Error(t, err, "Should fail when no files configured")
}

// ===================================================================================
// TAREFA 4: Testes de Leitura de Arquivo
// ===================================================================================

func TestFileMonitor_ReadExistingFile(t *testing.T) {
	testFile := createTestFile(t)

	writeToFile(t, testFile, "linha 1", "linha 2", "linha 3")

	config := Config{
		WatchDirectories: []string{testFile},
		SeekStrategy:     "beginning",
	}

	enqueuer := NewMockEnqueuer()
	logger := newTestLogger()

	fm, err := NewFileMonitor(config, enqueuer, logger)
	require.NoError(t, err)
	defer fm.Stop()

	ctx := context.Background()
	err = fm.Start(ctx)
	require.NoError(t, err)

	success := waitForCondition(t, 5*time.Second, func() bool {
		return enqueuer.GetCallCount() >= 3
	})

	assert.True(t, success, "Should process at least 3 lines within timeout")

	calls := enqueuer.GetCalls()
	assert.GreaterOrEqual(t, len(calls), 3, "Should have processed at least 3 lines")

	for _, call := range calls {
		assert.Equal(t, "file_monitor", call.SourceName)
		assert.Equal(t, testFile, call.SourcePath)
		assert.NotEmpty(t, call.Content)
	}
}

func TestFileMonitor_TailNewLines(t *testing.T) {
	testFile := createTestFile(t)

	config := Config{
		WatchDirectories: []string{testFile},
		SeekStrategy:     "end",
	}

	enqueuer := NewMockEnqueuer()
	logger := newTestLogger()

	fm, err := NewFileMonitor(config, enqueuer, logger)
	require.NoError(t, err)
	defer fm.Stop()

	ctx := context.Background()
	err = fm.Start(ctx)
	require.NoError(t, err)

	time.Sleep(1 * time.Second)

	initialCount := enqueuer.GetCallCount()

	writeToFile(t, testFile, "nova linha 1", "nova linha 2")

	success := waitForCondition(t, 5*time.Second, func() bool {
		return enqueuer.GetCallCount() >= initialCount+2
	})

	assert.True(t, success, "Should process new lines within timeout")

	finalCount := enqueuer.GetCallCount()
	newLines := finalCount - initialCount

	assert.GreaterOrEqual(t, newLines, 2, "Should process at least 2 new lines")
}

func TestFileMonitor_SeekStrategy_Recent(t *testing.T) {
	testFile := createTestFile(t)

	var lines []string
	for i := 0; i < 100; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	writeToFile(t, testFile, lines...)

	config := Config{
		WatchDirectories: []string{testFile},
		SeekStrategy:     "recent",
		SeekRecentBytes:  500,
	}

	enqueuer := NewMockEnqueuer()
	logger := newTestLogger()

	fm, err := NewFileMonitor(config, enqueuer, logger)
	require.NoError(t, err)
	defer fm.Stop()

	ctx := context.Background()
	err = fm.Start(ctx)
	require.NoError(t, err)

	time.Sleep(2 * time.Second)

	callCount := enqueuer.GetCallCount()
	assert.Less(t, callCount, 100, "Should process less than all 100 lines with 'recent' strategy")
	assert.Greater(t, callCount, 0, "Should process some lines")
}

func TestFileMonitor_IgnoreOldTimestamps(t *testing.T) {
	testFile := createTestFile(t)

	writeToFile(t, testFile, "old line 1", "old line 2")

	config := Config{
		WatchDirectories:    []string{testFile},
		IgnoreOldTimestamps: true,
	}

	enqueuer := NewMockEnqueuer()
	logger := newTestLogger()

	fm, err := NewFileMonitor(config, enqueuer, logger)
	require.NoError(t, err)
	defer fm.Stop()

	ctx := context.Background()
	err = fm.Start(ctx)
	require.NoError(t, err)

	time.Sleep(1 * time.Second)

	initialCount := enqueuer.GetCallCount()

	writeToFile(t, testFile, "new line")

	success := waitForCondition(t, 5*time.Second, func() bool {
		return enqueuer.GetCallCount() > initialCount
	})

	assert.True(t, success, "Should process new line")
	assert.Equal(t, 0, initialCount, "Should ignore old lines with IgnoreOldTimestamps")
}

// ===================================================================================
// TAREFA 5: Testes de Race Conditions
// ===================================================================================

func TestFileMonitor_ConcurrentFileWrites(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping concurrent test in short mode")
	}

	testFile := createTestFile(t)

	config := Config{
		WatchDirectories: []string{testFile},
		SeekStrategy:     "beginning",
	}

	enqueuer := NewMockEnqueuer()
	logger := newTestLogger()

	fm, err := NewFileMonitor(config, enqueuer, logger)
	require.NoError(t, err)
	defer fm.Stop()

	ctx := context.Background()
	err = fm.Start(ctx)
	require.NoError(t, err)

	time.Sleep(500 * time.Millisecond)

	const numWriters = 5
	const linesPerWriter = 10
	var wg sync.WaitGroup
	wg.Add(numWriters)

	for i := 0; i < numWriters; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < linesPerWriter; j++ {
				writeToFile(t, testFile, fmt.Sprintf("writer-%d line-%d", id, j))
				time.Sleep(10 * time.Millisecond)
			}
		}(i)
	}

	wg.Wait()
	time.Sleep(3 * time.Second)

	callCount := enqueuer.GetCallCount()
	t.Logf("Processed %d lines from %d expected", callCount, numWriters*linesPerWriter)

	assert.Greater(t, callCount, 0, "Should process some lines")
}

func TestFileMonitor_ConcurrentStartStop(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping concurrent test in short mode")
	}

	testFile := createTestFile(t)

	config := Config{
		WatchDirectories: []string{testFile},
	}

	enqueuer := NewMockEnqueuer()
	logger := newTestLogger()

	fm, err := NewFileMonitor(config, enqueuer, logger)
	require.NoError(t, err)

	ctx := context.Background()

	const goroutines = 10
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			fm.Start(ctx)
			time.Sleep(10 * time.Millisecond)
			fm.Stop()
		}()
	}

	wg.Wait()
	fm.Stop()
}

func TestFileMonitor_ConcurrentEnqueuerAccess(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping concurrent test in short mode")
	}

	testFile := createTestFile(t)

	config := Config{
		WatchDirectories: []string{testFile},
		SeekStrategy:     "beginning",
	}

	enqueuer := NewMockEnqueuer()
	logger := newTestLogger()

	fm, err := NewFileMonitor(config, enqueuer, logger)
	require.NoError(t, err)
	defer fm.Stop()

	ctx := context.Background()
	err = fm.Start(ctx)
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)

	for i := 0; i < 50; i++ {
		writeToFile(t, testFile, fmt.Sprintf("test line %d", i))
	}

	var wg sync.WaitGroup
	wg.Add(10)

	for i := 0; i < 10; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				enqueuer.GetCallCount()
				time.Sleep(1 * time.Millisecond)
			}
		}()
	}

	wg.Wait()

	callCount := enqueuer.GetCallCount()
	t.Logf("Final call count: %d", callCount)
}

// ===================================================================================
// TAREFA 6: Testes de Worker Pool
// ===================================================================================

func TestWorkerPool_ProcessLogLine(t *testing.T) {
	ctx := context.Background()
	enqueuer := NewMockEnqueuer()
	logger := newTestLogger()

	pool := newWorkerPool(ctx, 2, 10, enqueuer, logger)
	defer pool.close()

	job := &workerJob{
		line:       "test log line",
		sourcePath: "/tmp/test.log",
		timestamp:  time.Now(),
	}

	pool.jobsChannel <- job

	time.Sleep(500 * time.Millisecond)

	calls := enqueuer.GetCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "file_monitor", calls[0].SourceName)
	assert.Equal(t, "/tmp/test.log", calls[0].SourcePath)
	assert.Equal(t, "test log line", calls[0].Content)
}

func TestWorkerPool_MultipleJobs(t *testing.T) {
	ctx := context.Background()
	enqueuer := NewMockEnqueuer()
	logger := newTestLogger()

	pool := newWorkerPool(ctx, 4, 100, enqueuer, logger)
	defer pool.close()

	const numJobs = 20
	for i := 0; i < numJobs; i++ {
		job := &workerJob{
			line:       fmt.Sprintf("log line %d", i),
			sourcePath: "/tmp/test.log",
			timestamp:  time.Now(),
		}
		pool.jobsChannel <- job
	}

	success := waitForCondition(t, 5*time.Second, func() bool {
		return enqueuer.GetCallCount() >= numJobs
	})

	assert.True(t, success, "Should process all jobs within timeout")

	calls := enqueuer.GetCalls()
	assert.Len(t, calls, numJobs)
}

func TestWorkerPool_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	enqueuer := NewMockEnqueuer()
	logger := newTestLogger()

	pool := newWorkerPool(ctx, 2, 10, enqueuer, logger)

	for i := 0; i < 5; i++ {
		job := &workerJob{
			line:       fmt.Sprintf("log line %d", i),
			sourcePath: "/tmp/test.log",
			timestamp:  time.Now(),
		}
		pool.jobsChannel <- job
	}

	cancel()
	pool.close()
}

func TestWorkerPool_ErrorHandling(t *testing.T) {
	ctx := context.Background()
	enqueuer := NewMockEnqueuer()
	enqueuer.RejectNext()
	logger := newTestLogger()

	pool := newWorkerPool(ctx, 2, 10, enqueuer, logger)
	defer pool.close()

	job := &workerJob{
		line:       "test log line",
		sourcePath: "/tmp/test.log",
		timestamp:  time.Now(),
	}

	pool.jobsChannel <- job

	time.Sleep(500 * time.Millisecond)

	job2 := &workerJob{
		line:       "test log line 2",
		sourcePath: "/tmp/test.log",
		timestamp:  time.Now(),
	}

	pool.jobsChannel <- job2

	time.Sleep(500 * time.Millisecond)

	calls := enqueuer.GetCalls()
	assert.GreaterOrEqual(t, len(calls), 1, "Should process successful job")
}

// ===================================================================================
// TAREFA 7: Benchmarks
// ===================================================================================

func BenchmarkWorkerPool_ProcessLogLine(b *testing.B) {
	ctx := context.Background()
	enqueuer := NewMockEnqueuer()
	logger := newTestLogger()

	pool := newWorkerPool(ctx, 4, 1000, enqueuer, logger)
	defer pool.close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		job := &workerJob{
			line:       fmt.Sprintf("benchmark line %d", i),
			sourcePath: "/tmp/bench.log",
			timestamp:  time.Now(),
		}
		pool.jobsChannel <- job
	}

	for enqueuer.GetCallCount() < b.N {
		time.Sleep(1 * time.Millisecond)
	}
}

func BenchmarkFileMonitor_ReadLines(b *testing.B) {
	t := &testing.T{}
	testFile := createTestFile(t)

	lines := make([]string, 0, 1000)
	for i := 0; i < 1000; i++ {
		lines = append(lines, fmt.Sprintf("benchmark line %d", i))
	}
	writeToFile(t, testFile, lines...)

	config := Config{
		WatchDirectories: []string{testFile},
		SeekStrategy:     "beginning",
	}

	enqueuer := NewMockEnqueuer()
	logger := newTestLogger()

	fm, err := NewFileMonitor(config, enqueuer, logger)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ctx := context.Background()
		fm.Start(ctx)

		for enqueuer.GetCallCount() < 1000 {
			time.Sleep(1 * time.Millisecond)
		}

		fm.Stop()
		enqueuer.Reset()
	}
}

// ===================================================================================
// Testes Adicionais de Edge Cases
// ===================================================================================

func TestFileMonitor_NonExistentFile(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping test with non-existent file in short mode")
	}

	config := Config{
		WatchDirectories: []string{"/tmp/non-existent-file-xyz123.log"},
	}

	enqueuer := NewMockEnqueuer()
	logger := newTestLogger()

	fm, err := NewFileMonitor(config, enqueuer, logger)
	require.NoError(t, err)
	defer fm.Stop()

	ctx := context.Background()
	err = fm.Start(ctx)

	// nxadm/tail library will wait for the file to appear, so Start doesn't immediately fail
	require.NoError(t, err, "Start should succeed - tail will wait for file to appear")

	time.Sleep(1 * time.Second)
	assert.Equal(t, 0, enqueuer.GetCallCount(), "Should not process any logs from non-existent file")
}

func TestFileMonitor_EmptyFile(t *testing.T) {
	testFile := createTestFile(t)

	config := Config{
		WatchDirectories: []string{testFile},
		SeekStrategy:     "beginning",
	}

	enqueuer := NewMockEnqueuer()
	logger := newTestLogger()

	fm, err := NewFileMonitor(config, enqueuer, logger)
	require.NoError(t, err)
	defer fm.Stop()

	ctx := context.Background()
	err = fm.Start(ctx)
	require.NoError(t, err)

	time.Sleep(1 * time.Second)

	callCount := enqueuer.GetCallCount()
	assert.Equal(t, 0, callCount, "Should not process lines from empty file")

	writeToFile(t, testFile, "new line after empty")

	success := waitForCondition(t, 5*time.Second, func() bool {
		return enqueuer.GetCallCount() > 0
	})

	assert.True(t, success, "Should process line written to previously empty file")
}

func TestFileMonitor_MultipleFiles(t *testing.T) {
	file1 := createTestFile(t)
	file2 := createTestFile(t)
	file3 := createTestFile(t)

	writeToFile(t, file1, "file1 line1", "file1 line2")
	writeToFile(t, file2, "file2 line1", "file2 line2")
	writeToFile(t, file3, "file3 line1", "file3 line2")

	config := Config{
		WatchDirectories: []string{file1, file2, file3},
		SeekStrategy:     "beginning",
	}

	enqueuer := NewMockEnqueuer()
	logger := newTestLogger()

	fm, err := NewFileMonitor(config, enqueuer, logger)
	require.NoError(t, err)
	defer fm.Stop()

	ctx := context.Background()
	err = fm.Start(ctx)
	require.NoError(t, err)

	success := waitForCondition(t, 10*time.Second, func() bool {
		return enqueuer.GetCallCount() >= 6
	})

	assert.True(t, success, "Should process all 6 lines from 3 files")

	calls := enqueuer.GetCalls()
	assert.GreaterOrEqual(t, len(calls), 6)

	sourcePaths := make(map[string]bool)
	for _, call := range calls {
		sourcePaths[call.SourcePath] = true
	}

	assert.GreaterOrEqual(t, len(sourcePaths), 3, "Should process lines from at least 3 different files")
}

func TestFileMonitor_GracefulShutdownDuringProcessing(t *testing.T) {
	testFile := createTestFile(t)

	config := Config{
		WatchDirectories: []string{testFile},
		SeekStrategy:     "beginning",
	}

	enqueuer := NewMockEnqueuer()
	logger := newTestLogger()

	fm, err := NewFileMonitor(config, enqueuer, logger)
	require.NoError(t, err)

	ctx := context.Background()
	err = fm.Start(ctx)
	require.NoError(t, err)

	var lines []string
	for i := 0; i < 1000; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	writeToFile(t, testFile, lines...)

	time.Sleep(500 * time.Millisecond)

	start := time.Now()
	err = fm.Stop()
	duration := time.Since(start)

	assert.NoError(t, err)
	assert.Less(t, duration, 15*time.Second, "Should stop within shutdown timeout")

	callCount := enqueuer.GetCallCount()
	t.Logf("Processed %d lines before shutdown", callCount)
	assert.Greater(t, callCount, 0, "Should have processed some lines")
}
