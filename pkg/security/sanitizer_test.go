package security

import (
	"strings"
	"testing"
	"time"

	"ssw-logs-capture/pkg/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeReplacesDisallowedBytes(t *testing.T) {
	s := NewSanitizer(DefaultSanitizerConfig(), clock.NewFake(time.Now()))
	e := newTestEntry("hello\x01\x02world")

	sanitized, modified := s.Sanitize(e)
	require.True(t, modified)
	assert.Equal(t, "hello??world", sanitized.Content())
}

func TestSanitizeCapsConsecutiveReplacements(t *testing.T) {
	cfg := DefaultSanitizerConfig()
	cfg.MaxConsecutiveReplacements = 2
	s := NewSanitizer(cfg, clock.NewFake(time.Now()))

	e := newTestEntry("a" + strings.Repeat("\x01", 5) + "b")
	sanitized, modified := s.Sanitize(e)
	require.True(t, modified)
	// two replacements then the remaining three disallowed bytes dropped
	assert.Equal(t, "a??b", sanitized.Content())
}

func TestSanitizeTruncatesOverlongLine(t *testing.T) {
	cfg := DefaultSanitizerConfig()
	cfg.MaxLineLength = 10
	s := NewSanitizer(cfg, clock.NewFake(time.Now()))

	e := newTestEntry(strings.Repeat("a", 15))
	sanitized, modified := s.Sanitize(e)
	require.True(t, modified)
	assert.Equal(t, strings.Repeat("a", 10)+" [TRUNCATED]", sanitized.Content())
}

func TestSanitizeRecordsMetadata(t *testing.T) {
	now := time.Now()
	s := NewSanitizer(DefaultSanitizerConfig(), clock.NewFake(now))
	e := newTestEntry("bad\x01byte")

	sanitized, modified := s.Sanitize(e)
	require.True(t, modified)

	sanitizedFlag, ok := sanitized.Metadata().Get("sanitized")
	require.True(t, ok)
	b, _ := sanitizedFlag.AsBool()
	assert.True(t, b)

	origLen, ok := sanitized.Metadata().Get("original_length")
	require.True(t, ok)
	i, _ := origLen.AsInt()
	assert.EqualValues(t, len(e.Content()), i)
}

func TestSanitizeIsIdempotent(t *testing.T) {
	s := NewSanitizer(DefaultSanitizerConfig(), clock.NewFake(time.Now()))
	e := newTestEntry("weird\x01content" + strings.Repeat("z", 40000))

	once, _ := s.Sanitize(e)
	twice, _ := s.Sanitize(once)

	assert.Equal(t, once.Content(), twice.Content())
}

func TestSanitizeUnmodifiedContentReturnsUnchanged(t *testing.T) {
	s := NewSanitizer(DefaultSanitizerConfig(), clock.NewFake(time.Now()))
	e := newTestEntry("perfectly normal log line")

	sanitized, modified := s.Sanitize(e)
	assert.False(t, modified)
	assert.Equal(t, e.Content(), sanitized.Content())
}

func TestSanitizeAnnotatesDangerousSequenceWithoutRewriting(t *testing.T) {
	s := NewSanitizer(DefaultSanitizerConfig(), clock.NewFake(time.Now()))
	e := newTestEntry("query: UNION SELECT password FROM users")

	sanitized, modified := s.Sanitize(e)
	require.True(t, modified)
	assert.Equal(t, e.Content(), sanitized.Content())

	v, ok := sanitized.Metadata().Get("dangerous_sequence_detected")
	require.True(t, ok)
	b, _ := v.AsBool()
	assert.True(t, b)
}
