package security

import (
	"strings"

	"ssw-logs-capture/pkg/clock"
	"ssw-logs-capture/pkg/logentry"
	"ssw-logs-capture/pkg/valuemap"
)

// truncationMarker is appended to any line exceeding MaxLineLength.
const truncationMarker = " [TRUNCATED]"

// SanitizerConfig mirrors the configuration surface in SPEC_FULL.md §6.
type SanitizerConfig struct {
	MaxLineLength              int
	MaxConsecutiveReplacements int
	ReplacementChar            byte
}

// DefaultSanitizerConfig returns the spec's defaults, grounded on
// processing_pipeline.py's LogEntrySanitizer.
func DefaultSanitizerConfig() SanitizerConfig {
	return SanitizerConfig{
		MaxLineLength:              32 * 1024,
		MaxConsecutiveReplacements: 10,
		ReplacementChar:            '?',
	}
}

// dangerousSequences are detected and annotated but never rewritten, per
// §4.3 step 3.
var dangerousSequences = []string{
	"../", "..\\", "<script", "javascript:", "UNION SELECT", "DROP TABLE", "$(",
}

// Sanitizer repairs content the validator flagged as REPAIRABLE or
// SUSPICIOUS: disallowed bytes are replaced, overlong lines are truncated,
// and dangerous sequences are annotated without rewriting. It is an
// injected, per-pipeline instance (design note 9), not a singleton.
type Sanitizer struct {
	config SanitizerConfig
	clock  clock.Clock
}

// NewSanitizer constructs a Sanitizer with config, using clk as its time
// source for the sanitized_at metadata timestamp.
func NewSanitizer(config SanitizerConfig, clk clock.Clock) *Sanitizer {
	if config.MaxLineLength <= 0 {
		config.MaxLineLength = DefaultSanitizerConfig().MaxLineLength
	}
	if config.MaxConsecutiveReplacements <= 0 {
		config.MaxConsecutiveReplacements = DefaultSanitizerConfig().MaxConsecutiveReplacements
	}
	if config.ReplacementChar == 0 {
		config.ReplacementChar = DefaultSanitizerConfig().ReplacementChar
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Sanitizer{config: config, clock: clk}
}

// Sanitize applies the three repair operations in order and returns a new
// entry (the original is never mutated) plus whether anything changed.
func (s *Sanitizer) Sanitize(entry *logentry.LogEntry) (*logentry.LogEntry, bool) {
	original := entry.Content()

	charsSanitized := s.sanitizeChars(original)
	truncated, _ := s.truncateLines(charsSanitized)
	dangerFound := s.detectDangerousSequences(truncated)

	modified := truncated != original || dangerFound

	sanitized := entry.WithContent(truncated)
	if modified {
		now := s.clock.Now()
		sanitized.Metadata().SetBool(valuemap.KeySanitized, true)
		sanitized.Metadata().SetInt(valuemap.KeyOriginalLength, int64(len(original)))
		sanitized.Metadata().SetInt(valuemap.KeySanitizedLength, int64(len(truncated)))
		sanitized.Metadata().Set(valuemap.KeySanitizedAt, valuemap.Time(now))
		if dangerFound {
			sanitized.Metadata().SetBool(valuemap.KeyDangerousSequence, true)
		}
	}
	return sanitized, modified
}

// sanitizeChars replaces each disallowed byte with the replacement
// character, capping consecutive replacements per run: once the cap is
// reached, further disallowed bytes in the same run are dropped entirely
// rather than replaced, per §4.3 step 1.
func (s *Sanitizer) sanitizeChars(content string) string {
	var b strings.Builder
	b.Grow(len(content))

	consecutive := 0
	for i := 0; i < len(content); i++ {
		c := content[i]
		if allowedByte(c) {
			consecutive = 0
			b.WriteByte(c)
			continue
		}
		consecutive++
		if consecutive <= s.config.MaxConsecutiveReplacements {
			b.WriteByte(s.config.ReplacementChar)
		}
		// beyond the cap: byte is dropped, not written
	}
	return b.String()
}

func allowedByte(c byte) bool {
	if c == '\t' || c == '\n' || c == '\r' {
		return true
	}
	return c >= 0x20 && c < 0x7F
}

// truncateLines truncates any line longer than MaxLineLength, appending the
// marker, per §4.3 step 2.
func (s *Sanitizer) truncateLines(content string) (string, bool) {
	if !strings.Contains(content, "\n") {
		return s.truncateOneLine(content)
	}
	lines := strings.Split(content, "\n")
	anyTruncated := false
	for i, line := range lines {
		truncatedLine, did := s.truncateOneLine(line)
		lines[i] = truncatedLine
		anyTruncated = anyTruncated || did
	}
	return strings.Join(lines, "\n"), anyTruncated
}

func (s *Sanitizer) truncateOneLine(line string) (string, bool) {
	if len(line) <= s.config.MaxLineLength {
		return line, false
	}
	cut := s.config.MaxLineLength
	return line[:cut] + truncationMarker, true
}

// detectDangerousSequences reports whether any known dangerous sequence is
// present; content is never rewritten for this (§4.3 step 3 is detect-only).
func (s *Sanitizer) detectDangerousSequences(content string) bool {
	lower := strings.ToLower(content)
	for _, seq := range dangerousSequences {
		if strings.Contains(lower, strings.ToLower(seq)) {
			return true
		}
	}
	return false
}
