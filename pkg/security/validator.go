// Package security hosts the content validator and sanitizer that run ahead
// of parsing, plus a logging redactor used ambiently to keep secrets out of
// structured logs.
package security

import (
	"regexp"
	"unicode/utf8"

	"ssw-logs-capture/pkg/logentry"
)

// Verdict is the validator's classification of an entry's content.
type Verdict string

const (
	VerdictValid      Verdict = "VALID"
	VerdictRepairable Verdict = "REPAIRABLE"
	VerdictSuspicious Verdict = "SUSPICIOUS"
	VerdictInvalid    Verdict = "INVALID"
)

// ValidatorConfig mirrors the configuration surface in SPEC_FULL.md §6.
type ValidatorConfig struct {
	MaxContentLength int // default 1 MiB
	MaxLineLength    int // default 32 KiB
}

// DefaultValidatorConfig returns the spec's default thresholds, grounded on
// processing_pipeline.py's LogEntryValidator defaults.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxContentLength: 1 * 1024 * 1024,
		MaxLineLength:    32 * 1024,
	}
}

// Validator classifies LogEntry content into one of four verdicts. It is an
// injected, per-pipeline instance rather than a module-level singleton
// (design note 9).
type Validator struct {
	config           ValidatorConfig
	suspiciousPatterns []*regexp.Regexp
}

// NewValidator constructs a Validator with config.
func NewValidator(config ValidatorConfig) *Validator {
	if config.MaxContentLength <= 0 {
		config.MaxContentLength = DefaultValidatorConfig().MaxContentLength
	}
	if config.MaxLineLength <= 0 {
		config.MaxLineLength = DefaultValidatorConfig().MaxLineLength
	}
	return &Validator{
		config:             config,
		suspiciousPatterns: compileSuspiciousPatterns(),
	}
}

// compileSuspiciousPatterns builds the SQLi/XSS/path-traversal/command-
// injection/encoded-payload signature families named in §4.2.
func compileSuspiciousPatterns() []*regexp.Regexp {
	raw := []string{
		// SQL injection
		`(?i)\bunion\s+select\b`,
		`(?i)\bselect\b.+\bfrom\b.+\bwhere\b`,
		`(?i)\b(or|and)\s+1\s*=\s*1\b`,
		`(?i)'\s*or\s*'1'\s*=\s*'1`,
		`(?i)\bdrop\s+table\b`,
		`(?i)\binsert\s+into\b.+\bvalues\b`,
		`(?i)--\s*$`,
		// XSS
		`(?i)<script[\s>]`,
		`(?i)javascript\s*:`,
		`(?i)on(error|load|click|mouseover)\s*=`,
		`(?i)<iframe[\s>]`,
		// Path traversal
		`\.\./\.\./`,
		`(?i)\.\.\\`,
		`(?i)/etc/passwd`,
		// Command injection
		"[;&|`]\\s*(rm|cat|wget|curl|nc|bash|sh)\\s",
		`\$\([^)]+\)`,
		// URL/hex encoded payloads
		`(?i)%3cscript`,
		`(?i)(%[0-9a-f]{2}){6,}`,
	}
	patterns := make([]*regexp.Regexp, 0, len(raw))
	for _, p := range raw {
		patterns = append(patterns, regexp.MustCompile(p))
	}
	return patterns
}

// allowedRune reports whether r is printable ASCII or one of tab/LF/CR.
func allowedRune(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return true
	}
	return r >= 0x20 && r < 0x7F
}

// Validate classifies entry's content per §4.2.
func (v *Validator) Validate(entry *logentry.LogEntry) Verdict {
	content := entry.Content()

	if len(content) == 0 {
		return VerdictInvalid
	}
	if len(content) > v.config.MaxContentLength {
		return VerdictInvalid
	}
	if entry.SourceName() == "" || len(entry.SourceName()) > 256 {
		return VerdictInvalid
	}

	repairable := false
	for _, line := range splitLines(content) {
		if len(line) > v.config.MaxLineLength {
			repairable = true
			break
		}
	}
	if !repairable {
		for _, r := range content {
			if r == utf8.RuneError {
				repairable = true
				break
			}
			if !allowedRune(r) {
				repairable = true
				break
			}
		}
	}

	for _, pattern := range v.suspiciousPatterns {
		if pattern.MatchString(content) {
			return VerdictSuspicious
		}
	}

	if repairable {
		return VerdictRepairable
	}
	return VerdictValid
}

// splitLines splits on \n without allocating a regexp, keeping \r if present
// (sanitizer handles trailing \r separately).
func splitLines(content string) []string {
	lines := make([]string, 0, 8)
	start := 0
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			lines = append(lines, content[start:i])
			start = i + 1
		}
	}
	if start < len(content) {
		lines = append(lines, content[start:])
	}
	return lines
}
