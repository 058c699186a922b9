package security

import (
	"strings"
	"testing"
	"time"

	"ssw-logs-capture/pkg/logentry"

	"github.com/stretchr/testify/assert"
)

func newTestEntry(content string) *logentry.LogEntry {
	return logentry.New(content, "/var/log/test.log", "test-source", logentry.PriorityMedium, time.Now())
}

func TestValidateEmptyContentIsInvalid(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())
	e := newTestEntry("")
	assert.Equal(t, VerdictInvalid, v.Validate(e))
}

func TestValidateAtMaxContentLengthIsAccepted(t *testing.T) {
	v := NewValidator(ValidatorConfig{MaxContentLength: 100, MaxLineLength: 100})
	e := newTestEntry(strings.Repeat("a", 100))
	assert.NotEqual(t, VerdictInvalid, v.Validate(e))
}

func TestValidateOverMaxContentLengthIsInvalid(t *testing.T) {
	v := NewValidator(ValidatorConfig{MaxContentLength: 100, MaxLineLength: 100})
	e := newTestEntry(strings.Repeat("a", 101))
	assert.Equal(t, VerdictInvalid, v.Validate(e))
}

func TestValidateOverlongLineIsRepairable(t *testing.T) {
	v := NewValidator(ValidatorConfig{MaxContentLength: 10000, MaxLineLength: 10})
	e := newTestEntry(strings.Repeat("a", 11))
	assert.Equal(t, VerdictRepairable, v.Validate(e))
}

func TestValidateDisallowedBytesIsRepairable(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())
	e := newTestEntry("hello\x01world")
	assert.Equal(t, VerdictRepairable, v.Validate(e))
}

func TestValidateSQLInjectionIsSuspicious(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())
	e := newTestEntry("login attempt: UNION SELECT * FROM users")
	assert.Equal(t, VerdictSuspicious, v.Validate(e))
}

func TestValidateXSSIsSuspicious(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())
	e := newTestEntry(`comment body: <script>alert(1)</script>`)
	assert.Equal(t, VerdictSuspicious, v.Validate(e))
}

func TestValidatePathTraversalIsSuspicious(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())
	e := newTestEntry("request path: ../../etc/passwd")
	assert.Equal(t, VerdictSuspicious, v.Validate(e))
}

func TestValidateCommandInjectionIsSuspicious(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())
	e := newTestEntry("input field: ; rm -rf /tmp/data")
	assert.Equal(t, VerdictSuspicious, v.Validate(e))
}

func TestValidateOrdinaryLogLineIsValid(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())
	e := newTestEntry("Jan 15 10:30:45 MacBook sshd[456]: Accepted password for admin")
	assert.Equal(t, VerdictValid, v.Validate(e))
}
