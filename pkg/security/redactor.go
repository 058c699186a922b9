package security

import (
	"net/url"
	"regexp"
	"strings"
)

// LoggingRedactor scrubs sensitive data (passwords, bearer tokens, API
// keys, credit cards...) out of strings before they reach a structured log
// line. This is a different concern from Validator/Sanitizer above — it
// never touches pipeline content, only what the ambient logger emits about
// it — kept from the teacher's original secret-scrubbing sanitizer rather
// than dropped, since every component's logging calls benefit from it.
type LoggingRedactor struct {
	patterns       map[string]*regexp.Regexp
	redactEmails   bool
	redactIPs      bool
	customPatterns map[string]*regexp.Regexp
}

// RedactorConfig configures which optional categories LoggingRedactor scrubs.
type RedactorConfig struct {
	RedactEmails   bool
	RedactIPs      bool
	CustomPatterns map[string]string
}

// DefaultRedactorConfig returns secure defaults: credentials always redacted,
// emails/IPs left alone (useful for correlating log lines during debugging).
func DefaultRedactorConfig() RedactorConfig {
	return RedactorConfig{
		RedactEmails:   false,
		RedactIPs:      false,
		CustomPatterns: map[string]string{},
	}
}

// NewLoggingRedactor builds a LoggingRedactor with config.
func NewLoggingRedactor(config RedactorConfig) *LoggingRedactor {
	r := &LoggingRedactor{
		patterns:       make(map[string]*regexp.Regexp),
		customPatterns: make(map[string]*regexp.Regexp),
		redactEmails:   config.RedactEmails,
		redactIPs:      config.RedactIPs,
	}
	r.compileBuiltInPatterns()
	for name, pattern := range config.CustomPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			r.customPatterns[name] = re
		}
	}
	return r
}

func (r *LoggingRedactor) compileBuiltInPatterns() {
	r.patterns["url_password"] = regexp.MustCompile(`(://[^:@]+:)([^@]+?)(@)`)
	r.patterns["bearer_token"] = regexp.MustCompile(`(?i)(bearer\s+)([a-zA-Z0-9\-._~+/]+=*)`)
	r.patterns["api_key_header"] = regexp.MustCompile(`(?i)(api[_-]?key\s*[=:]\s*)([a-zA-Z0-9\-._~+/]+)`)
	r.patterns["authorization"] = regexp.MustCompile(`(?i)(authorization\s*[=:]\s*)(.+?)(\s|$)`)
	r.patterns["jwt"] = regexp.MustCompile(`(eyJ[a-zA-Z0-9\-._~+/]+=*\.eyJ[a-zA-Z0-9\-._~+/]+=*\.[a-zA-Z0-9\-._~+/]+=*)`)
	r.patterns["password"] = regexp.MustCompile(`(?i)(password\s*[=:]\s*)([^\s,&]+)`)
	r.patterns["token"] = regexp.MustCompile(`(?i)(token\s*[=:]\s*)([a-zA-Z0-9\-._~+/]{16,})`)
	r.patterns["credit_card"] = regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`)

	if r.redactEmails {
		r.patterns["email"] = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`)
	}
	if r.redactIPs {
		r.patterns["ipv4"] = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	}
}

// Redact scrubs input of all configured sensitive-data patterns.
func (r *LoggingRedactor) Redact(input string) string {
	if input == "" {
		return input
	}
	result := input

	if re, ok := r.patterns["url_password"]; ok {
		result = re.ReplaceAllString(result, "${1}****${3}")
	}
	if re, ok := r.patterns["bearer_token"]; ok {
		result = re.ReplaceAllString(result, "${1}****")
	}
	if re, ok := r.patterns["jwt"]; ok {
		result = re.ReplaceAllString(result, "****")
	}
	if re, ok := r.patterns["api_key_header"]; ok {
		result = re.ReplaceAllString(result, "${1}****")
	}
	if re, ok := r.patterns["authorization"]; ok {
		result = re.ReplaceAllString(result, "${1}****${3}")
	}
	for _, name := range []string{"password", "token"} {
		if re, ok := r.patterns[name]; ok {
			result = re.ReplaceAllString(result, "${1}****")
		}
	}
	if re, ok := r.patterns["credit_card"]; ok {
		result = re.ReplaceAllStringFunc(result, func(match string) string {
			cleaned := strings.NewReplacer("-", "", " ", "").Replace(match)
			if len(cleaned) >= 4 {
				return "****-****-****-" + cleaned[len(cleaned)-4:]
			}
			return "****"
		})
	}
	if re, ok := r.patterns["email"]; ok {
		result = re.ReplaceAllStringFunc(result, func(email string) string {
			parts := strings.Split(email, "@")
			if len(parts) == 2 && len(parts[0]) > 0 {
				return parts[0][:1] + "****@" + parts[1]
			}
			return "****@****.***"
		})
	}
	if re, ok := r.patterns["ipv4"]; ok {
		result = re.ReplaceAllStringFunc(result, func(ip string) string {
			parts := strings.Split(ip, ".")
			if len(parts) == 4 {
				return parts[0] + "." + parts[1] + ".***.**"
			}
			return "***.***.***.**"
		})
	}
	for _, re := range r.customPatterns {
		result = re.ReplaceAllString(result, "****")
	}
	return result
}

// RedactURL scrubs credentials out of a URL's userinfo and sensitive query
// parameters, falling back to generic Redact on parse failure.
func (r *LoggingRedactor) RedactURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return r.Redact(rawURL)
	}
	if parsed.User != nil {
		parsed.User = url.UserPassword(parsed.User.Username(), "****")
	}
	query := parsed.Query()
	for _, param := range []string{"token", "api_key", "apikey", "key", "secret", "password", "pwd", "auth"} {
		if query.Has(param) {
			query.Set(param, "****")
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}
