// Package parsing implements the fixed-format static parser: a small family
// of regex patterns for known syslog shapes, a generic fallback for
// everything else, and the weighted-keyword event categorizer.
package parsing

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"ssw-logs-capture/pkg/idgen"
	"ssw-logs-capture/pkg/valuemap"
)

// Category is the categorizer's output classification.
type Category string

const (
	CategoryAuth        Category = "AUTH"
	CategoryKernel      Category = "KERNEL"
	CategorySystem      Category = "SYSTEM"
	CategoryNetwork     Category = "NETWORK"
	CategorySecurity    Category = "SECURITY"
	CategoryApplication Category = "APPLICATION"
	CategoryUnknown     Category = "UNKNOWN"
)

// categoryOrder fixes the tie-break order used when multiple categories
// score equally, matching the source's dict-iteration declaration order.
var categoryOrder = []Category{
	CategoryAuth, CategoryKernel, CategorySystem, CategoryNetwork,
	CategorySecurity, CategoryApplication,
}

var categoryKeywords = map[Category][]string{
	CategoryAuth: {
		"login", "logout", "authentication", "password", "sudo", "su",
		"ssh", "failed", "success", "user", "session", "pam", "auth",
		"credential", "token", "certificate", "kerberos", "ldap",
	},
	CategoryKernel: {
		"kernel", "panic", "oops", "segfault", "core", "dump",
		"interrupt", "irq", "dma", "pci", "usb", "acpi",
	},
	CategorySystem: {
		"boot", "shutdown", "restart", "mount", "unmount",
		"disk", "memory", "cpu", "process", "service", "daemon",
		"system", "hardware", "driver", "module", "loginwindow",
		"started", "application",
	},
	CategoryNetwork: {
		"network", "tcp", "udp", "ip", "dns", "dhcp", "firewall",
		"connection", "socket", "port", "interface", "ethernet",
		"wifi", "vpn", "proxy", "routing", "packet",
	},
	CategorySecurity: {
		"security", "threat", "malware", "virus", "attack", "intrusion",
		"breach", "vulnerability", "exploit", "suspicious", "blocked",
		"denied", "quarantine", "alert", "warning", "violation",
	},
	CategoryApplication: {
		"application", "app", "software", "program", "crash", "error",
		"exception", "debug", "info", "warning", "fatal", "trace",
	},
}

// wordBoundaryPatterns caches the compiled \b...\b regex per keyword so the
// categorizer never recompiles one on the hot path.
var wordBoundaryPatterns = buildWordBoundaryPatterns()

func buildWordBoundaryPatterns() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp)
	for _, keywords := range categoryKeywords {
		for _, kw := range keywords {
			if _, ok := out[kw]; ok {
				continue
			}
			out[kw] = regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
		}
	}
	return out
}

// logFormat names one of the built-in regex families, tried in order.
type logFormat string

const (
	formatSyslogSystem logFormat = "syslog_system"
	formatSyslogAuth   logFormat = "syslog_auth"
	formatGenericSys   logFormat = "generic_syslog"
)

type formatPattern struct {
	format logFormat
	regex  *regexp.Regexp
}

// builtinFormats mirrors app/parser.py's PATTERNS, tried in declaration
// order; the first match wins.
var builtinFormats = []formatPattern{
	{formatSyslogSystem, regexp.MustCompile(`^(\w{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(\S+)\s+([^:]+?)(?:\[(\d+)\])?\s*:\s*(.+)$`)},
	{formatSyslogAuth, regexp.MustCompile(`^(\w{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(\S+)\s+(\w+)(?:\[(\d+)\])?\s*:\s*(.+)$`)},
	{formatGenericSys, regexp.MustCompile(`^(\w{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(\S+)\s+(.+)$`)},
}

var genericTimestampPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2}:\d{2}`),
	regexp.MustCompile(`\d{2}/\d{2}/\d{4}\s+\d{2}:\d{2}:\d{2}`),
	regexp.MustCompile(`\w{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2}`),
}

var colonPrefix = regexp.MustCompile(`^(\S+):\s*(.+)$`)
var spacePrefix = regexp.MustCompile(`^(\S+)\s+(.+)$`)

var monthNames = map[string]time.Month{
	"Jan": time.January, "Feb": time.February, "Mar": time.March,
	"Apr": time.April, "May": time.May, "Jun": time.June,
	"Jul": time.July, "Aug": time.August, "Sep": time.September,
	"Oct": time.October, "Nov": time.November, "Dec": time.December,
}

// ParsedEvent is the structured result of parsing one log line.
type ParsedEvent struct {
	ID        string
	RawLogID  string
	Timestamp time.Time
	Source    string
	Message   string
	Category  Category
	ParsedAt  time.Time
	Metadata  *valuemap.Map
}

// Parser holds no mutable state beyond the clock it uses to timestamp
// ParsedEvent.ParsedAt and to check for clock-skew on parsed timestamps; it
// is safe to share across goroutines.
type Parser struct {
	now func() time.Time
}

// New constructs a Parser using now as its time source (used for ParsedAt
// and the 1-hour clock-skew check on syslog timestamps).
func New(now func() time.Time) *Parser {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Parser{now: now}
}

// ParseLine parses a single trimmed log line into a ParsedEvent, falling
// back through built-in formats then the generic line parser. It never
// returns an error for unmatched input — the generic fallback always
// produces an event, per §4.4.
func (p *Parser) ParseLine(line, rawLogID string) (*ParsedEvent, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("parsing: empty line")
	}

	for _, fp := range builtinFormats {
		match := fp.regex.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		event, err := p.fromMatch(fp.format, match, rawLogID)
		if err != nil {
			continue
		}
		return event, nil
	}

	return p.parseGeneric(line, rawLogID), nil
}

func (p *Parser) fromMatch(format logFormat, groups []string, rawLogID string) (*ParsedEvent, error) {
	var timestampStr, hostname, message, source string

	switch format {
	case formatSyslogSystem, formatSyslogAuth:
		timestampStr = groups[1]
		hostname = groups[2]
		process := groups[3]
		pid := groups[4]
		message = groups[5]
		source = hostname + ":" + process
		if pid != "" {
			source += "[" + pid + "]"
		}
	case formatGenericSys:
		timestampStr = groups[1]
		hostname = groups[2]
		message = groups[3]
		source = hostname
	default:
		return nil, fmt.Errorf("parsing: unsupported format %s", format)
	}

	ts, err := p.parseTimestamp(timestampStr)
	if err != nil {
		return nil, err
	}

	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("parsing: empty message")
	}

	return &ParsedEvent{
		ID:        idgen.NewEventID(),
		RawLogID:  rawLogID,
		Timestamp: ts,
		Source:    source,
		Message:   message,
		Category:  Categorize(message, source),
		ParsedAt:  p.now(),
		Metadata:  valuemap.New(),
	}, nil
}

// parseGeneric extracts whatever timestamp it can find anywhere in the
// line, then splits the remainder into source/message on a colon- or
// space-separated prefix, falling back to "unknown" source.
func (p *Parser) parseGeneric(line, rawLogID string) *ParsedEvent {
	var ts time.Time
	remaining := line
	found := false

	for _, pattern := range genericTimestampPatterns {
		loc := pattern.FindStringIndex(line)
		if loc == nil {
			continue
		}
		parsed, err := p.parseTimestamp(line[loc[0]:loc[1]])
		if err != nil {
			continue
		}
		ts = parsed
		remaining = strings.TrimSpace(line[loc[1]:])
		found = true
		break
	}
	if !found {
		ts = p.now()
		remaining = line
	}
	if remaining == "" {
		remaining = line
	}

	var source, message string
	if m := colonPrefix.FindStringSubmatch(remaining); m != nil {
		source, message = m[1], m[2]
	} else if m := spacePrefix.FindStringSubmatch(remaining); m != nil {
		source, message = m[1], m[2]
	} else {
		source, message = "unknown", remaining
	}
	message = strings.TrimSpace(message)
	if message == "" {
		message = line
	}

	return &ParsedEvent{
		ID:        idgen.NewEventID(),
		RawLogID:  rawLogID,
		Timestamp: ts,
		Source:    source,
		Message:   message,
		Category:  Categorize(message, source),
		ParsedAt:  p.now(),
		Metadata:  valuemap.New(),
	}
}

var syslogTimestamp = regexp.MustCompile(`^(\w{3})\s+(\d{1,2})\s+(\d{2}):(\d{2}):(\d{2})$`)
var isoTimestamp = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})\s+(\d{2}):(\d{2}):(\d{2})$`)
var usTimestamp = regexp.MustCompile(`^(\d{2})/(\d{2})/(\d{4})\s+(\d{2}):(\d{2}):(\d{2})$`)

// parseTimestamp parses one of the three supported timestamp shapes,
// adopting the current wall-clock year for syslog dates (which carry none),
// and rejects results more than an hour in the future (clock skew).
func (p *Parser) parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)

	if m := syslogTimestamp.FindStringSubmatch(raw); m != nil {
		month, ok := monthNames[m[1]]
		if !ok {
			return time.Time{}, fmt.Errorf("parsing: unknown month %q", m[1])
		}
		year := p.now().Year()
		ts, err := buildTime(year, month, m[2], m[3], m[4], m[5])
		if err != nil {
			return time.Time{}, err
		}
		return p.checkSkew(ts)
	}

	if m := isoTimestamp.FindStringSubmatch(raw); m != nil {
		ts, err := buildTimeNumericMonth(m[1], m[2], m[3], m[4], m[5], m[6])
		if err != nil {
			return time.Time{}, err
		}
		return p.checkSkew(ts)
	}

	if m := usTimestamp.FindStringSubmatch(raw); m != nil {
		// US format is month/day/year order.
		ts, err := buildTimeNumericMonth(m[3], m[1], m[2], m[4], m[5], m[6])
		if err != nil {
			return time.Time{}, err
		}
		return p.checkSkew(ts)
	}

	return time.Time{}, fmt.Errorf("parsing: unable to parse timestamp %q", raw)
}

func (p *Parser) checkSkew(ts time.Time) (time.Time, error) {
	if ts.After(p.now().Add(1 * time.Hour)) {
		return time.Time{}, fmt.Errorf("parsing: timestamp %s exceeds clock-skew tolerance", ts)
	}
	return ts, nil
}

func buildTime(year int, month time.Month, day, hour, minute, second string) (time.Time, error) {
	d, h, mi, s, err := atoi4(day, hour, minute, second)
	if err != nil {
		return time.Time{}, err
	}
	return validatedDate(year, month, d, h, mi, s)
}

func buildTimeNumericMonth(yearS, monthS, dayS, hourS, minuteS, secondS string) (time.Time, error) {
	year, err := atoi(yearS)
	if err != nil {
		return time.Time{}, err
	}
	monthN, err := atoi(monthS)
	if err != nil {
		return time.Time{}, err
	}
	d, h, mi, s, err := atoi4(dayS, hourS, minuteS, secondS)
	if err != nil {
		return time.Time{}, err
	}
	return validatedDate(year, time.Month(monthN), d, h, mi, s)
}

// validatedDate constructs the time then re-derives its components to
// detect invalid calendar dates (e.g. Feb 29 on a non-leap year), which
// time.Date would otherwise silently normalize by rolling over.
func validatedDate(year int, month time.Month, day, hour, minute, second int) (time.Time, error) {
	ts := time.Date(year, month, day, hour, minute, second, 0, time.UTC)
	if ts.Year() != year || ts.Month() != month || ts.Day() != day {
		return time.Time{}, fmt.Errorf("parsing: invalid date %04d-%02d-%02d", year, month, day)
	}
	return ts, nil
}

func atoi4(a, b, c, d string) (int, int, int, int, error) {
	av, err := atoi(a)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	bv, err := atoi(b)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	cv, err := atoi(c)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	dv, err := atoi(d)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return av, bv, cv, dv, nil
}

func atoi(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("parsing: non-numeric component %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

// Categorize scores message+source against every category's keyword table
// and returns the highest scorer, per §4.4's weighted formula. The
// double-count between the substring term and the whole-word term is
// intentional, mirroring the source scorer exactly.
func Categorize(message, source string) Category {
	messageLower := strings.ToLower(message)
	sourceLower := strings.ToLower(source)
	combined := messageLower + " " + sourceLower

	if strings.Contains(sourceLower, "kernel") && strings.Contains(sourceLower, "[0]") {
		return CategoryKernel
	}

	var best Category = CategoryUnknown
	bestScore := 0
	for _, category := range categoryOrder {
		score := 0
		for _, kw := range categoryKeywords[category] {
			score += strings.Count(combined, kw)
			if wordBoundaryPatterns[kw].MatchString(combined) {
				score += 2
			}
			if strings.Contains(sourceLower, kw) {
				score += 3
			}
		}
		if score > bestScore {
			bestScore = score
			best = category
		}
	}
	if bestScore == 0 {
		return CategoryUnknown
	}
	return best
}
