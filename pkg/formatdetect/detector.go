// Package formatdetect implements the adaptive format detector: it learns
// per-source regex patterns from sample windows of unclassified log lines,
// caches them keyed by (name, hash(regex)), and falls back to the static
// parser when nothing is learned yet.
package formatdetect

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"ssw-logs-capture/pkg/parsing"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"
)

// Confidence is the detector's certainty about a detected pattern.
type Confidence string

const (
	ConfidenceHigh    Confidence = "HIGH"
	ConfidenceMedium  Confidence = "MEDIUM"
	ConfidenceLow     Confidence = "LOW"
	ConfidenceUnknown Confidence = "UNKNOWN"
)

// confidenceRank orders Confidence for eviction/selection comparisons.
var confidenceRank = map[Confidence]int{
	ConfidenceHigh:    3,
	ConfidenceMedium:  2,
	ConfidenceLow:     1,
	ConfidenceUnknown: 0,
}

// FormatPattern is a learned or synthesized parsing rule.
type FormatPattern struct {
	Name            string
	RegexPattern    string
	Compiled        *regexp.Regexp
	Confidence      Confidence
	SampleLines     []string
	FieldMapping    map[string]int // field name -> regex group index (1-based)
	TimestampFormat string
	Delimiter       string
	Frequency       int
	// Generic marks the universal "(.+)" fallback pattern built when no
	// genuine timestamp, field, or delimiter structure was found. It never
	// fails to match, so callers must not treat a Generic match as evidence
	// the content has a learnable structure.
	Generic bool
}

// cacheKey mirrors the source's f"{name}_{hash(regex)}" cache key, using
// xxhash instead of Python's hash() for a stable, collision-resistant digest.
func cacheKey(name, regex string) string {
	return name + "_" + strconv.FormatUint(xxhash.Sum64String(regex), 16)
}

type timestampPattern struct {
	name   string
	regex  *regexp.Regexp
	format string // "epoch", "epoch_ms", or a Go reference layout
}

// timestampCatalog mirrors TIMESTAMP_PATTERNS from the original detector.
var timestampCatalog = []timestampPattern{
	{"syslog", regexp.MustCompile(`\b(\w{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\b`), "Jan _2 15:04:05"},
	{"iso_datetime", regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2}:\d{2})\b`), "2006-01-02 15:04:05"},
	{"iso_with_ms", regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2}:\d{2}\.\d{3})\b`), "2006-01-02 15:04:05.000"},
	{"us_datetime", regexp.MustCompile(`\b(\d{2}/\d{2}/\d{4}\s+\d{2}:\d{2}:\d{2})\b`), "01/02/2006 15:04:05"},
	{"epoch_seconds", regexp.MustCompile(`\b(\d{10})\b`), "epoch"},
	{"epoch_milliseconds", regexp.MustCompile(`\b(\d{13})\b`), "epoch_ms"},
	{"apache_common", regexp.MustCompile(`\[(\d{2}/\w{3}/\d{4}:\d{2}:\d{2}:\d{2}\s+[+-]\d{4})\]`), "02/Jan/2006:15:04:05 -0700"},
}

type fieldPattern struct {
	name  string
	regex *regexp.Regexp
}

// fieldCatalog mirrors FIELD_PATTERNS.
var fieldCatalog = []fieldPattern{
	{"hostname", regexp.MustCompile(`\b([a-zA-Z0-9\-.]+)\b`)},
	{"ip_address", regexp.MustCompile(`\b(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})\b`)},
	{"process_name", regexp.MustCompile(`\b([a-zA-Z0-9_\-]+)\b`)},
	{"pid", regexp.MustCompile(`\[(\d+)\]`)},
	{"log_level", regexp.MustCompile(`\b(DEBUG|INFO|WARN|WARNING|ERROR|FATAL|TRACE)\b`)},
	{"quoted_string", regexp.MustCompile(`"([^"]*)"`)},
	{"bracketed_content", regexp.MustCompile(`\[([^\]]*)\]`)},
	{"parenthesized_content", regexp.MustCompile(`\(([^)]*)\)`)},
}

// delimiterCatalog mirrors DELIMITERS.
var delimiterCatalog = []string{" ", "\t", "|", ",", ";", ":", "="}

// Config controls sample-size thresholds and cache capacity.
type Config struct {
	MinSampleSize int // default 10
	MaxPatterns   int // default 5 (teacher's analyzer_timeout_ms sibling: max_patterns)
}

// DefaultConfig returns the source's defaults.
func DefaultConfig() Config {
	return Config{MinSampleSize: 10, MaxPatterns: 5}
}

// Detector is the adaptive format detector's public surface.
type Detector interface {
	AnalyzeSample(lines []string) []*FormatPattern
	ParseWithDetectedFormat(content, rawLogID string, pattern *FormatPattern) ([]*parsing.ParsedEvent, *FormatPattern, error)
	GetDetectedPatterns() []*FormatPattern
	ClearDetectedPatterns()
	GetDetectionStatistics() DetectionStatistics
}

// DetectionStatistics snapshots the detector's cache for observability.
type DetectionStatistics struct {
	TotalPatterns        int
	SampleLinesCount     int
	PatternsByConfidence map[Confidence]int
	MostFrequentPattern  string
}

type detector struct {
	mu      sync.RWMutex
	config  Config
	logger  *logrus.Logger
	baseP   *parsing.Parser
	now     func() time.Time
	cache   map[string]*FormatPattern
	samples []string
}

// New constructs a Detector using logger for diagnostics and now as the
// clock source for fallback ParsedAt/timestamp-synthesis.
func New(config Config, logger *logrus.Logger, now func() time.Time) Detector {
	if config.MinSampleSize <= 0 {
		config.MinSampleSize = DefaultConfig().MinSampleSize
	}
	if config.MaxPatterns <= 0 {
		config.MaxPatterns = DefaultConfig().MaxPatterns
	}
	if logger == nil {
		logger = logrus.New()
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &detector{
		config: config,
		logger: logger,
		baseP:  parsing.New(now),
		now:    now,
		cache:  make(map[string]*FormatPattern),
	}
}

// AnalyzeSample analyzes lines for timestamp/field/delimiter signals and
// updates the learned-pattern cache, merging frequency into any existing
// pattern with the same cache key and evicting the least useful entries
// once the cache exceeds MaxPatterns.
func (d *detector) AnalyzeSample(lines []string) []*FormatPattern {
	if len(lines) < d.config.MinSampleSize {
		d.logger.WithFields(logrus.Fields{
			"sample_size": len(lines),
			"minimum":     d.config.MinSampleSize,
		}).Warn("format sample below minimum size")
	}

	d.mu.Lock()
	d.samples = append(d.samples, truncateSlice(lines, 100)...)
	if len(d.samples) > 1000 {
		d.samples = d.samples[len(d.samples)-500:]
	}
	d.mu.Unlock()

	tsInfo := detectTimestampPatterns(lines)
	fieldInfo := detectFieldStructures(lines)
	delimInfo := detectDelimiters(lines)

	patterns := createFormatPatterns(lines, tsInfo, fieldInfo, delimInfo)

	d.mu.Lock()
	for _, p := range patterns {
		key := cacheKey(p.Name, p.RegexPattern)
		if existing, ok := d.cache[key]; ok {
			existing.Frequency += p.Frequency
			existing.SampleLines = truncateSlice(append(existing.SampleLines, truncateSlice(p.SampleLines, 5)...), 10)
		} else {
			d.cache[key] = p
		}
	}
	if len(d.cache) > d.config.MaxPatterns {
		d.evictLocked()
	}
	d.mu.Unlock()

	return patterns
}

// evictLocked keeps only the top MaxPatterns entries, ranked by
// (frequency, confidence) descending; caller must hold d.mu.
func (d *detector) evictLocked() {
	all := make([]*FormatPattern, 0, len(d.cache))
	for _, p := range d.cache {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Frequency != all[j].Frequency {
			return all[i].Frequency > all[j].Frequency
		}
		return confidenceRank[all[i].Confidence] > confidenceRank[all[j].Confidence]
	})
	if len(all) > d.config.MaxPatterns {
		all = all[:d.config.MaxPatterns]
	}
	d.cache = make(map[string]*FormatPattern, len(all))
	for _, p := range all {
		d.cache[cacheKey(p.Name, p.RegexPattern)] = p
	}
}

func truncateSlice(s []string, max int) []string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}

type timestampDetection struct {
	bestPattern string
	confidence  Confidence
}

func detectTimestampPatterns(lines []string) timestampDetection {
	sample := lines
	if len(sample) > 50 {
		sample = sample[:50]
	}

	counts := make(map[string]int)
	for _, line := range sample {
		for _, tp := range timestampCatalog {
			counts[tp.name] += len(tp.regex.FindAllString(line, -1))
		}
	}

	best := ""
	maxMatches := 0
	for name, count := range counts {
		if count > maxMatches {
			maxMatches = count
			best = name
		}
	}

	confidence := ConfidenceLow
	if float64(maxMatches) > float64(len(lines))*0.8 {
		confidence = ConfidenceHigh
	} else if float64(maxMatches) > float64(len(lines))*0.5 {
		confidence = ConfidenceMedium
	}

	return timestampDetection{bestPattern: best, confidence: confidence}
}

type fieldConsistency struct {
	frequency       int
	positionVariance int
	sampleValues    []string
	isConsistent    bool
}

type fieldDetection struct {
	consistentFields map[string]fieldConsistency
}

func detectFieldStructures(lines []string) fieldDetection {
	sample := lines
	if len(sample) > 50 {
		sample = sample[:50]
	}

	type occurrence struct {
		start int
		value string
	}
	positions := make(map[string][]occurrence)

	for _, line := range sample {
		for _, fp := range fieldCatalog {
			for _, loc := range fp.regex.FindAllStringSubmatchIndex(line, -1) {
				value := line
				start := loc[0]
				if len(loc) >= 4 && loc[2] >= 0 {
					value = line[loc[2]:loc[3]]
					start = loc[2]
				}
				positions[fp.name] = append(positions[fp.name], occurrence{start: start, value: value})
			}
		}
	}

	consistent := make(map[string]fieldConsistency)
	threshold := float64(len(lines)) * 0.3
	for name, occs := range positions {
		if float64(len(occs)) < threshold {
			continue
		}
		minStart, maxStart := occs[0].start, occs[0].start
		samples := make([]string, 0, 5)
		for i, o := range occs {
			if o.start < minStart {
				minStart = o.start
			}
			if o.start > maxStart {
				maxStart = o.start
			}
			if i < 5 {
				samples = append(samples, o.value)
			}
		}
		variance := maxStart - minStart
		consistent[name] = fieldConsistency{
			frequency:        len(occs),
			positionVariance: variance,
			sampleValues:     samples,
			isConsistent:     variance < 50,
		}
	}

	return fieldDetection{consistentFields: consistent}
}

type delimiterDetection struct {
	primary            string
	hasPrimary         bool
	hasStructuredDelim bool
}

func detectDelimiters(lines []string) delimiterDetection {
	sample := lines
	if len(sample) > 50 {
		sample = sample[:50]
	}

	counts := make(map[string]int)
	for _, line := range sample {
		for _, d := range delimiterCatalog {
			counts[d] += strings.Count(line, d)
		}
	}

	primary := ""
	primaryCount := 0
	hasPrimary := false
	for _, d := range delimiterCatalog {
		if d == " " {
			continue
		}
		if counts[d] > primaryCount {
			primaryCount = counts[d]
			primary = d
			hasPrimary = true
		}
	}

	structured := hasPrimary && float64(primaryCount) > float64(len(lines))*2
	return delimiterDetection{primary: primary, hasPrimary: hasPrimary, hasStructuredDelim: structured}
}

func createFormatPatterns(lines []string, ts timestampDetection, fields fieldDetection, delim delimiterDetection) []*FormatPattern {
	var patterns []*FormatPattern

	if ts.bestPattern != "" {
		if p := buildTimestampFieldPattern(lines, ts, fields, delim); p != nil {
			patterns = append(patterns, p)
		}
	}

	if delim.hasStructuredDelim {
		patterns = append(patterns, buildDelimiterPattern(lines, delim))
	}

	if len(patterns) == 0 {
		patterns = append(patterns, &FormatPattern{
			Name:         "generic_fallback",
			RegexPattern: `(.+)`,
			Compiled:     regexp.MustCompile(`(.+)`),
			Confidence:   ConfidenceLow,
			SampleLines:  truncateSlice(lines, 3),
			FieldMapping: map[string]int{"message": 1},
			Frequency:    len(lines),
			Generic:      true,
		})
	}

	return patterns
}

func buildTimestampFieldPattern(lines []string, ts timestampDetection, fields fieldDetection, delim delimiterDetection) *FormatPattern {
	var catalogEntry timestampPattern
	for _, tp := range timestampCatalog {
		if tp.name == ts.bestPattern {
			catalogEntry = tp
			break
		}
	}

	var b strings.Builder
	fieldMapping := make(map[string]int)
	groupIndex := 1

	// strip the \b...\b boundaries, mirroring the source's regex[2:-2] slice.
	inner := strings.TrimSuffix(strings.TrimPrefix(catalogEntry.regex.String(), `\b`), `\b`)
	b.WriteString("(" + inner + ")")
	fieldMapping["timestamp"] = groupIndex
	groupIndex++

	if hostInfo, ok := fields.consistentFields["hostname"]; ok && hostInfo.isConsistent {
		b.WriteString(`\s+(\S+)`)
		fieldMapping["hostname"] = groupIndex
		groupIndex++
	}
	if _, ok := fields.consistentFields["process_name"]; ok {
		b.WriteString(`\s+([^:\[\s]+)`)
		fieldMapping["process"] = groupIndex
		groupIndex++
	}
	if _, ok := fields.consistentFields["pid"]; ok {
		b.WriteString(`(?:\[(\d+)\])?`)
		fieldMapping["pid"] = groupIndex
		groupIndex++
	}
	b.WriteString(`\s*:\s*(.+)`)
	fieldMapping["message"] = groupIndex

	full := b.String()
	compiled, err := regexp.Compile(full)
	if err != nil {
		return nil
	}

	confidence := ConfidenceHigh
	switch {
	case ts.confidence == ConfidenceMedium:
		confidence = ConfidenceMedium
	case len(fields.consistentFields) < 2:
		confidence = ConfidenceLow
	}

	return &FormatPattern{
		Name:            "detected_" + ts.bestPattern,
		RegexPattern:    full,
		Compiled:        compiled,
		Confidence:      confidence,
		SampleLines:     truncateSlice(lines, 5),
		FieldMapping:    fieldMapping,
		TimestampFormat: catalogEntry.format,
		Delimiter:       delim.primary,
		Frequency:       len(lines),
	}
}

func buildDelimiterPattern(lines []string, delim delimiterDetection) *FormatPattern {
	escaped := regexp.QuoteMeta(delim.primary)
	fieldCount := strings.Count(lines[0], delim.primary) + 1
	if fieldCount > 6 {
		fieldCount = 6
	}

	var b strings.Builder
	fieldMapping := make(map[string]int)
	for i := 0; i < fieldCount; i++ {
		if i > 0 {
			b.WriteString(escaped)
		}
		b.WriteString(`([^` + escaped + `]*)`)
		fieldMapping["field_"+strconv.Itoa(i+1)] = i + 1
	}

	full := b.String()
	compiled, err := regexp.Compile(full)
	if err != nil {
		compiled = regexp.MustCompile(`(.+)`)
		full = `(.+)`
	}

	name := "delimited_" + delim.primary
	if delim.primary == " " {
		name = "delimited_space"
	}

	return &FormatPattern{
		Name:         name,
		RegexPattern: full,
		Compiled:     compiled,
		Confidence:   ConfidenceMedium,
		SampleLines:  truncateSlice(lines, 3),
		FieldMapping: fieldMapping,
		Delimiter:    delim.primary,
		Frequency:    len(lines),
	}
}

// ParseWithDetectedFormat parses content with pattern, falling back to the
// static parser for any line the detected pattern fails to match, or to
// auto-detection (via AnalyzeSample on the first 20 lines) if pattern is
// nil. It returns the pattern actually used — either the one passed in, or
// whatever auto-detection picked — so a caller that wants to remember it
// doesn't need to re-run detection itself.
func (d *detector) ParseWithDetectedFormat(content, rawLogID string, pattern *FormatPattern) ([]*parsing.ParsedEvent, *FormatPattern, error) {
	lines := strings.Split(strings.TrimSpace(content), "\n")

	if pattern == nil {
		sampleSize := 20
		if len(lines) < sampleSize {
			sampleSize = len(lines)
		}
		detected := d.AnalyzeSample(lines[:sampleSize])
		pattern = bestByConfidenceAndFrequency(detected)
	}

	var events []*parsing.ParsedEvent
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		event := d.parseLineWithPattern(line, pattern, rawLogID)
		if event == nil {
			event, _ = d.baseP.ParseLine(line, rawLogID)
		}
		if event != nil {
			events = append(events, event)
		}
	}
	return events, pattern, nil
}

func bestByConfidenceAndFrequency(patterns []*FormatPattern) *FormatPattern {
	if len(patterns) == 0 {
		return nil
	}
	best := patterns[0]
	for _, p := range patterns[1:] {
		if confidenceRank[p.Confidence] > confidenceRank[best.Confidence] ||
			(confidenceRank[p.Confidence] == confidenceRank[best.Confidence] && p.Frequency > best.Frequency) {
			best = p
		}
	}
	return best
}

func (d *detector) parseLineWithPattern(line string, pattern *FormatPattern, rawLogID string) *parsing.ParsedEvent {
	if pattern == nil || pattern.Compiled == nil {
		return nil
	}
	match := pattern.Compiled.FindStringSubmatch(line)
	if match == nil {
		return nil
	}

	timestamp := d.now()
	if idx, ok := pattern.FieldMapping["timestamp"]; ok && idx < len(match) {
		timestamp = d.parseTimestampWithFormat(match[idx], pattern.TimestampFormat)
	}

	source := "unknown"
	if idx, ok := pattern.FieldMapping["hostname"]; ok && idx < len(match) {
		source = match[idx]
		if pIdx, ok := pattern.FieldMapping["process"]; ok && pIdx < len(match) {
			source = source + ":" + match[pIdx]
			if pidIdx, ok := pattern.FieldMapping["pid"]; ok && pidIdx < len(match) && match[pidIdx] != "" {
				source += "[" + match[pidIdx] + "]"
			}
		}
	} else if pIdx, ok := pattern.FieldMapping["process"]; ok && pIdx < len(match) {
		source = match[pIdx]
	}

	message := line
	if idx, ok := pattern.FieldMapping["message"]; ok && idx < len(match) {
		message = match[idx]
	} else if len(match) > 1 {
		message = match[len(match)-1]
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return nil
	}

	return &parsing.ParsedEvent{
		Timestamp: timestamp,
		Source:    source,
		Message:   message,
		Category:  parsing.Categorize(message, source),
		ParsedAt:  d.now(),
	}
}

func (d *detector) parseTimestampWithFormat(raw, format string) time.Time {
	if format == "" {
		return d.now()
	}
	switch format {
	case "epoch":
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return d.now()
		}
		return time.Unix(secs, 0).UTC()
	case "epoch_ms":
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return d.now()
		}
		return time.UnixMilli(ms).UTC()
	case "Jan _2 15:04:05":
		ts, err := time.Parse(format, raw)
		if err != nil {
			return d.now()
		}
		return ts.AddDate(d.now().Year()-ts.Year(), 0, 0).UTC()
	default:
		ts, err := time.Parse(format, raw)
		if err != nil {
			return d.now()
		}
		return ts.UTC()
	}
}

// GetDetectedPatterns returns a snapshot of the learned-pattern cache.
func (d *detector) GetDetectedPatterns() []*FormatPattern {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*FormatPattern, 0, len(d.cache))
	for _, p := range d.cache {
		out = append(out, p)
	}
	return out
}

// ClearDetectedPatterns resets all learning state.
func (d *detector) ClearDetectedPatterns() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache = make(map[string]*FormatPattern)
	d.samples = nil
	d.logger.Info("cleared format detector learning state")
}

// GetDetectionStatistics summarizes the cache for metrics/health surfaces.
func (d *detector) GetDetectionStatistics() DetectionStatistics {
	d.mu.RLock()
	defer d.mu.RUnlock()

	byConfidence := map[Confidence]int{
		ConfidenceHigh: 0, ConfidenceMedium: 0, ConfidenceLow: 0, ConfidenceUnknown: 0,
	}
	mostFrequent := ""
	maxFreq := -1
	for _, p := range d.cache {
		byConfidence[p.Confidence]++
		if p.Frequency > maxFreq {
			maxFreq = p.Frequency
			mostFrequent = p.Name
		}
	}

	return DetectionStatistics{
		TotalPatterns:        len(d.cache),
		SampleLinesCount:     len(d.samples),
		PatternsByConfidence: byConfidence,
		MostFrequentPattern:  mostFrequent,
	}
}
