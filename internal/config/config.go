// Package config loads and validates the pipeline's configuration: YAML
// file, then environment-variable overrides, then validation before the
// app is allowed to start.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ssw-logs-capture/pkg/apperrors"

	"gopkg.in/yaml.v2"
)

// AppConfig carries process-level identity and logging settings.
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// ServerConfig is the health/metrics HTTP surface.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// QueueConfig configures the ingestion queue and its worker pool.
type QueueConfig struct {
	MaxQueueSize    int `yaml:"max_queue_size"`
	BatchSize       int `yaml:"batch_size"`
	Workers         int `yaml:"workers"`
	FlushIntervalMs int `yaml:"flush_interval_ms"`
	MaxRetries      int `yaml:"max_retries"`
	RetryBaseMs     int `yaml:"retry_base_ms"`
	RetryMaxMs      int `yaml:"retry_max_ms"`
}

// ProcessingConfig configures the per-entry orchestrator.
type ProcessingConfig struct {
	AnalyzerTimeoutMs     int `yaml:"analyzer_timeout_ms"`
	ChannelSendTimeoutMs  int `yaml:"channel_send_timeout_ms"`
}

// SecurityConfig configures the validator/sanitizer stage.
type SecurityConfig struct {
	MaxContentLength          int `yaml:"max_content_length"`
	MaxLineLength             int `yaml:"max_line_length"`
	MaxConsecutiveReplacements int `yaml:"max_consecutive_replacements"`
}

// FormatDetectConfig configures the adaptive format detector's learned
// pattern cache.
type FormatDetectConfig struct {
	MaxPatterns int `yaml:"max_patterns"`
}

// FileMonitorConfig configures the supplemental file-tailing source.
type FileMonitorConfig struct {
	Enabled             bool     `yaml:"enabled"`
	WatchDirectories    []string `yaml:"watch_directories"`
	IncludePatterns     []string `yaml:"include_patterns"`
	ExcludePatterns     []string `yaml:"exclude_patterns"`
	Recursive           bool     `yaml:"recursive"`
	SeekStrategy        string   `yaml:"seek_strategy"` // beginning|end|recent
	SeekRecentBytes     int      `yaml:"seek_recent_bytes"`
	IgnoreOldTimestamps bool     `yaml:"ignore_old_timestamps"`
}

// KafkaChannelConfig configures the built-in Kafka notification channel.
type KafkaChannelConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Brokers     []string `yaml:"brokers"`
	Topic       string   `yaml:"topic"`
	Compression string   `yaml:"compression"` // none|gzip|snappy|lz4|zstd
	SASL        struct {
		Enabled   bool   `yaml:"enabled"`
		Mechanism string `yaml:"mechanism"` // SCRAM-SHA-256|SCRAM-SHA-512
		Username  string `yaml:"username"`
		Password  string `yaml:"password"`
	} `yaml:"sasl"`
}

// NotificationRuleConfig mirrors notify.Rule for YAML loading.
type NotificationRuleConfig struct {
	ID              string   `yaml:"id"`
	Enabled         bool     `yaml:"enabled"`
	MinSeverity     int      `yaml:"min_severity"`
	MaxSeverity     int      `yaml:"max_severity"`
	Categories      []string `yaml:"categories"`
	Sources         []string `yaml:"sources"`
	Channels        []string `yaml:"channels"`
	ThrottleMinutes int      `yaml:"throttle_minutes"`
}

// NotifyConfig configures the notification engine.
type NotifyConfig struct {
	Rules []NotificationRuleConfig `yaml:"rules"`
	Kafka KafkaChannelConfig       `yaml:"kafka"`
}

// Config is the root configuration document.
type Config struct {
	App          AppConfig          `yaml:"app"`
	Server       ServerConfig       `yaml:"server"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Queue        QueueConfig        `yaml:"queue"`
	Processing   ProcessingConfig   `yaml:"processing"`
	Security     SecurityConfig     `yaml:"security"`
	FormatDetect FormatDetectConfig `yaml:"format_detect"`
	FileMonitor  FileMonitorConfig  `yaml:"file_monitor"`
	Notify       NotifyConfig       `yaml:"notify"`

	// defaultConfigs tracks whether applyDefaults should fill unset fields;
	// nil means "unspecified", which behaves as true.
	defaultConfigs *bool
}

// LoadConfig reads configFile (if non-empty), fills defaults, applies
// environment overrides, and validates the result.
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{}

	if configFile != "" {
		if err := loadConfigFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadConfigFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func shouldApplyDefaults(cfg *Config) bool {
	if envValue := os.Getenv("SSW_DEFAULT_CONFIGS"); envValue != "" {
		if enabled, err := strconv.ParseBool(envValue); err == nil {
			return enabled
		}
	}
	if cfg.defaultConfigs == nil {
		return true
	}
	return *cfg.defaultConfigs
}

// applyDefaults fills every unset field with its production default.
func applyDefaults(cfg *Config) {
	if !shouldApplyDefaults(cfg) {
		return
	}

	if cfg.App.Name == "" {
		cfg.App.Name = "ssw-logs-capture"
	}
	if cfg.App.Version == "" {
		cfg.App.Version = "v1.0.0"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "production"
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.LogFormat == "" {
		cfg.App.LogFormat = "json"
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8401
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	cfg.Metrics.Enabled = true

	if cfg.Queue.MaxQueueSize == 0 {
		cfg.Queue.MaxQueueSize = 10000
	}
	if cfg.Queue.BatchSize == 0 {
		cfg.Queue.BatchSize = 100
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 4
	}
	if cfg.Queue.FlushIntervalMs == 0 {
		cfg.Queue.FlushIntervalMs = 1000
	}
	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = 5
	}
	if cfg.Queue.RetryBaseMs == 0 {
		cfg.Queue.RetryBaseMs = 100
	}
	if cfg.Queue.RetryMaxMs == 0 {
		cfg.Queue.RetryMaxMs = 30000
	}

	if cfg.Processing.AnalyzerTimeoutMs == 0 {
		cfg.Processing.AnalyzerTimeoutMs = 30000
	}
	if cfg.Processing.ChannelSendTimeoutMs == 0 {
		cfg.Processing.ChannelSendTimeoutMs = 30000
	}

	if cfg.Security.MaxContentLength == 0 {
		cfg.Security.MaxContentLength = 1 << 20
	}
	if cfg.Security.MaxLineLength == 0 {
		cfg.Security.MaxLineLength = 32768
	}
	if cfg.Security.MaxConsecutiveReplacements == 0 {
		cfg.Security.MaxConsecutiveReplacements = 10
	}

	if cfg.FormatDetect.MaxPatterns == 0 {
		cfg.FormatDetect.MaxPatterns = 500
	}

	if cfg.FileMonitor.WatchDirectories == nil {
		cfg.FileMonitor.WatchDirectories = []string{"/var/log"}
	}
	if cfg.FileMonitor.IncludePatterns == nil {
		cfg.FileMonitor.IncludePatterns = []string{"*.log"}
	}
	if len(cfg.FileMonitor.ExcludePatterns) == 0 {
		cfg.FileMonitor.ExcludePatterns = []string{"*.gz", "*.zip"}
	}
	if cfg.FileMonitor.SeekStrategy == "" {
		cfg.FileMonitor.SeekStrategy = "end"
	}
	if cfg.FileMonitor.SeekRecentBytes == 0 {
		cfg.FileMonitor.SeekRecentBytes = 1 << 20
	}

	if cfg.Notify.Kafka.Compression == "" {
		cfg.Notify.Kafka.Compression = "snappy"
	}
}

// ValidateConfig runs every validation rule and returns a single combined
// error, or nil.
func ValidateConfig(cfg *Config) error {
	v := &configValidator{cfg: cfg}
	v.validateApp()
	v.validateServer()
	v.validateMetrics()
	v.validateQueue()
	v.validateSecurity()
	v.validateFileMonitor()
	v.validateNotify()

	if len(v.errors) == 0 {
		return nil
	}
	if len(v.errors) == 1 {
		return v.errors[0]
	}
	msgs := make([]string, len(v.errors))
	for i, e := range v.errors {
		msgs[i] = e.Error()
	}
	return apperrors.New(apperrors.KindInternal, "config", "validate", strings.Join(msgs, "; "))
}

type configValidator struct {
	cfg    *Config
	errors []error
}

func (v *configValidator) addError(component, operation, message string) {
	v.errors = append(v.errors, apperrors.New(apperrors.KindInternal, component, operation, message))
}

func (v *configValidator) validateApp() {
	if v.cfg.App.Name == "" {
		v.addError("app", "validate_name", "application name cannot be empty")
	}
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true}
	if !validLevels[v.cfg.App.LogLevel] {
		v.addError("app", "validate_log_level", fmt.Sprintf("invalid log level: %s", v.cfg.App.LogLevel))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[v.cfg.App.LogFormat] {
		v.addError("app", "validate_log_format", fmt.Sprintf("invalid log format: %s", v.cfg.App.LogFormat))
	}
}

func (v *configValidator) validateServer() {
	if !v.cfg.Server.Enabled {
		return
	}
	if v.cfg.Server.Port <= 0 || v.cfg.Server.Port > 65535 {
		v.addError("server", "validate_port", fmt.Sprintf("invalid server port: %d", v.cfg.Server.Port))
	}
	if v.cfg.Server.Host == "" {
		v.addError("server", "validate_host", "server host cannot be empty when enabled")
	}
}

func (v *configValidator) validateMetrics() {
	if !v.cfg.Metrics.Enabled {
		return
	}
	if v.cfg.Metrics.Path == "" {
		v.addError("metrics", "validate_path", "metrics path cannot be empty when enabled")
	}
}

func (v *configValidator) validateQueue() {
	if v.cfg.Queue.MaxQueueSize <= 0 {
		v.addError("queue", "validate_max_queue_size", "max queue size must be positive")
	}
	if v.cfg.Queue.MaxQueueSize > 1_000_000 {
		v.addError("queue", "validate_max_queue_size", "max queue size too large (max 1,000,000)")
	}
	if v.cfg.Queue.BatchSize <= 0 {
		v.addError("queue", "validate_batch_size", "batch size must be positive")
	}
	if v.cfg.Queue.Workers <= 0 {
		v.addError("queue", "validate_workers", "workers must be positive")
	}
	if v.cfg.Queue.Workers > 100 {
		v.addError("queue", "validate_workers", "workers too large (max 100)")
	}
}

func (v *configValidator) validateSecurity() {
	if v.cfg.Security.MaxContentLength <= 0 {
		v.addError("security", "validate_max_content_length", "max content length must be positive")
	}
	if v.cfg.Security.MaxLineLength <= 0 {
		v.addError("security", "validate_max_line_length", "max line length must be positive")
	}
}

func (v *configValidator) validateFileMonitor() {
	if !v.cfg.FileMonitor.Enabled {
		return
	}
	for _, dir := range v.cfg.FileMonitor.WatchDirectories {
		if dir != "" && !filepath.IsAbs(dir) {
			v.addError("file_monitor", "validate_watch_dir", fmt.Sprintf("watch directory must be absolute path: %s", dir))
		}
	}
	validStrategies := map[string]bool{"beginning": true, "end": true, "recent": true}
	if !validStrategies[v.cfg.FileMonitor.SeekStrategy] {
		v.addError("file_monitor", "validate_seek_strategy", fmt.Sprintf("invalid seek strategy: %s", v.cfg.FileMonitor.SeekStrategy))
	}
}

func (v *configValidator) validateNotify() {
	if !v.cfg.Notify.Kafka.Enabled {
		return
	}
	if len(v.cfg.Notify.Kafka.Brokers) == 0 {
		v.addError("notify_kafka", "validate_brokers", "brokers cannot be empty when enabled")
	}
	if v.cfg.Notify.Kafka.Topic == "" {
		v.addError("notify_kafka", "validate_topic", "topic cannot be empty when enabled")
	}
}

// applyEnvironmentOverrides applies SSW_* environment variables on top of
// file-loaded and default values.
func applyEnvironmentOverrides(cfg *Config) {
	cfg.App.Name = getEnvString("SSW_APP_NAME", cfg.App.Name)
	cfg.App.Environment = getEnvString("SSW_APP_ENVIRONMENT", cfg.App.Environment)
	cfg.App.LogLevel = getEnvString("SSW_LOG_LEVEL", cfg.App.LogLevel)
	cfg.App.LogFormat = getEnvString("SSW_LOG_FORMAT", cfg.App.LogFormat)

	cfg.Server.Enabled = getEnvBool("SSW_SERVER_ENABLED", cfg.Server.Enabled)
	cfg.Server.Host = getEnvString("SSW_SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("SSW_SERVER_PORT", cfg.Server.Port)

	cfg.Metrics.Enabled = getEnvBool("SSW_METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.Path = getEnvString("SSW_METRICS_PATH", cfg.Metrics.Path)

	cfg.Queue.MaxQueueSize = getEnvInt("SSW_QUEUE_MAX_SIZE", cfg.Queue.MaxQueueSize)
	cfg.Queue.BatchSize = getEnvInt("SSW_QUEUE_BATCH_SIZE", cfg.Queue.BatchSize)
	cfg.Queue.Workers = getEnvInt("SSW_QUEUE_WORKERS", cfg.Queue.Workers)

	cfg.FileMonitor.Enabled = getEnvBool("SSW_FILE_MONITOR_ENABLED", cfg.FileMonitor.Enabled)
	if dirs := getEnvStringSlice("SSW_FILE_MONITOR_WATCH_DIRS", nil); dirs != nil {
		cfg.FileMonitor.WatchDirectories = dirs
	}

	cfg.Notify.Kafka.Enabled = getEnvBool("SSW_NOTIFY_KAFKA_ENABLED", cfg.Notify.Kafka.Enabled)
	if brokers := getEnvStringSlice("SSW_NOTIFY_KAFKA_BROKERS", nil); brokers != nil {
		cfg.Notify.Kafka.Brokers = brokers
	}
	cfg.Notify.Kafka.Topic = getEnvString("SSW_NOTIFY_KAFKA_TOPIC", cfg.Notify.Kafka.Topic)
	if user := getEnvString("SSW_NOTIFY_KAFKA_SASL_USERNAME", ""); user != "" {
		cfg.Notify.Kafka.SASL.Enabled = true
		cfg.Notify.Kafka.SASL.Username = user
		cfg.Notify.Kafka.SASL.Password = getEnvString("SSW_NOTIFY_KAFKA_SASL_PASSWORD", "")
	}
}

func getEnvString(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		return strings.Split(v, ",")
	}
	return defaultValue
}
