package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ssw-logs-capture/pkg/analyzer"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
	"github.com/xdg-go/scram"
)

// KafkaChannelConfig configures the Kafka notification channel, grounded on
// internal/sinks/kafka_sink.go's NewKafkaSink configuration surface,
// narrowed to a synchronous producer since the channel contract is a single
// blocking Send call rather than a background batching loop.
type KafkaChannelConfig struct {
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	Compression  string   `yaml:"compression"`
	SASLUser     string   `yaml:"sasl_user"`
	SASLPassword string   `yaml:"sasl_password"`
	SASLMechanism string  `yaml:"sasl_mechanism"` // "", "SCRAM-SHA-256", "SCRAM-SHA-512"
}

// KafkaChannel publishes notification contexts as JSON messages to a Kafka
// topic via a synchronous sarama producer.
type KafkaChannel struct {
	config   KafkaChannelConfig
	logger   *logrus.Logger
	producer sarama.SyncProducer
}

// NewKafkaChannel dials brokers and constructs the channel.
func NewKafkaChannel(config KafkaChannelConfig, logger *logrus.Logger) (*KafkaChannel, error) {
	if logger == nil {
		logger = logrus.New()
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	switch strings.ToLower(config.Compression) {
	case "gzip":
		saramaConfig.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaConfig.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaConfig.Producer.Compression = sarama.CompressionLZ4
	default:
		saramaConfig.Producer.Compression = sarama.CompressionNone
	}

	if config.SASLUser != "" {
		saramaConfig.Net.SASL.Enable = true
		saramaConfig.Net.SASL.User = config.SASLUser
		saramaConfig.Net.SASL.Password = config.SASLPassword
		switch config.SASLMechanism {
		case "SCRAM-SHA-512":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			saramaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{HashGeneratorFcn: scram.SHA512}
			}
		default:
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			saramaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{HashGeneratorFcn: scram.SHA256}
			}
		}
	}

	producer, err := sarama.NewSyncProducer(config.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("notify: kafka channel: %w", err)
	}

	return &KafkaChannel{config: config, logger: logger, producer: producer}, nil
}

// ValidateConfig reports whether brokers and topic are set.
func (k *KafkaChannel) ValidateConfig() bool {
	return len(k.config.Brokers) > 0 && k.config.Topic != ""
}

// Send publishes nctx as a JSON-encoded Kafka message keyed by the event's
// source, so consumers get source-local ordering.
func (k *KafkaChannel) Send(ctx context.Context, nctx Context) bool {
	payload, err := json.Marshal(struct {
		EventID  string  `json:"event_id"`
		RuleID   string  `json:"rule_id"`
		Category string  `json:"category"`
		Source   string  `json:"source"`
		Message  string  `json:"message"`
		Severity int     `json:"severity,omitempty"`
	}{
		EventID:  nctx.Event.ID,
		RuleID:   nctx.Rule.ID,
		Category: string(nctx.Event.Category),
		Source:   nctx.Event.Source,
		Message:  nctx.Event.Message,
		Severity: severityOf(nctx.Analysis),
	})
	if err != nil {
		k.logger.WithError(err).Error("notify: failed to marshal kafka payload")
		return false
	}

	msg := &sarama.ProducerMessage{
		Topic: k.config.Topic,
		Key:   sarama.StringEncoder(nctx.Event.Source),
		Value: sarama.ByteEncoder(payload),
	}

	_, _, err = k.producer.SendMessage(msg)
	if err != nil {
		k.logger.WithError(err).Warn("notify: kafka send failed")
		return false
	}
	return true
}

// Close releases the underlying producer.
func (k *KafkaChannel) Close() error {
	return k.producer.Close()
}

func severityOf(an *analyzer.AIAnalysis) int {
	if an == nil {
		return 0
	}
	return an.SeverityScore
}

// scramClient adapts xdg-go/scram to sarama's SCRAMClient interface,
// grounded on the teacher's inline SCRAMClientGeneratorFunc closures.
type scramClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

func (c *scramClient) Begin(userName, password, authzID string) (err error) {
	c.Client, err = c.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	c.ClientConversation = c.Client.NewConversation()
	return nil
}

func (c *scramClient) Step(challenge string) (response string, err error) {
	return c.ClientConversation.Step(challenge)
}

func (c *scramClient) Done() bool {
	return c.ClientConversation.Done()
}
