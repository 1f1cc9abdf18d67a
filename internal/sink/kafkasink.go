package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/goccy/go-json"

	"github.com/shortontech/cursorguard/internal/classify"
	"github.com/shortontech/cursorguard/internal/logging"
)

// KafkaConfig holds configuration for Kafka producer
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	Acks        string
	Compression string

	// SASL config
	SASLMechanism string
	SASLUser      string
	SASLPassword  string

	// TLS config
	TLSCAPath     string
	TLSSkipVerify bool
}

// KafkaSink produces verdicts to Kafka keyed by verdict id.
type KafkaSink struct {
	config   KafkaConfig
	producer *kafka.Producer
}

// NewKafkaSinkFromEnv creates a KafkaSink from KAFKA_* environment variables
func NewKafkaSinkFromEnv() *KafkaSink {
	e := loadEnv("KAFKA_")
	return &KafkaSink{config: KafkaConfig{
		Brokers:       e.list("brokers", "localhost:9092"),
		Topic:         e.str("topic", "cursorguard.verdicts"),
		Acks:          e.str("acks", "all"),
		Compression:   e.str("compression", ""),
		SASLMechanism: e.str("sasl_mechanism", ""),
		SASLUser:      e.str("sasl_user", ""),
		SASLPassword:  e.str("sasl_password", ""),
		TLSCAPath:     e.str("tls_ca", ""),
		TLSSkipVerify: e.boolean("tls_skip_verify", false),
	}}
}

// NewKafkaSink creates a KafkaSink with explicit configuration
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		config: KafkaConfig{
			Brokers: brokers,
			Topic:   topic,
			Acks:    "all",
		},
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) configMap() kafka.ConfigMap {
	configMap := kafka.ConfigMap{
		"bootstrap.servers": strings.Join(s.config.Brokers, ","),
		"acks":              s.config.Acks,
		"retries":           10,
		"retry.backoff.ms":  100,
		"batch.size":        16384,
		"linger.ms":         10,
	}

	if s.config.Compression != "" {
		configMap["compression.type"] = s.config.Compression
	}

	if s.config.SASLMechanism != "" {
		configMap["security.protocol"] = "SASL_SSL"
		configMap["sasl.mechanism"] = s.config.SASLMechanism
		if s.config.SASLUser != "" {
			configMap["sasl.username"] = s.config.SASLUser
		}
		if s.config.SASLPassword != "" {
			configMap["sasl.password"] = s.config.SASLPassword
		}
	}

	if s.config.TLSCAPath != "" {
		if s.config.SASLMechanism == "" {
			configMap["security.protocol"] = "SSL"
		}
		configMap["ssl.ca.location"] = s.config.TLSCAPath
	}

	if s.config.TLSSkipVerify {
		configMap["ssl.endpoint.identification.algorithm"] = "none"
	}
	return configMap
}

func (s *KafkaSink) Start(ctx context.Context) error {
	configMap := s.configMap()
	producer, err := kafka.NewProducer(&configMap)
	if err != nil {
		return fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	s.producer = producer

	go s.handleDeliveryReports(ctx)
	return nil
}

// verdictMessage builds the record for v; the key keeps redeliveries idempotent.
func (s *KafkaSink) verdictMessage(v classify.Verdict) (*kafka.Message, error) {
	value, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize verdict: %w", err)
	}
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &s.config.Topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(v.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "label", Value: []byte(v.Label)},
			{Key: "schema", Value: []byte("v1")},
		},
	}, nil
}

func (s *KafkaSink) Enqueue(v classify.Verdict) error {
	if s.producer == nil {
		return fmt.Errorf("kafka producer not initialized")
	}
	msg, err := s.verdictMessage(v)
	if err != nil {
		return err
	}
	if err := s.producer.Produce(msg, nil); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	if s.producer == nil {
		return nil
	}

	remaining := s.producer.Flush(10 * 1000)
	s.producer.Close()
	if remaining > 0 {
		return fmt.Errorf("failed to flush %d remaining messages", remaining)
	}
	return nil
}

func (s *KafkaSink) handleDeliveryReports(ctx context.Context) {
	events := s.producer.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case *kafka.Message:
				if e.TopicPartition.Error != nil {
					logging.Error().Err(e.TopicPartition.Error).Str("key", string(e.Key)).Msg("kafka: delivery failed")
				}
			case kafka.Error:
				logging.Error().Err(e).Msg("kafka: client error")
			}
		}
	}
}
