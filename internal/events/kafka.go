package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Aidin1998/fairbatch/pkg/models"
)

// KafkaConfig holds the security event topic settings.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`
}

// DefaultKafkaConfig publishes to a single local broker.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers: []string{"localhost:9092"},
		Topic:   "fairbatch.security.events",
	}
}

// KafkaSink writes security events to a kafka topic as JSON envelopes.
// Deliveries are keyed by event type so per-type ordering holds within a
// partition.
type KafkaSink struct {
	writer *kafka.Writer
	logger *zap.SugaredLogger
}

type eventEnvelope struct {
	Type      string      `json:"type"`
	Severity  string      `json:"severity"`
	Alert     bool        `json:"alert"`
	Payload   interface{} `json:"payload"`
	EmittedAt time.Time   `json:"emitted_at"`
}

// NewKafkaSink creates a sink over the given brokers and topic.
func NewKafkaSink(cfg KafkaConfig, logger *zap.SugaredLogger) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		logger: logger,
	}
}

func (s *KafkaSink) PublishFinding(ctx context.Context, finding *models.ManipulationFinding) error {
	env := eventEnvelope{
		Type:      "manipulation_finding",
		Severity:  finding.Severity,
		Alert:     finding.Blocks(),
		Payload:   finding,
		EmittedAt: time.Now(),
	}
	if err := s.publish(ctx, []byte(env.Type), env); err != nil {
		return fmt.Errorf("publish finding: %w", err)
	}
	s.logger.Infow("manipulation finding published",
		"kind", string(finding.Kind),
		"pair", finding.Pair,
		"identity", finding.Identity.Hex(),
		"confidence", finding.Confidence.String(),
		"disposition", string(finding.Disposition),
	)
	return nil
}

func (s *KafkaSink) PublishDiscrepancy(ctx context.Context, report *models.DiscrepancyReport) error {
	env := eventEnvelope{
		Type:     "discrepancy_report",
		Severity: report.Severity,
		// only critical/high severities page anyone downstream
		Alert:     report.Severity == "critical" || report.Severity == "high",
		Payload:   report,
		EmittedAt: time.Now(),
	}
	if err := s.publish(ctx, []byte(env.Type), env); err != nil {
		return fmt.Errorf("publish discrepancy: %w", err)
	}
	s.logger.Infow("discrepancy report published",
		"category", string(report.Category),
		"severity", report.Severity,
		"relative_diff", report.RelativeDiff.String(),
	)
	return nil
}

func (s *KafkaSink) publish(ctx context.Context, key []byte, env eventEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: payload})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
