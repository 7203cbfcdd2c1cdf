package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/qrgate/internal/config"
	"github.com/turtacn/qrgate/internal/domain/models"
	"github.com/turtacn/qrgate/internal/domain/service"
	"github.com/turtacn/qrgate/pkg/logger"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes audit entries to a topic, keyed by gym id so one
// gym's history stays ordered within a partition.
type KafkaProducer struct {
	writer        messageWriter
	signingSecret string
	logger        logger.Logger
}

var _ service.AuditService = (*KafkaProducer)(nil)

// NewKafkaProducer creates a new KafkaProducer.
func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.AuditTopic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireAll,
	}
	return newKafkaProducer(writer, cfg.SigningSecret, log)
}

func newKafkaProducer(w messageWriter, signingSecret string, log logger.Logger) *KafkaProducer {
	return &KafkaProducer{
		writer:        w,
		signingSecret: signingSecret,
		logger:        log.WithComponent("audit-kafka"),
	}
}

// LogEvent sends an audit entry to the Kafka topic.
func (p *KafkaProducer) LogEvent(ctx context.Context, entry *models.AuditEntry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	msg := kafka.Message{Value: value}
	if entry.GymID != nil {
		msg.Key = []byte(*entry.GymID)
	}
	if p.signingSecret != "" {
		msg.Headers = append(msg.Headers, kafka.Header{
			Key:   signatureHeader,
			Value: []byte(SignAuditPayload(value, p.signingSecret)),
		})
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error(ctx, "Failed to write audit entry to Kafka", err,
			logger.String("audit_id", entry.ID),
			logger.String("action", string(entry.Action)),
		)
		return fmt.Errorf("publish audit entry: %w", err)
	}
	return nil
}

// Close closes the underlying Kafka writer.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
