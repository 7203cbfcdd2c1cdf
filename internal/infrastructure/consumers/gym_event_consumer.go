// Package consumers contains Kafka consumers for background synchronisation.
package consumers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/qrgate/internal/config"
	"github.com/turtacn/qrgate/internal/domain/models"
	"github.com/turtacn/qrgate/pkg/logger"
)

const (
	defaultRetryBackoff = time.Second
	maxRetryBackoff     = 30 * time.Second
)

// GymEvent is published by the membership service whenever a gym is created
// or changes owner, name or status.
type GymEvent struct {
	GymID   string           `json:"gymId"`
	Name    string           `json:"name"`
	OwnerID string           `json:"ownerId"`
	Status  models.GymStatus `json:"status"`
}

func (e *GymEvent) validate() error {
	switch {
	case e.GymID == "":
		return fmt.Errorf("gym event has no gymId")
	case e.OwnerID == "":
		return fmt.Errorf("gym event %s has no ownerId", e.GymID)
	case e.Status != models.GymStatusActive && e.Status != models.GymStatusSuspended:
		return fmt.Errorf("gym event %s has unknown status %q", e.GymID, e.Status)
	}
	return nil
}

// GymWriter stores gyms. The cached gym directory satisfies it and drops its
// cached entry on write, so a suspension is enforced on the next scan here.
type GymWriter interface {
	Save(ctx context.Context, gym *models.Gym) error
}

// MessageReader is the subset of *kafka.Reader used by the consumer.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// GymEventConsumer mirrors gym changes into the local gyms table.
type GymEventConsumer struct {
	reader       MessageReader
	gyms         GymWriter
	retryBackoff time.Duration
	logger       logger.Logger
}

// NewGymEventConsumer creates a consumer for cfg.GymEventsTopic.
func NewGymEventConsumer(cfg config.KafkaConfig, gyms GymWriter, log logger.Logger) *GymEventConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.GymEventsTopic,
		GroupID:        cfg.GymEventsGroupID,
		MinBytes:       1,
		MaxBytes:       1e6,
		CommitInterval: time.Second,
	})
	return NewGymEventConsumerWithReader(reader, gyms, log)
}

// NewGymEventConsumerWithReader wires an existing reader, used by tests.
func NewGymEventConsumerWithReader(reader MessageReader, gyms GymWriter, log logger.Logger) *GymEventConsumer {
	return &GymEventConsumer{
		reader:       reader,
		gyms:         gyms,
		retryBackoff: defaultRetryBackoff,
		logger:       log.WithComponent("gym-events"),
	}
}

// Run consumes until ctx is cancelled. It is a blocking call.
func (c *GymEventConsumer) Run(ctx context.Context) {
	c.logger.Info(ctx, "Starting gym event consumer")
	backoff := c.retryBackoff
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info(context.Background(), "Stopping gym event consumer")
				return
			}
			c.logger.Error(ctx, "Failed to fetch gym event", err)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxRetryBackoff)
			continue
		}
		backoff = c.retryBackoff

		if !c.apply(ctx, msg) {
			return
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error(ctx, "Failed to commit gym event", err, logger.Int64("offset", msg.Offset))
		}
	}
}

// apply stores the event, retrying storage errors until ctx ends. Malformed
// events are logged and skipped. It returns false only when ctx ended.
func (c *GymEventConsumer) apply(ctx context.Context, msg kafka.Message) bool {
	var event GymEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.logger.Error(ctx, "Skipping undecodable gym event", err, logger.Int64("offset", msg.Offset))
		return true
	}
	if err := event.validate(); err != nil {
		c.logger.Error(ctx, "Skipping invalid gym event", err, logger.Int64("offset", msg.Offset))
		return true
	}
	if event.Name == "" {
		event.Name = event.GymID
	}

	gym := &models.Gym{ID: event.GymID, Name: event.Name, OwnerID: event.OwnerID, Status: event.Status}
	backoff := c.retryBackoff
	for {
		err := c.gyms.Save(ctx, gym)
		if err == nil {
			c.logger.Info(ctx, "Gym synchronised",
				logger.String("gym_id", gym.ID),
				logger.String("status", string(gym.Status)),
			)
			return true
		}
		c.logger.Error(ctx, "Failed to store gym event", err, logger.String("gym_id", gym.ID))
		if !sleep(ctx, backoff) {
			return false
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
}

// Close releases the reader.
func (c *GymEventConsumer) Close() error {
	return c.reader.Close()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
