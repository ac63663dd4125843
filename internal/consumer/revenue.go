// Package consumer reads upstream revenue events and applies members' auto-save settings.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/service"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Reader is the subset of *kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RevenueApplier books the auto-save part of a revenue event.
type RevenueApplier interface {
	ApplyRevenue(ctx context.Context, ev service.RevenueEvent) (*models.Transaction, error)
}

// Config mirrors the kafka settings in the service config.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewKafkaReader builds a consumer-group reader with manual commits.
func NewKafkaReader(cfg Config) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		SessionTimeout: 30 * time.Second,
		StartOffset:    kafka.FirstOffset,
		MaxBytes:       10e6,
	})
}

// RevenueConsumer commits an offset only after the event was applied or judged unprocessable.
// Retryable failures are retried in place so later events never overtake an uncommitted one.
type RevenueConsumer struct {
	reader  Reader
	applier RevenueApplier
	log     *logrus.Logger
	backoff time.Duration
}

func NewRevenueConsumer(reader Reader, applier RevenueApplier, log *logrus.Logger) *RevenueConsumer {
	return &RevenueConsumer{reader: reader, applier: applier, log: log, backoff: 2 * time.Second}
}

// Run consumes until ctx is cancelled.
func (c *RevenueConsumer) Run(ctx context.Context) error {
	c.log.Info("Revenue consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("Revenue consumer stopped")
				return nil
			}
			c.log.WithError(err).Error("Failed to fetch revenue event")
			if !c.sleep(ctx) {
				return nil
			}
			continue
		}

		for {
			err := c.handle(ctx, msg)
			if err == nil {
				break
			}
			c.log.WithError(err).WithField("offset", msg.Offset).Warn("Revenue event will be retried")
			if !c.sleep(ctx) {
				return nil
			}
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.WithError(err).WithField("offset", msg.Offset).Error("Failed to commit revenue event")
		}
	}
}

// handle returns an error only for failures worth retrying.
func (c *RevenueConsumer) handle(ctx context.Context, msg kafka.Message) error {
	var ev service.RevenueEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.log.WithError(err).WithField("offset", msg.Offset).Error("Malformed revenue event dropped")
		return nil
	}
	if ev.EventID == "" {
		ev.EventID = string(msg.Key)
	}

	tx, err := c.applier.ApplyRevenue(ctx, ev)
	switch {
	case err == nil:
	case retryable(err):
		return err
	default:
		c.log.WithError(err).WithFields(logrus.Fields{
			"event_id":  ev.EventID,
			"member_id": ev.MemberID,
		}).Warn("Revenue event rejected")
		return nil
	}
	if tx != nil {
		c.log.WithFields(logrus.Fields{
			"event_id":       ev.EventID,
			"member_id":      ev.MemberID,
			"transaction_id": tx.ID,
			"amount":         tx.Amount,
		}).Info("Auto-save applied")
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch apperr.KindOf(err) {
	case apperr.KindUnavailable, apperr.KindConflict:
		return true
	}
	return false
}

func (c *RevenueConsumer) sleep(ctx context.Context) bool {
	t := time.NewTimer(c.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *RevenueConsumer) Close() error {
	return c.reader.Close()
}
