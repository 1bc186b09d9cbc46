// Package queue accepts render requests from Kafka and turns them into
// queued runs.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/heimdex/reelforge/internal/logging"
	"github.com/heimdex/reelforge/internal/project"
)

const rejoinDelay = 2 * time.Second

// RenderRequest is the message body on the render topic.
type RenderRequest struct {
	ProjectID string `json:"project_id"`
}

// Enqueuer creates a run for a project.
type Enqueuer interface {
	RequestRun(ctx context.Context, projectID string) (*project.Run, error)
}

// Notifier is told when new work has been queued.
type Notifier interface {
	Notify()
}

type Consumer struct {
	group   sarama.ConsumerGroup
	topic   string
	handler *handler
	logger  *slog.Logger
}

func NewConsumer(brokers []string, groupID, topic string, runs Enqueuer, notifier Notifier, logger *slog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}

	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	logger = logging.WithComponent(logger, "queue")
	return &Consumer{
		group:   group,
		topic:   topic,
		handler: &handler{runs: runs, notifier: notifier, logger: logger},
		logger:  logger,
	}, nil
}

// Run consumes until ctx is cancelled, rejoining the group after each
// rebalance.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("kafka intake started", "topic", c.topic)
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, c.handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Error("consume failed", "error", err)
			select {
			case <-time.After(rejoinDelay):
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			c.logger.Info("kafka intake stopping")
			return nil
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type handler struct {
	runs     Enqueuer
	notifier Notifier
	logger   *slog.Logger
}

func (h *handler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *handler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim marks every message once handled. Undecodable requests and
// requests for unknown or finished projects are dropped; they would fail the
// same way on redelivery.
func (h *handler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := h.handle(session.Context(), msg); err != nil {
			h.logger.Warn("render request dropped",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

func (h *handler) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	req, err := decode(msg.Value)
	if err != nil {
		return err
	}

	run, err := h.runs.RequestRun(ctx, req.ProjectID)
	if err != nil {
		return fmt.Errorf("enqueue project %s: %w", req.ProjectID, err)
	}

	h.logger.Info("render request queued", "project_id", req.ProjectID, "run_id", run.ID)
	h.notifier.Notify()
	return nil
}

func decode(data []byte) (RenderRequest, error) {
	var req RenderRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("decode render request: %w", err)
	}
	if req.ProjectID == "" {
		return req, errors.New("render request has no project_id")
	}
	return req, nil
}
