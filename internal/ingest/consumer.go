package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/tOgg1/approvalq/internal/config"
	"github.com/tOgg1/approvalq/internal/logging"
)

const retryBackoff = 5 * time.Second

// Consumer reads the approval topic through a consumer group.
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler *Handler
	logger  zerolog.Logger
}

// NewConsumer joins the configured consumer group.
func NewConsumer(cfg config.KafkaConfig, handler *Handler) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers is empty")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("kafka consumer group id is empty")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic is empty")
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Group.Rebalance.Timeout = 30 * time.Second
	sc.Consumer.Group.Session.Timeout = 30 * time.Second
	sc.ClientID = strings.TrimSpace(cfg.ClientID)

	group, err := sarama.NewConsumerGroup(cfg.Brokers, strings.TrimSpace(cfg.GroupID), sc)
	if err != nil {
		return nil, err
	}
	return &Consumer{
		group:   group,
		topics:  []string{cfg.Topic},
		handler: handler,
		logger:  logging.Component("ingest"),
	}, nil
}

// Run consumes until ctx is done. A failed message ends the session so the
// group resumes from the last committed offset.
func (c *Consumer) Run(ctx context.Context) error {
	h := &groupHandler{handler: c.handler}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.group.Consume(ctx, c.topics, h)
		if err == nil {
			continue
		}
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return nil
		}
		c.logger.Warn().Err(err).Dur("backoff", retryBackoff).Msg("consumer session ended")

		timer := time.NewTimer(retryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Close leaves the consumer group.
func (c *Consumer) Close() error {
	if c == nil {
		return nil
	}
	return c.group.Close()
}

type groupHandler struct {
	handler *Handler
}

func (groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case m, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handler.Handle(sess.Context(), m.Value); err != nil {
				return err
			}
			sess.MarkMessage(m, "")
		}
	}
}
