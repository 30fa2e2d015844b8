package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"horse.fit/flashpoint/internal/model"
	payloadschema "horse.fit/flashpoint/schema"
)

const (
	DefaultKafkaBatchSize     = 100
	DefaultKafkaFlushInterval = 10 * time.Second
	DefaultKafkaRetryBackoff  = time.Second
	DefaultKafkaMaxBackoff    = 30 * time.Second
)

// BatchHandler resolves one flushed batch. Returning an error leaves the batch unmarked so the
// messages are redelivered.
type BatchHandler func(ctx context.Context, articles []model.Article) error

type KafkaOptions struct {
	Brokers       []string
	Topic         string
	GroupID       string
	BatchSize     int
	FlushInterval time.Duration
	// RetryBackoff is the first wait after a failed session. It doubles up to MaxBackoff.
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

func (o KafkaOptions) withDefaults() KafkaOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultKafkaBatchSize
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultKafkaFlushInterval
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultKafkaRetryBackoff
	}
	if o.MaxBackoff < o.RetryBackoff {
		o.MaxBackoff = max(DefaultKafkaMaxBackoff, o.RetryBackoff)
	}
	return o
}

// KafkaConsumer reads one JSON article payload per message and hands them to a BatchHandler.
type KafkaConsumer struct {
	group   sarama.ConsumerGroup
	opts    KafkaOptions
	handler BatchHandler
	logger  zerolog.Logger
}

func NewKafkaConsumer(opts KafkaOptions, handler BatchHandler, logger zerolog.Logger) (*KafkaConsumer, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if strings.TrimSpace(opts.Topic) == "" || strings.TrimSpace(opts.GroupID) == "" {
		return nil, fmt.Errorf("kafka topic and group id are required")
	}
	if handler == nil {
		return nil, fmt.Errorf("batch handler is required")
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_6_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(opts.Brokers, opts.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return &KafkaConsumer{
		group:   group,
		opts:    opts.withDefaults(),
		handler: handler,
		logger:  logger,
	}, nil
}

// Run consumes until ctx is done. Rebalances restart the session.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range c.group.Errors() {
			c.logger.Error().Err(err).Msg("kafka consumer error")
		}
	}()
	defer wg.Wait()
	defer c.group.Close()

	handler := &claimHandler{opts: c.opts, handler: c.handler, logger: c.logger}
	c.logger.Info().Str("topic", c.opts.Topic).Str("group", c.opts.GroupID).Msg("kafka consumer started")
	backoff := c.opts.RetryBackoff
	for {
		err := c.group.Consume(ctx, []string{c.opts.Topic}, handler)
		if ctx.Err() != nil || errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return nil
		}
		if err == nil {
			backoff = c.opts.RetryBackoff
			continue
		}

		c.logger.Error().Err(err).Dur("retry_in", backoff).Msg("kafka session ended")
		if !sleepContext(ctx, backoff) {
			return nil
		}
		backoff = min(2*backoff, c.opts.MaxBackoff)
	}
}

// sleepContext waits for d and reports false when ctx ended first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// claimHandler implements sarama.ConsumerGroupHandler with per-partition batching.
type claimHandler struct {
	opts    KafkaOptions
	handler BatchHandler
	logger  zerolog.Logger
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ticker := time.NewTicker(h.opts.FlushInterval)
	defer ticker.Stop()

	var (
		articles []model.Article
		last     *sarama.ConsumerMessage
	)

	flush := func() error {
		if last == nil {
			return nil
		}
		if len(articles) > 0 {
			if err := h.handler(session.Context(), articles); err != nil {
				return fmt.Errorf("handle batch of %d: %w", len(articles), err)
			}
		}
		session.MarkMessage(last, "")
		articles = nil
		last = nil
		return nil
	}

	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return flush()
			}
			last = message
			item, err := payloadschema.ValidateArticlePayload(message.Value)
			if err != nil {
				h.logger.Warn().
					Err(err).
					Str("topic", message.Topic).
					Int32("partition", message.Partition).
					Int64("offset", message.Offset).
					Msg("skipping invalid article message")
			} else {
				articles = append(articles, item.Article())
			}
			if len(articles) >= h.opts.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}
		case <-session.Context().Done():
			return nil
		}
	}
}
