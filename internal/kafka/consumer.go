package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/sales-arena/internal/config"
	"github.com/sales-arena/internal/domain"
	"golang.org/x/sync/errgroup"
)

// SaleHandler runs the ingestion pipeline for one sale
type SaleHandler interface {
	SubmitSale(ctx context.Context, submission domain.SaleSubmission) (*domain.Sale, error)
}

// Consumer consumes sale submissions from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       SaleHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler SaleHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = true
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	c := newConsumer(cfg, handler, logger)
	c.consumerGroup = consumerGroup
	return c, nil
}

func newConsumer(cfg *config.KafkaConfig, handler SaleHandler, logger *slog.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:  cfg,
		handler: handler,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		ready:   make(chan bool),
	}
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.SalesTopic,
		"group_id", c.config.GroupID,
		"workers", c.config.Workers,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.SalesTopic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	select {
	case <-c.ready:
		c.logger.Info("Kafka consumer ready")
	case <-c.ctx.Done():
		return c.ctx.Err()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// decode parses a message; malformed payloads yield ok=false
func (c *Consumer) decode(msg *sarama.ConsumerMessage) (domain.SaleSubmission, bool) {
	var submission domain.SaleSubmission
	if err := json.Unmarshal(msg.Value, &submission); err != nil {
		c.logger.Warn("failed to unmarshal message",
			"error", err,
			"offset", msg.Offset,
			"partition", msg.Partition,
		)
		return submission, false
	}
	return submission, true
}

// processBatch ingests one batch of messages. Sales of one attendant run
// in message order on a single goroutine; different attendants run in
// parallel bounded by the configured worker count.
func (c *Consumer) processBatch(ctx context.Context, msgs []*sarama.ConsumerMessage) {
	var (
		order   []string
		byOwner = make(map[string][]domain.SaleSubmission)
	)
	for _, msg := range msgs {
		submission, ok := c.decode(msg)
		if !ok {
			continue
		}
		if _, seen := byOwner[submission.AttendantID]; !seen {
			order = append(order, submission.AttendantID)
		}
		byOwner[submission.AttendantID] = append(byOwner[submission.AttendantID], submission)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.config.Workers, 1))
	for _, attendantID := range order {
		sales := byOwner[attendantID]
		g.Go(func() error {
			for _, s := range sales {
				c.submit(gctx, s)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// submit retries transient failures; rejected sales are logged and dropped
func (c *Consumer) submit(ctx context.Context, submission domain.SaleSubmission) {
	attempts := max(c.config.RetryAttempts, 1)
	for attempt := 1; ; attempt++ {
		_, err := c.handler.SubmitSale(ctx, submission)
		if err == nil {
			return
		}
		if domain.IsValidationError(err) || domain.IsNotFoundError(err) {
			c.logger.Warn("dropping rejected sale",
				"attendant_id", submission.AttendantID,
				"error", err,
			)
			return
		}
		if attempt >= attempts || ctx.Err() != nil {
			c.logger.Error("failed to ingest sale",
				"attendant_id", submission.AttendantID,
				"attempts", attempt,
				"error", err,
			)
			return
		}

		t := time.NewTimer(c.config.RetryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition. Offsets are
// marked only after the batch holding them has been ingested.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	batch := make([]*sarama.ConsumerMessage, 0, cfg.BatchSize)
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// finish in-flight sales even when the session is ending
		h.consumer.processBatch(context.WithoutCancel(session.Context()), batch)
		for _, msg := range batch {
			session.MarkMessage(msg, "")
		}
		h.consumer.logger.Debug("processed batch", "batch_size", len(batch))
		batch = batch[:0]
	}

	for {
		select {
		case <-session.Context().Done():
			flush()
			return nil

		case <-batchTimer.C:
			flush()
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				flush()
				return nil
			}

			batch = append(batch, message)
			if len(batch) >= cfg.BatchSize {
				flush()
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}
