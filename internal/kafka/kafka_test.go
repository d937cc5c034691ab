package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/sales-arena/internal/config"
	"github.com/sales-arena/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu       sync.Mutex
	seen     map[string][]string
	failures map[string]int
	err      error
	calls    int
}

func (h *recordingHandler) SubmitSale(_ context.Context, s domain.SaleSubmission) (*domain.Sale, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.err != nil {
		return nil, h.err
	}
	if h.failures[s.AttendantID] > 0 {
		h.failures[s.AttendantID]--
		return nil, domain.ErrConflict
	}
	if h.seen == nil {
		h.seen = make(map[string][]string)
	}
	h.seen[s.AttendantID] = append(h.seen[s.AttendantID], domain.FormatMoney(s.Value))
	return &domain.Sale{AttendantID: s.AttendantID, Value: s.Value}, nil
}

func testConsumer(h SaleHandler) *Consumer {
	cfg := &config.KafkaConfig{Workers: 4, RetryAttempts: 3, RetryDelay: time.Millisecond, BatchSize: 10}
	return newConsumer(cfg, h, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func producerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	return cfg
}

func message(t *testing.T, attendantID, value string) *sarama.ConsumerMessage {
	t.Helper()
	data, err := json.Marshal(map[string]any{"attendant_id": attendantID, "value": value})
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Value: data}
}

func TestProcessBatch_KeepsOrderPerAttendant(t *testing.T) {
	h := &recordingHandler{}
	c := testConsumer(h)

	msgs := []*sarama.ConsumerMessage{
		message(t, "a", "1.00"),
		message(t, "b", "2.00"),
		message(t, "a", "3.00"),
		{Value: []byte("not json")},
		message(t, "b", "4.00"),
		message(t, "a", "5.00"),
	}
	c.processBatch(context.Background(), msgs)

	assert.Equal(t, []string{"1.00", "3.00", "5.00"}, h.seen["a"])
	assert.Equal(t, []string{"2.00", "4.00"}, h.seen["b"])
}

func TestProcessBatch_RetriesTransientFailures(t *testing.T) {
	h := &recordingHandler{failures: map[string]int{"a": 2}}
	c := testConsumer(h)

	c.processBatch(context.Background(), []*sarama.ConsumerMessage{message(t, "a", "7.00")})

	assert.Equal(t, []string{"7.00"}, h.seen["a"])
	assert.Equal(t, 3, h.calls)
}

func TestProcessBatch_DropsRejectedSales(t *testing.T) {
	h := &recordingHandler{err: domain.ErrInvalidSaleValue}
	c := testConsumer(h)

	c.processBatch(context.Background(), []*sarama.ConsumerMessage{message(t, "a", "0")})
	assert.Equal(t, 1, h.calls)
}

func TestPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, producerConfig())
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "a1" {
			return errors.New("unexpected key " + string(key))
		}
		return nil
	})
	producer.ExpectSendMessageAndSucceed()

	p := NewPublisherFromProducer(producer, "sales.events", slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := p.Publish(context.Background(), []domain.PipelineEvent{
		{ID: 1, Type: domain.EventSaleRecorded, AttendantID: "a1"},
		{ID: 2, Type: domain.EventAchievementUnlocked, AttendantID: "a1"},
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestPublisher_PublishFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, producerConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewPublisherFromProducer(producer, "sales.events", slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := p.Publish(context.Background(), []domain.PipelineEvent{{ID: 1, Type: domain.EventSaleRecorded, AttendantID: "a1"}})
	require.Error(t, err)
	require.NoError(t, p.Close())
}
