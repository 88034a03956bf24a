package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
)

type fakeProducer struct {
	mu       sync.Mutex
	records  []*kgo.Record
	err      error
	flushed  bool
	closed   bool
	blockCh  chan struct{}
	flushErr error
}

func (f *fakeProducer) Produce(_ context.Context, r *kgo.Record, promise func(*kgo.Record, error)) {
	if f.blockCh != nil {
		<-f.blockCh
	}
	f.mu.Lock()
	f.records = append(f.records, r)
	err := f.err
	f.mu.Unlock()
	promise(r, err)
}

func (f *fakeProducer) Flush(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed = true
	return f.flushErr
}

func (f *fakeProducer) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func testReceipt(seq uint64) *domain.Receipt {
	return &domain.Receipt{
		ID:           "sig-" + string(rune('a'+seq)),
		Kind:         domain.ReceiptKindTransaction,
		Sequence:     seq,
		Hash:         domain.Hash{byte(seq)},
		Instructions: []string{"mint_ticket"},
		Logs:         []string{"Ticket #0 minted for event 1"},
		CommittedAt:  time.Unix(1_700_000_000, 0).UTC(),
	}
}

func TestNewRecord(t *testing.T) {
	receipt := testReceipt(7)

	record, err := NewRecord("ledger.receipts", receipt)
	require.NoError(t, err)

	assert.Equal(t, "ledger.receipts", record.Topic)
	assert.Equal(t, []byte(receipt.ID), record.Key)
	assert.Equal(t, receipt.CommittedAt, record.Timestamp)

	headers := map[string]string{}
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "transaction", headers["kind"])
	assert.Equal(t, "7", headers["sequence"])
	assert.Equal(t, receipt.Hash.String(), headers["hash"])

	var decoded domain.Receipt
	require.NoError(t, json.Unmarshal(record.Value, &decoded))
	assert.Equal(t, receipt.Sequence, decoded.Sequence)
	assert.Equal(t, receipt.Logs, decoded.Logs)
}

func TestKafkaPublisher_PublishesInOrder(t *testing.T) {
	producer := &fakeProducer{}
	p := NewKafkaPublisherWithProducer(producer, "ledger.receipts", 16)

	for seq := uint64(1); seq <= 5; seq++ {
		p.Publish(context.Background(), testReceipt(seq))
	}
	require.NoError(t, p.Close(context.Background()))

	require.Len(t, producer.records, 5)
	for i, r := range producer.records {
		var decoded domain.Receipt
		require.NoError(t, json.Unmarshal(r.Value, &decoded))
		assert.Equal(t, uint64(i+1), decoded.Sequence)
	}
	assert.True(t, producer.flushed)
	assert.True(t, producer.closed)

	published, failed, dropped := p.Stats()
	assert.Equal(t, uint64(5), published)
	assert.Zero(t, failed)
	assert.Zero(t, dropped)
}

func TestKafkaPublisher_PublishCopiesReceipt(t *testing.T) {
	producer := &fakeProducer{blockCh: make(chan struct{})}
	p := NewKafkaPublisherWithProducer(producer, "t", 4)

	receipt := testReceipt(1)
	p.Publish(context.Background(), receipt)
	receipt.Logs[0] = "mutated"
	close(producer.blockCh)

	require.NoError(t, p.Close(context.Background()))
	require.Len(t, producer.records, 1)
	assert.NotContains(t, string(producer.records[0].Value), "mutated")
}

func TestKafkaPublisher_DropsWhenFull(t *testing.T) {
	producer := &fakeProducer{blockCh: make(chan struct{})}
	p := NewKafkaPublisherWithProducer(producer, "t", 1)

	for seq := uint64(1); seq <= 6; seq++ {
		p.Publish(context.Background(), testReceipt(seq))
	}
	close(producer.blockCh)
	require.NoError(t, p.Close(context.Background()))

	published, _, dropped := p.Stats()
	assert.Equal(t, uint64(6), published+dropped)
	assert.GreaterOrEqual(t, dropped, uint64(4))
}

func TestKafkaPublisher_ProduceErrorCounted(t *testing.T) {
	producer := &fakeProducer{err: errors.New("broker unavailable")}
	p := NewKafkaPublisherWithProducer(producer, "t", 4)

	p.Publish(context.Background(), testReceipt(1))
	require.NoError(t, p.Close(context.Background()))

	published, failed, _ := p.Stats()
	assert.Zero(t, published)
	assert.Equal(t, uint64(1), failed)
}

func TestKafkaPublisher_CloseIdempotentAndFlushError(t *testing.T) {
	producer := &fakeProducer{flushErr: errors.New("timeout")}
	p := NewKafkaPublisherWithProducer(producer, "t", 4)

	assert.Error(t, p.Close(context.Background()))
	assert.NoError(t, p.Close(context.Background()))

	// Publishing after close is ignored
	p.Publish(context.Background(), testReceipt(1))
	assert.Empty(t, producer.records)
}

func TestNewKafkaPublisher_Validation(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "t"})
	assert.Error(t, err)

	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}

func TestNoopPublisher(t *testing.T) {
	var p ReceiptPublisher = NewNoopPublisher()
	p.Publish(context.Background(), testReceipt(1))
	assert.NoError(t, p.Close(context.Background()))
}

func TestKafkaPublisher_Integration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run.")
	}
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = "localhost:9092"
	}

	topic := "ledger.receipts.test"
	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{brokers}, Topic: topic, ClientID: "ledger-test"})
	require.NoError(t, err)

	receipt := testReceipt(1)
	receipt.ID = "integration-" + time.Now().Format(time.RFC3339Nano)
	p.Publish(context.Background(), receipt)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, p.Close(ctx))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(brokers),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	for {
		fetches := consumer.PollFetches(ctx)
		require.NoError(t, ctx.Err())
		var found bool
		fetches.EachRecord(func(r *kgo.Record) {
			if string(r.Key) == receipt.ID {
				found = true
			}
		})
		if found {
			return
		}
	}
}
