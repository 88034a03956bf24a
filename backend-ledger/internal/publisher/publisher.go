package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
	"github.com/prohmpiriya/ticket-ledger/pkg/logger"
	"github.com/prohmpiriya/ticket-ledger/pkg/telemetry"
)

// ReceiptPublisher fans committed receipts out to downstream consumers.
// Publish must not block the commit path.
type ReceiptPublisher interface {
	Publish(ctx context.Context, receipt *domain.Receipt)
	Close(ctx context.Context) error
}

// NoopPublisher discards receipts
type NoopPublisher struct{}

// NewNoopPublisher returns a publisher that drops everything
func NewNoopPublisher() *NoopPublisher { return &NoopPublisher{} }

// Publish implements ReceiptPublisher
func (NoopPublisher) Publish(context.Context, *domain.Receipt) {}

// Close implements ReceiptPublisher
func (NoopPublisher) Close(context.Context) error { return nil }

// Producer is the part of *kgo.Client the Kafka publisher uses
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

// KafkaConfig configures the Kafka publisher
type KafkaConfig struct {
	Brokers    []string
	ClientID   string
	Topic      string
	BufferSize int
	// FlushInterval bounds how long produced records may linger in the client
	FlushInterval time.Duration
}

// KafkaPublisher writes each receipt as a JSON record keyed by transaction id
type KafkaPublisher struct {
	producer Producer
	topic    string
	buffer   chan *domain.Receipt
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	pending  *telemetry.UpDownCounter
	outcomes *telemetry.Counter
}

// NewKafkaPublisher connects a franz-go client to the configured brokers
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka publisher: topic is required")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.FlushInterval > 0 {
		opts = append(opts, kgo.ProducerLinger(cfg.FlushInterval))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka publisher: create client: %w", err)
	}
	return NewKafkaPublisherWithProducer(client, cfg.Topic, cfg.BufferSize), nil
}

// NewKafkaPublisherWithProducer builds a publisher on an existing producer
func NewKafkaPublisherWithProducer(producer Producer, topic string, bufferSize int) *KafkaPublisher {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	p := &KafkaPublisher{
		producer: producer,
		topic:    topic,
		buffer:   make(chan *domain.Receipt, bufferSize),
	}
	var err error
	if p.pending, err = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "ledger_publisher_pending",
		Description: "Receipts buffered for Kafka",
		Unit:        "{receipt}",
	}); err != nil {
		logger.Warn("failed to register metric", zap.String("metric", "ledger_publisher_pending"), zap.Error(err))
	}
	if p.outcomes, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "ledger_publisher_receipts_total",
		Description: "Receipts handed to Kafka by outcome",
		Unit:        "{receipt}",
	}); err != nil {
		logger.Warn("failed to register metric", zap.String("metric", "ledger_publisher_receipts_total"), zap.Error(err))
	}
	p.wg.Add(1)
	go p.worker()
	return p
}

// Publish enqueues receipt; when the buffer is full the receipt is dropped and counted.
// The journal remains the source of truth, so consumers can backfill from it.
func (p *KafkaPublisher) Publish(ctx context.Context, receipt *domain.Receipt) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed || receipt == nil {
		return
	}
	select {
	case p.buffer <- receipt.Clone():
		p.track(ctx, 1, "")
	default:
		p.dropped.Add(1)
		p.track(ctx, 0, "dropped")
		logger.WarnCtx(ctx, "receipt publish buffer full, dropping",
			zap.String("tx_id", receipt.ID),
			zap.Uint64("sequence", receipt.Sequence),
		)
	}
}

func (p *KafkaPublisher) worker() {
	defer p.wg.Done()
	for receipt := range p.buffer {
		record, err := NewRecord(p.topic, receipt)
		if err != nil {
			p.failed.Add(1)
			p.track(context.Background(), -1, "failed")
			logger.Error("encode receipt record", zap.String("tx_id", receipt.ID), zap.Error(err))
			continue
		}
		p.producer.Produce(context.Background(), record, p.onProduced)
	}
}

func (p *KafkaPublisher) onProduced(r *kgo.Record, err error) {
	if err != nil {
		p.failed.Add(1)
		p.track(context.Background(), -1, "failed")
		logger.Error("publish receipt",
			zap.String("topic", r.Topic),
			zap.ByteString("tx_id", r.Key),
			zap.Error(err),
		)
		return
	}
	p.published.Add(1)
	p.track(context.Background(), -1, "published")
}

// track moves the pending gauge by delta and counts outcome when set
func (p *KafkaPublisher) track(ctx context.Context, delta int64, outcome string) {
	if p.pending != nil && delta != 0 {
		p.pending.Add(ctx, delta)
	}
	if p.outcomes != nil && outcome != "" {
		p.outcomes.Inc(ctx, telemetry.OutcomeAttr(outcome))
	}
}

// Stats returns published, failed and dropped counts
func (p *KafkaPublisher) Stats() (published, failed, dropped uint64) {
	return p.published.Load(), p.failed.Load(), p.dropped.Load()
}

// Close drains the buffer, flushes in-flight records and closes the client
func (p *KafkaPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.buffer)
	p.mu.Unlock()

	p.wg.Wait()
	err := p.producer.Flush(ctx)
	p.producer.Close()
	if err != nil {
		return fmt.Errorf("flush receipts: %w", err)
	}
	return nil
}

// NewRecord encodes receipt as a Kafka record on topic
func NewRecord(topic string, receipt *domain.Receipt) (*kgo.Record, error) {
	value, err := json.Marshal(receipt)
	if err != nil {
		return nil, err
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(receipt.ID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(receipt.Kind)},
			{Key: "sequence", Value: []byte(strconv.FormatUint(receipt.Sequence, 10))},
			{Key: "hash", Value: []byte(receipt.Hash.String())},
		},
		Timestamp: receipt.CommittedAt,
	}, nil
}
