package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricOpts describes an instrument
type MetricOpts struct {
	Name        string
	Description string
	Unit        string
	// Buckets overrides the histogram bucket boundaries
	Buckets []float64
}

// Counter wraps an OTel counter
type Counter struct {
	counter metric.Int64Counter
}

// NewCounter registers a monotonic counter on the active meter
func NewCounter(opts MetricOpts) (*Counter, error) {
	c, err := Meter().Int64Counter(opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
	if err != nil {
		return nil, err
	}
	return &Counter{counter: c}, nil
}

// Add increments the counter by value
func (c *Counter) Add(ctx context.Context, value int64, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, value, metric.WithAttributes(attrs...))
}

// Inc increments the counter by 1
func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, attrs...)
}

// UpDownCounter tracks a value that rises and falls, such as a queue depth
type UpDownCounter struct {
	counter metric.Int64UpDownCounter
}

// NewUpDownCounter registers an up-down counter on the active meter
func NewUpDownCounter(opts MetricOpts) (*UpDownCounter, error) {
	c, err := Meter().Int64UpDownCounter(opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
	if err != nil {
		return nil, err
	}
	return &UpDownCounter{counter: c}, nil
}

// Add adds value, which may be negative
func (c *UpDownCounter) Add(ctx context.Context, value int64, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, value, metric.WithAttributes(attrs...))
}

// Histogram wraps an OTel float histogram
type Histogram struct {
	histogram metric.Float64Histogram
}

// NewHistogram registers a histogram on the active meter
func NewHistogram(opts MetricOpts) (*Histogram, error) {
	hopts := []metric.Float64HistogramOption{
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	}
	if len(opts.Buckets) > 0 {
		hopts = append(hopts, metric.WithExplicitBucketBoundaries(opts.Buckets...))
	}
	h, err := Meter().Float64Histogram(opts.Name, hopts...)
	if err != nil {
		return nil, err
	}
	return &Histogram{histogram: h}, nil
}

// Record adds an observation
func (h *Histogram) Record(ctx context.Context, value float64, attrs ...attribute.KeyValue) {
	h.histogram.Record(ctx, value, metric.WithAttributes(attrs...))
}

// Attribute keys shared by ledger spans and metrics
const (
	AttrErrorType   = "error.type"
	AttrErrorCode   = "ledger.error_code"
	AttrInstruction = "ledger.instruction"
	AttrTxID        = "ledger.tx_id"
	AttrReceiptKind = "ledger.receipt_kind"
	AttrAccount     = "ledger.account"
	AttrOutcome     = "ledger.outcome"
)

func ErrorTypeAttr(errType string) attribute.KeyValue {
	return attribute.String(AttrErrorType, errType)
}

// ErrorCodeAttr tags a ledger failure by its stable numeric code
func ErrorCodeAttr(code uint32) attribute.KeyValue {
	return attribute.Int64(AttrErrorCode, int64(code))
}

func InstructionAttr(name string) attribute.KeyValue {
	return attribute.String(AttrInstruction, name)
}

func TxIDAttr(id string) attribute.KeyValue {
	return attribute.String(AttrTxID, id)
}

func ReceiptKindAttr(kind string) attribute.KeyValue {
	return attribute.String(AttrReceiptKind, kind)
}

func AccountAttr(address string) attribute.KeyValue {
	return attribute.String(AttrAccount, address)
}

// OutcomeAttr tags what happened to a unit of work, such as a published receipt
func OutcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(AttrOutcome, outcome)
}
