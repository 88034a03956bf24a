package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-ledger/pkg/logger"
	"github.com/prohmpiriya/ticket-ledger/pkg/telemetry"
)

// ledgerMetrics groups the executor's instruments. Instruments that fail to register stay nil and are skipped.
type ledgerMetrics struct {
	transactions  *telemetry.Counter
	failures      *telemetry.Counter
	ticketsMinted *telemetry.Counter
	refunds       *telemetry.Counter
	airdrops      *telemetry.Counter
	vaultLamports *telemetry.Histogram
	commitLatency *telemetry.Histogram
}

func newLedgerMetrics() *ledgerMetrics {
	m := &ledgerMetrics{}
	m.transactions = counter("ledger_transactions_total", "Committed ledger transactions", "{transaction}")
	m.failures = counter("ledger_transaction_failures_total", "Rejected ledger transactions by error code", "{transaction}")
	m.ticketsMinted = counter("ledger_tickets_minted_total", "Tickets minted", "{ticket}")
	m.refunds = counter("ledger_refunds_total", "Tickets refunded", "{ticket}")
	m.airdrops = counter("ledger_airdrops_total", "Operator airdrops", "{airdrop}")

	var err error
	m.vaultLamports, err = telemetry.NewHistogram(telemetry.MetricOpts{
		Name:        "ledger_vault_lamports",
		Description: "Vault balance after a mint or refund",
		Unit:        "{lamport}",
	})
	if err != nil {
		logger.Warn("failed to register metric", zap.String("metric", "ledger_vault_lamports"), zap.Error(err))
	}
	m.commitLatency, err = telemetry.NewHistogram(telemetry.MetricOpts{
		Name:        "ledger_commit_duration_seconds",
		Description: "Time from verification to durable commit",
		Unit:        "s",
		Buckets:     []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
	})
	if err != nil {
		logger.Warn("failed to register metric", zap.String("metric", "ledger_commit_duration_seconds"), zap.Error(err))
	}
	return m
}

func counter(name, description, unit string) *telemetry.Counter {
	c, err := telemetry.NewCounter(telemetry.MetricOpts{Name: name, Description: description, Unit: unit})
	if err != nil {
		logger.Warn("failed to register metric", zap.String("metric", name), zap.Error(err))
		return nil
	}
	return c
}

func inc(ctx context.Context, c *telemetry.Counter, attrs ...attribute.KeyValue) {
	if c != nil {
		c.Inc(ctx, attrs...)
	}
}

func record(ctx context.Context, h *telemetry.Histogram, v float64, attrs ...attribute.KeyValue) {
	if h != nil {
		h.Record(ctx, v, attrs...)
	}
}
