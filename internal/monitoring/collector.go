package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/campaign-views/internal/model"
	"github.com/sells-group/campaign-views/internal/resilience"
	"github.com/sells-group/campaign-views/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Views recorded within the lookback window.
	UniqueViews int64 `json:"unique_views"`

	// Payouts awaiting execution.
	EligiblePayouts    int   `json:"eligible_payouts"`
	PendingPayoutCents int64 `json:"pending_payout_cents"`

	// Accounting failures awaiting replay.
	FailureBacklog int `json:"failure_backlog"`

	// Rate limiter circuit, empty when no distributed limiter is configured.
	LimiterCircuit string `json:"limiter_circuit,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// MetricsSource is the subset of store.Store read by the collector.
type MetricsSource interface {
	CountUniqueViews(ctx context.Context, f store.ViewFilter) (int64, error)
	ListEligiblePayouts(ctx context.Context) ([]model.EarningsRecord, error)
	CountAccountingFailures(ctx context.Context) (int, error)
}

// CircuitReporter reports the state of a circuit breaker.
type CircuitReporter interface {
	State() resilience.CircuitState
}

// Collector gathers metrics from the store.
type Collector struct {
	source  MetricsSource
	limiter CircuitReporter
	now     func() time.Time
}

// NewCollector creates a new metrics collector. limiter may be nil.
func NewCollector(src MetricsSource, limiter CircuitReporter) *Collector {
	return &Collector{source: src, limiter: limiter, now: time.Now}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	views, err := c.source.CountUniqueViews(ctx, store.ViewFilter{Since: cutoff})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count unique views")
	}
	snap.UniqueViews = views

	payouts, err := c.source.ListEligiblePayouts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list eligible payouts")
	}
	snap.EligiblePayouts = len(payouts)
	for _, p := range payouts {
		snap.PendingPayoutCents += p.NetEarningsCents
	}

	backlog, err := c.source.CountAccountingFailures(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count accounting failures")
	}
	snap.FailureBacklog = backlog

	if c.limiter != nil {
		snap.LimiterCircuit = c.limiter.State().String()
	}

	return snap, nil
}
