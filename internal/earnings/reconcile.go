// Package earnings recomputes promoter earnings from the view ledger and
// exposes the payout accessors used by the downstream payout process.
package earnings

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/campaign-views/internal/model"
)

const (
	defaultConcurrency     = 4
	defaultMaxWritesPerSec = 200
)

// Store is the subset of store.Store used by the Reconciler.
type Store interface {
	ListReconciliationInputs(ctx context.Context, includeEnded bool) ([]model.ReconciliationInput, error)
	UpsertEarningsRecord(ctx context.Context, rec *model.EarningsRecord) (bool, error)
}

// ReconcilerConfig tunes a reconciliation run.
type ReconcilerConfig struct {
	Concurrency     int
	MaxWritesPerSec float64
	// IncludeEnded also reconciles ENDED campaigns.
	IncludeEnded bool
}

// Summary reports the outcome of a reconciliation run.
type Summary struct {
	Pairs      int           `json:"pairs"`
	Written    int           `json:"written"`
	Unchanged  int           `json:"unchanged"`
	Qualifying int           `json:"qualifying"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration"`
}

// Reconciler rebuilds earnings records for every (promoter, campaign) pair.
type Reconciler struct {
	store   Store
	cfg     ReconcilerConfig
	limiter *rate.Limiter
	now     func() time.Time
	log     *zap.Logger
}

// NewReconciler creates a Reconciler. Zero config values fall back to
// defaults.
func NewReconciler(s Store, cfg ReconcilerConfig) *Reconciler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.MaxWritesPerSec <= 0 {
		cfg.MaxWritesPerSec = defaultMaxWritesPerSec
	}
	return &Reconciler{
		store:   s,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxWritesPerSec), cfg.Concurrency),
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "earnings.reconciler")),
	}
}

// ReconcileAll runs a reconciliation using the configured scope.
func (r *Reconciler) ReconcileAll(ctx context.Context) (*Summary, error) {
	return r.Run(ctx, r.cfg.IncludeEnded)
}

// Run recomputes earnings for every pair of an ACTIVE pay-per-view campaign,
// plus ENDED ones when includeEnded is set. A failing pair is logged and
// skipped. Only loading the inputs or cancellation aborts the run.
func (r *Reconciler) Run(ctx context.Context, includeEnded bool) (*Summary, error) {
	start := r.now()
	inputs, err := r.store.ListReconciliationInputs(ctx, includeEnded)
	if err != nil {
		return nil, eris.Wrap(err, "earnings: list reconciliation inputs")
	}
	r.log.Info("reconciliation started",
		zap.Int("pairs", len(inputs)),
		zap.Bool("include_ended", includeEnded),
	)

	var written, unchanged, qualifying, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for _, in := range inputs {
		g.Go(func() error {
			if err := r.limiter.Wait(gctx); err != nil {
				return err
			}
			rec := model.NewEarningsRecord("", in, r.now().UTC())
			changed, err := r.store.UpsertEarningsRecord(gctx, rec)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				r.log.Error("reconcile pair failed",
					zap.String("campaign_id", in.CampaignID),
					zap.String("promoter_id", in.PromoterID),
					zap.Error(err),
				)
				return nil
			}
			if rec.QualifiesForPayout {
				qualifying.Add(1)
			}
			if changed {
				written.Add(1)
			} else {
				unchanged.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "earnings: reconcile")
	}

	s := &Summary{
		Pairs:      len(inputs),
		Written:    int(written.Load()),
		Unchanged:  int(unchanged.Load()),
		Qualifying: int(qualifying.Load()),
		Failed:     int(failed.Load()),
		Duration:   r.now().Sub(start),
	}
	r.log.Info("reconciliation finished",
		zap.Int("pairs", s.Pairs),
		zap.Int("written", s.Written),
		zap.Int("unchanged", s.Unchanged),
		zap.Int("qualifying", s.Qualifying),
		zap.Int("failed", s.Failed),
		zap.Duration("duration", s.Duration),
	)
	return s, nil
}
