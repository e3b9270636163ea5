package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/campaign-views/internal/completion"
	"github.com/sells-group/campaign-views/internal/earnings"
	"github.com/sells-group/campaign-views/internal/events"
	"github.com/sells-group/campaign-views/internal/monitoring"
	"github.com/sells-group/campaign-views/internal/store"
	"github.com/sells-group/campaign-views/internal/tracking"
)

// appEnv holds the components shared by the commands.
type appEnv struct {
	Store      store.Store
	Publisher  events.Publisher
	Completion *completion.Controller
	Tracking   *tracking.Engine
	Reconciler *earnings.Reconciler
	Payouts    *earnings.Payouts
}

// initApp opens and migrates the store, opens the event publisher and
// builds the domain services on top of them.
func initApp(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	pub, err := initPublisher()
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return newAppEnv(st, pub), nil
}

func newAppEnv(st store.Store, pub events.Publisher) *appEnv {
	ctrl := completion.NewController(st, pub)
	rc := earnings.NewReconciler(st, earnings.ReconcilerConfig{
		Concurrency:     cfg.Reconcile.Concurrency,
		MaxWritesPerSec: cfg.Reconcile.MaxWritesPerSec,
		IncludeEnded:    cfg.Reconcile.IncludeEnded,
	})
	return &appEnv{
		Store:      st,
		Publisher:  pub,
		Completion: ctrl,
		Tracking:   tracking.NewEngine(st, ctrl),
		Reconciler: rc,
		Payouts:    earnings.NewPayouts(st, pub),
	}
}

// collector builds a metrics collector. circuit may be nil.
func (a *appEnv) collector(circuit monitoring.CircuitReporter) *monitoring.Collector {
	return monitoring.NewCollector(a.Store, circuit)
}

// Close releases the publisher and the store.
func (a *appEnv) Close() {
	if err := a.Publisher.Close(); err != nil {
		zap.L().Warn("close publisher", zap.Error(err))
	}
	if err := a.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}
