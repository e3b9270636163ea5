package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/campaign-views/internal/model"
	"github.com/sells-group/campaign-views/internal/resilience"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func int64Ptr(v int64) *int64 { return &v }

// seedCampaign stores an ACTIVE campaign with the given pricing and cap and
// ONGOING assignments for promoters.
func seedCampaign(t *testing.T, st *SQLiteStore, c model.Campaign, promoters ...string) {
	t.Helper()
	ctx := context.Background()
	if c.Type == "" {
		c.Type = model.CampaignTypeVisibility
	}
	if c.Status == "" {
		c.Status = model.CampaignStatusActive
	}
	require.NoError(t, st.SaveCampaign(ctx, &c))
	for _, p := range promoters {
		require.NoError(t, st.SaveAssignment(ctx, &model.Assignment{
			PromoterID: p,
			CampaignID: c.ID,
			Status:     model.AssignmentOngoing,
		}))
	}
}

// --- Campaigns and assignments ---

func TestSQLite_CampaignRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedCampaign(t, st, model.Campaign{
		ID:                  "c1",
		Title:               "Spring launch",
		CostPerHundredViews: int64Ptr(500),
		ViewCap:             int64Ptr(100),
		TrackingURL:         "https://example.com/spring",
	})

	c, err := st.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Spring launch", c.Title)
	assert.Equal(t, int64(500), *c.CostPerHundredViews)
	assert.Equal(t, int64(100), *c.ViewCap)
	assert.True(t, c.Redirectable())
	assert.False(t, c.CreatedAt.IsZero())

	missing, err := st.GetCampaign(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_CampaignWithoutPricing(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedCampaign(t, st, model.Campaign{ID: "c1", TrackingURL: "https://example.com"})

	c, err := st.GetCampaign(context.Background(), "c1")
	require.NoError(t, err)
	assert.Nil(t, c.CostPerHundredViews)
	assert.Nil(t, c.ViewCap)
}

func TestSQLite_MissingRowsReturnNil(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a, err := st.GetAssignment(ctx, "p1", "c1")
	require.NoError(t, err)
	assert.Nil(t, a)

	b, err := st.GetBudgetTracking(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, b)

	p, err := st.GetPromoterStats(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, p)

	r, err := st.GetEarningsRecord(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, r)
}

// --- View ledger ---

func TestSQLite_InsertUniqueView_Duplicate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	v := &model.UniqueView{CampaignID: "c1", PromoterID: "p1", Fingerprint: "fp"}
	require.NoError(t, st.InsertUniqueView(ctx, v))
	assert.NotEmpty(t, v.ID)

	err := st.InsertUniqueView(ctx, &model.UniqueView{CampaignID: "c1", PromoterID: "p1", Fingerprint: "fp"})
	assert.ErrorIs(t, err, ErrDuplicateView)

	// Same fingerprint for another promoter is a different view.
	require.NoError(t, st.InsertUniqueView(ctx, &model.UniqueView{CampaignID: "c1", PromoterID: "p2", Fingerprint: "fp"}))
}

func TestSQLite_InsertUniqueView_ConcurrentDuplicates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	const workers = 20
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		inserted   int
		duplicates int
		other      []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := st.InsertUniqueView(ctx, &model.UniqueView{CampaignID: "c1", PromoterID: "p1", Fingerprint: "same"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				inserted++
			case errors.Is(err, ErrDuplicateView):
				duplicates++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, 1, inserted)
	assert.Equal(t, workers-1, duplicates)

	n, err := st.CountUniqueViews(ctx, ViewFilter{CampaignID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLite_CountAndDailyUniqueViews(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	day1 := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 0, 1, 0, 0, time.UTC)

	for i, v := range []model.UniqueView{
		{CampaignID: "c1", PromoterID: "p1", CreatedAt: day1},
		{CampaignID: "c1", PromoterID: "p1", CreatedAt: day2},
		{CampaignID: "c1", PromoterID: "p2", CreatedAt: day2},
		{CampaignID: "c2", PromoterID: "p1", CreatedAt: day2},
	} {
		v.Fingerprint = fmt.Sprintf("fp-%d", i)
		require.NoError(t, st.InsertUniqueView(ctx, &v))
	}

	n, err := st.CountUniqueViews(ctx, ViewFilter{CampaignID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = st.CountUniqueViews(ctx, ViewFilter{CampaignID: "c1", PromoterID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = st.CountUniqueViews(ctx, ViewFilter{Since: day2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	daily, err := st.DailyUniqueViews(ctx, ViewFilter{CampaignID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, []model.DailyViewCount{
		{Date: "2026-03-01", Views: 1},
		{Date: "2026-03-02", Views: 2},
	}, daily)
}

// --- Accounting ---

func TestSQLite_ApplyViewAccounting_Billable(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedCampaign(t, st, model.Campaign{ID: "c1", CostPerHundredViews: int64Ptr(1000), TrackingURL: "https://x"}, "p1")

	c, err := st.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	require.NoError(t, st.ApplyViewAccounting(ctx, model.NewViewIncrement(c, "p1")))

	c, err = st.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.CurrentViews)

	a, err := st.GetAssignment(ctx, "p1", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.ViewsGenerated)
	assert.True(t, a.Earnings.Equal(decimal.NewFromInt(10)), "earnings %s", a.Earnings)

	b, err := st.GetBudgetTracking(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.True(t, b.SpentBudgetCents.Equal(decimal.NewFromInt(10)))
	assert.True(t, b.PlatformFeesCollectedCents.Equal(decimal.NewFromInt(2)))

	p, err := st.GetPromoterStats(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, int64(1), p.TotalViewsGenerated)
}

func TestSQLite_ApplyViewAccounting_NonBillable(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedCampaign(t, st, model.Campaign{ID: "c1", TrackingURL: "https://x"}, "p1")

	c, err := st.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	require.NoError(t, st.ApplyViewAccounting(ctx, model.NewViewIncrement(c, "p1")))

	c, err = st.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.CurrentViews)

	a, err := st.GetAssignment(ctx, "p1", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.ViewsGenerated)
	assert.True(t, a.Earnings.IsZero())

	b, err := st.GetBudgetTracking(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, b, "no money moves without pricing")
}

func TestSQLite_ApplyViewAccounting_InactiveRollsBack(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedCampaign(t, st, model.Campaign{ID: "c1", CostPerHundredViews: int64Ptr(1000), TrackingURL: "https://x"})
	require.NoError(t, st.SaveAssignment(ctx, &model.Assignment{PromoterID: "p1", CampaignID: "c1", Status: model.AssignmentCompleted}))

	c, err := st.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	err = st.ApplyViewAccounting(ctx, model.NewViewIncrement(c, "p1"))
	assert.ErrorIs(t, err, ErrInactive)

	c, err = st.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.CurrentViews, "campaign increment must be rolled back")
}

func TestSQLite_ApplyViewAccounting_BudgetArithmetic(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedCampaign(t, st, model.Campaign{ID: "c1", CostPerHundredViews: int64Ptr(500), TrackingURL: "https://x"}, "p1")

	c, err := st.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	inc := model.NewViewIncrement(c, "p1")

	const views = 250
	var wg sync.WaitGroup
	errs := make(chan error, views)
	for i := 0; i < views; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- st.ApplyViewAccounting(ctx, inc)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	b, err := st.GetBudgetTracking(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, b.SpentBudgetCents.Equal(decimal.NewFromInt(1250)), "spent %s", b.SpentBudgetCents)
	assert.True(t, b.PlatformFeesCollectedCents.Equal(decimal.NewFromInt(250)), "fees %s", b.PlatformFeesCollectedCents)

	a, err := st.GetAssignment(ctx, "p1", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(views), a.ViewsGenerated)
	assert.True(t, a.Earnings.Equal(decimal.NewFromInt(1250)))

	c, err = st.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(views), c.CurrentViews)
}

// --- Completion ---

func TestSQLite_CompleteCampaign(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedCampaign(t, st, model.Campaign{ID: "c1", Type: model.CampaignTypeConsultant, TrackingURL: "https://x"}, "p1", "p2")
	require.NoError(t, st.SaveAssignment(ctx, &model.Assignment{PromoterID: "p3", CampaignID: "c1", Status: model.AssignmentRefused}))

	res, err := st.CompleteCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, res.Ended)
	assert.Equal(t, model.CampaignTypeConsultant, res.CampaignType)
	assert.ElementsMatch(t, []string{"p1", "p2"}, res.PromoterIDs)

	c, err := st.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusEnded, c.Status)

	a, err := st.GetAssignment(ctx, "p3", "c1")
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentRefused, a.Status, "only ONGOING assignments complete")

	for _, p := range []string{"p1", "p2"} {
		a, err := st.GetAssignment(ctx, p, "c1")
		require.NoError(t, err)
		assert.Equal(t, model.AssignmentCompleted, a.Status)

		stats, err := st.GetPromoterStats(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.TotalCampaignsCompleted)
		assert.Equal(t, int64(1), stats.ConsultantCampaignsCompleted)
		assert.Equal(t, int64(0), stats.VisibilityCampaignsCompleted)
	}

	// Second call is a no-op.
	res, err = st.CompleteCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, res.Ended)

	stats, err := st.GetPromoterStats(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalCampaignsCompleted)
}

func TestSQLite_CompleteCampaign_StampsPromoterStats(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedCampaign(t, st, model.Campaign{ID: "c1", CostPerHundredViews: int64Ptr(500), TrackingURL: "https://x"}, "p1", "p2")

	// p1 already has a stats row from a billable view; p2 has none.
	c, err := st.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	require.NoError(t, st.ApplyViewAccounting(ctx, model.NewViewIncrement(c, "p1")))

	before := time.Now().UTC().Add(-time.Second)
	res, err := st.CompleteCampaign(ctx, "c1")
	require.NoError(t, err)
	require.True(t, res.Ended)
	assert.ElementsMatch(t, []string{"p1", "p2"}, res.PromoterIDs)

	for _, p := range []string{"p1", "p2"} {
		stats, err := st.GetPromoterStats(ctx, p)
		require.NoError(t, err)
		require.NotNil(t, stats, p)
		assert.Equal(t, int64(1), stats.VisibilityCampaignsCompleted, p)
		assert.True(t, stats.UpdatedAt.After(before), "%s updated_at %s", p, stats.UpdatedAt)
	}

	stats, err := st.GetPromoterStats(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalViewsGenerated)
}

func TestSQLite_CompleteCampaign_Concurrent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedCampaign(t, st, model.Campaign{ID: "c1", TrackingURL: "https://x"}, "p1")

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ended int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := st.CompleteCampaign(ctx, "c1")
			if err != nil {
				t.Errorf("complete: %v", err)
				return
			}
			if res.Ended {
				mu.Lock()
				ended++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ended)
	stats, err := st.GetPromoterStats(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.VisibilityCampaignsCompleted)
}

// --- Earnings ---

func TestSQLite_ListReconciliationInputs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedCampaign(t, st, model.Campaign{ID: "active", CostPerHundredViews: int64Ptr(500)})
	seedCampaign(t, st, model.Campaign{ID: "ended", CostPerHundredViews: int64Ptr(500), Status: model.CampaignStatusEnded})
	seedCampaign(t, st, model.Campaign{ID: "unpriced"})
	seedCampaign(t, st, model.Campaign{ID: "seller", Type: model.CampaignTypeSeller, CostPerHundredViews: int64Ptr(500)})

	for _, id := range []string{"active", "ended", "unpriced", "seller"} {
		for i := 0; i < 3; i++ {
			require.NoError(t, st.InsertUniqueView(ctx, &model.UniqueView{CampaignID: id, PromoterID: "p1", Fingerprint: fmt.Sprintf("fp-%d", i)}))
		}
	}
	require.NoError(t, st.InsertUniqueView(ctx, &model.UniqueView{CampaignID: "active", PromoterID: "p2", Fingerprint: "fp-0"}))

	inputs, err := st.ListReconciliationInputs(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []model.ReconciliationInput{
		{PromoterID: "p1", CampaignID: "active", ViewCount: 3, CostPerHundredViews: 500},
		{PromoterID: "p2", CampaignID: "active", ViewCount: 1, CostPerHundredViews: 500},
	}, inputs)

	inputs, err = st.ListReconciliationInputs(ctx, true)
	require.NoError(t, err)
	assert.Len(t, inputs, 3)
}

func TestSQLite_UpsertEarningsRecord_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	first := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	in := model.ReconciliationInput{PromoterID: "p1", CampaignID: "c1", ViewCount: 625, CostPerHundredViews: 100}

	rec := model.NewEarningsRecord("rec-1", in, first)
	changed, err := st.UpsertEarningsRecord(ctx, rec)
	require.NoError(t, err)
	assert.True(t, changed)

	// Same inputs later: nothing changes, including calculated_at.
	changed, err = st.UpsertEarningsRecord(ctx, model.NewEarningsRecord("rec-2", in, first.Add(time.Hour)))
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := st.GetEarningsRecord(ctx, "rec-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first, got.CalculatedAt)
	assert.Equal(t, int64(500), got.NetEarningsCents)
	assert.True(t, got.QualifiesForPayout)

	// More views overwrite the computed fields and keep the original id.
	in.ViewCount = 1000
	changed, err = st.UpsertEarningsRecord(ctx, model.NewEarningsRecord("rec-3", in, first.Add(2*time.Hour)))
	require.NoError(t, err)
	assert.True(t, changed)

	got, err = st.GetEarningsRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.ViewsGenerated)
	assert.Equal(t, int64(800), got.NetEarningsCents)
}

func TestSQLite_PayoutLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	eligible := model.NewEarningsRecord("rec-ok", model.ReconciliationInput{PromoterID: "p1", CampaignID: "c1", ViewCount: 625, CostPerHundredViews: 100}, now)
	below := model.NewEarningsRecord("rec-low", model.ReconciliationInput{PromoterID: "p2", CampaignID: "c1", ViewCount: 624, CostPerHundredViews: 100}, now)
	for _, r := range []*model.EarningsRecord{eligible, below} {
		_, err := st.UpsertEarningsRecord(ctx, r)
		require.NoError(t, err)
	}

	list, err := st.ListEligiblePayouts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "rec-ok", list[0].ID)

	paidAt := now.Add(24 * time.Hour)
	rec, err := st.MarkPayoutExecuted(ctx, "rec-ok", model.Payout{AmountCents: 500, Reference: "bank-123", ExecutedAt: paidAt})
	require.NoError(t, err)
	assert.True(t, rec.PayoutExecuted)
	require.NotNil(t, rec.PayoutAmountCents)
	assert.Equal(t, int64(500), *rec.PayoutAmountCents)
	assert.Equal(t, "bank-123", *rec.PayoutReference)
	assert.Equal(t, paidAt, *rec.PayoutDate)

	_, err = st.MarkPayoutExecuted(ctx, "rec-ok", model.Payout{AmountCents: 999, Reference: "again", ExecutedAt: paidAt})
	assert.ErrorIs(t, err, ErrPayoutAlreadyExecuted)

	_, err = st.MarkPayoutExecuted(ctx, "missing", model.Payout{AmountCents: 1, Reference: "x", ExecutedAt: paidAt})
	assert.ErrorIs(t, err, ErrNotFound)

	list, err = st.ListEligiblePayouts(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	// Reconciliation after payout leaves payout fields untouched.
	_, err = st.UpsertEarningsRecord(ctx, model.NewEarningsRecord("", model.ReconciliationInput{PromoterID: "p1", CampaignID: "c1", ViewCount: 700, CostPerHundredViews: 100}, now.Add(48*time.Hour)))
	require.NoError(t, err)
	got, err := st.GetEarningsRecord(ctx, "rec-ok")
	require.NoError(t, err)
	assert.Equal(t, int64(700), got.ViewsGenerated)
	assert.True(t, got.PayoutExecuted)
	assert.Equal(t, "bank-123", *got.PayoutReference)
	assert.Equal(t, int64(500), *got.PayoutAmountCents)
}

// --- Accounting failures ---

func TestSQLite_AccountingFailures(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	f1 := resilience.NewAccountingFailure(resilience.StageAccounting, "c1", "p1", "fp1", fmt.Errorf("disk full"))
	f2 := resilience.NewAccountingFailure(resilience.StageCompletion, "c2", "p1", "fp2", fmt.Errorf("i/o timeout"))
	require.NoError(t, st.RecordAccountingFailure(ctx, f1))
	require.NoError(t, st.RecordAccountingFailure(ctx, f2))

	n, err := st.CountAccountingFailures(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := st.ListAccountingFailures(ctx, resilience.FailureFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	transient, err := st.ListAccountingFailures(ctx, resilience.FailureFilter{ErrorType: "transient"})
	require.NoError(t, err)
	require.Len(t, transient, 1)
	assert.Equal(t, f2.ID, transient[0].ID)
	assert.Equal(t, resilience.StageCompletion, transient[0].Stage)

	byCampaign, err := st.ListAccountingFailures(ctx, resilience.FailureFilter{CampaignID: "c1", Stage: resilience.StageAccounting})
	require.NoError(t, err)
	require.Len(t, byCampaign, 1)
	assert.Equal(t, "fp1", byCampaign[0].Fingerprint)

	require.NoError(t, st.ResolveAccountingFailure(ctx, f1.ID))
	assert.ErrorIs(t, st.ResolveAccountingFailure(ctx, f1.ID), ErrNotFound)

	n, err = st.CountAccountingFailures(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_Ping(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Ping(context.Background()))
}
