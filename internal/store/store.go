package store

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/campaign-views/internal/model"
	"github.com/sells-group/campaign-views/internal/resilience"
)

var (
	// ErrDuplicateView is returned by InsertUniqueView when the
	// (campaign, promoter, fingerprint) triple already exists.
	ErrDuplicateView = eris.New("unique view already recorded")

	// ErrNotFound is returned by mutators addressing a missing row.
	ErrNotFound = eris.New("not found")

	// ErrPayoutAlreadyExecuted is returned when a payout is marked twice.
	ErrPayoutAlreadyExecuted = eris.New("payout already executed")

	// ErrInactive is returned by ApplyViewAccounting when the campaign left
	// ACTIVE or the assignment left ONGOING before the increment landed.
	// Nothing is written in that case.
	ErrInactive = eris.New("campaign or assignment no longer accepts views")
)

// ViewFilter narrows unique view counts.
type ViewFilter struct {
	CampaignID string
	PromoterID string    // optional
	Since      time.Time // optional, inclusive
}

// CompletionResult describes the effect of CompleteCampaign.
type CompletionResult struct {
	// Ended is false when the campaign was already ENDED, in which case
	// nothing was written.
	Ended        bool
	CampaignType model.CampaignType
	// PromoterIDs lists the assignments moved from ONGOING to COMPLETED.
	PromoterIDs []string
}

// Store defines the persistence interface for view attribution and payouts.
type Store interface {
	// Campaigns and assignments
	GetCampaign(ctx context.Context, campaignID string) (*model.Campaign, error)
	SaveCampaign(ctx context.Context, c *model.Campaign) error
	GetAssignment(ctx context.Context, promoterID, campaignID string) (*model.Assignment, error)
	SaveAssignment(ctx context.Context, a *model.Assignment) error
	GetBudgetTracking(ctx context.Context, campaignID string) (*model.BudgetTracking, error)
	GetPromoterStats(ctx context.Context, promoterID string) (*model.PromoterStats, error)

	// View ledger
	InsertUniqueView(ctx context.Context, v *model.UniqueView) error
	CountUniqueViews(ctx context.Context, f ViewFilter) (int64, error)
	DailyUniqueViews(ctx context.Context, f ViewFilter) ([]model.DailyViewCount, error)

	// Accounting and completion
	ApplyViewAccounting(ctx context.Context, inc model.ViewIncrement) error
	CompleteCampaign(ctx context.Context, campaignID string) (*CompletionResult, error)

	// Earnings
	ListReconciliationInputs(ctx context.Context, includeEnded bool) ([]model.ReconciliationInput, error)
	// UpsertEarningsRecord reports whether the stored row changed.
	UpsertEarningsRecord(ctx context.Context, rec *model.EarningsRecord) (bool, error)
	GetEarningsRecord(ctx context.Context, id string) (*model.EarningsRecord, error)
	ListEligiblePayouts(ctx context.Context) ([]model.EarningsRecord, error)
	MarkPayoutExecuted(ctx context.Context, id string, p model.Payout) (*model.EarningsRecord, error)

	// Accounting failures
	RecordAccountingFailure(ctx context.Context, f resilience.AccountingFailure) error
	ListAccountingFailures(ctx context.Context, filter resilience.FailureFilter) ([]resilience.AccountingFailure, error)
	ResolveAccountingFailure(ctx context.Context, id string) error
	CountAccountingFailures(ctx context.Context) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// completionColumns maps a campaign type to its promoter_stats counter.
var completionColumns = map[model.CampaignType]string{
	model.CampaignTypeVisibility: "visibility_campaigns_completed",
	model.CampaignTypeConsultant: "consultant_campaigns_completed",
	model.CampaignTypeSeller:     "seller_campaigns_completed",
	model.CampaignTypeSalesman:   "salesman_campaigns_completed",
}

func completionColumn(t model.CampaignType) (string, error) {
	col, ok := completionColumns[t]
	if !ok {
		return "", eris.Errorf("unknown campaign type %q", t)
	}
	return col, nil
}

// viewConditions builds the WHERE clause for f. ph renders the n-th
// placeholder and ts converts the Since bound to a driver value.
func viewConditions(f ViewFilter, ph func(n int) string, ts func(time.Time) any) (string, []any) {
	var conds []string
	var args []any
	if f.CampaignID != "" {
		args = append(args, f.CampaignID)
		conds = append(conds, "campaign_id = "+ph(len(args)))
	}
	if f.PromoterID != "" {
		args = append(args, f.PromoterID)
		conds = append(conds, "promoter_id = "+ph(len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, ts(f.Since))
		conds = append(conds, "created_at >= "+ph(len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func failureLimit(n int) int {
	if n <= 0 || n > 1000 {
		return 100
	}
	return n
}
