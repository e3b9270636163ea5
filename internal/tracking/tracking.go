// Package tracking records unique campaign views and applies their
// accounting.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-views/internal/fingerprint"
	"github.com/sells-group/campaign-views/internal/model"
	"github.com/sells-group/campaign-views/internal/resilience"
	"github.com/sells-group/campaign-views/internal/store"
)

// ErrNotFound is returned when a campaign is missing, not ACTIVE or has no
// tracking URL.
var ErrNotFound = eris.New("campaign not found")

// AccountingError reports a failure after a unique view was recorded. The
// view itself is kept.
type AccountingError struct {
	Stage      string
	CampaignID string
	PromoterID string
	Err        error
}

func (e *AccountingError) Error() string {
	return fmt.Sprintf("tracking: %s failed for campaign %s promoter %s: %v", e.Stage, e.CampaignID, e.PromoterID, e.Err)
}

func (e *AccountingError) Unwrap() error { return e.Err }

// Store is the subset of store.Store the engine needs.
type Store interface {
	GetCampaign(ctx context.Context, campaignID string) (*model.Campaign, error)
	GetAssignment(ctx context.Context, promoterID, campaignID string) (*model.Assignment, error)
	InsertUniqueView(ctx context.Context, v *model.UniqueView) error
	ApplyViewAccounting(ctx context.Context, inc model.ViewIncrement) error
	RecordAccountingFailure(ctx context.Context, f resilience.AccountingFailure) error
	CountUniqueViews(ctx context.Context, f store.ViewFilter) (int64, error)
	DailyUniqueViews(ctx context.Context, f store.ViewFilter) ([]model.DailyViewCount, error)
}

// Completer ends campaigns that reached their view cap.
type Completer interface {
	CheckAndCompleteIfNeeded(ctx context.Context, campaignID string) (bool, error)
}

// Engine attributes visits to (campaign, promoter) pairs.
type Engine struct {
	store     Store
	completer Completer
	retry     resilience.RetryConfig
	now       func() time.Time
	log       *zap.Logger
}

// NewEngine creates an Engine.
func NewEngine(s Store, completer Completer) *Engine {
	log := zap.L().With(zap.String("component", "tracking.engine"))
	retry := resilience.DefaultRetryConfig()
	retry.ShouldRetry = func(err error) bool {
		return !errors.Is(err, store.ErrInactive) && resilience.IsTransient(err)
	}
	retry.OnRetry = resilience.LogRetries(log, "apply_view_accounting")
	return &Engine{
		store:     s,
		completer: completer,
		retry:     retry,
		now:       time.Now,
		log:       log,
	}
}

// TrackAndAccount records a visit and returns the campaign's tracking URL.
// Repeat visits from the same device are redirected without being counted
// again.
func (e *Engine) TrackAndAccount(ctx context.Context, campaignID, promoterID, sourceAddress, userAgent string) (string, error) {
	camp, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return "", eris.Wrapf(err, "tracking: load campaign %s", campaignID)
	}
	if !camp.Redirectable() {
		return "", ErrNotFound
	}
	url := camp.TrackingURL
	fp := fingerprint.Generate(sourceAddress, userAgent)
	log := e.log.With(
		zap.String("campaign_id", campaignID),
		zap.String("promoter_id", promoterID),
		zap.String("fingerprint", fp),
	)

	assignment, err := e.store.GetAssignment(ctx, promoterID, campaignID)
	if err != nil {
		return "", eris.Wrapf(err, "tracking: load assignment %s/%s", campaignID, promoterID)
	}
	if assignment == nil || assignment.Status != model.AssignmentOngoing {
		log.Debug("visit not attributable, promoter has no ongoing assignment")
		return url, nil
	}

	err = e.store.InsertUniqueView(ctx, &model.UniqueView{
		CampaignID:    campaignID,
		PromoterID:    promoterID,
		Fingerprint:   fp,
		SourceAddress: sourceAddress,
		UserAgent:     userAgent,
		CreatedAt:     e.now().UTC(),
	})
	if errors.Is(err, store.ErrDuplicateView) {
		log.Debug("repeat visit")
		return url, nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "tracking: record view %s/%s", campaignID, promoterID)
	}

	inc := model.NewViewIncrement(camp, promoterID)
	if !inc.Billable {
		log.Warn("campaign has no cost per hundred views, counting view without earnings")
	}
	err = resilience.Do(ctx, e.retry, func(ctx context.Context) error {
		return e.store.ApplyViewAccounting(ctx, inc)
	})
	if errors.Is(err, store.ErrInactive) {
		log.Info("view recorded after campaign or assignment closed, not counted")
		return url, nil
	}
	if err != nil {
		return "", e.fail(ctx, log, resilience.StageAccounting, campaignID, promoterID, fp, err)
	}

	if e.completer != nil {
		if _, err := e.completer.CheckAndCompleteIfNeeded(ctx, campaignID); err != nil {
			return "", e.fail(ctx, log, resilience.StageCompletion, campaignID, promoterID, fp, err)
		}
	}

	log.Debug("unique view counted", zap.Bool("billable", inc.Billable))
	return url, nil
}

// fail records a dead-letter entry and returns the AccountingError.
func (e *Engine) fail(ctx context.Context, log *zap.Logger, stage, campaignID, promoterID, fp string, cause error) error {
	log.Error("view accounting failed", zap.String("stage", stage), zap.Error(cause))

	entry := resilience.NewAccountingFailure(stage, campaignID, promoterID, fp, cause)
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.store.RecordAccountingFailure(rctx, entry); err != nil {
		log.Error("record accounting failure", zap.String("failure_id", entry.ID), zap.Error(err))
	}

	return &AccountingError{Stage: stage, CampaignID: campaignID, PromoterID: promoterID, Err: cause}
}
