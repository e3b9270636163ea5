// Package completion ends campaigns whose view cap has been reached and
// completes the assignments of promoters still working on them.
package completion

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-views/internal/events"
	"github.com/sells-group/campaign-views/internal/model"
	"github.com/sells-group/campaign-views/internal/store"
)

var (
	// ErrNotFound is returned by ManuallyComplete for an unknown campaign.
	ErrNotFound = eris.New("campaign not found")
	// ErrAlreadyEnded is returned by ManuallyComplete for an ENDED campaign.
	ErrAlreadyEnded = eris.New("campaign already ended")
)

// Store is the subset of store.Store the controller needs.
type Store interface {
	GetCampaign(ctx context.Context, campaignID string) (*model.Campaign, error)
	CompleteCampaign(ctx context.Context, campaignID string) (*store.CompletionResult, error)
}

// Controller applies the ACTIVE to ENDED transition.
type Controller struct {
	store Store
	pub   events.Publisher
	log   *zap.Logger
}

// NewController creates a Controller. pub may be nil.
func NewController(s Store, pub events.Publisher) *Controller {
	return &Controller{
		store: s,
		pub:   pub,
		log:   zap.L().With(zap.String("component", "completion.controller")),
	}
}

// CheckAndCompleteIfNeeded ends the campaign when its view cap has been
// reached. It returns true only for the call that performed the transition;
// campaigns without a cap, below it, or already ENDED return false.
func (c *Controller) CheckAndCompleteIfNeeded(ctx context.Context, campaignID string) (bool, error) {
	camp, err := c.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return false, eris.Wrapf(err, "completion: load campaign %s", campaignID)
	}
	if camp == nil || camp.ViewCap == nil || camp.Status == model.CampaignStatusEnded || !camp.CapReached() {
		return false, nil
	}

	res, err := c.store.CompleteCampaign(ctx, campaignID)
	if err != nil {
		return false, eris.Wrapf(err, "completion: complete campaign %s", campaignID)
	}
	if !res.Ended {
		// Another request won the race.
		return false, nil
	}

	c.log.Info("campaign reached view cap",
		zap.String("campaign_id", campaignID),
		zap.Int64("view_cap", *camp.ViewCap),
		zap.Int("promoters_completed", len(res.PromoterIDs)),
	)
	c.emit(ctx, campaignID, res, false)
	return true, nil
}

// ManuallyComplete ends a campaign regardless of its view count.
func (c *Controller) ManuallyComplete(ctx context.Context, campaignID string) (*store.CompletionResult, error) {
	camp, err := c.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, eris.Wrapf(err, "completion: load campaign %s", campaignID)
	}
	if camp == nil {
		return nil, ErrNotFound
	}
	if camp.Status == model.CampaignStatusEnded {
		return nil, ErrAlreadyEnded
	}

	res, err := c.store.CompleteCampaign(ctx, campaignID)
	if err != nil {
		return nil, eris.Wrapf(err, "completion: complete campaign %s", campaignID)
	}
	if !res.Ended {
		return nil, ErrAlreadyEnded
	}

	c.log.Info("campaign completed manually",
		zap.String("campaign_id", campaignID),
		zap.Int("promoters_completed", len(res.PromoterIDs)),
	)
	c.emit(ctx, campaignID, res, true)
	return res, nil
}

func (c *Controller) emit(ctx context.Context, campaignID string, res *store.CompletionResult, manual bool) {
	events.Emit(ctx, c.pub, events.TypeCampaignCompleted, campaignID, events.CampaignCompleted{
		CampaignID:   campaignID,
		CampaignType: string(res.CampaignType),
		PromoterIDs:  res.PromoterIDs,
		Manual:       manual,
	})
}
