package tracking

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/campaign-views/internal/model"
	"github.com/sells-group/campaign-views/internal/store"
)

const dayLayout = "2006-01-02"

// GetUniqueViewStats returns the total unique views of a campaign, optionally
// narrowed to one promoter, and per-day counts for the last
// model.StatsWindowDays UTC days ending today. Days without views are
// reported as zero.
func (e *Engine) GetUniqueViewStats(ctx context.Context, campaignID, promoterID string) (*model.UniqueViewStats, error) {
	camp, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, eris.Wrapf(err, "tracking: load campaign %s", campaignID)
	}
	if camp == nil {
		return nil, ErrNotFound
	}

	filter := store.ViewFilter{CampaignID: campaignID, PromoterID: promoterID}
	total, err := e.store.CountUniqueViews(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "tracking: count unique views")
	}

	today := e.now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(model.StatsWindowDays - 1))
	filter.Since = start
	sparse, err := e.store.DailyUniqueViews(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "tracking: daily unique views")
	}

	return &model.UniqueViewStats{
		CampaignID:       campaignID,
		PromoterID:       promoterID,
		TotalUniqueViews: total,
		DailyStats:       denseDays(start, model.StatsWindowDays, sparse),
	}, nil
}

func denseDays(start time.Time, days int, sparse []model.DailyViewCount) []model.DailyViewCount {
	byDate := make(map[string]int64, len(sparse))
	for _, d := range sparse {
		byDate[d.Date] = d.Views
	}
	out := make([]model.DailyViewCount, days)
	for i := range out {
		date := start.AddDate(0, 0, i).Format(dayLayout)
		out[i] = model.DailyViewCount{Date: date, Views: byDate[date]}
	}
	return out
}
