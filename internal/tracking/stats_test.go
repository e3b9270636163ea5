package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/campaign-views/internal/model"
	"github.com/sells-group/campaign-views/internal/store"
)

func TestGetUniqueViewStats_DenseWindow(t *testing.T) {
	st := &mockStore{}
	now := time.Date(2026, 3, 15, 18, 30, 0, 0, time.UTC)
	start := time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)

	st.On("GetCampaign", mock.Anything, "c1").Return(activeCampaign(), nil)
	st.On("CountUniqueViews", mock.Anything, store.ViewFilter{CampaignID: "c1", PromoterID: "p1"}).Return(int64(42), nil)
	st.On("DailyUniqueViews", mock.Anything, store.ViewFilter{CampaignID: "c1", PromoterID: "p1", Since: start}).
		Return([]model.DailyViewCount{
			{Date: "2026-02-14", Views: 3},
			{Date: "2026-03-15", Views: 7},
		}, nil)

	e := NewEngine(st, nil)
	e.now = func() time.Time { return now }

	stats, err := e.GetUniqueViewStats(context.Background(), "c1", "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), stats.TotalUniqueViews)
	assert.Equal(t, "p1", stats.PromoterID)
	require.Len(t, stats.DailyStats, model.StatsWindowDays)
	assert.Equal(t, model.DailyViewCount{Date: "2026-02-14", Views: 3}, stats.DailyStats[0])
	assert.Equal(t, model.DailyViewCount{Date: "2026-02-15", Views: 0}, stats.DailyStats[1])
	assert.Equal(t, model.DailyViewCount{Date: "2026-03-15", Views: 7}, stats.DailyStats[29])
	st.AssertExpectations(t)
}

func TestGetUniqueViewStats_UnknownCampaign(t *testing.T) {
	st := &mockStore{}
	st.On("GetCampaign", mock.Anything, "nope").Return(nil, nil)

	_, err := NewEngine(st, nil).GetUniqueViewStats(context.Background(), "nope", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetUniqueViewStats_EndedCampaignStillReported(t *testing.T) {
	st := newSQLiteStore(t)
	seed(t, st, i64(1000), nil, "p1", "p2")
	ctx := context.Background()
	e := NewEngine(st, nil)

	_, err := e.TrackAndAccount(ctx, "c1", "p1", "203.0.113.7", chromeWindows)
	require.NoError(t, err)
	_, err = e.TrackAndAccount(ctx, "c1", "p2", "203.0.113.7", chromeWindows)
	require.NoError(t, err)
	res, err := st.CompleteCampaign(ctx, "c1")
	require.NoError(t, err)
	require.True(t, res.Ended)

	all, err := e.GetUniqueViewStats(ctx, "c1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), all.TotalUniqueViews)
	today := time.Now().UTC().Format("2006-01-02")
	last := all.DailyStats[len(all.DailyStats)-1]
	assert.Equal(t, today, last.Date)
	assert.Equal(t, int64(2), last.Views)

	one, err := e.GetUniqueViewStats(ctx, "c1", "p2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), one.TotalUniqueViews)
}
