package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatsWindowDays is the number of days covered by UniqueViewStats.DailyStats.
const StatsWindowDays = 30

// UniqueView is one confirmed unique visit. The triple
// (CampaignID, PromoterID, Fingerprint) is unique in storage.
type UniqueView struct {
	ID            string    `json:"id"`
	CampaignID    string    `json:"campaign_id"`
	PromoterID    string    `json:"promoter_id"`
	Fingerprint   string    `json:"fingerprint"`
	SourceAddress string    `json:"source_address"`
	UserAgent     string    `json:"user_agent"`
	CreatedAt     time.Time `json:"created_at"`
}

// DailyViewCount is the number of unique views recorded on one UTC day.
type DailyViewCount struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Views int64  `json:"views"`
}

// UniqueViewStats is the read-only aggregate served to dashboards.
type UniqueViewStats struct {
	CampaignID       string           `json:"campaign_id"`
	PromoterID       string           `json:"promoter_id,omitempty"`
	TotalUniqueViews int64            `json:"total_unique_views"`
	DailyStats       []DailyViewCount `json:"daily_stats"`
}

// ViewIncrement describes every counter change caused by one confirmed
// unique view. Amounts are in cents.
type ViewIncrement struct {
	CampaignID  string
	PromoterID  string
	Billable    bool
	Earning     decimal.Decimal
	PlatformFee decimal.Decimal
}

// NewViewIncrement builds the increment for a confirmed view on c. Campaigns
// without a cost per hundred views only advance view counters.
func NewViewIncrement(c *Campaign, promoterID string) ViewIncrement {
	inc := ViewIncrement{CampaignID: c.ID, PromoterID: promoterID}
	if c.CostPerHundredViews == nil {
		return inc
	}
	inc.Billable = true
	inc.Earning = PerViewEarning(*c.CostPerHundredViews)
	inc.PlatformFee = PlatformFee(inc.Earning)
	return inc
}
