package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CampaignType identifies which of the four mutually exclusive campaign
// categories a campaign belongs to.
type CampaignType string

const (
	CampaignTypeVisibility CampaignType = "VISIBILITY"
	CampaignTypeConsultant CampaignType = "CONSULTANT"
	CampaignTypeSeller     CampaignType = "SELLER"
	CampaignTypeSalesman   CampaignType = "SALESMAN"
)

// Valid reports whether t is one of the known campaign types.
func (t CampaignType) Valid() bool {
	switch t {
	case CampaignTypeVisibility, CampaignTypeConsultant, CampaignTypeSeller, CampaignTypeSalesman:
		return true
	}
	return false
}

// CampaignStatus represents where a campaign is in its lifecycle.
type CampaignStatus string

const (
	CampaignStatusDraft  CampaignStatus = "DRAFT"
	CampaignStatusActive CampaignStatus = "ACTIVE"
	CampaignStatusPaused CampaignStatus = "PAUSED"
	CampaignStatusEnded  CampaignStatus = "ENDED"
)

// Campaign is the view-relevant slice of an advertiser campaign.
type Campaign struct {
	ID     string         `json:"id"`
	Title  string         `json:"title,omitempty"`
	Type   CampaignType   `json:"type"`
	Status CampaignStatus `json:"status"`

	// CostPerHundredViews is in cents. Nil means the campaign has no
	// per-view pricing and confirmed views move no money.
	CostPerHundredViews *int64 `json:"cost_per_hundred_views,omitempty"`
	ViewCap             *int64 `json:"view_cap,omitempty"`
	CurrentViews        int64  `json:"current_views"`
	TrackingURL         string `json:"tracking_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether the campaign accepts views.
func (c *Campaign) IsActive() bool {
	return c != nil && c.Status == CampaignStatusActive
}

// Redirectable reports whether visitors can be sent to the tracking URL.
func (c *Campaign) Redirectable() bool {
	return c.IsActive() && c.TrackingURL != ""
}

// CapReached reports whether a configured view cap has been met.
func (c *Campaign) CapReached() bool {
	return c != nil && c.ViewCap != nil && c.CurrentViews >= *c.ViewCap
}

// AssignmentStatus is the state of a promoter's participation in a campaign.
type AssignmentStatus string

const (
	AssignmentOngoing        AssignmentStatus = "ONGOING"
	AssignmentAwaitingReview AssignmentStatus = "AWAITING_REVIEW"
	AssignmentCompleted      AssignmentStatus = "COMPLETED"
	AssignmentRefused        AssignmentStatus = "REFUSED"
)

// Assignment links a promoter to a campaign and carries the promoter's
// running counters for it. Money fields are in cents and may hold
// fractional cents.
type Assignment struct {
	PromoterID     string           `json:"promoter_id"`
	CampaignID     string           `json:"campaign_id"`
	Status         AssignmentStatus `json:"status"`
	ViewsGenerated int64            `json:"views_generated"`
	Earnings       decimal.Decimal  `json:"earnings"`
	BudgetHeld     decimal.Decimal  `json:"budget_held"`
	SpentBudget    decimal.Decimal  `json:"spent_budget"`
	JoinedAt       time.Time        `json:"joined_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// BudgetTracking holds append-only money counters for a campaign.
type BudgetTracking struct {
	CampaignID                 string          `json:"campaign_id"`
	SpentBudgetCents           decimal.Decimal `json:"spent_budget_cents"`
	PlatformFeesCollectedCents decimal.Decimal `json:"platform_fees_collected_cents"`
	UpdatedAt                  time.Time       `json:"updated_at"`
}

// PromoterStats holds a promoter's lifetime achievement counters.
type PromoterStats struct {
	PromoterID                   string    `json:"promoter_id"`
	TotalViewsGenerated          int64     `json:"total_views_generated"`
	TotalCampaignsCompleted      int64     `json:"total_campaigns_completed"`
	VisibilityCampaignsCompleted int64     `json:"visibility_campaigns_completed"`
	ConsultantCampaignsCompleted int64     `json:"consultant_campaigns_completed"`
	SellerCampaignsCompleted     int64     `json:"seller_campaigns_completed"`
	SalesmanCampaignsCompleted   int64     `json:"salesman_campaigns_completed"`
	UpdatedAt                    time.Time `json:"updated_at"`
}

// CompletedFor returns the per-type completion counter for t.
func (s *PromoterStats) CompletedFor(t CampaignType) int64 {
	switch t {
	case CampaignTypeVisibility:
		return s.VisibilityCampaignsCompleted
	case CampaignTypeConsultant:
		return s.ConsultantCampaignsCompleted
	case CampaignTypeSeller:
		return s.SellerCampaignsCompleted
	case CampaignTypeSalesman:
		return s.SalesmanCampaignsCompleted
	}
	return 0
}
