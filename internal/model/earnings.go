package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// PlatformFeePercent is the share of every earning kept by the platform.
	PlatformFeePercent = 20

	// MinPayoutCents is the minimum net earning that qualifies for payout.
	MinPayoutCents int64 = 500
)

var (
	platformFeeRate = decimal.New(PlatformFeePercent, -2)
	hundred         = decimal.NewFromInt(100)
)

// PerViewEarning converts a cost per hundred views into the amount credited
// for a single view. Both are in cents.
func PerViewEarning(costPerHundredViews int64) decimal.Decimal {
	return decimal.NewFromInt(costPerHundredViews).Div(hundred)
}

// PlatformFee returns the platform's share of amount, unrounded.
func PlatformFee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(platformFeeRate)
}

// Breakdown is the result of an earnings computation, in whole cents.
type Breakdown struct {
	GrossCents int64 `json:"gross_cents"`
	FeeCents   int64 `json:"fee_cents"`
	NetCents   int64 `json:"net_cents"`
	Qualifies  bool  `json:"qualifies"`
}

// ComputeEarnings derives gross, fee and net earnings for views at the given
// cost per hundred views. Gross and fee are rounded half away from zero.
func ComputeEarnings(views, costPerHundredViews int64) Breakdown {
	gross := decimal.NewFromInt(views).
		Mul(decimal.NewFromInt(costPerHundredViews)).
		Div(hundred).
		Round(0).
		IntPart()
	fee := PlatformFee(decimal.NewFromInt(gross)).Round(0).IntPart()
	net := gross - fee
	return Breakdown{
		GrossCents: gross,
		FeeCents:   fee,
		NetCents:   net,
		Qualifies:  net >= MinPayoutCents,
	}
}

// ReconciliationInput is one (promoter, campaign) pair read from the view
// ledger for earnings reconciliation.
type ReconciliationInput struct {
	PromoterID          string `json:"promoter_id"`
	CampaignID          string `json:"campaign_id"`
	ViewCount           int64  `json:"view_count"`
	CostPerHundredViews int64  `json:"cost_per_hundred_views"`
}

// EarningsRecord is the authoritative earnings and payout state for a
// (promoter, campaign) pair. All amounts are in cents.
type EarningsRecord struct {
	ID                       string `json:"id"`
	PromoterID               string `json:"promoter_id"`
	CampaignID               string `json:"campaign_id"`
	ViewsGenerated           int64  `json:"views_generated"`
	CostPerHundredViewsCents int64  `json:"cost_per_hundred_views_cents"`
	GrossEarningsCents       int64  `json:"gross_earnings_cents"`
	PlatformFeeCents         int64  `json:"platform_fee_cents"`
	NetEarningsCents         int64  `json:"net_earnings_cents"`
	QualifiesForPayout       bool   `json:"qualifies_for_payout"`

	PayoutExecuted    bool       `json:"payout_executed"`
	PayoutAmountCents *int64     `json:"payout_amount_cents,omitempty"`
	PayoutDate        *time.Time `json:"payout_date,omitempty"`
	PayoutReference   *string    `json:"payout_reference,omitempty"`

	CalculatedAt time.Time `json:"calculated_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewEarningsRecord builds the non-payout fields of a record from a
// reconciliation input.
func NewEarningsRecord(id string, in ReconciliationInput, now time.Time) *EarningsRecord {
	b := ComputeEarnings(in.ViewCount, in.CostPerHundredViews)
	return &EarningsRecord{
		ID:                       id,
		PromoterID:               in.PromoterID,
		CampaignID:               in.CampaignID,
		ViewsGenerated:           in.ViewCount,
		CostPerHundredViewsCents: in.CostPerHundredViews,
		GrossEarningsCents:       b.GrossCents,
		PlatformFeeCents:         b.FeeCents,
		NetEarningsCents:         b.NetCents,
		QualifiesForPayout:       b.Qualifies,
		CalculatedAt:             now,
		UpdatedAt:                now,
	}
}

// Payout describes an executed payout reported by the payout process.
type Payout struct {
	AmountCents int64     `json:"amount_cents"`
	Reference   string    `json:"reference"`
	ExecutedAt  time.Time `json:"executed_at"`
}
