package earnings

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-views/internal/events"
	"github.com/sells-group/campaign-views/internal/model"
	"github.com/sells-group/campaign-views/internal/store"
)

var (
	// ErrInvalidPayout is returned for a non-positive amount or an empty
	// reference.
	ErrInvalidPayout = eris.New("payout amount and reference are required")

	// ErrNotEligible is returned when the record does not qualify for payout.
	ErrNotEligible = eris.New("earnings record does not qualify for payout")
)

// PayoutStore is the subset of store.Store used by Payouts.
type PayoutStore interface {
	GetEarningsRecord(ctx context.Context, id string) (*model.EarningsRecord, error)
	ListEligiblePayouts(ctx context.Context) ([]model.EarningsRecord, error)
	MarkPayoutExecuted(ctx context.Context, id string, p model.Payout) (*model.EarningsRecord, error)
}

// Payouts serves the payout process: it lists eligible records and is the
// only writer of their payout fields.
type Payouts struct {
	store PayoutStore
	pub   events.Publisher
	now   func() time.Time
	log   *zap.Logger
}

// NewPayouts creates a Payouts service. pub may be nil.
func NewPayouts(s PayoutStore, pub events.Publisher) *Payouts {
	return &Payouts{
		store: s,
		pub:   pub,
		now:   time.Now,
		log:   zap.L().With(zap.String("component", "earnings.payouts")),
	}
}

// Eligible returns records that qualify for payout and have not been paid.
func (p *Payouts) Eligible(ctx context.Context) ([]model.EarningsRecord, error) {
	recs, err := p.store.ListEligiblePayouts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "earnings: list eligible payouts")
	}
	return recs, nil
}

// MarkExecuted records a successful payout for recordID. It fails with
// store.ErrNotFound, ErrNotEligible or store.ErrPayoutAlreadyExecuted
// without writing anything.
func (p *Payouts) MarkExecuted(ctx context.Context, recordID string, amountCents int64, reference string) (*model.EarningsRecord, error) {
	reference = strings.TrimSpace(reference)
	if amountCents <= 0 || reference == "" {
		return nil, ErrInvalidPayout
	}

	rec, err := p.store.GetEarningsRecord(ctx, recordID)
	if err != nil {
		return nil, eris.Wrapf(err, "earnings: load record %s", recordID)
	}
	switch {
	case rec == nil:
		return nil, store.ErrNotFound
	case rec.PayoutExecuted:
		return nil, store.ErrPayoutAlreadyExecuted
	case !rec.QualifiesForPayout:
		return nil, ErrNotEligible
	}

	payout := model.Payout{
		AmountCents: amountCents,
		Reference:   reference,
		ExecutedAt:  p.now().UTC(),
	}
	rec, err = p.store.MarkPayoutExecuted(ctx, recordID, payout)
	if err != nil {
		return nil, eris.Wrapf(err, "earnings: mark payout %s", recordID)
	}

	p.log.Info("payout executed",
		zap.String("record_id", rec.ID),
		zap.String("campaign_id", rec.CampaignID),
		zap.String("promoter_id", rec.PromoterID),
		zap.Int64("amount_cents", amountCents),
		zap.String("reference", reference),
	)
	events.Emit(ctx, p.pub, events.TypePayoutExecuted, rec.PromoterID, events.PayoutExecuted{
		RecordID:    rec.ID,
		PromoterID:  rec.PromoterID,
		CampaignID:  rec.CampaignID,
		AmountCents: amountCents,
		Reference:   reference,
		ExecutedAt:  payout.ExecutedAt,
	})
	return rec, nil
}
