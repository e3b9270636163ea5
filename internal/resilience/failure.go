package resilience

import (
	"time"

	"github.com/google/uuid"
)

// Accounting stages that can fail after a unique view is recorded.
const (
	StageAccounting = "accounting"
	StageCompletion = "completion"
)

// AccountingFailure records a confirmed view whose follow-up work failed so
// it can be replayed by hand.
type AccountingFailure struct {
	ID          string    `json:"id"`
	CampaignID  string    `json:"campaign_id"`
	PromoterID  string    `json:"promoter_id"`
	Fingerprint string    `json:"fingerprint"`
	Stage       string    `json:"stage"`
	Error       string    `json:"error"`
	ErrorType   string    `json:"error_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// FailureFilter narrows a failure listing.
type FailureFilter struct {
	CampaignID string `json:"campaign_id,omitempty"`
	Stage      string `json:"stage,omitempty"`
	ErrorType  string `json:"error_type,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// NewAccountingFailure builds a failure entry for err.
func NewAccountingFailure(stage, campaignID, promoterID, fingerprint string, err error) AccountingFailure {
	return AccountingFailure{
		ID:          uuid.NewString(),
		CampaignID:  campaignID,
		PromoterID:  promoterID,
		Fingerprint: fingerprint,
		Stage:       stage,
		Error:       err.Error(),
		ErrorType:   ClassifyError(err),
		CreatedAt:   time.Now().UTC(),
	}
}
