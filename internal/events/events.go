// Package events publishes domain events emitted by campaign completion and
// payout execution.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Event types.
const (
	TypeCampaignCompleted = "campaign.completed"
	TypePayoutExecuted    = "payout.executed"
)

// Event is one domain event. Key orders events for the same aggregate.
type Event struct {
	Type       string          `json:"type"`
	Key        string          `json:"key"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// New builds an event with a JSON-encoded payload.
func New(eventType, key string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, eris.Wrapf(err, "events: marshal %s", eventType)
	}
	return Event{
		Type:       eventType,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}

// CampaignCompleted is the payload of TypeCampaignCompleted.
type CampaignCompleted struct {
	CampaignID   string   `json:"campaign_id"`
	CampaignType string   `json:"campaign_type"`
	PromoterIDs  []string `json:"promoter_ids"`
	Manual       bool     `json:"manual"`
}

// PayoutExecuted is the payload of TypePayoutExecuted.
type PayoutExecuted struct {
	RecordID    string    `json:"record_id"`
	PromoterID  string    `json:"promoter_id"`
	CampaignID  string    `json:"campaign_id"`
	AmountCents int64     `json:"amount_cents"`
	Reference   string    `json:"reference"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// LogPublisher writes events to the log. It is used when no broker is
// configured.
type LogPublisher struct {
	log *zap.Logger
}

// NewLogPublisher creates a LogPublisher using the global logger.
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{log: zap.L().With(zap.String("component", "events.log"))}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.log.Info("event",
		zap.String("type", e.Type),
		zap.String("key", e.Key),
		zap.ByteString("payload", e.Payload),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
