package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	fails  int
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fails > 0 {
		w.fails--
		return errors.New("leader not available")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type recordingPublisher struct {
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestNewKafkaPublisher_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(nil, nil)
	require.Error(t, err)

	p, err := NewKafkaPublisher([]string{"localhost:9092"}, nil)
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, map[string]string{TypeCampaignCompleted: "campaign-lifecycle"})

	e, err := New(TypeCampaignCompleted, "c1", CampaignCompleted{CampaignID: "c1", CampaignType: "VISIBILITY", PromoterIDs: []string{"p1"}})
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), e))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "campaign-lifecycle", msg.Topic)
	assert.Equal(t, []byte("c1"), msg.Key)
	assert.Equal(t, TypeCampaignCompleted, string(msg.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, TypeCampaignCompleted, decoded.Type)

	var payload CampaignCompleted
	require.NoError(t, json.Unmarshal(decoded.Payload, &payload))
	assert.Equal(t, []string{"p1"}, payload.PromoterIDs)
}

func TestKafkaPublisher_UnmappedTopic(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, nil)

	e, err := New(TypePayoutExecuted, "rec-1", PayoutExecuted{RecordID: "rec-1"})
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), e))
	assert.Equal(t, TypePayoutExecuted, w.msgs[0].Topic)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestEmit_RetriesThenDelivers(t *testing.T) {
	w := &fakeWriter{fails: 2}
	p := newKafkaPublisher(w, nil)

	Emit(context.Background(), p, TypePayoutExecuted, "rec-1", PayoutExecuted{RecordID: "rec-1", AmountCents: 500})
	assert.Len(t, w.msgs, 1)
}

func TestEmit_SwallowsFailures(t *testing.T) {
	p := &recordingPublisher{err: errors.New("broker down")}
	assert.NotPanics(t, func() {
		Emit(context.Background(), p, TypeCampaignCompleted, "c1", CampaignCompleted{CampaignID: "c1"})
	})
	Emit(context.Background(), nil, TypeCampaignCompleted, "c1", nil)
}

func TestLogPublisher(t *testing.T) {
	p := NewLogPublisher()
	e, err := New(TypeCampaignCompleted, "c1", CampaignCompleted{CampaignID: "c1"})
	require.NoError(t, err)
	assert.NoError(t, p.Publish(context.Background(), e))
	assert.NoError(t, p.Close())
}
