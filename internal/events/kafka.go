package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes events as JSON messages keyed by Event.Key.
type KafkaPublisher struct {
	writer      messageWriter
	topicByType map[string]string
	log         *zap.Logger
}

// NewKafkaPublisher creates a publisher for brokers. topicByType maps event
// types to topics; unmapped types use the event type as the topic name.
func NewKafkaPublisher(brokers []string, topicByType map[string]string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, eris.New("events: kafka publisher requires at least one broker")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            3,
		WriteTimeout:           5 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return newKafkaPublisher(w, topicByType), nil
}

func newKafkaPublisher(w messageWriter, topicByType map[string]string) *KafkaPublisher {
	return &KafkaPublisher{
		writer:      w,
		topicByType: topicByType,
		log:         zap.L().With(zap.String("component", "events.kafka")),
	}
}

func (p *KafkaPublisher) topic(eventType string) string {
	if t, ok := p.topicByType[eventType]; ok && t != "" {
		return t
	}
	return eventType
}

// Publish writes e to its topic.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return eris.Wrapf(err, "events: marshal %s", e.Type)
	}
	topic := p.topic(e.Type)
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(e.Key),
		Value: value,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
		},
	}); err != nil {
		return eris.Wrapf(err, "events: write %s to %s", e.Type, topic)
	}
	p.log.Debug("event published", zap.String("type", e.Type), zap.String("topic", topic), zap.String("key", e.Key))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return eris.Wrap(p.writer.Close(), "events: close kafka writer")
}
