package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Topics struct {
	Created string
	Updated string
}

type Producer struct {
	Writer messageWriter
	Topics Topics
	Logger *logger.Logger
}

// NewProducer writes to any topic on brokers; the topic is chosen per message.
func NewProducer(brokers []string, topics Topics, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newProducer(writer, topics, log)
}

func newProducer(w messageWriter, topics Topics, log *logger.Logger) *Producer {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Producer{Writer: w, Topics: topics, Logger: log}
}

// PublishReservationEvent streams a lifecycle event keyed by reservation id,
// so every event of one reservation lands on the same partition.
func (p *Producer) PublishReservationEvent(ctx context.Context, event models.ReservationEvent) error {
	topic, err := p.topicFor(event.Type)
	if err != nil {
		return err
	}

	msgBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(strconv.FormatUint(event.ReservationID, 10)),
		Value: msgBytes,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", event.Type, topic, err)
	}

	p.Logger.LogKafka("PUBLISH", topic, fmt.Sprintf("%s %s", event.ReservationNo, event.Status))
	return nil
}

func (p *Producer) topicFor(t models.ReservationEventType) (string, error) {
	switch t {
	case models.EventReservationCreated:
		return p.Topics.Created, nil
	case models.EventReservationUpdated:
		return p.Topics.Updated, nil
	default:
		return "", fmt.Errorf("no topic for event type %q", t)
	}
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
