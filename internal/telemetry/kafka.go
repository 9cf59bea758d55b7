package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-client/internal/models"
)

// PhaseEvent is one applied phase transition, published for downstream
// analytics.
type PhaseEvent struct {
	RideID string    `json:"ride_id"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	At     time.Time `json:"at"`
}

type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &Publisher{writer: w}
}

func (p *Publisher) PublishTransition(rideID string, from, to models.RidePhase) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(PhaseEvent{RideID: rideID, From: from.String(), To: to.String(), At: time.Now()})
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(rideID), Value: b})
}

func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
