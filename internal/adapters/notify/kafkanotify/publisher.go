package kafkanotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"patient-passport-access/internal/platform/logger"
	"patient-passport-access/internal/ports/notify"

	"github.com/segmentio/kafka-go"
)

const source = "patient-passport-access"

var ErrNoBrokers = errors.New("kafka notifier: no brokers configured")

// messageWriter es lo que usamos de *kafka.Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers []string
	Topic   string
}

// Publisher publica cada Notification en un topic; el servicio de notificaciones la consume
// y la entrega in-app. Key = recipient para mantener orden por usuario.
type Publisher struct {
	w     messageWriter
	topic string
	log   logger.Logger
}

func New(cfg Config, log logger.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newPublisher(w, cfg.Topic, log), nil
}

func newPublisher(w messageWriter, topic string, log logger.Logger) *Publisher {
	if log == nil {
		log = logger.Nop()
	}
	return &Publisher{w: w, topic: topic, log: log.With(map[string]any{"component": "kafkanotify"})}
}

func (p *Publisher) Notify(ctx context.Context, n notify.Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(n.RecipientID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(n.Kind)},
			{Key: "source", Value: []byte(source)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		p.log.Error("publish notification failed", map[string]any{
			"notification_id": n.ID,
			"kind":            string(n.Kind),
			"err":             err,
		})
		return err
	}

	p.log.Debug("notification published", map[string]any{
		"notification_id": n.ID,
		"kind":            string(n.Kind),
		"topic":           p.topic,
	})
	return nil
}

func (p *Publisher) Close() error {
	return p.w.Close()
}
