package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/kerucko/scheduler/internal/config"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaForwarder copies every bus event to a Kafka topic, keyed by the user
// whose calendar the event lands on. The bus dispatches from several workers,
// so ordering within a partition is best-effort.
type KafkaForwarder struct {
	writer  messageWriter
	timeout time.Duration
	log     logrus.FieldLogger
}

func NewKafkaForwarder(cfg config.KafkaConfig, log logrus.FieldLogger) *KafkaForwarder {
	return &KafkaForwarder{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
		timeout: cfg.WriteTimeout,
		log:     log.WithField("component", "kafka-forwarder"),
	}
}

func (f *KafkaForwarder) Register(b *Bus) {
	b.SubscribeAll(f.Handle)
}

func (f *KafkaForwarder) Handle(ctx context.Context, env Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", env.ID, err)
	}

	key := partitionKey(env.Payload)

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	err = f.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.Type)},
			{Key: "event_id", Value: []byte(env.ID)},
		},
	})
	if err != nil {
		return fmt.Errorf("write event %s to kafka: %w", env.ID, err)
	}
	f.log.WithFields(logrus.Fields{"event_id": env.ID, "event_type": env.Type}).Debug("event forwarded")
	return nil
}

// partitionKey picks the owner after the change: a reassigned task now
// belongs to the new user.
func partitionKey(p Event) []byte {
	if r, ok := p.(TaskReassigned); ok {
		return []byte(strconv.FormatInt(r.NewUserID, 10))
	}
	if ids := p.UserIDs(); len(ids) > 0 {
		return []byte(strconv.FormatInt(ids[0], 10))
	}
	return nil
}

func (f *KafkaForwarder) Close() error {
	return f.writer.Close()
}
