package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kerucko/scheduler/internal/config"
)

type fakeWriter struct {
	msgs        []kafka.Message
	err         error
	hadDeadline bool
	closed      bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	_, w.hadDeadline = ctx.Deadline()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaForwarderHandle(t *testing.T) {
	log, _ := test.NewNullLogger()
	w := &fakeWriter{}
	f := &KafkaForwarder{writer: w, timeout: time.Second, log: log}

	at := time.Date(2024, time.January, 10, 12, 0, 0, 0, time.UTC)
	err := f.Handle(context.Background(), Envelope{
		ID:         "evt-1",
		Type:       TypeTaskReassigned,
		OccurredAt: at,
		Payload:    TaskReassigned{TaskID: 9, OldUserID: 4, NewUserID: 6, Title: "Audit"},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.True(t, w.hadDeadline)

	msg := w.msgs[0]
	assert.Equal(t, "6", string(msg.Key), "reassigned tasks are keyed by the new owner")
	assert.Equal(t, at, msg.Time)
	assert.Equal(t, []kafka.Header{
		{Key: "event_type", Value: []byte("task.reassigned")},
		{Key: "event_id", Value: []byte("evt-1")},
	}, msg.Headers)

	var body struct {
		ID      string         `json:"id"`
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "evt-1", body.ID)
	assert.Equal(t, "task.reassigned", body.Type)
	assert.EqualValues(t, 6, body.Payload["newUserId"])
	assert.Equal(t, "Audit", body.Payload["title"])
}

func TestPartitionKey(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{"created", TaskCreated{TaskID: 1, UserID: 3}, "3"},
		{"updated", TaskUpdated{TaskID: 1, UserID: 5}, "5"},
		{"reassigned", TaskReassigned{TaskID: 1, OldUserID: 4, NewUserID: 6}, "6"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(partitionKey(tt.event)))
		})
	}
}

func TestKafkaForwarderWriteError(t *testing.T) {
	log, _ := test.NewNullLogger()
	boom := errors.New("leader not available")
	f := &KafkaForwarder{writer: &fakeWriter{err: boom}, log: log}

	err := f.Handle(context.Background(), Envelope{ID: "evt-2", Type: TypeTaskCreated, Payload: TaskCreated{UserID: 1}})
	assert.ErrorIs(t, err, boom)
}

func TestKafkaForwarderThroughBus(t *testing.T) {
	log, _ := test.NewNullLogger()
	w := &fakeWriter{}
	f := &KafkaForwarder{writer: w, log: log}

	b := NewBus(4, log)
	f.Register(b)
	b.Start(context.Background(), 1)
	b.Publish(context.Background(), TaskCreated{TaskID: 1, UserID: 2, Title: "a"})
	b.Publish(context.Background(), TaskUpdated{TaskID: 1, UserID: 2, Title: "b"})
	require.NoError(t, b.Close(context.Background()))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "2", string(w.msgs[1].Key))

	require.NoError(t, f.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaForwarder(t *testing.T) {
	log, _ := test.NewNullLogger()
	f := NewKafkaForwarder(config.KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        "task-events",
		WriteTimeout: 5 * time.Second,
	}, log)

	w, ok := f.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "task-events", w.Topic)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
	assert.Equal(t, 5*time.Second, f.timeout)
}
