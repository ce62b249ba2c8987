package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/pkg/errors"
)

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *mockWriter) Close() error {
	return m.Called().Error(0)
}

func sampleChange() models.StatusChange {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return models.StatusChange{
		Previous: models.UnknownStatus("PO21CE63"),
		Current: models.DeviceStatus{
			Serial: "PO21CE63", Gate: models.GateOpen, Relay: models.RelayOff,
			Source: models.SourcePush, ObservedAt: at,
		},
	}
}

func TestKafkaPublisher_WriteKeysBySerial(t *testing.T) {
	w := new(mockWriter)
	var sent []kafka.Message
	w.On("WriteMessages", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).([]kafka.Message) }).
		Return(nil)

	p := newKafkaPublisher(w, 1, nil, nil)
	require.NoError(t, p.Write(context.Background(), sampleChange()))

	require.Len(t, sent, 1)
	assert.Equal(t, "PO21CE63", string(sent[0].Key))

	var ev StatusEvent
	require.NoError(t, json.Unmarshal(sent[0].Value, &ev))
	assert.Equal(t, models.GateOpen, ev.Gate)
	assert.Equal(t, models.SourcePush, ev.Source)
	assert.Equal(t, models.GateUnknown, ev.Previous.Gate)
	w.AssertExpectations(t)
}

func TestKafkaPublisher_WriteFailureIsTransport(t *testing.T) {
	w := new(mockWriter)
	w.On("WriteMessages", mock.Anything, mock.Anything).Return(kafka.LeaderNotAvailable)

	p := newKafkaPublisher(w, 1, nil, nil)
	err := p.Write(context.Background(), sampleChange())
	assert.True(t, errors.IsTransportError(err))
}

func TestKafkaPublisher_PublishDropsWhenFull(t *testing.T) {
	w := new(mockWriter)
	p := newKafkaPublisher(w, 1, nil, nil)

	p.Publish(sampleChange())
	p.Publish(sampleChange())
	assert.Len(t, p.queue, 1)
	w.AssertNotCalled(t, "WriteMessages", mock.Anything, mock.Anything)
}

func TestKafkaPublisher_RunDrainsQueue(t *testing.T) {
	w := new(mockWriter)
	written := make(chan struct{}, 1)
	w.On("WriteMessages", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { written <- struct{}{} }).
		Return(nil)

	p := newKafkaPublisher(w, 4, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	p.Publish(sampleChange())
	select {
	case <-written:
	case <-time.After(2 * time.Second):
		t.Fatal("change was not written")
	}
	cancel()
	<-done
}
