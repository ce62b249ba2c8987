// Package events publishes accepted device status changes to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/contatto/internal/config"
	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/internal/domain/service"
	"github.com/turtacn/contatto/pkg/errors"
	"github.com/turtacn/contatto/pkg/logger"
)

const defaultBufferSize = 256

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// StatusEvent is the message value written for each status change.
type StatusEvent struct {
	Serial     string              `json:"serial"`
	Gate       models.GateState    `json:"gate"`
	Relay      models.RelayState   `json:"relay"`
	Source     models.StatusSource `json:"source"`
	ObservedAt time.Time           `json:"observed_at"`
	Previous   struct {
		Gate  models.GateState  `json:"gate"`
		Relay models.RelayState `json:"relay"`
	} `json:"previous"`
}

// NewStatusEvent flattens a change into its wire form.
func NewStatusEvent(change models.StatusChange) StatusEvent {
	ev := StatusEvent{
		Serial:     change.Current.Serial,
		Gate:       change.Current.Gate,
		Relay:      change.Current.Relay,
		Source:     change.Current.Source,
		ObservedAt: change.Current.ObservedAt.UTC(),
	}
	ev.Previous.Gate = change.Previous.Gate
	ev.Previous.Relay = change.Previous.Relay
	return ev
}

// KafkaPublisher writes status changes keyed by device serial, so each
// device's events land on one partition in order. Changes are queued by
// Publish and written by Run; a full queue drops the change.
type KafkaPublisher struct {
	writer  messageWriter
	queue   chan models.StatusChange
	logger  logger.Logger
	metrics service.Metrics
}

// NewKafkaPublisher creates a publisher writing to cfg.Topic.
func NewKafkaPublisher(cfg config.KafkaConfig, log logger.Logger, metrics service.Metrics) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: cfg.BatchTimeout,
	}
	return newKafkaPublisher(writer, defaultBufferSize, log, metrics)
}

func newKafkaPublisher(w messageWriter, buffer int, log logger.Logger, metrics service.Metrics) *KafkaPublisher {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &KafkaPublisher{
		writer:  w,
		queue:   make(chan models.StatusChange, buffer),
		logger:  log.WithComponent("KafkaPublisher"),
		metrics: metrics,
	}
}

// Publish enqueues a change. It never blocks, so it is safe to use as a
// reconciler listener.
func (p *KafkaPublisher) Publish(change models.StatusChange) {
	select {
	case p.queue <- change:
	default:
		p.metrics.RecordPublish(false)
		p.logger.Warn(context.Background(), "Publish queue full, dropping status change",
			logger.Serial(change.Current.Serial))
	}
}

// Run drains the queue until ctx is cancelled.
func (p *KafkaPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-p.queue:
			_ = p.Write(ctx, change)
		}
	}
}

// Write sends one change synchronously.
func (p *KafkaPublisher) Write(ctx context.Context, change models.StatusChange) error {
	value, err := json.Marshal(NewStatusEvent(change))
	if err != nil {
		p.metrics.RecordPublish(false)
		return errors.ErrInternal("failed to marshal status event").WithCause(err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(change.Current.Serial),
		Value: value,
		Time:  change.Current.ObservedAt,
	})
	p.metrics.RecordPublish(err == nil)
	if err != nil {
		p.logger.Error(ctx, "Failed to write status change to Kafka", err,
			logger.Serial(change.Current.Serial))
		return errors.ErrTransport("kafka write failed").WithCause(err)
	}
	return nil
}

// Close closes the underlying Kafka writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
