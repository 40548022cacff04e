// Package events publishes specialist routing events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/sympfindx-diagnosis-server/internal/domain"
)

const (
	defaultTopic        = "diagnosis.routing"
	defaultWriteTimeout = 10 * time.Second
	eventTypeHeader     = "event-type"
	routingEventType    = "specialist_routing_required"
)

// ErrPublisherClosed is returned when publishing after Close.
var ErrPublisherClosed = errors.New("routing publisher is closed")

// messageWriter abstracts kafka.Writer for testing.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RoutingPublisher writes routing events keyed by record id.
type RoutingPublisher struct {
	writer messageWriter
	topic  string
	logger *logrus.Logger
	closed atomic.Bool
	sent   atomic.Int64
}

// NewRoutingPublisher creates a Kafka-backed routing publisher
func NewRoutingPublisher(config domain.EventsConfig, logger *logrus.Logger) (*RoutingPublisher, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("%w: at least one Kafka broker is required", domain.ErrInvalidInput)
	}
	if config.Topic == "" {
		config.Topic = defaultTopic
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaultWriteTimeout
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: config.WriteTimeout,
		BatchTimeout: 10 * time.Millisecond,
	}

	return newRoutingPublisher(writer, config.Topic, logger), nil
}

func newRoutingPublisher(writer messageWriter, topic string, logger *logrus.Logger) *RoutingPublisher {
	return &RoutingPublisher{
		writer: writer,
		topic:  topic,
		logger: logger,
	}
}

// PublishRouting writes one routing event
func (p *RoutingPublisher) PublishRouting(ctx context.Context, event *domain.RoutingEvent) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal routing event: %w", err)
	}

	ts := event.OccurredAt
	if ts.IsZero() {
		ts = time.Now()
	}

	msg := kafka.Message{
		Key:   []byte(event.RecordID),
		Value: value,
		Time:  ts,
		Headers: []kafka.Header{
			{Key: eventTypeHeader, Value: []byte(routingEventType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish routing event for record %s: %w", event.RecordID, err)
	}

	p.sent.Add(1)
	p.logger.WithFields(logrus.Fields{
		"record_id":  event.RecordID,
		"topic":      p.topic,
		"specialist": event.RecommendedSpecialist,
		"urgency":    event.RoutingUrgency,
	}).Debug("Routing event published")
	return nil
}

// Sent returns the number of events written
func (p *RoutingPublisher) Sent() int64 {
	return p.sent.Load()
}

// Close flushes and closes the writer
func (p *RoutingPublisher) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := p.writer.Close()
	p.logger.WithField("sent", p.sent.Load()).Info("Routing publisher closed")
	return err
}
