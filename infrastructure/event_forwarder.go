package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"derby/events"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const forwarderQueueSize = 256

// ForwardedEventTypes are the game events exported to the message bus
var ForwardedEventTypes = []events.EventType{
	events.EventTypeGameStateChanged,
	events.EventTypeBalanceChange,
	events.EventTypeRaceFinished,
}

// EventEnvelope wraps a forwarded event on the wire
type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	Timestamp     time.Time       `json:"timestamp"`
	SourceService string          `json:"source_service"`
	Payload       json.RawMessage `json:"payload"`
}

// MessagePublisher sends an encoded message to a subject. NATSClient
// satisfies it.
type MessagePublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// ForwarderMetrics receives a count of published messages
type ForwarderMetrics interface {
	RecordNATSMessagePublished(eventType string)
}

type outboundMessage struct {
	subject   string
	eventType string
	data      []byte
}

// EventForwarder copies selected bus events to a MessagePublisher. Events are
// encoded on the bus goroutine and published from a worker goroutine so a
// slow broker never stalls the game loop.
type EventForwarder struct {
	publisher MessagePublisher
	prefix    string
	clock     clock.Clock
	metrics   ForwarderMetrics

	queue   chan outboundMessage
	subs    []events.Subscription
	mu      sync.Mutex
	dropped int
}

// NewEventForwarder creates a forwarder publishing under subject prefix
func NewEventForwarder(publisher MessagePublisher, prefix string, clk clock.Clock, metrics ForwarderMetrics) *EventForwarder {
	return &EventForwarder{
		publisher: publisher,
		prefix:    prefix,
		clock:     clk,
		metrics:   metrics,
		queue:     make(chan outboundMessage, forwarderQueueSize),
	}
}

// Subject returns the subject an event type is published to
func (f *EventForwarder) Subject(eventType events.EventType) string {
	return fmt.Sprintf("%s.%s", f.prefix, eventType)
}

// Attach subscribes the forwarder to the bus
func (f *EventForwarder) Attach(bus *events.Bus) {
	for _, eventType := range ForwardedEventTypes {
		f.subs = append(f.subs, bus.Subscribe(eventType, f.handle))
	}
}

// Detach removes the forwarder's bus subscriptions
func (f *EventForwarder) Detach() {
	for _, sub := range f.subs {
		sub.Unsubscribe()
	}
	f.subs = nil
}

// Dropped returns how many events were discarded because the queue was full
func (f *EventForwarder) Dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

func (f *EventForwarder) handle(ctx context.Context, event events.Event) {
	data, err := f.encode(event)
	if err != nil {
		log.WithFields(log.Fields{
			"eventType": event.Type(),
			"error":     err,
		}).Error("Failed to encode event for forwarding")
		return
	}

	msg := outboundMessage{
		subject:   f.Subject(event.Type()),
		eventType: string(event.Type()),
		data:      data,
	}
	select {
	case f.queue <- msg:
	default:
		f.mu.Lock()
		f.dropped++
		f.mu.Unlock()
		log.WithField("eventType", event.Type()).Warn("Forwarding queue full, dropping event")
	}
}

func (f *EventForwarder) encode(event events.Event) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	envelope := EventEnvelope{
		EventID:       uuid.New().String(),
		EventType:     string(event.Type()),
		Timestamp:     f.clock.Now().UTC(),
		SourceService: "derby",
		Payload:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event envelope: %w", err)
	}
	return data, nil
}

// Start launches the publishing worker. The returned function stops it after
// the queued messages have been published.
func (f *EventForwarder) Start(ctx context.Context) func() {
	stopChan := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		log.Info("Event forwarder started")

		for {
			select {
			case <-ctx.Done():
				log.Info("Event forwarder stopped due to context cancellation")
				return
			case <-stopChan:
				f.drain(ctx)
				log.Info("Event forwarder stopped")
				return
			case msg := <-f.queue:
				f.publish(ctx, msg)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopChan)
			<-done
		})
	}
}

func (f *EventForwarder) drain(ctx context.Context) {
	for {
		select {
		case msg := <-f.queue:
			f.publish(ctx, msg)
		default:
			return
		}
	}
}

func (f *EventForwarder) publish(ctx context.Context, msg outboundMessage) {
	if err := f.publisher.Publish(ctx, msg.subject, msg.data); err != nil {
		log.WithFields(log.Fields{
			"subject": msg.subject,
			"error":   err,
		}).Error("Failed to forward event")
		return
	}
	if f.metrics != nil {
		f.metrics.RecordNATSMessagePublished(msg.eventType)
	}
}
