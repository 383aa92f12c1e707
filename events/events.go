package events

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTypeGameStateChanged    EventType = "game_state_changed"
	EventTypeCountdownChanged    EventType = "countdown_changed"
	EventTypeHorsesUpdated       EventType = "horses_updated"
	EventTypeBetsChanged         EventType = "bets_changed"
	EventTypeBalanceChange       EventType = "balance_change"
	EventTypeRaceFinished        EventType = "race_finished"
	EventTypeRaceResultCleared   EventType = "race_result_cleared"
	EventTypeUserChanged         EventType = "user_changed"
	EventTypeMuteChanged         EventType = "mute_changed"
	EventTypeResultDialogChanged EventType = "result_dialog_changed"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
}

// Handler is a function that handles events
type Handler func(ctx context.Context, event Event)

// Subscription is the token returned by Subscribe
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	bus       *Bus
	id        uint64
	eventType EventType // empty for SubscribeAll
}

func (s *subscription) Unsubscribe() {
	s.bus.remove(s)
}

type registration struct {
	id      uint64
	handler Handler
}

// Bus manages event subscriptions and dispatching. Delivery is synchronous
// and in order: an event emitted from inside a handler is queued behind the
// event currently being delivered.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]registration
	all      []registration
	nextID   uint64

	dispatchMu  sync.Mutex
	queue       []queuedEvent
	dispatching bool
}

type queuedEvent struct {
	ctx   context.Context
	event Event
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]registration),
	}
}

// Subscribe adds a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.handlers[eventType] = append(b.handlers[eventType], registration{id: b.nextID, handler: handler})

	log.WithFields(log.Fields{
		"eventType":    eventType,
		"handlerCount": len(b.handlers[eventType]),
	}).Debug("Subscribed handler to event type")

	return &subscription{bus: b, id: b.nextID, eventType: eventType}
}

// SubscribeAll adds a handler that receives every event
func (b *Bus) SubscribeAll(handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.all = append(b.all, registration{id: b.nextID, handler: handler})
	return &subscription{bus: b, id: b.nextID}
}

func (b *Bus) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.eventType == "" {
		b.all = without(b.all, s.id)
		return
	}
	b.handlers[s.eventType] = without(b.handlers[s.eventType], s.id)
	if len(b.handlers[s.eventType]) == 0 {
		delete(b.handlers, s.eventType)
	}
}

func without(regs []registration, id uint64) []registration {
	out := regs[:0:0]
	for _, r := range regs {
		if r.id != id {
			out = append(out, r)
		}
	}
	return out
}

// Emit publishes an event to all registered handlers
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.dispatchMu.Lock()
	b.queue = append(b.queue, queuedEvent{ctx: ctx, event: event})
	if b.dispatching {
		b.dispatchMu.Unlock()
		return
	}
	b.dispatching = true
	b.dispatchMu.Unlock()

	for {
		b.dispatchMu.Lock()
		if len(b.queue) == 0 {
			b.dispatching = false
			b.dispatchMu.Unlock()
			return
		}
		next := b.queue[0]
		b.queue = b.queue[1:]
		b.dispatchMu.Unlock()

		b.deliver(next.ctx, next.event)
	}
}

func (b *Bus) deliver(ctx context.Context, event Event) {
	b.mu.RLock()
	specific := b.handlers[event.Type()]
	handlers := make([]Handler, 0, len(specific)+len(b.all))
	for _, r := range specific {
		handlers = append(handlers, r.handler)
	}
	for _, r := range b.all {
		handlers = append(handlers, r.handler)
	}
	b.mu.RUnlock()

	log.WithFields(log.Fields{
		"eventType":    event.Type(),
		"handlerCount": len(handlers),
	}).Debug("Emitting event to handlers")

	for i, h := range handlers {
		b.call(ctx, h, i, event)
	}
}

func (b *Bus) call(ctx context.Context, h Handler, handlerIndex int, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"eventType":    event.Type(),
				"handlerIndex": handlerIndex,
				"panic":        r,
			}).Error("Event handler panicked")
		}
	}()
	h(ctx, event)
}

// A transactional event bus for holding the pending events of one engine
// command. Flushes to the underlying event bus once the command is complete.
type TransactionalBus struct {
	real    *Bus
	pending []Event // stashed until Flush
}

func NewTransactionalBus(real *Bus) *TransactionalBus {
	return &TransactionalBus{real: real}
}

func (b *TransactionalBus) Publish(e Event) {
	log.WithFields(log.Fields{
		"eventType":    e.Type(),
		"pendingCount": len(b.pending),
	}).Debug("Adding event to transactional bus pending queue")
	b.pending = append(b.pending, e)
}

// Flush emits every pending event in publish order
func (b *TransactionalBus) Flush(ctx context.Context) {
	log.WithFields(log.Fields{
		"pendingEventCount": len(b.pending),
	}).Debug("Flushing pending events from transactional bus")

	pending := b.pending
	b.pending = nil
	for _, ev := range pending {
		b.real.Emit(ctx, ev)
	}
}

// called when a command is abandoned
func (b *TransactionalBus) Discard() {
	b.pending = nil
}

// Pending returns the number of staged events
func (b *TransactionalBus) Pending() int {
	return len(b.pending)
}
