// Package events provides the in-process progress event bus. Producers emit
// fire-and-forget progress updates keyed by session; subscribers receive them
// over bounded channels. Events are best-effort and never part of request
// semantics.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 64

// Level is the severity of a progress event.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event is one progress update for a session.
type Event struct {
	SessionID  string         `json:"session_id"`
	Level      Level          `json:"level"`
	Message    string         `json:"message"`
	Step       int            `json:"step,omitempty"`
	TotalSteps int            `json:"total_steps,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"ts"`
}

// Option customizes an emitted event.
type Option func(*Event)

// WithStep attaches step progress (e.g. 3 of 7) to the event.
func WithStep(step, totalSteps int) Option {
	return func(e *Event) {
		e.Step = step
		e.TotalSteps = totalSteps
	}
}

// WithDetails attaches an arbitrary detail payload to the event.
func WithDetails(details map[string]any) Option {
	return func(e *Event) {
		e.Details = details
	}
}

// Subscription is one subscriber's view of a session's event stream.
type Subscription struct {
	C <-chan Event

	sessionID string
	id        int
	ch        chan Event

	mu     sync.Mutex
	closed bool
}

// send delivers one event without ever blocking. On a full buffer the oldest
// event is dropped; if the channel is still full after that (another consumer
// raced the drain), the new event is dropped instead. The lock also protects
// against sending on a channel closed by Unsubscribe.
func (s *Subscription) send(event Event, logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
	default:
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- event:
		default:
			logger.Debug("Dropped progress event for slow subscriber",
				"session_id", event.SessionID)
		}
	}
}

// Bus fans events out to per-session subscribers. A slow subscriber never
// blocks the producer: when its buffer is full the oldest event is dropped.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[int]*Subscription
	nextID      int
	bufferSize  int

	logger *slog.Logger
}

// NewBus creates a bus with the given per-subscriber buffer size.
// Non-positive sizes fall back to DefaultBufferSize.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subscribers: make(map[string]map[int]*Subscription),
		bufferSize:  bufferSize,
		logger:      slog.Default(),
	}
}

// Emit delivers an event to every subscriber of the session. Fire-and-forget:
// returns immediately regardless of subscriber state.
func (b *Bus) Emit(sessionID string, level Level, message string, opts ...Option) {
	event := Event{
		SessionID: sessionID,
		Level:     level,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&event)
	}

	b.mu.RLock()
	subs := b.subscribers[sessionID]
	targets := make([]*Subscription, 0, len(subs))
	for _, sub := range subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.send(event, b.logger)
	}
}

// Subscribe registers a new subscriber for a session's events.
// The caller must Unsubscribe when done.
func (b *Bus) Subscribe(sessionID string) *Subscription {
	ch := make(chan Event, b.bufferSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		C:         ch,
		sessionID: sessionID,
		id:        b.nextID,
		ch:        ch,
	}
	if b.subscribers[sessionID] == nil {
		b.subscribers[sessionID] = make(map[int]*Subscription)
	}
	b.subscribers[sessionID][sub.id] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
// Unsubscribing twice is a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[sub.sessionID]
	if !ok {
		return
	}
	if _, ok := subs[sub.id]; !ok {
		return
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(b.subscribers, sub.sessionID)
	}

	sub.mu.Lock()
	sub.closed = true
	close(sub.ch)
	sub.mu.Unlock()
}

// SubscriberCount reports how many subscribers a session currently has.
func (b *Bus) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[sessionID])
}
