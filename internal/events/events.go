package events

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"affiliate-tracking/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	EventClickRecorded       EventType = "click.recorded"
	EventConversionCreated   EventType = "conversion.created"
	EventConversionApproved  EventType = "conversion.approved"
	EventConversionReversed  EventType = "conversion.reversed"
	EventSelfPurchaseBlocked EventType = "conversion.self_purchase_blocked"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ClickRecordedData is the payload of click.recorded.
type ClickRecordedData struct {
	ClickID       string `json:"click_id"`
	TenantID      string `json:"tenant_id"`
	AffiliateID   string `json:"affiliate_id"`
	AffiliateCode string `json:"affiliate_code"`
}

// ConversionData is the payload of conversion.* events.
type ConversionData struct {
	Conversion models.Conversion `json:"conversion"`
}

// SelfPurchaseBlockedData is the payload of conversion.self_purchase_blocked.
type SelfPurchaseBlockedData struct {
	TenantID    string `json:"tenant_id"`
	OrderRef    string `json:"order_ref"`
	AffiliateID string `json:"affiliate_id"`
}
// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

const queueSize = 256

type delivery struct {
	ctx   context.Context
	event Event
}

// subscription owns one handler and the queue feeding it. A single worker
// drains the queue, so a handler sees events in publish order.
type subscription struct {
	handler Handler
	queue   chan delivery
}

// Manager fans events out to subscribed handlers. A nil or disabled Manager
// drops everything.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]*subscription
	subs     []*subscription
	closers  []io.Closer
	enabled  bool
	closed   bool
	wg       sync.WaitGroup
	now      func() time.Time
}

// NewManager creates a new event manager.
func NewManager(enabled bool) *Manager {
	return &Manager{
		handlers: make(map[EventType][]*subscription),
		enabled:  enabled,
		now:      time.Now,
	}
}

// Subscribe subscribes a handler to the given event types.
func (m *Manager) Subscribe(handler Handler, types ...EventType) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled || m.closed {
		return
	}
	sub := &subscription{handler: handler, queue: make(chan delivery, queueSize)}
	m.subs = append(m.subs, sub)
	for _, t := range types {
		m.handlers[t] = append(m.handlers[t], sub)
	}

	m.wg.Add(1)
	go m.run(sub)
}

// CloseOnShutdown registers c to be closed by Shutdown once every queued
// event has been handled.
func (m *Manager) CloseOnShutdown(c io.Closer) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closers = append(m.closers, c)
}

func (m *Manager) run(sub *subscription) {
	defer m.wg.Done()
	for d := range sub.queue {
		if err := sub.handler(d.ctx, d.event); err != nil {
			zerolog.Ctx(d.ctx).Error().Err(err).
				Str("event_type", string(d.event.Type)).
				Msg("event handler failed")
		}
	}
}

// Publish queues an event for every subscribed handler and returns. Each
// handler receives events in the order they were published. Handlers run
// detached from the caller's cancellation so a finished request does not
// abort delivery. Publish blocks when a handler's queue is full.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	if m == nil {
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.enabled || m.closed {
		return
	}
	subs := m.handlers[eventType]
	if len(subs) == 0 {
		return
	}

	d := delivery{
		ctx: context.WithoutCancel(ctx),
		event: Event{
			Type:      eventType,
			Timestamp: m.now().UTC(),
			Data:      data,
		},
	}
	for _, sub := range subs {
		sub.queue <- d
	}
}

// Shutdown stops accepting events, waits for queued events to be handled and
// then closes everything registered with CloseOnShutdown.
func (m *Manager) Shutdown() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, sub := range m.subs {
		close(sub.queue)
	}
	closers := m.closers
	m.mu.Unlock()

	m.wg.Wait()

	for _, c := range closers {
		if err := c.Close(); err != nil {
			zerolog.Ctx(context.Background()).Error().Err(err).Msg("failed to close event sink")
		}
	}
}
