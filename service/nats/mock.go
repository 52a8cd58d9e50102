package nats

import (
	"context"
	"sync"
)

// MockPublisher is an in-memory Publisher for tests.
// Like JetStream it drops an event whose MessageID was already published.
type MockPublisher struct {
	mu           sync.RWMutex
	events       []*PaymentEvent
	seen         map[string]bool
	publishError error
	closed       bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{seen: make(map[string]bool)}
}

// PublishPayment records the event and returns any configured error.
func (m *MockPublisher) PublishPayment(ctx context.Context, event *PaymentEvent) error {
	if event.Address == "" {
		return ErrMissingAddress
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	if id := event.MessageID(); !m.seen[id] {
		m.seen[id] = true
		m.events = append(m.events, event)
	}
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns a copy of every published event.
func (m *MockPublisher) GetPublishedEvents() []*PaymentEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]*PaymentEvent, len(m.events))
	copy(events, m.events)
	return events
}

// GetPublishedEventCount returns the number of published events.
func (m *MockPublisher) GetPublishedEventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// GetPublishedEventsForAddress returns the events published on address's subject.
func (m *MockPublisher) GetPublishedEventsForAddress(address string) []*PaymentEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []*PaymentEvent
	for _, event := range m.events {
		if Subject(event.Address) == Subject(address) {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishError makes every following PublishPayment fail with err.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
