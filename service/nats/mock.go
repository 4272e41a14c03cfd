package nats

import (
	"context"
	"sync"

	"github.com/brojonat/shredarb/service/metrics"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu            sync.RWMutex
	opportunities []*OpportunityEvent
	swaps         []*SwapEvent
	graduates     []*GraduateEvent
	telemetry     []metrics.Snapshot
	publishError  error
	closed        bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishOpportunity(ctx context.Context, event *OpportunityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishError != nil {
		return m.publishError
	}
	m.opportunities = append(m.opportunities, event)
	return nil
}

func (m *MockPublisher) PublishSwap(ctx context.Context, event *SwapEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishError != nil {
		return m.publishError
	}
	m.swaps = append(m.swaps, event)
	return nil
}

func (m *MockPublisher) PublishGraduate(ctx context.Context, event *GraduateEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishError != nil {
		return m.publishError
	}
	m.graduates = append(m.graduates, event)
	return nil
}

func (m *MockPublisher) PublishTelemetry(ctx context.Context, snap metrics.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishError != nil {
		return m.publishError
	}
	m.telemetry = append(m.telemetry, snap)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Opportunities returns a copy of every published opportunity.
func (m *MockPublisher) Opportunities() []*OpportunityEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*OpportunityEvent(nil), m.opportunities...)
}

func (m *MockPublisher) Swaps() []*SwapEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*SwapEvent(nil), m.swaps...)
}

func (m *MockPublisher) Graduates() []*GraduateEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*GraduateEvent(nil), m.graduates...)
}

func (m *MockPublisher) Telemetry() []metrics.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]metrics.Snapshot(nil), m.telemetry...)
}

// SetPublishError configures the mock to fail every publish.
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

var _ Publisher = (*MockPublisher)(nil)
