package temporal

import (
	"context"
	"fmt"
	"sync"

	"github.com/brojonat/shredarb/service/engine"
)

// MockStarter is a mock implementation of Starter for testing.
type MockStarter struct {
	mu       sync.Mutex
	started  map[string]engine.Opportunity // map[workflowID]opportunity
	order    []string
	startErr error
}

// NewMockStarter creates a new MockStarter.
func NewMockStarter() *MockStarter {
	return &MockStarter{started: make(map[string]engine.Opportunity)}
}

// StartExecution records the workflow. Starting the same ID twice fails the
// way Temporal does.
func (m *MockStarter) StartExecution(ctx context.Context, opp engine.Opportunity) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return "", m.startErr
	}
	id := workflowID(opp)
	if _, ok := m.started[id]; ok {
		return "", fmt.Errorf("workflow execution already started: %s", id)
	}
	m.started[id] = opp
	m.order = append(m.order, id)
	return id, nil
}

// Started returns the started workflow IDs in order.
func (m *MockStarter) Started() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// SetStartError configures the mock to fail every start.
func (m *MockStarter) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

var _ Starter = (*MockStarter)(nil)
