// Package testutil provides testing utilities shared by package tests.
package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/GriffinCanCode/termblocks/internal/domain/block"
)

// MockDispatcher is a mock implementation of block.Dispatcher for testing.
type MockDispatcher struct {
	mock.Mock

	mu         sync.Mutex
	dispatched []block.Block
}

// Dispatch mocks the Dispatch method and records the block.
func (m *MockDispatcher) Dispatch(ctx context.Context, b block.Block) error {
	m.mu.Lock()
	m.dispatched = append(m.dispatched, b)
	m.mu.Unlock()

	args := m.Called(ctx, b)
	return args.Error(0)
}

// Interrupt mocks the Interrupt method.
func (m *MockDispatcher) Interrupt() error {
	args := m.Called()
	return args.Error(0)
}

// Dispatched returns the commands passed to Dispatch, in order.
func (m *MockDispatcher) Dispatched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	commands := make([]string, len(m.dispatched))
	for i, b := range m.dispatched {
		commands[i] = b.Command
	}
	return commands
}

// NewMockDispatcher creates a dispatcher whose writes and interrupts
// succeed unless the test overrides them.
func NewMockDispatcher(t *testing.T) *MockDispatcher {
	t.Helper()
	m := new(MockDispatcher)

	// Default behavior: writes succeed
	m.On("Dispatch", mock.Anything, mock.Anything).Return(nil).Maybe()

	// Default behavior: interrupts succeed
	m.On("Interrupt").Return(nil).Maybe()

	return m
}
