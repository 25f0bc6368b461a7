package executor

import (
	"context"
	"sync"
)

// MockRunner is a mock implementation of Runner for testing.
type MockRunner struct {
	mu       sync.Mutex
	RunFunc  func(ctx context.Context, artifactPath string) (Result, error)
	RunCalls []string
}

// Compile-time check that MockRunner implements Runner.
var _ Runner = (*MockRunner)(nil)

// NewMockRunner creates a new MockRunner with an empty call history.
func NewMockRunner() *MockRunner {
	return &MockRunner{RunCalls: make([]string, 0)}
}

// Run implements the Runner interface.
// It records the artifact path, then:
// - If RunFunc is set, calls and returns it
// - Otherwise, returns an empty successful Result
func (m *MockRunner) Run(ctx context.Context, artifactPath string) (Result, error) {
	m.mu.Lock()
	m.RunCalls = append(m.RunCalls, artifactPath)
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx, artifactPath)
	}
	return Result{}, nil
}

// Calls returns a copy of the recorded artifact paths.
func (m *MockRunner) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.RunCalls))
	copy(out, m.RunCalls)
	return out
}

// Reset clears the call history.
func (m *MockRunner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RunCalls = make([]string, 0)
}
