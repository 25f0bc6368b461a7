package cutover

import (
	"context"
	"sync"
)

// MemorySwitch is an in-memory Switch for tests and dry runs.
type MemorySwitch struct {
	mu      sync.Mutex
	flipped map[string]bool

	// FlipErr and RevertErr, if set, are returned by the respective
	// operations to simulate failures.
	FlipErr   error
	RevertErr error
}

// Compile-time check that MemorySwitch implements Switch.
var _ Switch = (*MemorySwitch)(nil)

// NewMemorySwitch creates an empty MemorySwitch.
func NewMemorySwitch() *MemorySwitch {
	return &MemorySwitch{flipped: make(map[string]bool)}
}

// Flip implements the Switch interface.
func (s *MemorySwitch) Flip(ctx context.Context, migration string) error {
	if s.FlipErr != nil {
		return s.FlipErr
	}
	s.mu.Lock()
	s.flipped[migration] = true
	s.mu.Unlock()
	return nil
}

// Revert implements the Switch interface.
func (s *MemorySwitch) Revert(ctx context.Context, migration string) error {
	if s.RevertErr != nil {
		return s.RevertErr
	}
	s.mu.Lock()
	s.flipped[migration] = false
	s.mu.Unlock()
	return nil
}

// NewShape reports whether the migration's read path is flipped.
func (s *MemorySwitch) NewShape(migration string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flipped[migration]
}
