package resend

import (
	"context"
	"sync"

	"github.com/Ap3pp3rs94/txmanager/internal/payload"
)

// Accepted is one message handed to a ResendManager for reconciliation.
type Accepted struct {
	Raw      []byte
	Envelope payload.EncodedPayload
}

// MemResendManager is a reference ResendManager: it records every
// own-origin message it is handed, in a bounded in-memory list, so
// reference wiring and tests can assert on reconciliation without a real
// privacy-group coordinator.
type MemResendManager struct {
	mu       sync.Mutex
	maxSize  int
	accepted []Accepted
}

func NewMemResendManager(maxSize int) *MemResendManager {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &MemResendManager{maxSize: maxSize}
}

func (m *MemResendManager) AcceptOwnMessage(ctx context.Context, raw []byte, envelope payload.EncodedPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.accepted) >= m.maxSize {
		m.accepted = m.accepted[1:]
	}
	m.accepted = append(m.accepted, Accepted{Raw: append([]byte{}, raw...), Envelope: envelope.Clone()})
	return nil
}

// Snapshot returns a copy of every message accepted so far.
func (m *MemResendManager) Snapshot() []Accepted {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Accepted, len(m.accepted))
	copy(out, m.accepted)
	return out
}
