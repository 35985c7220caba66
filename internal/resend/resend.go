// Package resend defines the ResendManager boundary: an external sink
// that decides what happens when this node's own previously-sent
// payload comes back to it via a peer relay, typically during a
// privacy-group reconciliation pass.
//
// Only the interface is normative. MemResendManager in mem_resend.go is
// a reference, in-memory implementation used to exercise
// TransactionManager in tests and the reference binary.
package resend

import (
	"context"

	"github.com/Ap3pp3rs94/txmanager/internal/payload"
)

// ResendManager accepts an own-origin inbound message for reconciliation.
// The transaction manager never persists such a message itself; it hands
// the raw bytes off and lets the ResendManager decide.
type ResendManager interface {
	AcceptOwnMessage(ctx context.Context, raw []byte, envelope payload.EncodedPayload) error
}
