// Package partyinfo defines the PartyInfo boundary: an external sink
// that publishes one projected envelope to one peer key. Only the
// interface is normative; HTTPPublisher and WSPublisher are concrete
// reference adapters.
package partyinfo

import (
	"context"

	"github.com/Ap3pp3rs94/txmanager/internal/payload"
)

// PartyInfo publishes an already-projected envelope to one recipient key.
// Publish failures are the caller's concern to suppress or retry — this
// interface itself just reports success or failure honestly.
type PartyInfo interface {
	Publish(ctx context.Context, recipient payload.PublicKey, envelope payload.EncodedPayload) error
}

// Resolver maps a recipient PublicKey to the network address PartyInfo
// should publish to. In a real deployment this is a gossiped directory;
// the reference adapters here take a static map, which is sufficient
// for wiring and tests since address discovery itself is out of scope.
type Resolver interface {
	AddressFor(recipient payload.PublicKey) (string, bool)
}

// StaticResolver is a fixed recipient->address table.
type StaticResolver map[string]string

func (r StaticResolver) AddressFor(recipient payload.PublicKey) (string, bool) {
	addr, ok := r[string(recipient)]
	return addr, ok
}
