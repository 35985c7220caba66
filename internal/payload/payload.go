// Package payload implements the EncodedPayload envelope and its codec:
// canonical binary encode/decode and the per-recipient projection used
// to strip other recipients' boxes before a payload goes out over the
// wire.
//
// Grounded on this repository's deterministic binary/canonical-encoding
// discipline elsewhere (sorted keys, stable field order, no randomness,
// structural validation before a value is accepted), generalized from
// JSON entity envelopes to a length-prefixed binary envelope —
// EncodedPayload crosses process and node boundaries as opaque bytes,
// not JSON, so the wire format here is TLV-style rather than canonical
// JSON.
package payload

import (
	"bytes"
	"fmt"

	"github.com/Ap3pp3rs94/txmanager/internal/txerrors"
	"github.com/Ap3pp3rs94/txmanager/internal/txhash"
)

// PublicKey is an opaque fixed-width key. Equality is by bytes.
type PublicKey []byte

func (k PublicKey) Equal(other PublicKey) bool { return bytes.Equal(k, other) }

// PrivacyMode is the tagged enum gating PSV behavior at each dispatch point.
type PrivacyMode byte

const (
	StandardPrivate PrivacyMode = iota
	PartyProtection
	PrivateStateValidation
)

func (m PrivacyMode) Valid() bool {
	return m == StandardPrivate || m == PartyProtection || m == PrivateStateValidation
}

func (m PrivacyMode) String() string {
	switch m {
	case StandardPrivate:
		return "STANDARD_PRIVATE"
	case PartyProtection:
		return "PARTY_PROTECTION"
	case PrivateStateValidation:
		return "PRIVATE_STATE_VALIDATION"
	default:
		return "UNKNOWN"
	}
}

// AffectedTransaction is one ACOTH reference: a prior transaction hash plus
// the security hash the Enclave can verify it against.
type AffectedTransaction struct {
	Hash         txhash.TxHash
	SecurityHash []byte
}

// EncodedPayload is the canonical on-wire/on-disk envelope for one
// private transaction.
type EncodedPayload struct {
	SenderKey           PublicKey
	CipherText          []byte
	CipherTextNonce     []byte
	RecipientBoxes      [][]byte
	RecipientNonce      []byte
	RecipientKeys       []PublicKey
	PrivacyMode         PrivacyMode
	AffectedContractTxs []AffectedTransaction
	ExecHash            []byte
}

// Clone returns a deep copy so callers can mutate (e.g. forRecipient,
// security-hash pruning) without aliasing the original.
func (p EncodedPayload) Clone() EncodedPayload {
	out := EncodedPayload{
		SenderKey:       append(PublicKey{}, p.SenderKey...),
		CipherText:      append([]byte{}, p.CipherText...),
		CipherTextNonce: append([]byte{}, p.CipherTextNonce...),
		RecipientNonce:  append([]byte{}, p.RecipientNonce...),
		PrivacyMode:     p.PrivacyMode,
		ExecHash:        append([]byte{}, p.ExecHash...),
	}
	out.RecipientBoxes = make([][]byte, len(p.RecipientBoxes))
	for i, b := range p.RecipientBoxes {
		out.RecipientBoxes[i] = append([]byte{}, b...)
	}
	out.RecipientKeys = make([]PublicKey, len(p.RecipientKeys))
	for i, k := range p.RecipientKeys {
		out.RecipientKeys[i] = append(PublicKey{}, k...)
	}
	out.AffectedContractTxs = make([]AffectedTransaction, len(p.AffectedContractTxs))
	for i, a := range p.AffectedContractTxs {
		out.AffectedContractTxs[i] = AffectedTransaction{Hash: a.Hash, SecurityHash: append([]byte{}, a.SecurityHash...)}
	}
	return out
}

// IndexOfRecipient returns the position of target in RecipientKeys, or -1.
func (p EncodedPayload) IndexOfRecipient(target PublicKey) int {
	for i, k := range p.RecipientKeys {
		if k.Equal(target) {
			return i
		}
	}
	return -1
}

// ACOTHMap returns the affected-transaction list as a TxHash->securityHash
// mapping view. Keys are unique by construction (validateStructure
// rejects duplicates).
func (p EncodedPayload) ACOTHMap() map[txhash.TxHash][]byte {
	out := make(map[txhash.TxHash][]byte, len(p.AffectedContractTxs))
	for _, a := range p.AffectedContractTxs {
		out[a.Hash] = a.SecurityHash
	}
	return out
}

// validateStructure enforces the invariants a well-formed envelope must
// satisfy before it is accepted off the wire: a recognized privacy mode,
// boxes positionally aligned with keys, and unique ACOTH hashes.
func validateStructure(p EncodedPayload) error {
	if !p.PrivacyMode.Valid() {
		return txerrors.Wrap(txerrors.MalformedPayload, fmt.Sprintf("unknown privacy mode %d", p.PrivacyMode))
	}
	if len(p.RecipientBoxes) != 0 && len(p.RecipientKeys) != 0 && len(p.RecipientBoxes) != len(p.RecipientKeys) {
		return txerrors.Wrap(txerrors.MalformedPayload, "recipientBoxes/recipientKeys length mismatch")
	}
	seen := make(map[txhash.TxHash]struct{}, len(p.AffectedContractTxs))
	for _, a := range p.AffectedContractTxs {
		if _, dup := seen[a.Hash]; dup {
			return txerrors.Wrap(txerrors.MalformedPayload, "duplicate affected-contract-transaction hash")
		}
		seen[a.Hash] = struct{}{}
	}
	return nil
}
