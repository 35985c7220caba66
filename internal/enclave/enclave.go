// Package enclave defines the Enclave boundary: an external
// cryptographic oracle this core treats as out of scope, owning private
// keys and performing encrypt/decrypt and security-hash verification.
//
// Only the interface is normative. MemEnclave in mem_enclave.go is a
// reference, non-production implementation used to exercise
// TransactionManager in tests and in the cmd/txmanagerd reference binary —
// a real deployment supplies its own Enclave.
package enclave

import (
	"context"

	"github.com/Ap3pp3rs94/txmanager/internal/payload"
	"github.com/Ap3pp3rs94/txmanager/internal/txhash"
)

// EncryptRequest carries everything the Enclave needs to build an outbound
// envelope; the TransactionManager has already resolved the recipient
// list, ACOTHs, and privacy mode.
type EncryptRequest struct {
	Sender      payload.PublicKey
	Recipients  []payload.PublicKey
	RawPayload  []byte
	PrivacyMode payload.PrivacyMode
	ACOTHs      []payload.AffectedTransaction
	ExecHash    []byte // empty unless PrivacyMode == PrivateStateValidation
}

// Enclave is the cryptographic oracle interface.
type Enclave interface {
	// Encrypt builds a fully-formed EncodedPayload for req, including
	// per-recipient boxes in the same order as req.Recipients.
	Encrypt(ctx context.Context, req EncryptRequest) (payload.EncodedPayload, error)

	// Decrypt attempts to recover plaintext from p as recipientKey. Any
	// failure (wrong key, corrupt box) is returned as an error; callers
	// performing trial decryption treat every error uniformly as "wrong
	// key, try next" and never surface it directly.
	Decrypt(ctx context.Context, p payload.EncodedPayload, recipientKey payload.PublicKey) ([]byte, error)

	// RawEncrypt supports store(): sender-only, pre-distribution
	// encryption with no recipient boxes yet.
	RawEncrypt(ctx context.Context, raw []byte, sender payload.PublicKey) (cipherText, encryptedKey, nonce []byte, err error)

	// RawDecrypt recovers the plaintext a prior RawEncrypt call sealed,
	// used by sendSignedTransaction to turn a previously-stored raw
	// transaction back into plaintext before it is re-encrypted for its
	// eventual recipients.
	RawDecrypt(ctx context.Context, cipherText, encryptedKey, nonce []byte, sender payload.PublicKey) ([]byte, error)

	// ForwardingKeys returns keys automatically added as a recipient of
	// every outbound payload (e.g. compliance backup).
	ForwardingKeys(ctx context.Context) ([]payload.PublicKey, error)

	// DefaultKey is used by send() when the request omits `from`.
	DefaultKey(ctx context.Context) (payload.PublicKey, error)

	// PublicKeys is this node's local key inventory, used for trial
	// decryption (receive, resend) and for recognizing own-origin
	// inbound payloads (storePayload).
	PublicKeys(ctx context.Context) ([]payload.PublicKey, error)

	// InvalidSecurityHashes returns the subset of acoths whose security
	// hash the Enclave cannot verify against its locally known state.
	InvalidSecurityHashes(ctx context.Context, acoths []payload.AffectedTransaction) ([]txhash.TxHash, error)
}
