package txmgr

import (
	"context"
	"fmt"

	"github.com/Ap3pp3rs94/txmanager/internal/b64"
	"github.com/Ap3pp3rs94/txmanager/internal/payload"
	"github.com/Ap3pp3rs94/txmanager/internal/txerrors"
	"github.com/Ap3pp3rs94/txmanager/internal/txhash"
)

// ReceiveRequest looks up a stored transaction by its content-address key
// and decrypts it. To is nil/empty to request trial decryption over every
// local key.
type ReceiveRequest struct {
	Key string
	To  payload.PublicKey
}

// ReceiveResult is the recovered plaintext plus the sender and recipient
// keys the caller asked for (or the one trial decryption succeeded with).
type ReceiveResult struct {
	RawPayload []byte
	SenderKey  payload.PublicKey
	To         payload.PublicKey
}

// Receive loads the transaction addressed by req.Key and recovers
// plaintext. With an explicit To it decrypts with exactly that key; with
// none it tries every local key in turn and returns the first one that
// works, which is how a node with several managed accounts recovers a
// payload addressed to any one of them without the caller needing to
// know which.
func (m *TransactionManager) Receive(ctx context.Context, req ReceiveRequest) (ReceiveResult, error) {
	raw, err := b64.Decode(req.Key)
	if err != nil {
		return ReceiveResult{}, txerrors.Wrap(txerrors.MalformedPayload, fmt.Sprintf("invalid key: %v", err))
	}
	hash, ok := txhash.FromBytes(raw)
	if !ok {
		return ReceiveResult{}, txerrors.Wrap(txerrors.MalformedPayload, "key is not a valid hash")
	}

	tx, err := m.store.RetrieveByHash(ctx, hash)
	if err != nil {
		if isNotFound(err) {
			return ReceiveResult{}, txerrors.Wrap(txerrors.TransactionNotFound, req.Key)
		}
		return ReceiveResult{}, fmt.Errorf("txmgr: load transaction: %w", err)
	}

	if len(req.To) != 0 {
		plaintext, err := m.enclave.Decrypt(ctx, tx.Payload, req.To)
		if err != nil {
			return ReceiveResult{}, txerrors.Wrap(txerrors.NoRecipientKeyFound, req.Key)
		}
		return ReceiveResult{RawPayload: plaintext, SenderKey: tx.Payload.SenderKey, To: req.To}, nil
	}

	plaintext, key, err := m.trialDecrypt(ctx, tx.Payload)
	if err != nil {
		return ReceiveResult{}, txerrors.Wrap(txerrors.NoRecipientKeyFound, req.Key)
	}
	return ReceiveResult{RawPayload: plaintext, SenderKey: tx.Payload.SenderKey, To: key}, nil
}

// trialDecrypt tries every local key against p in turn, returning the
// first successful decryption. Every per-key failure is swallowed: a
// wrong key looks identical to a corrupt box from the outside, and the
// caller only cares whether some local key worked.
func (m *TransactionManager) trialDecrypt(ctx context.Context, p payload.EncodedPayload) ([]byte, payload.PublicKey, error) {
	keys, err := m.enclave.PublicKeys(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("txmgr: list local public keys: %w", err)
	}
	for _, k := range keys {
		plaintext, err := m.enclave.Decrypt(ctx, p, k)
		if err != nil {
			continue
		}
		return plaintext, k, nil
	}
	return nil, nil, fmt.Errorf("txmgr: no local key decrypts this payload")
}
