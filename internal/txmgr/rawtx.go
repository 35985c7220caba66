package txmgr

import (
	"context"
	"fmt"

	"github.com/Ap3pp3rs94/txmanager/internal/b64"
	"github.com/Ap3pp3rs94/txmanager/internal/payload"
	"github.com/Ap3pp3rs94/txmanager/internal/store"
	"github.com/Ap3pp3rs94/txmanager/internal/txerrors"
	"github.com/Ap3pp3rs94/txmanager/internal/txhash"
)

// StoreRequest seals a raw transaction under the sender's own key, ahead
// of knowing its real recipients — used when a transaction is signed
// before the parties it will eventually be sent to are resolved.
type StoreRequest struct {
	From       payload.PublicKey // empty to use the Enclave's default key
	RawPayload []byte
}

// Store seals req.RawPayload for later recall by SendSignedTransaction.
// The record never leaves this node and is never mutated once written.
func (m *TransactionManager) Store(ctx context.Context, req StoreRequest) (string, error) {
	sender := req.From
	if len(sender) == 0 {
		k, err := m.enclave.DefaultKey(ctx)
		if err != nil {
			return "", fmt.Errorf("txmgr: resolve default sender key: %w", err)
		}
		sender = k
	}
	cipherText, encryptedKey, nonce, err := m.enclave.RawEncrypt(ctx, req.RawPayload, sender)
	if err != nil {
		return "", fmt.Errorf("txmgr: seal raw transaction: %w", err)
	}
	hash := txhash.Hash(cipherText)
	raw := store.EncryptedRawTransaction{
		Hash:             hash,
		EncryptedPayload: cipherText,
		EncryptedKey:     encryptedKey,
		Nonce:            nonce,
		From:             sender,
	}
	if err := m.rawStore.Save(ctx, raw); err != nil {
		return "", fmt.Errorf("txmgr: persist raw transaction: %w", err)
	}
	return b64.Encode(hash.Bytes()), nil
}

// Delete removes a finalized transaction by its content-address key.
// Idempotent: deleting an absent or already-deleted key is not an error.
//
// Delete targets the finalized ST_TRANSACTION store, not the raw
// pre-distribution store: a sealed-but-never-sent raw transaction has no
// delete path of its own, since nothing outside this node ever observed
// it and store()/sendSignedTransaction() already treat it as immutable
// once written.
func (m *TransactionManager) Delete(ctx context.Context, key string) error {
	raw, err := b64.Decode(key)
	if err != nil {
		return txerrors.Wrap(txerrors.MalformedPayload, fmt.Sprintf("invalid key: %v", err))
	}
	hash, ok := txhash.FromBytes(raw)
	if !ok {
		return txerrors.Wrap(txerrors.MalformedPayload, "key is not a valid hash")
	}
	if err := m.store.Delete(ctx, hash); err != nil {
		return fmt.Errorf("txmgr: delete transaction: %w", err)
	}
	return nil
}
