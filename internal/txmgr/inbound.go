package txmgr

import (
	"context"
	"fmt"

	"github.com/Ap3pp3rs94/txmanager/internal/b64"
	"github.com/Ap3pp3rs94/txmanager/internal/payload"
	"github.com/Ap3pp3rs94/txmanager/internal/psv"
	"github.com/Ap3pp3rs94/txmanager/internal/store"
	"github.com/Ap3pp3rs94/txmanager/internal/txerrors"
	"github.com/Ap3pp3rs94/txmanager/internal/txhash"
)

// StorePayloadResult reports what happened to an inbound payload. Dropped
// is true whenever the manager silently declined to persist it (a failed
// PSV check, not an error): the caller still gets the hash it would have
// been stored under, but nothing was written.
type StorePayloadResult struct {
	Key     string
	Dropped bool
}

// StorePayload accepts a wire-format envelope from a peer, applies the
// inbound Private State Validation rules, and persists it (or hands it to
// the ResendManager if it is this node's own message coming back).
//
// A privacy-mode mismatch and a failed sender-genuineness check are
// silent drops: the caller gets the hash back with no error and no side
// effect, so a hostile peer probing for which ACOTHs this node holds
// cannot distinguish "wrong privacy mode" from "never received" from the
// response alone. Under PSV, a recipient-set mismatch or an invalid
// security hash is returned as PrivacyViolation instead.
func (m *TransactionManager) StorePayload(ctx context.Context, raw []byte) (StorePayloadResult, error) {
	envelope, err := payload.Decode(raw)
	if err != nil {
		return StorePayloadResult{}, err
	}
	hash := txhash.Hash(envelope.CipherText)
	key := b64.Encode(hash.Bytes())

	acothMap, err := m.resolveACOTHsInbound(ctx, envelope.AffectedContractTxs)
	if err != nil {
		return StorePayloadResult{}, err
	}

	if ok, fatal := psv.PrivacyModesMatch(envelope.PrivacyMode, acothMap, true); !ok {
		if fatal {
			return StorePayloadResult{}, txerrors.Wrap(txerrors.PrivacyViolation, "privacy mode mismatch against a referenced affected transaction")
		}
		return StorePayloadResult{Key: key, Dropped: true}, nil
	}

	if envelope.PrivacyMode == payload.PrivateStateValidation {
		if !psv.SenderIsGenuine(envelope.SenderKey, len(envelope.AffectedContractTxs), acothMap) {
			return StorePayloadResult{Key: key, Dropped: true}, nil
		}
		for h, acoth := range acothMap {
			if !psv.RecipientSetsEqual(envelope.RecipientKeys, acoth.RecipientKeys) {
				return StorePayloadResult{}, txerrors.Wrap(txerrors.PrivacyViolation, fmt.Sprintf("recipient set mismatch against affected transaction %s", h.String()))
			}
		}
	}

	envelope, dropped, err := m.filterSecurityHashes(ctx, envelope)
	if err != nil {
		return StorePayloadResult{}, err
	}
	if dropped {
		return StorePayloadResult{Key: key, Dropped: true}, nil
	}

	own, err := m.isOwnOrigin(ctx, envelope.SenderKey)
	if err != nil {
		return StorePayloadResult{}, err
	}
	if own {
		if err := m.resendMgr.AcceptOwnMessage(ctx, raw, envelope); err != nil {
			return StorePayloadResult{}, fmt.Errorf("txmgr: hand own-origin message to resend manager: %w", err)
		}
		return StorePayloadResult{Key: key}, nil
	}

	if err := m.store.Save(ctx, store.EncryptedTransaction{Hash: hash, Payload: envelope}); err != nil {
		return StorePayloadResult{}, fmt.Errorf("txmgr: persist inbound transaction: %w", err)
	}
	return StorePayloadResult{Key: key}, nil
}

// resolveACOTHsInbound looks up every referenced affected transaction
// against the envelope's own claimed set. Unlike the outbound path, a
// miss here is not fatal: the payload simply carries one more ACOTH than
// this node can resolve, which SenderIsGenuine and PrivacyModesMatch use
// to decide whether to drop it.
func (m *TransactionManager) resolveACOTHsInbound(ctx context.Context, acoths []payload.AffectedTransaction) (map[txhash.TxHash]payload.EncodedPayload, error) {
	out := make(map[txhash.TxHash]payload.EncodedPayload, len(acoths))
	for _, a := range acoths {
		tx, err := m.store.RetrieveByHash(ctx, a.Hash.ToMessageHash())
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("txmgr: resolve affected transaction %s: %w", a.Hash.String(), err)
		}
		out[a.Hash] = tx.Payload
	}
	return out, nil
}

// filterSecurityHashes checks the envelope's ACOTHs against the Enclave's
// security-hash verification. Under PSV, any invalid hash is a hard
// failure (PrivacyViolation). Outside PSV, invalid entries are pruned from the
// envelope and the rest proceeds — the cipher-text itself is untouched,
// only the ACOTH list is rewritten.
func (m *TransactionManager) filterSecurityHashes(ctx context.Context, envelope payload.EncodedPayload) (payload.EncodedPayload, bool, error) {
	if len(envelope.AffectedContractTxs) == 0 {
		return envelope, false, nil
	}
	invalid, err := m.enclave.InvalidSecurityHashes(ctx, envelope.AffectedContractTxs)
	if err != nil {
		return payload.EncodedPayload{}, false, fmt.Errorf("txmgr: verify security hashes: %w", err)
	}
	if len(invalid) == 0 {
		return envelope, false, nil
	}
	if envelope.PrivacyMode == payload.PrivateStateValidation {
		return payload.EncodedPayload{}, false, txerrors.Wrap(txerrors.PrivacyViolation, fmt.Sprintf("invalid security hash for affected transaction %s", invalid[0].String()))
	}
	bad := make(map[txhash.TxHash]struct{}, len(invalid))
	for _, h := range invalid {
		bad[h] = struct{}{}
	}
	pruned := envelope.Clone()
	kept := pruned.AffectedContractTxs[:0]
	for _, a := range pruned.AffectedContractTxs {
		if _, isBad := bad[a.Hash]; isBad {
			continue
		}
		kept = append(kept, a)
	}
	pruned.AffectedContractTxs = kept
	return pruned, false, nil
}

// isOwnOrigin reports whether senderKey is one of this node's own local
// keys, meaning the message is this node's own send coming back via a
// peer relay rather than a genuinely inbound message.
func (m *TransactionManager) isOwnOrigin(ctx context.Context, senderKey payload.PublicKey) (bool, error) {
	keys, err := m.enclave.PublicKeys(ctx)
	if err != nil {
		return false, fmt.Errorf("txmgr: list local public keys: %w", err)
	}
	for _, k := range keys {
		if k.Equal(senderKey) {
			return true, nil
		}
	}
	return false, nil
}
