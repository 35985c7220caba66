package txmgr

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ap3pp3rs94/txmanager/internal/b64"
	"github.com/Ap3pp3rs94/txmanager/internal/enclave"
	"github.com/Ap3pp3rs94/txmanager/internal/payload"
	"github.com/Ap3pp3rs94/txmanager/internal/psv"
	"github.com/Ap3pp3rs94/txmanager/internal/store"
	"github.com/Ap3pp3rs94/txmanager/internal/txerrors"
	"github.com/Ap3pp3rs94/txmanager/internal/txhash"
)

// SendRequest is the input to send. From is nil/empty to request the
// Enclave's default key.
type SendRequest struct {
	From                         payload.PublicKey
	To                           []payload.PublicKey
	RawPayload                   []byte
	PrivacyMode                  payload.PrivacyMode
	ExecHash                     []byte
	AffectedContractTransactions []payload.AffectedTransaction
}

// SendSignedTransactionRequest re-sends a previously store()d raw
// transaction, now addressed to real recipients.
type SendSignedTransactionRequest struct {
	Hash                         txhash.MessageHash
	To                           []payload.PublicKey
	PrivacyMode                  payload.PrivacyMode
	ExecHash                     []byte
	AffectedContractTransactions []payload.AffectedTransaction
}

// SendResult carries the base64 content-address key callers use to
// retrieve or reference the stored transaction.
type SendResult struct {
	Key string
}

// Send assembles recipients, validates PSV rules against referenced
// ACOTHs, encrypts, persists, and best-effort publishes to every
// recipient.
func (m *TransactionManager) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	sender := req.From
	if len(sender) == 0 {
		k, err := m.enclave.DefaultKey(ctx)
		if err != nil {
			return SendResult{}, fmt.Errorf("txmgr: resolve default sender key: %w", err)
		}
		sender = k
	}
	return m.outbound(ctx, sender, req.RawPayload, req.To, req.PrivacyMode, req.ExecHash, req.AffectedContractTransactions)
}

// SendSignedTransaction recovers the plaintext of a previously stored
// raw transaction and runs it through the same outbound pipeline as
// Send, using the raw transaction's own sender.
func (m *TransactionManager) SendSignedTransaction(ctx context.Context, req SendSignedTransactionRequest) (SendResult, error) {
	raw, err := m.rawStore.RetrieveByHash(ctx, req.Hash)
	if err != nil {
		if isNotFound(err) {
			return SendResult{}, txerrors.Wrap(txerrors.TransactionNotFound, req.Hash.String())
		}
		return SendResult{}, fmt.Errorf("txmgr: load raw transaction: %w", err)
	}
	plaintext, err := m.enclave.RawDecrypt(ctx, raw.EncryptedPayload, raw.EncryptedKey, raw.Nonce, raw.From)
	if err != nil {
		return SendResult{}, fmt.Errorf("txmgr: recover raw transaction plaintext: %w", err)
	}
	return m.outbound(ctx, raw.From, plaintext, req.To, req.PrivacyMode, req.ExecHash, req.AffectedContractTransactions)
}

// outbound is the shared pipeline behind Send and SendSignedTransaction.
func (m *TransactionManager) outbound(
	ctx context.Context,
	sender payload.PublicKey,
	rawPayload []byte,
	to []payload.PublicKey,
	mode payload.PrivacyMode,
	execHash []byte,
	acoths []payload.AffectedTransaction,
) (SendResult, error) {
	forwarding, err := m.enclave.ForwardingKeys(ctx)
	if err != nil {
		return SendResult{}, fmt.Errorf("txmgr: list forwarding keys: %w", err)
	}
	recipients := dedupeRecipients(to, sender, forwarding)

	acothMap, err := m.resolveACOTHsOutbound(ctx, acoths)
	if err != nil {
		return SendResult{}, err
	}

	if ok, _ := psv.PrivacyModesMatch(mode, acothMap, false); !ok {
		return SendResult{}, txerrors.Wrap(txerrors.PrivacyViolation, "privacy mode mismatch against a referenced affected transaction")
	}

	if mode == payload.PrivateStateValidation {
		for hash, acoth := range acothMap {
			if !psv.RecipientsEqual(recipients, acoth) {
				return SendResult{}, txerrors.Wrap(txerrors.PrivacyViolation, fmt.Sprintf("recipient set mismatch against affected transaction %s", hash.String()))
			}
		}
	}

	if execHash == nil {
		execHash = []byte{}
	}

	envelope, err := m.enclave.Encrypt(ctx, enclave.EncryptRequest{
		Sender:      sender,
		Recipients:  recipients,
		RawPayload:  rawPayload,
		PrivacyMode: mode,
		ACOTHs:      acoths,
		ExecHash:    execHash,
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("txmgr: encrypt outbound payload: %w", err)
	}

	hash := txhash.Hash(envelope.CipherText)
	if err := m.store.Save(ctx, store.EncryptedTransaction{Hash: hash, Payload: envelope}); err != nil {
		return SendResult{}, fmt.Errorf("txmgr: persist outbound transaction: %w", err)
	}

	for _, r := range recipients {
		recipient := r
		projected, err := payload.ForRecipient(envelope, recipient)
		if err != nil {
			m.logger.Warn(ctx, "skip fan-out: recipient not in projected envelope", map[string]any{
				"hash":      hash.String(),
				"recipient": b64.Encode(recipient),
				"error":     err,
			})
			continue
		}
		m.publish(ctx, hash, recipient, func(ctx context.Context) error {
			return m.partyInfo.Publish(ctx, recipient, projected)
		})
	}

	return SendResult{Key: b64.Encode(hash.Bytes())}, nil
}

// resolveACOTHsOutbound looks up every referenced affected transaction
// locally. A miss on outbound send is fatal: we cannot validate
// consistency against a payload we don't have.
func (m *TransactionManager) resolveACOTHsOutbound(ctx context.Context, acoths []payload.AffectedTransaction) (map[txhash.TxHash]payload.EncodedPayload, error) {
	out := make(map[txhash.TxHash]payload.EncodedPayload, len(acoths))
	for _, a := range acoths {
		tx, err := m.store.RetrieveByHash(ctx, a.Hash.ToMessageHash())
		if err != nil {
			if isNotFound(err) {
				return nil, txerrors.Wrap(txerrors.PrivacyViolation, fmt.Sprintf("affected transaction %s not found locally", a.Hash.String()))
			}
			return nil, fmt.Errorf("txmgr: resolve affected transaction %s: %w", a.Hash.String(), err)
		}
		out[a.Hash] = tx.Payload
	}
	return out, nil
}

// dedupeRecipients builds the outbound recipient list: requested
// recipients, the sender, and the Enclave's forwarding keys, in
// first-seen order with duplicates removed.
func dedupeRecipients(to []payload.PublicKey, sender payload.PublicKey, forwarding []payload.PublicKey) []payload.PublicKey {
	seen := map[string]struct{}{}
	out := make([]payload.PublicKey, 0, len(to)+1+len(forwarding))
	add := func(k payload.PublicKey) {
		s := string(k)
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, k)
	}
	for _, k := range to {
		add(k)
	}
	add(sender)
	for _, k := range forwarding {
		add(k)
	}
	return out
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
