package txmgr

import (
	"context"
	"fmt"

	"github.com/Ap3pp3rs94/txmanager/internal/b64"
	"github.com/Ap3pp3rs94/txmanager/internal/payload"
	"github.com/Ap3pp3rs94/txmanager/internal/txerrors"
	"github.com/Ap3pp3rs94/txmanager/internal/txhash"
)

// ResendAll walks every stored transaction in pages of the manager's
// configured fetch size and re-publishes, to recipient, whichever
// projection it is entitled to: its own box if it is a listed recipient,
// or — if recipient was this transaction's original sender — the full
// un-pruned payload, recovered by finding whichever local key can still
// decrypt it.
//
// A page-scan failure or a failed key search on a self-sent transaction
// aborts the whole walk: the caller receiving KeyNotFound here means this
// node can no longer decrypt its own historical sends, which is worth
// surfacing rather than silently skipping. A single recipient's publish
// failure, by contrast, is logged and the walk continues — one flaky
// peer must not block recovery for every other transaction.
func (m *TransactionManager) ResendAll(ctx context.Context, recipient payload.PublicKey) error {
	total, err := m.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("txmgr: count stored transactions: %w", err)
	}
	for offset := 0; offset < total; {
		page, err := m.store.RetrievePage(ctx, offset, m.resendFetchSize)
		if err != nil {
			return fmt.Errorf("txmgr: page stored transactions at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			break
		}
		offset += len(page)

		for _, tx := range page {
			p := tx.Payload
			switch {
			case p.SenderKey.Equal(recipient):
				_, localKey, err := m.trialDecrypt(ctx, p)
				if err != nil {
					return txerrors.Wrap(txerrors.KeyNotFound, tx.Hash.String())
				}
				full := p.Clone()
				full.RecipientKeys = appendIfAbsent(full.RecipientKeys, localKey)
				m.publish(ctx, tx.Hash, recipient, func(ctx context.Context) error {
					return m.partyInfo.Publish(ctx, recipient, full)
				})
			case p.IndexOfRecipient(recipient) >= 0:
				projected, err := payload.ForRecipient(p, recipient)
				if err != nil {
					m.logger.Warn(ctx, "resend all: skip unprojectable transaction", map[string]any{
						"hash":  tx.Hash.String(),
						"error": err,
					})
					continue
				}
				m.publish(ctx, tx.Hash, recipient, func(ctx context.Context) error {
					return m.partyInfo.Publish(ctx, recipient, projected)
				})
			}
		}
	}
	return nil
}

// ResendIndividualRequest names one stored transaction by its content
// address key.
type ResendIndividualRequest struct {
	Recipient payload.PublicKey
	Key       string
}

// ResendIndividual looks up one transaction and returns, rather than
// publishes, the projection recipient is entitled to.
//
// Unlike ResendAll, a failed key search on a self-sent transaction here
// is deliberately reported as a generic internal error rather than
// KeyNotFound: the two resend modes were built against the same
// underlying key-search helper but were never reconciled to surface the
// same error code, and this core preserves that asymmetry rather than
// papering over it.
func (m *TransactionManager) ResendIndividual(ctx context.Context, req ResendIndividualRequest) (payload.EncodedPayload, error) {
	raw, err := b64.Decode(req.Key)
	if err != nil {
		return payload.EncodedPayload{}, txerrors.Wrap(txerrors.MalformedPayload, fmt.Sprintf("invalid key: %v", err))
	}
	hash, ok := txhash.FromBytes(raw)
	if !ok {
		return payload.EncodedPayload{}, txerrors.Wrap(txerrors.MalformedPayload, "key is not a valid hash")
	}

	tx, err := m.store.RetrieveByHash(ctx, hash)
	if err != nil {
		if isNotFound(err) {
			return payload.EncodedPayload{}, txerrors.Wrap(txerrors.TransactionNotFound, req.Key)
		}
		return payload.EncodedPayload{}, fmt.Errorf("txmgr: load transaction: %w", err)
	}

	p := tx.Payload
	if p.SenderKey.Equal(req.Recipient) {
		_, localKey, err := m.trialDecrypt(ctx, p)
		if err != nil {
			return payload.EncodedPayload{}, txerrors.Wrap(txerrors.Internal, fmt.Sprintf("resend individual: no local key for self-sent transaction %s", hash.String()))
		}
		full := p.Clone()
		full.RecipientKeys = appendIfAbsent(full.RecipientKeys, localKey)
		return full, nil
	}

	projected, err := payload.ForRecipient(p, req.Recipient)
	if err != nil {
		return payload.EncodedPayload{}, err
	}
	return projected, nil
}

func appendIfAbsent(keys []payload.PublicKey, k payload.PublicKey) []payload.PublicKey {
	for _, existing := range keys {
		if existing.Equal(k) {
			return keys
		}
	}
	return append(keys, k)
}
