package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Ap3pp3rs94/txmanager/internal/payload"
	"github.com/Ap3pp3rs94/txmanager/internal/txerrors"
	"github.com/Ap3pp3rs94/txmanager/internal/txhash"
)

// EncryptedRawTransaction is a pre-encrypted, sender-only record, stored
// only on the originating node, never mutated after store().
type EncryptedRawTransaction struct {
	Hash             txhash.MessageHash
	EncryptedPayload []byte
	EncryptedKey     []byte
	Nonce            []byte
	From             payload.PublicKey
}

// RawTxStore persists EncryptedRawTransaction records.
type RawTxStore struct{ s *SQLStore }

// NewRawTxStore adapts a SQLStore into the RawTxStore view.
func NewRawTxStore(s *SQLStore) *RawTxStore { return &RawTxStore{s: s} }

// Save persists raw, idempotent by hash like TxStore.Save.
func (r *RawTxStore) Save(ctx context.Context, raw EncryptedRawTransaction) error {
	existing, err := r.RetrieveByHash(ctx, raw.Hash)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err == nil {
		if bytes.Equal(existing.EncryptedPayload, raw.EncryptedPayload) &&
			bytes.Equal(existing.EncryptedKey, raw.EncryptedKey) &&
			bytes.Equal(existing.Nonce, raw.Nonce) &&
			existing.From.Equal(raw.From) {
			return nil
		}
		return txerrors.Wrap(txerrors.HashCollision, raw.Hash.String())
	}

	_, execErr := r.s.db.ExecContext(ctx,
		rebind(r.s.opts.Dialect, `INSERT INTO ST_RAW_TRANSACTION (HASH, ENCRYPTED_PAYLOAD, ENCRYPTED_KEY, NONCE, SENDER_KEY) VALUES (?, ?, ?, ?, ?)`),
		raw.Hash.String(), raw.EncryptedPayload, raw.EncryptedKey, raw.Nonce, []byte(raw.From),
	)
	if execErr != nil {
		return fmt.Errorf("%w: insert ST_RAW_TRANSACTION: %v", ErrDB, execErr)
	}
	return nil
}

// RetrieveByHash loads a raw transaction, ErrNotFound if absent.
func (r *RawTxStore) RetrieveByHash(ctx context.Context, hash txhash.MessageHash) (EncryptedRawTransaction, error) {
	row := r.s.db.QueryRowContext(ctx,
		rebind(r.s.opts.Dialect, `SELECT ENCRYPTED_PAYLOAD, ENCRYPTED_KEY, NONCE, SENDER_KEY FROM ST_RAW_TRANSACTION WHERE HASH = ?`),
		hash.String())
	var encPayload, encKey, nonce, from []byte
	if err := row.Scan(&encPayload, &encKey, &nonce, &from); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EncryptedRawTransaction{}, ErrNotFound
		}
		return EncryptedRawTransaction{}, fmt.Errorf("%w: select ST_RAW_TRANSACTION: %v", ErrDB, err)
	}
	return EncryptedRawTransaction{
		Hash:             hash,
		EncryptedPayload: encPayload,
		EncryptedKey:     encKey,
		Nonce:            nonce,
		From:             payload.PublicKey(from),
	}, nil
}

// Delete removes a raw transaction. Idempotent.
func (r *RawTxStore) Delete(ctx context.Context, hash txhash.MessageHash) error {
	if _, err := r.s.db.ExecContext(ctx, rebind(r.s.opts.Dialect, `DELETE FROM ST_RAW_TRANSACTION WHERE HASH = ?`), hash.String()); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrDB, err)
	}
	return nil
}
