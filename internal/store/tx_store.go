package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/Ap3pp3rs94/txmanager/internal/payload"
	"github.com/Ap3pp3rs94/txmanager/internal/txerrors"
	"github.com/Ap3pp3rs94/txmanager/internal/txhash"
)

// EncryptedTransaction is the logical persisted record: identity is
// Hash, content is the decoded envelope. The relational columns in
// ST_TRANSACTION/ST_AFFECTED_TRANSACTION/ST_TRANSACTION_RECIPIENT are
// the physical decomposition of Payload.
type EncryptedTransaction struct {
	Hash    txhash.MessageHash
	Payload payload.EncodedPayload
}

// TxStore is the persistence component for finalized encrypted
// transactions: CRUD plus a paged scan.
type TxStore struct{ s *SQLStore }

// NewTxStore adapts a SQLStore into the TxStore view.
func NewTxStore(s *SQLStore) *TxStore { return &TxStore{s: s} }

// Save persists tx, idempotent by hash: re-saving the exact same payload
// under a hash already present is a no-op; re-saving a different payload
// under that hash is a txerrors.HashCollision error, which should never happen under a
// collision-resistant hash and is a fatal invariant break.
func (t *TxStore) Save(ctx context.Context, tx EncryptedTransaction) error {
	existing, err := t.RetrieveByHash(ctx, tx.Hash)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err == nil {
		if payloadsEqual(existing.Payload, tx.Payload) {
			return nil
		}
		return txerrors.Wrap(txerrors.HashCollision, tx.Hash.String())
	}

	dbTx, err := t.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrDB, err)
	}
	defer func() { _ = dbTx.Rollback() }()

	hashHex := tx.Hash.String()
	p := tx.Payload
	if _, err := dbTx.ExecContext(ctx,
		rebind(t.s.opts.Dialect, `INSERT INTO ST_TRANSACTION
			(HASH, CIPHER_TEXT, CIPHER_TEXT_NONCE, SENDER_KEY, RECIPIENT_NONCE, PRIVACY_MODE, EXEC_HASH, TIMESTAMP, VALIDATION_STAGE, DATA_ISSUES)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		hashHex, p.CipherText, p.CipherTextNonce, []byte(p.SenderKey), p.RecipientNonce,
		int(p.PrivacyMode), p.ExecHash, t.s.opts.Clock(), 0, "",
	); err != nil {
		return fmt.Errorf("%w: insert ST_TRANSACTION: %v", ErrDB, err)
	}

	for _, a := range p.AffectedContractTxs {
		if _, err := dbTx.ExecContext(ctx,
			rebind(t.s.opts.Dialect, `INSERT INTO ST_AFFECTED_TRANSACTION (AFFECTED_HASH, SOURCE_HASH, SECURITY_HASH) VALUES (?, ?, ?)`),
			a.Hash.ToMessageHash().String(), hashHex, a.SecurityHash,
		); err != nil {
			return fmt.Errorf("%w: insert ST_AFFECTED_TRANSACTION: %v", ErrDB, err)
		}
	}

	for i, k := range p.RecipientKeys {
		var box []byte
		if i < len(p.RecipientBoxes) {
			box = p.RecipientBoxes[i]
		}
		if _, err := dbTx.ExecContext(ctx,
			rebind(t.s.opts.Dialect, `INSERT INTO ST_TRANSACTION_RECIPIENT (HASH, RECIPIENT, BOX, INITIATOR) VALUES (?, ?, ?, ?)`),
			hashHex, []byte(k), box, false,
		); err != nil {
			return fmt.Errorf("%w: insert ST_TRANSACTION_RECIPIENT: %v", ErrDB, err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrDB, err)
	}
	return nil
}

// RetrieveByHash loads a transaction, returning ErrNotFound if absent.
func (t *TxStore) RetrieveByHash(ctx context.Context, hash txhash.MessageHash) (EncryptedTransaction, error) {
	return loadTransaction(ctx, t.s, t.s.db, hash)
}

func loadTransaction(ctx context.Context, s *SQLStore, q queryer, hash txhash.MessageHash) (EncryptedTransaction, error) {
	hashHex := hash.String()
	row := q.QueryRowContext(ctx, rebind(s.opts.Dialect, `SELECT CIPHER_TEXT, CIPHER_TEXT_NONCE, SENDER_KEY, RECIPIENT_NONCE, PRIVACY_MODE, EXEC_HASH FROM ST_TRANSACTION WHERE HASH = ?`), hashHex)

	var cipherText, cipherTextNonce, senderKey, recipientNonce, execHash []byte
	var privacyMode int
	if err := row.Scan(&cipherText, &cipherTextNonce, &senderKey, &recipientNonce, &privacyMode, &execHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EncryptedTransaction{}, ErrNotFound
		}
		return EncryptedTransaction{}, fmt.Errorf("%w: select ST_TRANSACTION: %v", ErrDB, err)
	}

	p := payload.EncodedPayload{
		SenderKey:       payload.PublicKey(senderKey),
		CipherText:      cipherText,
		CipherTextNonce: cipherTextNonce,
		RecipientNonce:  recipientNonce,
		PrivacyMode:     payload.PrivacyMode(privacyMode),
		ExecHash:        execHash,
	}

	acRows, err := q.QueryContext(ctx, rebind(s.opts.Dialect, `SELECT AFFECTED_HASH, SECURITY_HASH FROM ST_AFFECTED_TRANSACTION WHERE SOURCE_HASH = ?`), hashHex)
	if err != nil {
		return EncryptedTransaction{}, fmt.Errorf("%w: select ST_AFFECTED_TRANSACTION: %v", ErrDB, err)
	}
	type acRow struct {
		AffectedHash string
		SecurityHash []byte
	}
	var acs []acRow
	for acRows.Next() {
		var r acRow
		if err := acRows.Scan(&r.AffectedHash, &r.SecurityHash); err != nil {
			acRows.Close()
			return EncryptedTransaction{}, fmt.Errorf("%w: scan ST_AFFECTED_TRANSACTION: %v", ErrDB, err)
		}
		acs = append(acs, r)
	}
	acRows.Close()
	sort.Slice(acs, func(i, j int) bool { return acs[i].AffectedHash < acs[j].AffectedHash })
	for _, r := range acs {
		th, ok := txhash.FromBytes(mustHexDecode(r.AffectedHash))
		if !ok {
			return EncryptedTransaction{}, fmt.Errorf("%w: corrupt affected hash %q", ErrDB, r.AffectedHash)
		}
		p.AffectedContractTxs = append(p.AffectedContractTxs, payload.AffectedTransaction{
			Hash:         th.ToTxHash(),
			SecurityHash: r.SecurityHash,
		})
	}

	recRows, err := q.QueryContext(ctx, rebind(s.opts.Dialect, `SELECT RECIPIENT, BOX FROM ST_TRANSACTION_RECIPIENT WHERE HASH = ?`), hashHex)
	if err != nil {
		return EncryptedTransaction{}, fmt.Errorf("%w: select ST_TRANSACTION_RECIPIENT: %v", ErrDB, err)
	}
	type recRow struct {
		Recipient []byte
		Box       []byte
	}
	var recs []recRow
	for recRows.Next() {
		var r recRow
		if err := recRows.Scan(&r.Recipient, &r.Box); err != nil {
			recRows.Close()
			return EncryptedTransaction{}, fmt.Errorf("%w: scan ST_TRANSACTION_RECIPIENT: %v", ErrDB, err)
		}
		recs = append(recs, r)
	}
	recRows.Close()
	// Deterministic reconstruction order: sorted by recipient key bytes.
	// Box<->key pairing is preserved regardless of row order because each
	// row carries both; only the *sequence* presented to callers is
	// canonicalized here rather than replaying insertion order.
	sort.Slice(recs, func(i, j int) bool { return bytes.Compare(recs[i].Recipient, recs[j].Recipient) < 0 })
	for _, r := range recs {
		p.RecipientKeys = append(p.RecipientKeys, payload.PublicKey(r.Recipient))
		p.RecipientBoxes = append(p.RecipientBoxes, r.Box)
	}

	return EncryptedTransaction{Hash: hash, Payload: p}, nil
}

// Delete removes a transaction. Idempotent: deleting an absent hash is not
// an error.
func (t *TxStore) Delete(ctx context.Context, hash txhash.MessageHash) error {
	hashHex := hash.String()
	for _, stmt := range []string{
		`DELETE FROM ST_TRANSACTION_RECIPIENT WHERE HASH = ?`,
		`DELETE FROM ST_AFFECTED_TRANSACTION WHERE SOURCE_HASH = ?`,
		`DELETE FROM ST_TRANSACTION WHERE HASH = ?`,
	} {
		if _, err := t.s.db.ExecContext(ctx, rebind(t.s.opts.Dialect, stmt), hashHex); err != nil {
			return fmt.Errorf("%w: delete: %v", ErrDB, err)
		}
	}
	return nil
}

// Count returns the total number of stored transactions.
func (t *TxStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := t.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ST_TRANSACTION`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrDB, err)
	}
	return n, nil
}

// RetrievePage returns up to limit transactions starting at offset,
// ordered by HASH for stability: items present at page-0 time will
// eventually appear in some page before scan end; duplicates across
// pages under concurrent inserts are tolerable.
func (t *TxStore) RetrievePage(ctx context.Context, offset, limit int) ([]EncryptedTransaction, error) {
	rows, err := t.s.db.QueryContext(ctx,
		rebind(t.s.opts.Dialect, `SELECT HASH FROM ST_TRANSACTION ORDER BY HASH LIMIT ? OFFSET ?`),
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: page: %v", ErrDB, err)
	}
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: scan page: %v", ErrDB, err)
		}
		hashes = append(hashes, h)
	}
	rows.Close()

	out := make([]EncryptedTransaction, 0, len(hashes))
	for _, h := range hashes {
		mh, ok := txhash.FromBytes(mustHexDecode(h))
		if !ok {
			continue
		}
		tx, err := t.RetrieveByHash(ctx, mh)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // deleted between the page scan and the load
			}
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func payloadsEqual(a, b payload.EncodedPayload) bool {
	ab, errA := payload.Encode(a)
	bb, errB := payload.Encode(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}
