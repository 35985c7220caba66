package store

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Ap3pp3rs94/txmanager/internal/payload"
	"github.com/Ap3pp3rs94/txmanager/internal/txhash"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s, err := New(db, Options{Dialect: DialectSQLite})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return s
}

func samplePayload(tag string) payload.EncodedPayload {
	return payload.EncodedPayload{
		SenderKey:       payload.PublicKey("sender-" + tag),
		CipherText:      []byte("cipher-" + tag),
		CipherTextNonce: []byte("ctn-" + tag),
		RecipientBoxes:  [][]byte{[]byte("box-a-" + tag), []byte("box-b-" + tag)},
		RecipientNonce:  []byte("rn-" + tag),
		RecipientKeys:   []payload.PublicKey{payload.PublicKey("key-a"), payload.PublicKey("key-b")},
		PrivacyMode:     payload.StandardPrivate,
		ExecHash:        []byte{},
	}
}

func TestTxStoreSaveIdempotentAndCollision(t *testing.T) {
	s := newTestStore(t)
	txs := NewTxStore(s)
	ctx := context.Background()

	p := samplePayload("1")
	h := txhash.Hash(p.CipherText)
	tx := EncryptedTransaction{Hash: h, Payload: p}

	if err := txs.Save(ctx, tx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Re-save identical payload: no-op.
	if err := txs.Save(ctx, tx); err != nil {
		t.Fatalf("idempotent re-Save: %v", err)
	}

	loaded, err := txs.RetrieveByHash(ctx, h)
	if err != nil {
		t.Fatalf("RetrieveByHash: %v", err)
	}
	if len(loaded.Payload.RecipientKeys) != 2 {
		t.Fatalf("expected 2 recipient keys, got %d", len(loaded.Payload.RecipientKeys))
	}

	// Re-save with a different payload under the same hash: collision.
	different := tx
	different.Payload.CipherTextNonce = []byte("different-nonce")
	if err := txs.Save(ctx, different); err == nil {
		t.Fatalf("expected HashCollision on mismatched re-save")
	}
}

func TestTxStoreDeleteIdempotent(t *testing.T) {
	s := newTestStore(t)
	txs := NewTxStore(s)
	ctx := context.Background()

	p := samplePayload("2")
	h := txhash.Hash(p.CipherText)
	if err := txs.Save(ctx, EncryptedTransaction{Hash: h, Payload: p}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := txs.Delete(ctx, h); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := txs.Delete(ctx, h); err != nil {
		t.Fatalf("idempotent Delete: %v", err)
	}
	if _, err := txs.RetrieveByHash(ctx, h); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestTxStorePaging(t *testing.T) {
	s := newTestStore(t)
	txs := NewTxStore(s)
	ctx := context.Background()

	const n = 7
	for i := 0; i < n; i++ {
		p := samplePayload(string(rune('a' + i)))
		h := txhash.Hash(p.CipherText)
		if err := txs.Save(ctx, EncryptedTransaction{Hash: h, Payload: p}); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}
	count, err := txs.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != n {
		t.Fatalf("expected count %d, got %d", n, count)
	}

	seen := map[string]bool{}
	limit := 3
	for offset := 0; offset < count; offset += limit {
		page, err := txs.RetrievePage(ctx, offset, limit)
		if err != nil {
			t.Fatalf("RetrievePage offset=%d: %v", offset, err)
		}
		for _, tx := range page {
			seen[tx.Hash.String()] = true
		}
	}
	if len(seen) != n {
		t.Fatalf("expected to see all %d items across pages, saw %d", n, len(seen))
	}
}

func TestRawTxStoreSaveRetrieveDelete(t *testing.T) {
	s := newTestStore(t)
	raw := NewRawTxStore(s)
	ctx := context.Background()

	r := EncryptedRawTransaction{
		EncryptedPayload: []byte("enc-payload"),
		EncryptedKey:     []byte("enc-key"),
		Nonce:            []byte("nonce"),
		From:             payload.PublicKey("from-key"),
	}
	r.Hash = txhash.Hash(r.EncryptedPayload)

	if err := raw.Save(ctx, r); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := raw.Save(ctx, r); err != nil {
		t.Fatalf("idempotent Save: %v", err)
	}
	loaded, err := raw.RetrieveByHash(ctx, r.Hash)
	if err != nil {
		t.Fatalf("RetrieveByHash: %v", err)
	}
	if string(loaded.From) != "from-key" {
		t.Fatalf("From mismatch: %q", loaded.From)
	}
	if err := raw.Delete(ctx, r.Hash); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := raw.RetrieveByHash(ctx, r.Hash); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
