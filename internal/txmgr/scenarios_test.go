package txmgr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Ap3pp3rs94/txmanager/internal/b64"
	"github.com/Ap3pp3rs94/txmanager/internal/payload"
	"github.com/Ap3pp3rs94/txmanager/internal/store"
	"github.com/Ap3pp3rs94/txmanager/internal/txerrors"
	"github.com/Ap3pp3rs94/txmanager/internal/txhash"
)

var (
	alice = payload.PublicKey("alice")
	bob   = payload.PublicKey("bob")
	carol = payload.PublicKey("carol")
)

// E1: a plain StandardPrivate send is retrievable by every recipient and
// fans out to every deduplicated recipient, including the sender itself.
func TestSendPlainAndReceive(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	res, err := h.mgr.Send(ctx, SendRequest{
		From:        alice,
		To:          []payload.PublicKey{bob},
		RawPayload:  []byte("hello bob"),
		PrivacyMode: payload.StandardPrivate,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Key == "" {
		t.Fatalf("expected a non-empty key")
	}

	got := h.publisher.publishes()
	if len(got) != 2 {
		t.Fatalf("expected 2 fan-out publishes (bob, alice), got %d", len(got))
	}

	recv, err := h.mgr.Receive(ctx, ReceiveRequest{Key: res.Key, To: bob})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(recv.RawPayload) != "hello bob" {
		t.Fatalf("unexpected plaintext: %q", recv.RawPayload)
	}
	if !recv.SenderKey.Equal(alice) {
		t.Fatalf("unexpected sender: %q", recv.SenderKey)
	}
}

// Hash identity: the same plaintext sent twice from the same sender to
// the same recipients produces cipher-text whose hash is computed purely
// from the cipher-text bytes, not reused across calls (two independent
// sends never collide because the Enclave randomizes nonces/keys).
func TestSendTwiceProducesDistinctHashes(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	req := SendRequest{From: alice, To: []payload.PublicKey{bob}, RawPayload: []byte("same content"), PrivacyMode: payload.StandardPrivate}
	r1, err := h.mgr.Send(ctx, req)
	if err != nil {
		t.Fatalf("first Send: %v", err)
	}
	r2, err := h.mgr.Send(ctx, req)
	if err != nil {
		t.Fatalf("second Send: %v", err)
	}
	if r1.Key == r2.Key {
		t.Fatalf("expected distinct hashes for independently encrypted sends, got the same key %q", r1.Key)
	}
}

// E2: PSV with satisfied ACOTHs succeeds when the referenced transaction
// shares privacy mode and recipient set.
func TestSendPSVSatisfiedACOTH(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	base, err := h.mgr.Send(ctx, SendRequest{
		From:        alice,
		To:          []payload.PublicKey{bob},
		RawPayload:  []byte("base contract state"),
		PrivacyMode: payload.PrivateStateValidation,
		ExecHash:    []byte("exec-1"),
	})
	if err != nil {
		t.Fatalf("Send base: %v", err)
	}
	baseTxHash := keyToTxHash(t, base.Key)

	res, err := h.mgr.Send(ctx, SendRequest{
		From:        alice,
		To:          []payload.PublicKey{bob},
		RawPayload:  []byte("follow-up contract state"),
		PrivacyMode: payload.PrivateStateValidation,
		ExecHash:    []byte("exec-2"),
		AffectedContractTransactions: []payload.AffectedTransaction{
			{Hash: baseTxHash, SecurityHash: []byte("security-hash-1")},
		},
	})
	if err != nil {
		t.Fatalf("Send with satisfied ACOTH: %v", err)
	}
	if res.Key == "" {
		t.Fatalf("expected a key")
	}
}

// E3: PSV with a recipient-set mismatch against a referenced ACOTH is a
// hard PrivacyViolation on the outbound path.
func TestSendPSVRecipientMismatch(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	base, err := h.mgr.Send(ctx, SendRequest{
		From:        alice,
		To:          []payload.PublicKey{bob},
		RawPayload:  []byte("base"),
		PrivacyMode: payload.PrivateStateValidation,
		ExecHash:    []byte("exec-1"),
	})
	if err != nil {
		t.Fatalf("Send base: %v", err)
	}
	baseTxHash := keyToTxHash(t, base.Key)

	_, err = h.mgr.Send(ctx, SendRequest{
		From:        alice,
		To:          []payload.PublicKey{carol},
		RawPayload:  []byte("mismatched recipients"),
		PrivacyMode: payload.PrivateStateValidation,
		ExecHash:    []byte("exec-2"),
		AffectedContractTransactions: []payload.AffectedTransaction{
			{Hash: baseTxHash, SecurityHash: []byte("security-hash-1")},
		},
	})
	if !errors.Is(err, txerrors.ErrPrivacyViolation) {
		t.Fatalf("expected PrivacyViolation, got %v", err)
	}
}

// E4: an inbound payload that over-claims its ACOTH count relative to
// what this node can resolve locally is silently dropped rather than
// revealing which ACOTHs are/aren't known (the recipient-discovery probe
// defense).
func TestStorePayloadDropsRecipientDiscoveryProbe(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	base, err := h.mgr.Send(ctx, SendRequest{
		From:        alice,
		To:          []payload.PublicKey{bob},
		RawPayload:  []byte("known locally"),
		PrivacyMode: payload.PrivateStateValidation,
		ExecHash:    []byte("exec-1"),
	})
	if err != nil {
		t.Fatalf("Send base: %v", err)
	}
	knownHash := keyToTxHash(t, base.Key)
	unknownHash := txhash.Hash([]byte("never sent")).ToTxHash()

	probe := payload.EncodedPayload{
		SenderKey:       alice,
		CipherText:      []byte("probe cipher text"),
		CipherTextNonce: []byte("probe-nonce"),
		RecipientBoxes:  [][]byte{[]byte("probe-box")},
		RecipientNonce:  []byte("probe-rn"),
		RecipientKeys:   []payload.PublicKey{bob},
		PrivacyMode:     payload.PrivateStateValidation,
		AffectedContractTxs: []payload.AffectedTransaction{
			{Hash: knownHash, SecurityHash: []byte("sh-1")},
			{Hash: unknownHash, SecurityHash: []byte("sh-2")},
		},
		ExecHash: []byte("exec-probe"),
	}
	wire, err := payload.Encode(probe)
	if err != nil {
		t.Fatalf("Encode probe: %v", err)
	}

	res, err := h.mgr.StorePayload(ctx, wire)
	if err != nil {
		t.Fatalf("StorePayload: expected silent drop, got error: %v", err)
	}
	if !res.Dropped {
		t.Fatalf("expected the probe to be dropped")
	}
}

// E5: receive() with no explicit recipient key recovers plaintext by
// trying every local key in turn.
func TestReceiveTrialDecryption(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()
	h.enc.AddLocalKey(bob)

	res, err := h.mgr.Send(ctx, SendRequest{
		From:        alice,
		To:          []payload.PublicKey{bob},
		RawPayload:  []byte("for whichever local key fits"),
		PrivacyMode: payload.StandardPrivate,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	recv, err := h.mgr.Receive(ctx, ReceiveRequest{Key: res.Key})
	if err != nil {
		t.Fatalf("Receive with trial decryption: %v", err)
	}
	if string(recv.RawPayload) != "for whichever local key fits" {
		t.Fatalf("unexpected plaintext: %q", recv.RawPayload)
	}
}

// An inbound payload whose sender is one of this node's own keys is this
// node's own send coming back via a peer relay: it must be handed to the
// ResendManager, never persisted directly to the transaction store.
func TestStorePayloadOwnOriginGoesToResendManager(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	ownMessage := payload.EncodedPayload{
		SenderKey:       alice,
		CipherText:      []byte("own cipher text"),
		CipherTextNonce: []byte("own-nonce"),
		RecipientBoxes:  [][]byte{[]byte("own-box")},
		RecipientNonce:  []byte("own-rn"),
		RecipientKeys:   []payload.PublicKey{bob},
		PrivacyMode:     payload.StandardPrivate,
		ExecHash:        []byte{},
	}
	wire, err := payload.Encode(ownMessage)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	res, err := h.mgr.StorePayload(ctx, wire)
	if err != nil {
		t.Fatalf("StorePayload: %v", err)
	}
	if res.Dropped {
		t.Fatalf("own-origin message should not be dropped")
	}

	accepted := h.resendMgr.Snapshot()
	if len(accepted) != 1 {
		t.Fatalf("expected 1 message handed to the resend manager, got %d", len(accepted))
	}

	hash := txhash.Hash(ownMessage.CipherText)
	if _, err := h.mgr.store.RetrieveByHash(ctx, hash); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("own-origin message must not be persisted to the transaction store directly, got err=%v", err)
	}
}

func TestReceiveUnknownKeyIsNotFound(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()
	_, err := h.mgr.Receive(ctx, ReceiveRequest{Key: b64.Encode(txhash.Hash([]byte("nothing")).Bytes())})
	if !errors.Is(err, txerrors.ErrTransactionNotFound) {
		t.Fatalf("expected TransactionNotFound, got %v", err)
	}
}

// Property 6: delete is idempotent.
func TestDeleteIdempotent(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	res, err := h.mgr.Send(ctx, SendRequest{From: alice, To: []payload.PublicKey{bob}, RawPayload: []byte("to be deleted"), PrivacyMode: payload.StandardPrivate})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := h.mgr.Delete(ctx, res.Key); err != nil {
		t.Fatalf("first Delete: %v", err)
	}
	if err := h.mgr.Delete(ctx, res.Key); err != nil {
		t.Fatalf("idempotent Delete: %v", err)
	}
	if _, err := h.mgr.Receive(ctx, ReceiveRequest{Key: res.Key, To: bob}); !errors.Is(err, txerrors.ErrTransactionNotFound) {
		t.Fatalf("expected TransactionNotFound after delete, got %v", err)
	}
}

// E6 / property 7: resend ALL covers every stored transaction across
// multiple pages.
func TestResendAllCoversEveryPage(t *testing.T) {
	h := newHarness(t, 60)
	ctx := context.Background()

	const n = 250
	for i := 0; i < n; i++ {
		if _, err := h.mgr.Send(ctx, SendRequest{
			From:        alice,
			To:          []payload.PublicKey{bob},
			RawPayload:  []byte(fmt.Sprintf("item-%d", i)),
			PrivacyMode: payload.StandardPrivate,
		}); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	h.publisher = newRecordingPublisher()
	h.mgr.partyInfo = h.publisher

	if err := h.mgr.ResendAll(ctx, bob); err != nil {
		t.Fatalf("ResendAll: %v", err)
	}
	got := h.publisher.publishes()
	if len(got) != n {
		t.Fatalf("expected %d resent publishes to bob, got %d", n, len(got))
	}
}

// Individual resend preserves the asymmetric error contract: a key-search
// failure on a self-sent transaction reports a generic internal error,
// never KeyNotFound (that code is reserved for resend ALL).
func TestResendIndividualSelfSentKeySearchFailureIsInternal(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	res, err := h.mgr.Send(ctx, SendRequest{From: alice, To: []payload.PublicKey{bob}, RawPayload: []byte("x"), PrivacyMode: payload.StandardPrivate})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	// A fresh enclave with a different shared secret cannot decrypt
	// anything this harness's enclave produced, simulating a node that
	// has lost its keys.
	blind := newHarnessWithSecret(t, 100, []byte("a-completely-different-secret-0"))
	blind.mgr.store = h.mgr.store

	_, err = blind.mgr.ResendIndividual(ctx, ResendIndividualRequest{Recipient: alice, Key: res.Key})
	if !errors.Is(err, txerrors.ErrInternal) {
		t.Fatalf("expected Internal error code, got %v", err)
	}
	if errors.Is(err, txerrors.ErrKeyNotFound) {
		t.Fatalf("must not report KeyNotFound for individual resend, that asymmetry is intentional")
	}
}

// A fan-out publish that never succeeds must not fail the send itself; it
// is logged, suppressed, and recorded in the dead-letter log instead.
func TestSendSuppressesExhaustedPublishAndRecordsDeadLetter(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()
	h.publisher.fail[string(bob)] = true

	res, err := h.mgr.Send(ctx, SendRequest{
		From:        alice,
		To:          []payload.PublicKey{bob},
		RawPayload:  []byte("bob never gets this directly"),
		PrivacyMode: payload.StandardPrivate,
	})
	if err != nil {
		t.Fatalf("Send must succeed even though bob's publish fails: %v", err)
	}
	if res.Key == "" {
		t.Fatalf("expected a key")
	}

	got := h.publisher.publishes()
	if len(got) != 1 || !got[0].Recipient.Equal(alice) {
		t.Fatalf("expected only alice's publish to succeed, got %+v", got)
	}

	letters := h.deadLetters.Snapshot()
	if len(letters) != 1 {
		t.Fatalf("expected 1 dead letter for bob, got %d", len(letters))
	}
	if letters[0].Recipient != string(bob) {
		t.Fatalf("unexpected dead letter recipient: %q", letters[0].Recipient)
	}
}

func keyToTxHash(t *testing.T, key string) txhash.TxHash {
	t.Helper()
	raw, err := b64.Decode(key)
	if err != nil {
		t.Fatalf("b64.Decode: %v", err)
	}
	mh, ok := txhash.FromBytes(raw)
	if !ok {
		t.Fatalf("key is not a valid hash: %q", key)
	}
	return mh.ToTxHash()
}

