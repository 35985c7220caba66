package txmgr

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Ap3pp3rs94/txmanager/internal/enclave"
	"github.com/Ap3pp3rs94/txmanager/internal/fanout"
	"github.com/Ap3pp3rs94/txmanager/internal/payload"
	"github.com/Ap3pp3rs94/txmanager/internal/resend"
	"github.com/Ap3pp3rs94/txmanager/internal/store"
)

// recordingPublisher is a test-double partyinfo.PartyInfo that records
// every publish rather than going over the network.
type recordingPublisher struct {
	mu   sync.Mutex
	fail map[string]bool // recipient(string) -> always fail
	got  []recordedPublish
}

type recordedPublish struct {
	Recipient payload.PublicKey
	Envelope  payload.EncodedPayload
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{fail: map[string]bool{}}
}

func (p *recordingPublisher) Publish(ctx context.Context, recipient payload.PublicKey, envelope payload.EncodedPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[string(recipient)] {
		return errTestPublishFailure
	}
	p.got = append(p.got, recordedPublish{Recipient: recipient, Envelope: envelope})
	return nil
}

func (p *recordingPublisher) publishes() []recordedPublish {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]recordedPublish, len(p.got))
	copy(out, p.got)
	return out
}

var errTestPublishFailure = errors.New("party info unreachable")

// testHarness wires a full TransactionManager over an in-memory sqlite
// database and a MemEnclave shared between two simulated nodes (alice is
// local, bob is the party info target).
type testHarness struct {
	mgr         *TransactionManager
	enc         *enclave.MemEnclave
	publisher   *recordingPublisher
	resendMgr   *resend.MemResendManager
	deadLetters *fanout.DeadLetterLog
}

func newHarness(t *testing.T, resendFetchSize int) *testHarness {
	return newHarnessWithSecret(t, resendFetchSize, []byte("shared-test-secret-0123456789ab"))
}

// newHarnessWithSecret builds a harness whose Enclave derives pair
// secrets from masterSecret, so two harnesses given different secrets
// simulate two nodes that cannot decrypt each other's boxes.
func newHarnessWithSecret(t *testing.T, resendFetchSize int, masterSecret []byte) *testHarness {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	sqlStore, err := store.New(db, store.Options{Dialect: store.DialectSQLite})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	if err := sqlStore.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	enc := enclave.NewMemEnclave(alice, masterSecret, nil)

	pub := newRecordingPublisher()
	resendMgr := resend.NewMemResendManager(100)
	deadLetters := fanout.NewDeadLetterLog(100)

	mgr := New(store.NewTxStore(sqlStore), store.NewRawTxStore(sqlStore), enc, pub, resendMgr, Options{
		ResendFetchSize: resendFetchSize,
		DeadLetters:     deadLetters,
		RetryPolicy:     fanout.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	})
	return &testHarness{mgr: mgr, enc: enc, publisher: pub, resendMgr: resendMgr, deadLetters: deadLetters}
}
