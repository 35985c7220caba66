// Package txmgr implements the TransactionManager mediator: the five
// public operations (send/sendSignedTransaction, storePayload, receive,
// store/delete, resend) that coordinate the Enclave, the persistence
// layer, PartyInfo fan-out, and the Private State Validation rules.
//
// The manager holds no mutable state beyond its immutable dependencies
// and the resend paging size, so one *TransactionManager is safe to
// call concurrently from every request goroutine a hosting server
// spins up.
package txmgr

import (
	"context"

	"github.com/Ap3pp3rs94/txmanager/internal/enclave"
	"github.com/Ap3pp3rs94/txmanager/internal/fanout"
	"github.com/Ap3pp3rs94/txmanager/internal/idkey"
	"github.com/Ap3pp3rs94/txmanager/internal/partyinfo"
	"github.com/Ap3pp3rs94/txmanager/internal/resend"
	"github.com/Ap3pp3rs94/txmanager/internal/store"
	"github.com/Ap3pp3rs94/txmanager/internal/telemetry"
	"github.com/Ap3pp3rs94/txmanager/internal/txhash"
)

// TxStore is the subset of *store.TxStore / *store.CachedTxStore the
// manager depends on.
type TxStore interface {
	Save(ctx context.Context, tx store.EncryptedTransaction) error
	RetrieveByHash(ctx context.Context, hash txhash.MessageHash) (store.EncryptedTransaction, error)
	Delete(ctx context.Context, hash txhash.MessageHash) error
	Count(ctx context.Context) (int, error)
	RetrievePage(ctx context.Context, offset, limit int) ([]store.EncryptedTransaction, error)
}

// RawTxStore is the subset of *store.RawTxStore the manager depends on.
type RawTxStore interface {
	Save(ctx context.Context, raw store.EncryptedRawTransaction) error
	RetrieveByHash(ctx context.Context, hash txhash.MessageHash) (store.EncryptedRawTransaction, error)
	Delete(ctx context.Context, hash txhash.MessageHash) error
}

// Options configures a TransactionManager. ResendFetchSize is the only
// option this core recognizes directly; everything else a hosting
// binary needs belongs to its own configuration.
type Options struct {
	ResendFetchSize int
	RetryPolicy     fanout.RetryPolicy
	DeadLetters     *fanout.DeadLetterLog
	Logger          *telemetry.Logger
	Clock           func() int64 // stored on the manager but not read; dead-letter timestamps come from time.Now
}

// TransactionManager is the C9 mediator.
type TransactionManager struct {
	store     TxStore
	rawStore  RawTxStore
	enclave   enclave.Enclave
	partyInfo partyinfo.PartyInfo
	resendMgr resend.ResendManager

	resendFetchSize int
	retryPolicy     fanout.RetryPolicy
	deadLetters     *fanout.DeadLetterLog
	logger          *telemetry.Logger
	clock           func() int64
}

// New wires a TransactionManager from its dependencies. resendFetchSize
// must be >= 1.
func New(
	txStore TxStore,
	rawStore RawTxStore,
	enc enclave.Enclave,
	pub partyinfo.PartyInfo,
	resendMgr resend.ResendManager,
	opts Options,
) *TransactionManager {
	if opts.ResendFetchSize < 1 {
		opts.ResendFetchSize = 100
	}
	if opts.RetryPolicy.MaxAttempts <= 0 {
		opts.RetryPolicy = fanout.DefaultRetryPolicy
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.Nop
	}
	return &TransactionManager{
		store:           txStore,
		rawStore:        rawStore,
		enclave:         enc,
		partyInfo:       pub,
		resendMgr:       resendMgr,
		resendFetchSize: opts.ResendFetchSize,
		retryPolicy:     opts.RetryPolicy,
		deadLetters:     opts.DeadLetters,
		logger:          opts.Logger,
		clock:           opts.Clock,
	}
}

// publish fans a projected envelope out to one recipient, retrying per
// the manager's policy and logging-and-suppressing the final failure:
// a flaky peer must never fail the caller's operation (§7 rationale
// carried into this core's doc comments as "fan-out is best effort").
func (m *TransactionManager) publish(ctx context.Context, hash txhash.MessageHash, recipient []byte, send func(ctx context.Context) error) {
	correlationKey := idkey.BuildKey("publish", hash.String(), string(recipient))
	err := fanout.Run(ctx, m.retryPolicy, m.deadLetters, hash.String(), string(recipient), send, nil)
	if err != nil {
		m.logger.Warn(ctx, "publish exhausted retries, suppressing", map[string]any{
			"hash":            hash.String(),
			"recipient":       string(recipient),
			"correlation_key": correlationKey,
			"error":           err,
		})
	}
}
