// Package store implements RawTxStore and TxStore over database/sql,
// following this repository's stdlib-only persistence discipline: no
// driver import here, a driver is registered blank-import by the
// hosting binary (lib/pq for Postgres, mattn/go-sqlite3 for dev/test),
// determinism via a caller-supplied Clock, and defensive table-name
// handling.
//
// Schema: ST_TRANSACTION/ST_AFFECTED_TRANSACTION/ST_TRANSACTION_RECIPIENT
// hold the transaction/ACOTH/recipient-box graph that can travel between
// nodes; ST_RAW_TRANSACTION holds EncryptedRawTransaction, which never
// leaves the originating node.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrInvalidInput  = errors.New("store: invalid input")
	ErrNotFound      = errors.New("store: not found")
	ErrHashCollision = errors.New("store: hash collision")
	ErrDB            = errors.New("store: db error")
)

var validIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateTableName(name string) error {
	if !validIdent.MatchString(name) {
		return fmt.Errorf("%w: invalid table name %q", ErrInvalidInput, name)
	}
	return nil
}

// Clock supplies timestamps; nil means time.Unix(0,0).UTC() for
// determinism in tests.
type Clock func() int64

// Dialect captures the small number of SQL differences between the
// postgres and sqlite3 drivers this package is built against; only the
// bind parameter style (see rebind) depends on it.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// Options configures a SQLStore.
type Options struct {
	Dialect Dialect
	Clock   Clock
}

// SQLStore is the shared connection + options holder for the TxStore and
// RawTxStore views over the same *sql.DB.
type SQLStore struct {
	db   *sql.DB
	opts Options
}

// New wraps an already-open *sql.DB. The caller is responsible for
// registering the appropriate driver (lib/pq or mattn/go-sqlite3) before
// sql.Open is called.
func New(db *sql.DB, opts Options) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: db is nil", ErrInvalidInput)
	}
	if opts.Clock == nil {
		opts.Clock = func() int64 { return 0 }
	}
	return &SQLStore{db: db, opts: opts}, nil
}

// EnsureSchema creates the three core tables plus the raw-transaction
// table if they do not already exist. Idempotent.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ST_TRANSACTION (
			HASH VARCHAR PRIMARY KEY,
			CIPHER_TEXT BYTEA NOT NULL,
			CIPHER_TEXT_NONCE BYTEA NOT NULL,
			SENDER_KEY BYTEA NOT NULL,
			RECIPIENT_NONCE BYTEA NOT NULL,
			PRIVACY_MODE SMALLINT,
			EXEC_HASH BYTEA,
			TIMESTAMP DECIMAL(19),
			VALIDATION_STAGE BIGINT,
			DATA_ISSUES VARCHAR
		)`,
		`CREATE TABLE IF NOT EXISTS ST_AFFECTED_TRANSACTION (
			AFFECTED_HASH VARCHAR NOT NULL,
			SOURCE_HASH VARCHAR NOT NULL,
			SECURITY_HASH BYTEA,
			PRIMARY KEY (AFFECTED_HASH, SOURCE_HASH)
		)`,
		`CREATE TABLE IF NOT EXISTS ST_TRANSACTION_RECIPIENT (
			HASH VARCHAR NOT NULL,
			RECIPIENT VARCHAR NOT NULL,
			BOX BYTEA,
			INITIATOR BOOLEAN,
			PRIMARY KEY (HASH, RECIPIENT)
		)`,
		`CREATE TABLE IF NOT EXISTS ST_RAW_TRANSACTION (
			HASH VARCHAR PRIMARY KEY,
			ENCRYPTED_PAYLOAD BYTEA NOT NULL,
			ENCRYPTED_KEY BYTEA NOT NULL,
			NONCE BYTEA NOT NULL,
			SENDER_KEY BYTEA NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: ensure schema: %v", ErrDB, err)
		}
	}
	return nil
}
