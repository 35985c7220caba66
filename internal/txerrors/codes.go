// Package txerrors is the stable error-code registry for the transaction
// manager core: one sentinel per case, each with retry/HTTP-adjacent
// metadata, so hosting facades can map errors without inspecting
// message strings.
package txerrors

import "errors"

// Code is a stable error code. Once published it is API-stable.
type Code string

const (
	// TransactionNotFound: lookup miss on a required hash (receive, sendSignedTransaction, resend INDIVIDUAL).
	TransactionNotFound Code = "tx.not_found"
	// PrivacyViolation: a hard PSV rule was broken. Never auto-recovered.
	PrivacyViolation Code = "tx.privacy_violation"
	// KeyNotFound: resend ALL own-payload reconciliation exhausted local keys.
	KeyNotFound Code = "tx.key_not_found"
	// NoRecipientKeyFound: receive() exhausted trial decryption with no `to` given.
	NoRecipientKeyFound Code = "tx.no_recipient_key_found"
	// MalformedPayload: codec-level structural error.
	MalformedPayload Code = "tx.malformed_payload"
	// HashCollision: a different payload saved under an already-stored MessageHash. Fatal.
	HashCollision Code = "tx.hash_collision"
	// RecipientNotInPayload: PayloadCodec.forRecipient target absent from recipientKeys.
	RecipientNotInPayload Code = "tx.recipient_not_in_payload"
	// Internal: generic internal error (used deliberately by individual-mode
	// resend key-search failures, which do not report KeyNotFound).
	Internal Code = "tx.internal"
)

// CodeMeta carries metadata useful to callers deciding how to react.
type CodeMeta struct {
	Retryable   bool
	Kind        string // client|server|security|dependency
	Description string
}

var registry = map[Code]CodeMeta{
	TransactionNotFound:   {Retryable: false, Kind: "client", Description: "no transaction stored under that hash"},
	PrivacyViolation:      {Retryable: false, Kind: "security", Description: "PSV invariant violated"},
	KeyNotFound:           {Retryable: false, Kind: "client", Description: "no local key decrypts the backfilled payload"},
	NoRecipientKeyFound:   {Retryable: false, Kind: "client", Description: "no local key could decrypt the payload"},
	MalformedPayload:      {Retryable: false, Kind: "client", Description: "payload bytes are not a well-formed envelope"},
	HashCollision:         {Retryable: false, Kind: "server", Description: "same hash, different payload: invariant break"},
	RecipientNotInPayload: {Retryable: false, Kind: "client", Description: "requested recipient not present in envelope"},
	Internal:              {Retryable: true, Kind: "server", Description: "unclassified internal error"},
}

// Meta looks up metadata for a code.
func Meta(code Code) (CodeMeta, bool) {
	m, ok := registry[code]
	return m, ok
}

// Sentinel errors, one per Code, for errors.Is-style matching.
var (
	ErrTransactionNotFound   = errors.New(string(TransactionNotFound))
	ErrPrivacyViolation      = errors.New(string(PrivacyViolation))
	ErrKeyNotFound           = errors.New(string(KeyNotFound))
	ErrNoRecipientKeyFound   = errors.New(string(NoRecipientKeyFound))
	ErrMalformedPayload      = errors.New(string(MalformedPayload))
	ErrHashCollision         = errors.New(string(HashCollision))
	ErrRecipientNotInPayload = errors.New(string(RecipientNotInPayload))
	ErrInternal              = errors.New(string(Internal))
)
