// Package psv implements the Private State Validation validator: pure
// functions with no I/O, used by the transaction manager to gate
// privacy-mode consistency, recipient-set equality, and
// sender-genuineness across a payload's ACOTH graph.
package psv

import (
	"github.com/Ap3pp3rs94/txmanager/internal/payload"
	"github.com/Ap3pp3rs94/txmanager/internal/txhash"
)

// PrivacyModesMatch checks that every resolved ACOTH shares mode with the
// new payload. inbound distinguishes the two call sites: outbound checks
// treat a mismatch as fatal (raise PrivacyViolation); inbound checks
// treat a mismatch as a silent drop.
func PrivacyModesMatch(mode payload.PrivacyMode, acoths map[txhash.TxHash]payload.EncodedPayload, inbound bool) (ok bool, fatal bool) {
	for _, a := range acoths {
		if a.PrivacyMode != mode {
			return false, !inbound
		}
	}
	return true, false
}

// RecipientsEqual is set equality between a recipient list and an ACOTH's
// recipient list, independent of order or duplicate count (property 4:
// RecipientsEqual(A, B) == RecipientsEqual(B, A)).
func RecipientsEqual(list []payload.PublicKey, acoth payload.EncodedPayload) bool {
	return setEqual(list, acoth.RecipientKeys)
}

// RecipientSetsEqual is the symmetric form used when comparing two
// arbitrary recipient lists (e.g. two ACOTHs against each other).
func RecipientSetsEqual(a, b []payload.PublicKey) bool {
	return setEqual(a, b)
}

func setEqual(a, b []payload.PublicKey) bool {
	as := make(map[string]struct{}, len(a))
	for _, k := range a {
		as[string(k)] = struct{}{}
	}
	bs := make(map[string]struct{}, len(b))
	for _, k := range b {
		bs[string(k)] = struct{}{}
	}
	if len(as) != len(bs) {
		return false
	}
	for k := range as {
		if _, ok := bs[k]; !ok {
			return false
		}
	}
	return true
}

// SenderIsGenuine checks that the new payload's senderKey appears in
// every locally-known ACOTH's recipient list,
// and the count of ACOTHs the payload claims must equal the count we
// could resolve locally (a mismatch there is a recipient-discovery
// probe, defended by dropping silently rather than revealing which
// ACOTHs we do/don't have).
func SenderIsGenuine(sender payload.PublicKey, claimedCount int, resolved map[txhash.TxHash]payload.EncodedPayload) bool {
	if len(resolved) != claimedCount {
		return false
	}
	for _, a := range resolved {
		if a.IndexOfRecipient(sender) < 0 {
			return false
		}
	}
	return true
}
