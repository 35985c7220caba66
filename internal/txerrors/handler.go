package txerrors

import "fmt"

// Wrap attaches a code's sentinel error to a detail message, preserving
// errors.Is(err, sentinelFor(code)) for callers while keeping a
// human-readable detail for logs.
func Wrap(code Code, detail string) error {
	sentinel := sentinelFor(code)
	if detail == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, detail)
}

func sentinelFor(code Code) error {
	switch code {
	case TransactionNotFound:
		return ErrTransactionNotFound
	case PrivacyViolation:
		return ErrPrivacyViolation
	case KeyNotFound:
		return ErrKeyNotFound
	case NoRecipientKeyFound:
		return ErrNoRecipientKeyFound
	case MalformedPayload:
		return ErrMalformedPayload
	case HashCollision:
		return ErrHashCollision
	case RecipientNotInPayload:
		return ErrRecipientNotInPayload
	default:
		return ErrInternal
	}
}
