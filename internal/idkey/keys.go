// Package idkey builds deterministic correlation keys used to trace a
// publish attempt across retries and resends: parts taken in the given order,
// bounded input, sha256-derived suffix. These are observability
// correlation keys only — publish idempotency is the receiver's
// responsibility via content addressing, so nothing here gates or
// dedups a publish.
package idkey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	MaxPartLen = 256
	MaxParts   = 16
)

// BuildKey returns "<scope>:<first-part>:<first 16 hex chars of the sha256
// of all parts>", stable for the same scope+parts, readable enough to grep
// in logs.
func BuildKey(scope string, parts ...string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = "unscoped"
	}
	if len(parts) > MaxParts {
		parts = parts[:MaxParts]
	}
	var lead string
	h := sha256.New()
	for i, p := range parts {
		if len(p) > MaxPartLen {
			p = p[:MaxPartLen]
		}
		if i == 0 {
			lead = p
		}
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	sum := hex.EncodeToString(h.Sum(nil))[:16]
	if lead == "" {
		return fmt.Sprintf("%s:%s", scope, sum)
	}
	return fmt.Sprintf("%s:%s:%s", scope, lead, sum)
}
