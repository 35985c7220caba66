// Package b64 is the wire<->bytes codec used at every API boundary:
// keys, public keys, and hashes are base64 on the wire and raw bytes
// internally.
package b64

import (
	"encoding/base64"
	"fmt"
)

// Encode returns standard base64 (with padding), the wire format used
// for opaque byte fields in JSON throughout this repository.
func Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Decode parses standard base64, accepting both padded and unpadded input
// since peers are not assumed to agree on padding.
func Decode(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	b, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("b64: invalid base64: %w", err)
	}
	return b, nil
}
