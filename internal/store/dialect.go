package store

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// rebind rewrites "?" placeholders into the target driver's bind syntax.
// lib/pq requires $1, $2, ...; mattn/go-sqlite3 accepts "?" directly.
// This keeps a single dialect-aware layer: write SQL once, adapt only
// placeholder syntax per driver.
func rebind(d Dialect, query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func mustHexDecode(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}
