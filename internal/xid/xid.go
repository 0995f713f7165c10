// Package xid generates prefixed, roughly time-ordered identifiers for
// ledger rows and related records.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns an id like "tx-1693496700000000000-a1b2c3d4e5f60718". The
// timestamp keeps ids sortable by creation time; the random suffix keeps
// concurrent writers from colliding.
func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}
