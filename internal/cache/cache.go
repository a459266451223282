// Package cache holds time-boxed copies of backend reads.
package cache

import (
	"context"
	"net/url"
	"time"
)

// DefaultTTL is how long an entry stays valid.
const DefaultTTL = 5 * time.Minute

// Cache stores encoded read results. Expired entries behave as absent.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	// Invalidate removes every entry whose key starts with prefix and
	// reports how many were removed.
	Invalidate(ctx context.Context, prefix string) (int, error)
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
}

type Stats struct {
	Entries   int           `json:"entries"`
	OldestAge time.Duration `json:"oldest_age"`
}

// Prefix is the key prefix shared by every entry of a table.
func Prefix(table string) string {
	return table + ":"
}

// Key builds a deterministic key from a table, an operation and its
// parameters. Parameters are sorted and escaped, so distinct parameter
// sets never share a key.
func Key(table, op string, params url.Values) string {
	k := Prefix(table) + op
	if enc := params.Encode(); enc != "" {
		k += "?" + enc
	}
	return k
}
