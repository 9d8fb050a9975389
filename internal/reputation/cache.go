package reputation

import (
	"context"
	"encoding/json"
	"time"
)

// CacheEntry is a persisted raw provider response keyed by SHA-256.
type CacheEntry struct {
	SHA256   string
	Raw      json.RawMessage
	CachedAt time.Time
}

// Cache is the write-through persistence contract the reputation client
// depends on (satisfied by internal/db). Decoupled via interface, the
// same way internal/signature depends on an OfflineDB interface rather
// than importing internal/db directly, to avoid an import cycle.
type Cache interface {
	GetReputation(ctx context.Context, sha256 string) (*CacheEntry, error)
	PutReputation(ctx context.Context, sha256 string, raw json.RawMessage) error
}

// nopCache is used when no persistence layer is wired; every lookup is a
// miss and writes are discarded. This degrades the cache, not the client.
type nopCache struct{}

func (nopCache) GetReputation(ctx context.Context, sha256 string) (*CacheEntry, error) {
	return nil, nil
}

func (nopCache) PutReputation(ctx context.Context, sha256 string, raw json.RawMessage) error {
	return nil
}
