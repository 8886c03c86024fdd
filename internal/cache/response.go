package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"querygate/internal/upstream"
)

// Entry is one cached upstream response, marshalled whole into a single
// store value. TTLSeconds is both the store's eviction window and the
// s-maxage we hand back to intermediaries.
type Entry struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
	TTLSeconds  int    `json:"ttl_seconds"`
}

// responseAddress namespaces response entries away from the meta
// records the write guard keeps under "meta:<key>".
func responseAddress(key string) string {
	return "q:" + key
}

// ResponseCache speaks *Entry on top of a raw Store.
type ResponseCache struct {
	store Store
}

func NewResponseCache(store Store) *ResponseCache {
	return &ResponseCache{store: store}
}

// Lookup fetches the entry for key. An entry that no longer
// unmarshals (format drift, partial write) counts as a miss.
func (c *ResponseCache) Lookup(ctx context.Context, key string) (*Entry, bool, error) {
	raw, ok, err := c.store.Get(ctx, responseAddress(key))
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, nil
	}
	return &entry, true, nil
}

// Store writes the entry under key with the entry's own TTL.
// Entries with a non-positive TTL are not written.
func (c *ResponseCache) Store(ctx context.Context, key string, entry *Entry) error {
	if entry == nil || entry.TTLSeconds <= 0 {
		return nil
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache store: marshal entry: %w", err)
	}

	ttl := time.Duration(entry.TTLSeconds) * time.Second
	if err := c.store.Set(ctx, responseAddress(key), raw, ttl); err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// Cacheable decides whether an upstream outcome may be stored: it must
// be a success, and a JSON body must not be the upstream's own error
// envelope. Caching those would pin an upstream failure for every
// client until the entry expires.
func Cacheable(out *upstream.Outcome) bool {
	if out == nil || !out.Success {
		return false
	}

	if !strings.Contains(strings.ToLower(out.ContentType), "json") {
		return true
	}

	var payload struct {
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(out.Body, &payload); err != nil {
		// Claimed JSON but does not parse as an object; nothing tells
		// us it is an error envelope, so let it through.
		return true
	}
	return len(payload.Errors) == 0
}
