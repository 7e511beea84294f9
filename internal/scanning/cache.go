package scanning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

const fragmentBucketName = "fragments"

// cacheEntry is the stored form of a model reply
type cacheEntry struct {
	Fragment string    `json:"fragment"`
	Backend  string    `json:"backend"`
	StoredAt time.Time `json:"stored_at"`
}

// Cache stores model replies in BoltDB keyed by document fingerprint
type Cache struct {
	db *bbolt.DB
}

// OpenCache opens or creates a reply cache at path
func OpenCache(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(fragmentBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Cache{db: db}, nil
}

// CacheKey fingerprints a document together with everything that shapes the reply
func CacheKey(backend string, prompt string, contentType string, data []byte) string {
	h := sha256.New()
	for _, part := range [][]byte{[]byte(backend), []byte(prompt), []byte(normalizeMimeType(contentType)), data} {
		h.Write(part)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached reply for key, if any
func (c *Cache) Get(key string) (string, bool, error) {
	var entry *cacheEntry
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(fragmentBucketName)).Get([]byte(key))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return "", false, fmt.Errorf("reading cache entry: %w", err)
	}
	if entry == nil {
		return "", false, nil
	}
	return entry.Fragment, true, nil
}

// Put stores a reply under key
func (c *Cache) Put(key string, backend string, fragment string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(cacheEntry{
			Fragment: fragment,
			Backend:  backend,
			StoredAt: time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("marshaling cache entry: %w", err)
		}
		return tx.Bucket([]byte(fragmentBucketName)).Put([]byte(key), data)
	})
}

// Len returns the number of cached replies
func (c *Cache) Len() (int, error) {
	var n int
	err := c.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(fragmentBucketName)).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the database
func (c *Cache) Close() error {
	return c.db.Close()
}

// CachedExtractor serves repeated documents from a Cache and records fresh replies.
// Only successful replies are cached.
type CachedExtractor struct {
	next  Extractor
	cache *Cache
}

// NewCachedExtractor wraps next with cache
func NewCachedExtractor(next Extractor, cache *Cache) *CachedExtractor {
	return &CachedExtractor{next: next, cache: cache}
}

// Extract returns the cached reply or calls the wrapped backend
func (c *CachedExtractor) Extract(ctx context.Context, data []byte, contentType string, prompt string) (string, error) {
	key := CacheKey(c.next.Name(), prompt, contentType, data)

	fragment, ok, err := c.cache.Get(key)
	if err != nil {
		slog.Warn("Failed to read reply cache", "error", err)
	} else if ok {
		slog.Debug("Reply cache hit", "key", key[:12])
		return fragment, nil
	}

	fragment, err = c.next.Extract(ctx, data, contentType, prompt)
	if err != nil {
		return "", err
	}

	if err := c.cache.Put(key, c.next.Name(), fragment); err != nil {
		slog.Warn("Failed to write reply cache", "error", err)
	}
	return fragment, nil
}

// Name returns the wrapped backend name
func (c *CachedExtractor) Name() string {
	return c.next.Name()
}

// Close closes the wrapped extractor and the cache
func (c *CachedExtractor) Close() error {
	return errors.Join(c.next.Close(), c.cache.Close())
}
