package rpc

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketIdempotency = []byte("idempotency")

	errNoRecord = errors.New("rpc: idempotency record not found")
)

// idempotencyRecord stores the cached response for an idempotency key so a
// retried mutation replays the original outcome instead of running twice.
type idempotencyRecord struct {
	StatusCode int       `json:"statusCode"`
	Body       []byte    `json:"body"`
	StoredAt   time.Time `json:"storedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// IdempotencyStore persists cached mutation responses in BoltDB.
type IdempotencyStore struct {
	db  *bolt.DB
	ttl time.Duration
}

// NewIdempotencyStore initialises the BoltDB-backed store. Records expire
// after ttl; zero means 24 hours.
func NewIdempotencyStore(path string, ttl time.Duration) (*IdempotencyStore, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIdempotency)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &IdempotencyStore{db: db, ttl: ttl}, nil
}

// Close releases the underlying Bolt database handle.
func (s *IdempotencyStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Lookup returns the cached response for the key, if a live one exists.
func (s *IdempotencyStore) Lookup(key string) (int, []byte, bool, error) {
	key = strings.TrimSpace(key)
	if s == nil || s.db == nil || key == "" {
		return 0, nil, false, nil
	}
	var rec idempotencyRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketIdempotency).Get([]byte(key))
		if raw == nil {
			return errNoRecord
		}
		return json.Unmarshal(raw, &rec)
	})
	if errors.Is(err, errNoRecord) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, err
	}
	if time.Now().After(rec.ExpiresAt) {
		return 0, nil, false, nil
	}
	return rec.StatusCode, rec.Body, true, nil
}

// Remember caches a response under the key.
func (s *IdempotencyStore) Remember(key string, statusCode int, body []byte) error {
	key = strings.TrimSpace(key)
	if s == nil || s.db == nil || key == "" {
		return nil
	}
	now := time.Now()
	rec := idempotencyRecord{
		StatusCode: statusCode,
		Body:       body,
		StoredAt:   now,
		ExpiresAt:  now.Add(s.ttl),
	}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdempotency).Put([]byte(key), encoded)
	})
}
