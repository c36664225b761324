package utils

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "session:"
	// sessionUpdateRetries bounds optimistic retries when another request
	// writes the same session between WATCH and EXEC.
	sessionUpdateRetries = 20
)

// ErrSessionContention is returned when Update keeps losing the race for a session.
var ErrSessionContention = errors.New("session update contention")

type sessionEntry struct {
	values    map[string][]byte
	expiresAt time.Time
}

var (
	sessionStore   = map[string]*sessionEntry{}
	sessionStoreMu sync.Mutex
)

// GuestSession is the server-side key/value bag of one visitor. Values are
// JSON encoded and kept in a Redis hash with a sliding TTL, or in process
// memory when Redis is disabled (single instance only).
type GuestSession struct {
	ID  string
	ttl time.Duration
}

// OpenSession returns the bag for id. It does not touch the store.
func OpenSession(id string, ttl time.Duration) *GuestSession {
	if ttl <= 0 {
		ttl = 14 * 24 * time.Hour
	}
	return &GuestSession{ID: id, ttl: ttl}
}

// Get decodes the value stored under key into dst and reports whether it existed.
func (s *GuestSession) Get(ctx context.Context, key string, dst any) (bool, error) {
	if rc := GetRedis(); rc != nil {
		hkey := sessionKeyPrefix + s.ID
		raw, err := rc.HGet(ctx, hkey, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		_ = rc.Expire(ctx, hkey, s.ttl).Err()
		return true, json.Unmarshal(raw, dst)
	}

	sessionStoreMu.Lock()
	entry, ok := sessionStore[s.ID]
	if ok && time.Now().After(entry.expiresAt) {
		delete(sessionStore, s.ID)
		ok = false
	}
	var raw []byte
	if ok {
		raw, ok = entry.values[key]
		entry.expiresAt = time.Now().Add(s.ttl)
	}
	sessionStoreMu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

// Set stores value under key and refreshes the session TTL.
func (s *GuestSession) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if rc := GetRedis(); rc != nil {
		hkey := sessionKeyPrefix + s.ID
		pipe := rc.TxPipeline()
		pipe.HSet(ctx, hkey, key, raw)
		pipe.Expire(ctx, hkey, s.ttl)
		_, err := pipe.Exec(ctx)
		return err
	}

	sessionStoreMu.Lock()
	defer sessionStoreMu.Unlock()
	cleanupExpiredSessionsLocked()
	entry, ok := sessionStore[s.ID]
	if !ok {
		entry = &sessionEntry{values: map[string][]byte{}}
		sessionStore[s.ID] = entry
	}
	entry.values[key] = raw
	entry.expiresAt = time.Now().Add(s.ttl)
	return nil
}

// Update replaces the raw JSON under key with fn(current) atomically with respect
// to other writers of the same session. fn gets nil when key is absent and may
// run more than once, so it must not have side effects.
func (s *GuestSession) Update(ctx context.Context, key string, fn func(raw []byte) ([]byte, error)) error {
	if rc := GetRedis(); rc != nil {
		hkey := sessionKeyPrefix + s.ID
		txf := func(tx *redis.Tx) error {
			cur, err := tx.HGet(ctx, hkey, key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			next, err := fn(cur)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, hkey, key, next)
				pipe.Expire(ctx, hkey, s.ttl)
				return nil
			})
			return err
		}
		for i := 0; i < sessionUpdateRetries; i++ {
			err := rc.Watch(ctx, txf, hkey)
			if !errors.Is(err, redis.TxFailedErr) {
				return err
			}
		}
		return ErrSessionContention
	}

	sessionStoreMu.Lock()
	defer sessionStoreMu.Unlock()
	entry, ok := sessionStore[s.ID]
	if !ok || time.Now().After(entry.expiresAt) {
		cleanupExpiredSessionsLocked()
		entry = &sessionEntry{values: map[string][]byte{}}
		sessionStore[s.ID] = entry
	}
	next, err := fn(entry.values[key])
	if err != nil {
		return err
	}
	entry.values[key] = next
	entry.expiresAt = time.Now().Add(s.ttl)
	return nil
}

func cleanupExpiredSessionsLocked() {
	now := time.Now()
	for id, entry := range sessionStore {
		if now.After(entry.expiresAt) {
			delete(sessionStore, id)
		}
	}
}
