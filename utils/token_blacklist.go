package utils

import (
	"context"
	"sync"
	"time"
)

const blacklistPrefix = "jwt:blacklist:"

var (
	blacklist   = map[string]time.Time{}
	blacklistMu sync.RWMutex
)

// BlacklistToken revokes a token until its natural expiry (logout).
func BlacklistToken(ctx context.Context, token string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if rc := GetRedis(); rc != nil {
		return rc.Set(ctx, blacklistPrefix+token, "1", ttl).Err()
	}
	blacklistMu.Lock()
	for t, exp := range blacklist {
		if time.Now().After(exp) {
			delete(blacklist, t)
		}
	}
	blacklist[token] = expiresAt
	blacklistMu.Unlock()
	return nil
}

// IsTokenBlacklisted checks if a token was revoked before natural expiration.
// Redis errors fail open so an outage does not log everybody out.
func IsTokenBlacklisted(ctx context.Context, token string) bool {
	if rc := GetRedis(); rc != nil {
		n, err := rc.Exists(ctx, blacklistPrefix+token).Result()
		if err != nil {
			Sugar.Warnf("blacklist lookup failed err=%v", err)
			return false
		}
		return n > 0
	}
	blacklistMu.RLock()
	exp, ok := blacklist[token]
	blacklistMu.RUnlock()
	return ok && time.Now().Before(exp)
}
