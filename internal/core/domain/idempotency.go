package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// IdempotencyRecord guards exactly-once-effect semantics for one client key.
// The locked flag is the sole mutual-exclusion primitive for the key; it is
// flipped with a database compare-and-swap so it survives restarts and works
// across service instances.
type IdempotencyRecord struct {
	Key            string     `json:"key"`
	RequestHash    string     `json:"request_hash"`
	Locked         bool       `json:"locked"`
	LockToken      *uuid.UUID `json:"lock_token,omitempty"`
	ResponseBody   []byte     `json:"response_body,omitempty"`
	ResponseStatus *int       `json:"response_status,omitempty"`
	LockedAt       *time.Time `json:"locked_at,omitempty"`
	LastUsedAt     time.Time  `json:"last_used_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

// HasResponse returns true once a terminal response has been stored.
func (r *IdempotencyRecord) HasResponse() bool {
	return r.ResponseStatus != nil
}

// LockStale reports whether a held lock is older than ttl and therefore
// eligible for forced takeover. A record that is not locked is never stale.
func (r *IdempotencyRecord) LockStale(now time.Time, ttl time.Duration) bool {
	return r.Locked && r.LockedAt != nil && now.Sub(*r.LockedAt) >= ttl
}

// LockHandle identifies one successful Acquire. Release requires the handle so
// a caller whose lock was forcibly taken over cannot clobber the new holder.
type LockHandle struct {
	Key         string
	Token       uuid.UUID
	RequestHash string
}

// HashRequest computes the canonical SHA-256 digest of a request body, used to
// detect key reuse across distinct payloads.
func HashRequest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
