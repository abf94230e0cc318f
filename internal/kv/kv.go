// Package kv abstracts the shared store every replica coordinates
// through: scalar get/set, hashes, sets, pub/sub, and a fenced-lease
// mutex. Handlers never talk to NATS directly, only this interface.
package kv

import (
	"context"
	"strconv"
	"time"
)

// KV is the store interface named in the external-interfaces section.
// Implementations must make every method safe for concurrent use.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Del(ctx context.Context, key string) error

	HGet(ctx context.Context, key, field string) ([]byte, error)
	HSet(ctx context.Context, key, field string, value []byte) error
	HDel(ctx context.Context, key, field string) error
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)

	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	Publish(ctx context.Context, subject string, payload []byte) error
	Subscribe(ctx context.Context, subject string, handler func(payload []byte)) (Subscription, error)

	// AcquireLease returns a fencing token on success, or ErrLockTimeout
	// once the retry budget is exhausted.
	AcquireLease(ctx context.Context, name string, ttl time.Duration) (string, error)
	ReleaseLease(ctx context.Context, name, token string) error

	Close() error
}

// Subscription is a handle returned by Subscribe; Unsubscribe stops
// delivery of further messages.
type Subscription interface {
	Unsubscribe() error
}

// Keys used across components, centralized so the lock-ordering helper
// and component packages agree on naming.
//
// SessionLockKey and SessionMutationLockKey are deliberately distinct
// keys, not two names for the same lease: SessionLockKey is §4.9's
// per-dispatch processing lock, held by the dispatcher for the whole
// span of one handler call. SessionMutationLockKey is the §4.2
// per-entity mutation lock that World operations acquire around the
// fields they actually touch — including from callers that never go
// through the dispatcher at all (the C10 reaper, the C11 pub/sub
// bridge). Collapsing them onto one key makes every World operation
// invoked from inside a dispatched handler re-acquire a lease the
// dispatcher is already holding, and the fenced lease is not reentrant.
func SessionKey(tokenID string) string             { return "session:" + tokenID }
func SessionLockKey(tokenID string) string         { return "session:" + tokenID + ":processing_lock" }
func SessionMutationLockKey(tokenID string) string { return "session:" + tokenID + ":lock" }
func MatchKey(matchID int64) string                { return "match:" + strconv.FormatInt(matchID, 10) }
func MatchLockKey(matchID int64) string            { return "match:" + strconv.FormatInt(matchID, 10) + ":lock" }
func StreamKey(name string) string                 { return "stream:" + name }
func StreamLockKey(name string) string             { return "stream:" + name + ":lock" }
