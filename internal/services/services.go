// Package services is the dependency-injected replacement for the
// teacher's package-level globals: every component is handed a
// *Services instead of reaching for a singleton.
package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"banchod/internal/clock"
	"banchod/internal/config"
	"banchod/internal/kv"
	"banchod/internal/logging"
	"banchod/internal/metrics"
	"banchod/internal/userstore"
	"banchod/internal/webhook"
)

// Services aggregates every external collaborator named in §1: kv,
// clock, user store, logger, metrics, webhook sink.
type Services struct {
	Config  config.Config
	KV      kv.KV
	Clock   clock.Clock
	Users   userstore.UserStore
	Log     logging.Logger
	Metrics metrics.Sink
	Webhook webhook.Sink
}

// domainRank fixes the lock-ordering convention: match < session < stream.
func domainRank(name string) int {
	switch {
	case hasPrefix(name, "match:"):
		return 0
	case hasPrefix(name, "session:"):
		return 1
	case hasPrefix(name, "stream:"):
		return 2
	default:
		return 3
	}
}

func hasPrefix(s, p string) bool {
	return len(s) >= len(p) && s[:len(p)] == p
}

// OrderedLocks sorts lock names into the match < session < stream total
// order so any handler crossing domains acquires them consistently and
// never deadlocks against a handler doing the reverse.
func OrderedLocks(names ...string) []string {
	out := append([]string(nil), names...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := domainRank(out[i]), domainRank(out[j])
		if ri != rj {
			return ri < rj
		}
		return out[i] < out[j]
	})
	return out
}

// Lease is a held fenced lock; Release must be called exactly once.
type Lease struct {
	name  string
	token string
	kv    kv.KV
}

func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.kv.ReleaseLease(ctx, l.name, l.token)
}

// AcquireOrdered acquires every named lock in match < session < stream
// order, releasing whatever it already holds if any acquisition fails or
// times out, and reports the time spent waiting to Metrics.
func (s *Services) AcquireOrdered(ctx context.Context, ttl time.Duration, names ...string) ([]*Lease, error) {
	ordered := OrderedLocks(names...)
	leases := make([]*Lease, 0, len(ordered))

	start := s.Clock.Monotonic()
	for _, name := range ordered {
		token, err := s.KV.AcquireLease(ctx, name, ttl)
		if err != nil {
			for i := len(leases) - 1; i >= 0; i-- {
				_ = leases[i].Release(ctx)
			}
			if s.Metrics != nil {
				s.Metrics.LockTimeout()
			}
			return nil, fmt.Errorf("acquire %s: %w", name, err)
		}
		leases = append(leases, &Lease{name: name, token: token, kv: s.KV})
	}
	if s.Metrics != nil {
		s.Metrics.LockWait(s.Clock.Monotonic() - start)
	}
	return leases, nil
}

// ReleaseAll releases every lease, logging but not failing on error.
func (s *Services) ReleaseAll(ctx context.Context, leases []*Lease) {
	for i := len(leases) - 1; i >= 0; i-- {
		if err := leases[i].Release(ctx); err != nil && s.Log != nil {
			s.Log.Warnw("release lease failed", "lock", leases[i].name, "err", err)
		}
	}
}
