// Package pubsub implements C11: the external fan-in of control events
// published on the "peppy:*" subjects named in §4.11. Together with
// workers (reaper and spam decay) it drives bancho.World from outside a
// client's own packet stream, grounded on the same KV.Subscribe the
// teacher's pkg/nats client exposes for cross-replica fan-out.
package pubsub

import (
	"context"
	"encoding/json"

	"golang.org/x/time/rate"

	"banchod/internal/bancho"
	"banchod/internal/kv"
	"banchod/internal/logging"
)

// perSubjectRateLimit bounds how many control events per second this
// replica will act on per subject, so a misbehaving or compromised
// publisher on peppy:* can't burn CPU replaying e.g. silence events.
const perSubjectRateLimit = 50

// Subjects is the full set of control channels the bridge subscribes to.
var Subjects = []string{
	"peppy:ban",
	"peppy:unban",
	"peppy:silence",
	"peppy:disconnect",
	"peppy:notification",
	"peppy:change_username",
	"peppy:update_cached_stats",
	"peppy:wipe",
}

// Bridge owns one live subscription per subject and tears them all down
// together on Close.
type Bridge struct {
	kv    kv.KV
	world *bancho.World
	log   logging.Logger
	subs  []kv.Subscription

	limiters map[string]*rate.Limiter
}

func New(store kv.KV, world *bancho.World, log logging.Logger) *Bridge {
	limiters := make(map[string]*rate.Limiter, len(Subjects))
	for _, subject := range Subjects {
		limiters[subject] = rate.NewLimiter(rate.Limit(perSubjectRateLimit), perSubjectRateLimit)
	}
	return &Bridge{kv: store, world: world, log: log, limiters: limiters}
}

// Start subscribes to every control subject; each handler is invoked on
// its own NATS dispatch goroutine and mutates session/user state only
// through World. Silence, ban, wipe and disconnect take the session
// mutation lock there (O5: serialized with handler-driven changes);
// change_username and update_cached_stats write the session's fields
// without taking it.
func (b *Bridge) Start(ctx context.Context) error {
	handlers := map[string]func(context.Context, []byte){
		"peppy:ban":                b.handleBan,
		"peppy:unban":              b.handleUnban,
		"peppy:silence":            b.handleSilence,
		"peppy:disconnect":         b.handleDisconnect,
		"peppy:notification":      b.handleNotification,
		"peppy:change_username":    b.handleChangeUsername,
		"peppy:update_cached_stats": b.handleUpdateCachedStats,
		"peppy:wipe":               b.handleWipe,
	}

	for _, subject := range Subjects {
		subject := subject
		h := handlers[subject]
		limiter := b.limiters[subject]
		sub, err := b.kv.Subscribe(ctx, subject, func(payload []byte) {
			if limiter != nil && !limiter.Allow() {
				if b.log != nil {
					b.log.Warnw("pubsub: rate limit exceeded, dropping event", "subject", subject)
				}
				return
			}
			h(ctx, payload)
		})
		if err != nil {
			b.Close()
			return err
		}
		b.subs = append(b.subs, sub)
	}
	return nil
}

func (b *Bridge) Close() {
	for _, s := range b.subs {
		_ = s.Unsubscribe()
	}
	b.subs = nil
}

func (b *Bridge) decode(payload []byte, v interface{}) bool {
	if err := json.Unmarshal(payload, v); err != nil {
		if b.log != nil {
			b.log.Warnw("pubsub: malformed control payload", "err", err)
		}
		return false
	}
	return true
}

type userIDMsg struct {
	UserID int32 `json:"user_id"`
}

func (b *Bridge) handleBan(ctx context.Context, payload []byte) {
	var m userIDMsg
	if !b.decode(payload, &m) {
		return
	}
	b.world.Ban(ctx, m.UserID)
}

func (b *Bridge) handleUnban(ctx context.Context, payload []byte) {
	var m userIDMsg
	if !b.decode(payload, &m) {
		return
	}
	// Unbanning a user has no live-session effect: the account was
	// already disconnected by the ban event, and the next login re-reads
	// the (now clear) ban flag from the UserStore.
}

type silenceMsg struct {
	UserID   int32  `json:"user_id"`
	Seconds  int64  `json:"seconds"`
	Reason   string `json:"reason"`
	AuthorID int32  `json:"author_id"`
}

func (b *Bridge) handleSilence(ctx context.Context, payload []byte) {
	var m silenceMsg
	if !b.decode(payload, &m) {
		return
	}
	if err := b.world.SilenceByUserID(ctx, m.UserID, m.Seconds, m.Reason, m.AuthorID); err != nil && b.log != nil {
		b.log.Warnw("pubsub: silence failed", "user_id", m.UserID, "err", err)
	}
}

func (b *Bridge) handleDisconnect(ctx context.Context, payload []byte) {
	var m userIDMsg
	if !b.decode(payload, &m) {
		return
	}
	b.world.Disconnect(ctx, m.UserID)
}

type notificationMsg struct {
	UserID  int32  `json:"user_id"`
	Message string `json:"message"`
}

func (b *Bridge) handleNotification(_ context.Context, payload []byte) {
	var m notificationMsg
	if !b.decode(payload, &m) {
		return
	}
	b.world.Notify(m.UserID, m.Message)
}

type changeUsernameMsg struct {
	UserID      int32  `json:"user_id"`
	NewUsername string `json:"new_username"`
}

func (b *Bridge) handleChangeUsername(_ context.Context, payload []byte) {
	var m changeUsernameMsg
	if !b.decode(payload, &m) {
		return
	}
	b.world.ChangeUsername(m.UserID, m.NewUsername)
}

func (b *Bridge) handleUpdateCachedStats(ctx context.Context, payload []byte) {
	var m userIDMsg
	if !b.decode(payload, &m) {
		return
	}
	if err := b.world.RefreshStats(ctx, m.UserID); err != nil && b.log != nil {
		b.log.Warnw("pubsub: refresh stats failed", "user_id", m.UserID, "err", err)
	}
}

func (b *Bridge) handleWipe(ctx context.Context, payload []byte) {
	var m userIDMsg
	if !b.decode(payload, &m) {
		return
	}
	b.world.Wipe(ctx, m.UserID)
}
