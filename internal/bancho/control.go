// control.go holds the World operations the pub/sub bridge (C11) drives:
// each mirrors a protocol side-effect already used by a client-facing
// handler (Silence, Kick) or adds the thin stats/identity refresh those
// handlers don't otherwise need.
package bancho

import (
	"context"

	"banchod/internal/kv"
	"banchod/internal/session"
	"banchod/internal/stream"
	"banchod/internal/wire"
)

// Ban forcibly disconnects a currently-connected user, the live-session
// half of an out-of-band ban; persistence of the ban flag itself is the
// UserStore's job, done by whatever issued the peppy:ban event.
func (w *World) Ban(ctx context.Context, userID int32) {
	s, ok := w.Sessions.GetByUserID(userID)
	if !ok {
		return
	}
	w.Kick(ctx, s, "Your account has been restricted.")
}

// Wipe forcibly disconnects a user whose account data was just wiped.
func (w *World) Wipe(ctx context.Context, userID int32) {
	s, ok := w.Sessions.GetByUserID(userID)
	if !ok {
		return
	}
	w.Kick(ctx, s, "Your account data has been wiped.")
}

// Disconnect forces a user's session closed without an accompanying
// ban/wipe reason, used by the peppy:disconnect control event.
func (w *World) Disconnect(ctx context.Context, userID int32) {
	s, ok := w.Sessions.GetByUserID(userID)
	if !ok {
		return
	}
	w.Kick(ctx, s, "You have been disconnected by the server.")
}

// Notify enqueues a notification packet to a specific online user; a
// missing session is a silent drop per §6's UserStore contract.
func (w *World) Notify(userID int32, message string) {
	s, ok := w.Sessions.GetByUserID(userID)
	if !ok {
		return
	}
	s.Enqueue(wire.BuildNotification(message))
}

// ChangeUsername applies a rename to a live session and re-announces its
// userPanel on main so every client's friends/rank list picks it up.
func (w *World) ChangeUsername(userID int32, newUsername string) {
	s, ok := w.Sessions.GetByUserID(userID)
	if !ok {
		return
	}
	s.Username = newUsername
	s.SafeUsername = session.SafeName(newUsername)
	w.Streams.Broadcast(stream.Main, w.userPanelPacket(s), nil)
}

// RefreshStats re-fetches a user's cached stats from the UserStore and
// re-announces userStats on main, the live-session effect of the
// peppy:update_cached_stats control event.
func (w *World) RefreshStats(ctx context.Context, userID int32) error {
	s, ok := w.Sessions.GetByUserID(userID)
	if !ok {
		return nil
	}
	st, err := w.Svc.Users.GetUserStats(ctx, userID, s.GameMode, s.Relax)
	if err != nil {
		return err
	}
	s.UpdateCachedStats(session.Stats{
		RankedScore: st.RankedScore,
		Accuracy:    st.Accuracy,
		Playcount:   st.Playcount,
		TotalScore:  st.TotalScore,
		Rank:        st.Rank,
		PP:          st.PP,
	})
	w.Streams.Broadcast(stream.Main, w.userStatsPacket(s), nil)
	return nil
}

// SilenceByUserID is the pub/sub-driven form of Silence (R3): it looks
// the target up by user_id rather than an already-resolved *Session.
func (w *World) SilenceByUserID(ctx context.Context, userID int32, seconds int64, reason string, authorUserID int32) error {
	s, ok := w.Sessions.GetByUserID(userID)
	if !ok {
		until := w.now() + seconds
		return w.Svc.Users.Silence(ctx, userID, until, reason, authorUserID)
	}
	lease, err := w.Svc.AcquireOrdered(ctx, DefaultLockTTL, kv.SessionMutationLockKey(s.TokenIDValue))
	if err != nil {
		return err
	}
	defer w.Svc.ReleaseAll(ctx, lease)
	return w.Silence(ctx, s, seconds, reason, authorUserID)
}
