package bancho

import (
	"context"
	"strconv"

	"banchod/internal/kv"
	"banchod/internal/match"
	"banchod/internal/model"
	"banchod/internal/session"
	"banchod/internal/stream"
	"banchod/internal/wire"
)

func multiChannelName(matchID int64) string {
	return "#multi_" + strconv.FormatInt(matchID, 10)
}

// CreateMatch allocates a match hosted by s and joins s to it.
func (w *World) CreateMatch(ctx context.Context, s *session.Session, name, password string) *match.Match {
	m := w.Matches.Create(name, password, s.UserID, s.TokenIDValue, w.now())
	w.attachMatchInfra(m)
	matchID := m.MatchID
	s.MatchID = &matchID
	w.joinMatchStreamsAndChannel(s, m)
	w.sendUpdates(m)
	return m
}

func (w *World) attachMatchInfra(m *match.Match) {
	w.Streams.Add(stream.MultiplayerStream(m.MatchID))
	w.Streams.Add(stream.MultiplayerPlaying(m.MatchID))
	w.Channels.Add(multiChannelName(m.MatchID), "multiplayer chat", true, true, true)
}

func (w *World) joinMatchStreamsAndChannel(s *session.Session, m *match.Match) {
	w.Streams.Join(stream.MultiplayerStream(m.MatchID), s)
	s.AddJoinedStream(stream.MultiplayerStream(m.MatchID))
	if ch, ok := w.Channels.Get(multiChannelName(m.MatchID)); ok {
		w.Channels.Join(ch, s.TokenIDValue)
		s.AddJoinedChannel(ch.Name)
	}
}

// JoinMatch implements §4.4's join_match: stop spectating, leave any
// other match, attempt match.UserJoin under the match lock, and reply
// with matchJoinSuccess or matchJoinFail.
func (w *World) JoinMatch(ctx context.Context, s *session.Session, matchID int64, password string) error {
	_ = w.StopSpectating(ctx, s)
	if s.MatchID != nil {
		w.LeaveMatch(ctx, s)
	}

	lease, err := w.Svc.AcquireOrdered(ctx, DefaultLockTTL, kv.MatchLockKey(matchID), kv.SessionMutationLockKey(s.TokenIDValue))
	if err != nil {
		return err
	}
	defer w.Svc.ReleaseAll(ctx, lease)

	m, ok := w.Matches.Get(matchID)
	if !ok || m.Disposed() {
		s.Enqueue(wire.BuildMatchJoinFail())
		return nil
	}
	if !m.PasswordMatches(password) {
		s.Enqueue(wire.BuildMatchJoinFail())
		return model.ErrMatchPasswordMismatch
	}

	idx := m.UserJoin(s.UserID, s.TokenIDValue)
	if idx < 0 {
		s.Enqueue(wire.BuildMatchJoinFail())
		return model.ErrMatchSlotsFull
	}

	id := m.MatchID
	s.MatchID = &id
	w.joinMatchStreamsAndChannel(s, m)
	s.Enqueue(wire.BuildMatchJoinSuccess(w.encodeMatch(m, false)))
	if m.IsTourney {
		s.Enqueue(wire.BuildNotification("joined tourney match"))
	}
	w.sendUpdates(m)
	return nil
}

// LeaveMatch frees the caller's slot, transfers host if needed, and
// disposes the match once its last slot goes FREE.
func (w *World) LeaveMatch(ctx context.Context, s *session.Session) {
	if s.MatchID == nil {
		return
	}
	matchID := *s.MatchID
	lease, err := w.Svc.AcquireOrdered(ctx, DefaultLockTTL, kv.MatchLockKey(matchID), kv.SessionMutationLockKey(s.TokenIDValue))
	if err != nil {
		return
	}
	defer w.Svc.ReleaseAll(ctx, lease)
	w.leaveMatchLocked(ctx, s)
}

func (w *World) leaveMatchLocked(ctx context.Context, s *session.Session) {
	if s.MatchID == nil {
		return
	}
	matchID := *s.MatchID
	s.MatchID = nil

	m, ok := w.Matches.Get(matchID)
	if !ok {
		return
	}
	transferred, newHostUserID, _ := m.UserLeave(s.TokenIDValue)

	streamName := stream.MultiplayerStream(matchID)
	w.Streams.Leave(streamName, s.TokenIDValue)
	s.RemoveJoinedStream(streamName)
	if ch, ok := w.Channels.Get(multiChannelName(matchID)); ok {
		w.partChannelLocked(s, ch)
	}

	if m.Empty() {
		m.Dispose()
		w.Streams.Broadcast(streamName, wire.BuildMatchDispose(int32(matchID)), nil)
		w.Streams.Remove(streamName)
		w.Streams.Remove(stream.MultiplayerPlaying(matchID))
		w.Matches.Remove(matchID)
		return
	}
	if transferred {
		if newHost, ok := w.Sessions.GetByUserID(newHostUserID); ok {
			newHost.Enqueue(wire.BuildMatchTransferHost())
		}
	}
	w.sendUpdates(m)
}

// ChangeSettings applies a host-only settings change under the match
// lock, honoring I4/I5, then broadcasts updateMatch.
func (w *World) ChangeSettings(ctx context.Context, s *session.Session, matchID int64, c match.SettingsChange) error {
	lease, err := w.Svc.AcquireOrdered(ctx, DefaultLockTTL, kv.MatchLockKey(matchID))
	if err != nil {
		return err
	}
	defer w.Svc.ReleaseAll(ctx, lease)

	m, ok := w.Matches.Get(matchID)
	if !ok || m.Disposed() {
		return nil // silent no-op per §4.7 failure semantics
	}
	if m.HostUserID != s.UserID {
		return nil // non-host requests are silently dropped
	}
	m.ApplySettings(c)
	w.sendUpdates(m)
	return nil
}

// SetReady, Start, Skip, and friends follow the same
// "lookup-under-lock-or-silent-no-op" shape as ChangeSettings.
func (w *World) matchOp(ctx context.Context, matchID int64, requireHost int32, fn func(m *match.Match)) {
	lease, err := w.Svc.AcquireOrdered(ctx, DefaultLockTTL, kv.MatchLockKey(matchID))
	if err != nil {
		return
	}
	defer w.Svc.ReleaseAll(ctx, lease)

	m, ok := w.Matches.Get(matchID)
	if !ok || m.Disposed() {
		return
	}
	if requireHost != 0 && m.HostUserID != requireHost {
		return
	}
	fn(m)
	w.sendUpdates(m)
}

func (w *World) SetReady(ctx context.Context, s *session.Session, ready bool) {
	if s.MatchID == nil {
		return
	}
	w.matchOp(ctx, *s.MatchID, 0, func(m *match.Match) { m.SetReady(s.TokenIDValue, ready) })
}

func (w *World) SetTeam(ctx context.Context, s *session.Session, team model.Team) {
	if s.MatchID == nil {
		return
	}
	w.matchOp(ctx, *s.MatchID, 0, func(m *match.Match) { m.SetTeam(s.TokenIDValue, team) })
}

func (w *World) ToggleLock(ctx context.Context, s *session.Session, slotIdx int) {
	if s.MatchID == nil {
		return
	}
	w.matchOp(ctx, *s.MatchID, s.UserID, func(m *match.Match) { m.ToggleLock(slotIdx) })
}

func (w *World) StartMatch(ctx context.Context, s *session.Session, force bool) {
	if s.MatchID == nil {
		return
	}
	w.matchOp(ctx, *s.MatchID, s.UserID, func(m *match.Match) {
		if m.Start(force) {
			w.Streams.Broadcast(stream.MultiplayerStream(m.MatchID), wire.BuildMatchStart(w.encodeMatch(m, false)), nil)
		}
	})
}

func (w *World) PlayerLoaded(ctx context.Context, s *session.Session) {
	if s.MatchID == nil {
		return
	}
	w.matchOp(ctx, *s.MatchID, 0, func(m *match.Match) {
		if m.PlayerLoaded(s.TokenIDValue) {
			w.Streams.Broadcast(stream.MultiplayerPlaying(m.MatchID), wire.BuildAllPlayersLoaded(), nil)
		}
	})
}

func (w *World) PlayerSkip(ctx context.Context, s *session.Session) {
	if s.MatchID == nil {
		return
	}
	w.matchOp(ctx, *s.MatchID, 0, func(m *match.Match) {
		if m.PlayerSkipped(s.TokenIDValue) {
			w.Streams.Broadcast(stream.MultiplayerPlaying(m.MatchID), wire.BuildAllPlayersSkipped(), nil)
		}
	})
}

func (w *World) PlayerFailed(ctx context.Context, s *session.Session) {
	if s.MatchID == nil {
		return
	}
	w.matchOp(ctx, *s.MatchID, 0, func(m *match.Match) { m.PlayerFailed(s.TokenIDValue) })
}

func (w *World) PlayerCompleted(ctx context.Context, s *session.Session) {
	if s.MatchID == nil {
		return
	}
	w.matchOp(ctx, *s.MatchID, 0, func(m *match.Match) {
		if m.PlayerCompleted(s.TokenIDValue) {
			w.Streams.Broadcast(stream.MultiplayerPlaying(m.MatchID), wire.BuildMatchComplete(), nil)
			m.FinishGame()
		}
	})
}

// sendUpdates implements the §4.7 observability hook: every mutation
// ends with a broadcast of the serialized match on its own stream and
// the lobby. Members of the match itself get the real password (they
// already know it, or don't need it to rejoin); the lobby-wide
// broadcast is censored so a password-protected match doesn't leak its
// password to every client browsing the multiplayer list.
func (w *World) sendUpdates(m *match.Match) {
	w.Streams.Broadcast(stream.MultiplayerStream(m.MatchID), wire.BuildUpdateMatch(w.encodeMatch(m, false)), nil)
	w.Streams.Broadcast(stream.Lobby, wire.BuildUpdateMatch(w.encodeMatch(m, true)), nil)
}

// encodeMatch serializes a Match for the wire. censorPassword blanks the
// password field for lobby-wide broadcasts.
func (w *World) encodeMatch(m *match.Match, censorPassword bool) []byte {
	data := wire.MatchData{
		MatchID:     int32(m.MatchID),
		InProgress:  m.IsInProgress,
		Mods:        int32(m.Mods),
		Name:        m.Name,
		BeatmapName: m.BeatmapName,
		BeatmapID:   m.BeatmapID,
		BeatmapMD5:  m.BeatmapMD5,
		HostUserID:  m.HostUserID,
		GameMode:    uint8(m.GameMode),
		ScoringType: uint8(m.ScoringType),
		TeamType:    uint8(m.TeamType),
		ModMode:     uint8(m.ModMode),
	}
	if !censorPassword {
		data.Password = m.Password
	}
	for i := range m.Slots {
		slot := m.Slots[i]
		sd := wire.MatchSlotData{Status: uint8(slot.Status), Team: uint8(slot.Team), UserID: -1}
		if slot.Status.Occupied() {
			sd.HasPlayer = true
			sd.UserID = slot.UserID
			sd.Mods = int32(slot.Mods)
		}
		data.Slots[i] = sd
	}
	return wire.EncodeMatchData(data)
}
