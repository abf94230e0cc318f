package bancho

import (
	"context"
	"strconv"

	"banchod/internal/kv"
	"banchod/internal/session"
	"banchod/internal/spectator"
	"banchod/internal/stream"
	"banchod/internal/wire"
)

// StartSpectating implements §4.4's start_spectating: stop any prior
// spectating, link self to host, join the spect/<uid> stream and the
// #spect_<uid> instance channel, and backfill fellow-spectator state.
func (w *World) StartSpectating(ctx context.Context, self *session.Session, hostUserID int32) error {
	host, ok := w.Sessions.GetByUserID(hostUserID)
	if !ok {
		// Open Question resolution: a negative userID is an explicit stop
		// request and must never be re-raised as host-not-found.
		if hostUserID < 0 {
			w.stopSpectatingLocked(ctx, self)
		}
		return nil
	}

	lease, err := w.Svc.AcquireOrdered(ctx, DefaultLockTTL,
		kv.SessionMutationLockKey(self.TokenIDValue), kv.SessionMutationLockKey(host.TokenIDValue))
	if err != nil {
		return err
	}
	defer w.Svc.ReleaseAll(ctx, lease)

	if self.SpectatingTokenID != nil {
		w.stopSpectatingLocked(ctx, self)
	}

	hostToken := host.TokenIDValue
	selfUserID := self.UserID
	self.SpectatingTokenID = &hostToken
	self.SpectatingUserID = &hostUserID
	host.AddSpectator(self.TokenIDValue)

	specStream := stream.SpectatorStream(hostUserID)
	firstFollower := host.SpectatorCount() == 1
	w.Streams.Add(specStream)
	w.Streams.Join(specStream, self)
	if firstFollower {
		w.Streams.Join(specStream, host)
	}
	host.Enqueue(wire.BuildAddSpectator(selfUserID))

	instanceName := spectatorChannelName(hostUserID)
	ch, existed := w.Channels.Get(instanceName)
	if !existed {
		ch = w.Channels.Add(instanceName, "spectator chat", true, false, true)
	}
	w.Channels.Join(ch, self.TokenIDValue)
	self.AddJoinedChannel(instanceName)
	if firstFollower {
		w.Channels.Join(ch, host.TokenIDValue)
		host.AddJoinedChannel(instanceName)
	}

	w.Streams.Broadcast(specStream, wire.BuildFellowSpectatorJoined(selfUserID), &stream.BroadcastOpts{
		Except: map[string]struct{}{self.TokenIDValue: {}},
	})
	for _, followerTok := range host.Spectators() {
		if followerTok == self.TokenIDValue {
			continue
		}
		if follower, ok := w.Sessions.Get(followerTok); ok {
			self.Enqueue(wire.BuildFellowSpectatorJoined(follower.UserID))
		}
	}
	return nil
}

// StopSpectating implements §4.4's inverse: unlink self from the host,
// and when the host just lost its last follower, kick it from the
// instance channel and the spect stream.
func (w *World) StopSpectating(ctx context.Context, self *session.Session) error {
	if self.SpectatingTokenID == nil {
		return nil
	}
	hostToken := *self.SpectatingTokenID
	lease, err := w.Svc.AcquireOrdered(ctx, DefaultLockTTL,
		kv.SessionMutationLockKey(self.TokenIDValue), kv.SessionMutationLockKey(hostToken))
	if err != nil {
		return err
	}
	defer w.Svc.ReleaseAll(ctx, lease)
	w.stopSpectatingLocked(ctx, self)
	return nil
}

func (w *World) stopSpectatingLocked(ctx context.Context, self *session.Session) {
	if self.SpectatingTokenID == nil {
		return
	}
	hostToken := *self.SpectatingTokenID
	hostUserID := int32(0)
	if self.SpectatingUserID != nil {
		hostUserID = *self.SpectatingUserID
	}
	self.SpectatingTokenID = nil
	self.SpectatingUserID = nil

	host, ok := w.Sessions.Get(hostToken)
	if !ok {
		return
	}
	host.RemoveSpectator(self.TokenIDValue)
	host.Enqueue(wire.BuildRemoveSpectator(self.UserID))

	specStream := stream.SpectatorStream(hostUserID)
	w.Streams.Leave(specStream, self.TokenIDValue)

	instanceName := spectatorChannelName(hostUserID)
	if ch, ok := w.Channels.Get(instanceName); ok {
		w.partChannelLocked(self, ch)
	}

	if host.SpectatorCount() == 0 {
		w.Streams.Leave(specStream, host.TokenIDValue)
		if ch, ok := w.Channels.Get(instanceName); ok {
			w.partChannelLocked(host, ch)
		}
	}
}

// stopAllFollowersLocked forces every follower of self to stop spectating,
// used when self (the host) disconnects (I3: host disconnect clears all
// followers).
func (w *World) stopAllFollowersLocked(ctx context.Context, host *session.Session) {
	for _, tok := range host.Spectators() {
		if follower, ok := w.Sessions.Get(tok); ok {
			w.stopSpectatingLocked(ctx, follower)
		}
	}
}

func spectatorChannelName(hostUserID int32) string {
	return "#spect_" + strconv.FormatInt(int64(hostUserID), 10)
}

func (w *World) followerEnqueuers(host *session.Session) []spectator.Enqueuer {
	out := make([]spectator.Enqueuer, 0, host.SpectatorCount())
	for _, tok := range host.Spectators() {
		if f, ok := w.Sessions.Get(tok); ok {
			out = append(out, f)
		}
	}
	return out
}

// RelaySpectatorFrames forwards spectateFrames from host to its
// followers (C8).
func (w *World) RelaySpectatorFrames(host *session.Session, frameData []byte) {
	spectator.RelayFrames(w.followerEnqueuers(host), host.TokenIDValue, frameData, wire.BuildSpectatorFrames)
}

// RelayCantSpectate broadcasts noSongSpectator(host.uid) to every
// follower when the host reports cant_spectate.
func (w *World) RelayCantSpectate(host *session.Session) {
	spectator.CantSpectate(w.followerEnqueuers(host), host.TokenIDValue, func() []byte {
		return wire.BuildNoSongSpectator(host.UserID)
	})
}
