// Package bancho is the orchestration layer: the only package that
// holds every component registry together and crosses their boundaries.
// Per the Design Notes ("crossing a boundary is a lookup"), session,
// channel, match, and spectator packages only expose pure, single-entity
// operations; World composes them into the multi-entity flows spec'd in
// §4.4 (join_channel, start_spectating, join_match, ...), §4.6 (chat
// send), and §4.7 (match engine operations), each wrapped in the
// appropriate fenced lease(s) in match < session < stream order (O1-O5).
package bancho

import (
	"context"
	"time"

	"banchod/internal/channel"
	"banchod/internal/chat"
	"banchod/internal/kv"
	"banchod/internal/match"
	"banchod/internal/model"
	"banchod/internal/services"
	"banchod/internal/session"
	"banchod/internal/spectator"
	"banchod/internal/stream"
	"banchod/internal/wire"
)

// DefaultLockTTL bounds how long a fenced lease is held before it can be
// stolen from a crashed holder.
const DefaultLockTTL = 5 * time.Second

// World aggregates every component registry plus Services, the single
// place allowed to import all of session/channel/match/spectator/stream.
type World struct {
	Svc      *services.Services
	Sessions *session.Store
	Channels *channel.Registry
	Streams  *stream.Registry
	Matches  *match.Registry

	BotUserID int32
}

func New(svc *services.Services, botUserID int32) *World {
	w := &World{
		Svc:       svc,
		Sessions:  session.NewStore(),
		Channels:  channel.NewRegistry(),
		Streams:   stream.NewRegistry(svc.KV, svc.Metrics),
		Matches:   match.NewRegistry(),
		BotUserID: botUserID,
	}
	w.Streams.Add(stream.Main)
	w.Streams.Add(stream.Lobby)
	return w
}

func (w *World) now() int64 { return w.Svc.Clock.Now() }

// --- login / logout ---------------------------------------------------

// Login registers a new Session, enforcing I1 by evicting any prior
// session for the same user outside tournament mode, joins it to main,
// and returns the scripted login packet sequence (scenario 1 in §8).
func (w *World) Login(ctx context.Context, tokenID string, rec loginRecord) (*session.Session, [][]byte, error) {
	lease, err := w.Svc.AcquireOrdered(ctx, DefaultLockTTL, kv.SessionMutationLockKey(tokenID))
	if err != nil {
		return nil, nil, err
	}
	defer w.Svc.ReleaseAll(ctx, lease)

	s := session.New(tokenID, rec.UserID, rec.Username, rec.Privileges, w.now())
	s.Tournament = rec.Tournament
	s.IRC = rec.IRC
	s.IP = rec.IP

	if evicted := w.Sessions.Put(s); evicted != nil {
		w.logoutLocked(ctx, evicted)
	}

	w.Streams.Join(stream.Main, s)
	s.AddJoinedStream(stream.Main)

	packets := [][]byte{
		wire.BuildUserID(s.UserID),
		wire.BuildSilenceEndTime(0),
		wire.BuildProtocolVersion(int32(s.ProtocolVer)),
		wire.BuildSupporterGMT(boolFlag(s.PrivilegesValue.Has(model.UserDonor))),
		w.userPanelPacket(s),
		w.userStatsPacket(s),
	}
	for _, ch := range w.Channels.PublicChannels() {
		packets = append(packets, wire.BuildChannelInfo(ch.Name, ch.Description, uint16(ch.MemberCount())))
	}
	packets = append(packets, wire.BuildChannelInfoEnd())

	if bot, ok := w.Sessions.GetByUserID(w.BotUserID); ok {
		packets = append(packets, w.userPanelPacket(bot), w.userStatsPacket(bot))
	}
	return s, packets, nil
}

type loginRecord struct {
	UserID      int32
	Username    string
	Privileges  model.Privileges
	Tournament  bool
	IRC         bool
	IP          string
}

func boolFlag(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func (w *World) userPanelPacket(s *session.Session) []byte {
	return wire.BuildUserPanel(wire.UserPanelFields{
		UserID:  s.UserID,
		Name:    s.Username,
		TZ:      uint8(s.UTCOffset),
		Country: s.Location.Country,
		Lon:     s.Location.Lon,
		Lat:     s.Location.Lat,
	})
}

func (w *World) userStatsPacket(s *session.Session) []byte {
	return wire.BuildUserStats(wire.UserStatsFields{
		UserID:      uint32(s.UserID),
		ActionID:    s.ActionID,
		ActionText:  s.ActionText,
		ActionMD5:   s.ActionMD5,
		ActionMods:  s.ActionMods,
		Mode:        uint8(s.GameMode),
		BeatmapID:   s.BeatmapID,
		RankedScore: uint64(s.StatsCache.RankedScore),
		Accuracy:    s.StatsCache.Accuracy,
		Playcount:   s.StatsCache.Playcount,
		TotalScore:  uint64(s.StatsCache.TotalScore),
		Rank:        s.StatsCache.Rank,
		PP:          s.StatsCache.PP,
	})
}

// Logout tears a session out of every registry it belongs to and
// broadcasts userLogout on main (scenario 6, invariant I2/I3 cleanup).
func (w *World) Logout(ctx context.Context, tokenID string) {
	s, ok := w.Sessions.Get(tokenID)
	if !ok {
		return
	}
	lease, err := w.Svc.AcquireOrdered(ctx, DefaultLockTTL, kv.SessionMutationLockKey(tokenID))
	if err != nil {
		return
	}
	defer w.Svc.ReleaseAll(ctx, lease)
	w.logoutLocked(ctx, s)
}

func (w *World) logoutLocked(ctx context.Context, s *session.Session) {
	if s.MatchID != nil {
		w.leaveMatchLocked(ctx, s)
	}
	if s.SpectatingTokenID != nil {
		w.stopSpectatingLocked(ctx, s)
	}
	w.stopAllFollowersLocked(ctx, s)

	for _, name := range s.JoinedChannels() {
		if ch, ok := w.Channels.Get(name); ok {
			w.partChannelLocked(s, ch)
		}
	}

	w.Streams.LeaveAll(s.TokenIDValue)
	w.Sessions.Remove(s.TokenIDValue)
	w.Streams.Broadcast(stream.Main, wire.BuildUserLogout(s.UserID), nil)
}

// --- channels (C5, §4.4/§4.5) -----------------------------------------

// JoinChannel enforces the §4.5 ACL and joins the session to the
// channel and its backing stream, returning the packets to deliver.
func (w *World) JoinChannel(name string, s *session.Session) ([][]byte, error) {
	ch, perm := w.Channels.CheckJoin(name, s.PrivilegesValue, s.Staff, s.IsBot(w.BotUserID))
	switch perm {
	case channel.PermissionNoSuchChannel:
		return nil, model.ErrChannelUnknown
	case channel.PermissionDenied:
		return nil, model.ErrChannelNoPermissions
	}
	if s.InChannel(name) {
		return nil, model.ErrUserAlreadyInChannel
	}

	w.Channels.Join(ch, s.TokenIDValue)
	s.AddJoinedChannel(name)
	streamName := stream.ChatStream(name)
	w.Streams.Add(streamName)
	w.Streams.Join(streamName, s)

	packets := [][]byte{wire.BuildChannelJoinSuccess(name)}
	if ch.PublicRead {
		w.Streams.Broadcast(stream.Main, wire.BuildChannelInfo(ch.Name, ch.Description, uint16(ch.MemberCount())), nil)
	}
	return packets, nil
}

// PartChannel removes a session from a channel, tearing down the
// backing stream and the channel itself if it was an instance channel
// that just became empty (I8).
func (w *World) PartChannel(name string, s *session.Session) {
	ch, ok := w.Channels.Get(name)
	if !ok {
		return
	}
	w.partChannelLocked(s, ch)
}

func (w *World) partChannelLocked(s *session.Session, ch *channel.Channel) {
	becameEmpty := w.Channels.Part(ch, s.TokenIDValue)
	s.RemoveJoinedChannel(ch.Name)
	streamName := stream.ChatStream(ch.Name)
	w.Streams.Leave(streamName, s.TokenIDValue)
	if becameEmpty {
		w.Streams.Remove(streamName)
	} else if ch.PublicRead {
		w.Streams.Broadcast(stream.Main, wire.BuildChannelInfo(ch.Name, ch.Description, uint16(ch.MemberCount())), nil)
	}
}

// --- chat (C6, §4.6) ---------------------------------------------------

// SendChannelMessage dispatches a public message to a channel, excepting
// the sender from the broadcast and appending the rendered line to the
// sender's ring buffer.
func (w *World) SendChannelMessage(sender *session.Session, channelName, message string) (chat.Outcome, error) {
	message, truncated := chat.Truncate(message)
	if truncated && w.Svc.Log != nil {
		w.Svc.Log.Warnw("chat message truncated", "token_id", sender.TokenIDValue, "channel", channelName)
	}

	ch, exists := w.Channels.Get(channelName)
	state := chat.ChannelState{Exists: exists, IsStaff: sender.Staff}
	if exists {
		state.PublicWrite = ch.PublicWrite
	}
	outcome := chat.CheckChannelSend(chat.SenderState{Silenced: sender.IsSilenced(w.now())}, state)
	if outcome != chat.OutcomeChannelSent {
		return outcome, nil
	}

	packet := wire.BuildSendMessage(sender.Username, message, channelName, sender.UserID)
	w.Streams.Broadcast(stream.ChatStream(channelName), packet, &stream.BroadcastOpts{
		Except: map[string]struct{}{sender.TokenIDValue: {}},
	})
	sender.AppendMessageLine(chat.RenderLine(sender.Username, message))
	return outcome, nil
}

// SendDirectMessage resolves target by safe username and enqueues
// directly, handling the block_non_friends_dm gate.
func (w *World) SendDirectMessage(ctx context.Context, sender *session.Session, targetSafeName, message string) (chat.Outcome, error) {
	message, truncated := chat.Truncate(message)
	if truncated && w.Svc.Log != nil {
		w.Svc.Log.Warnw("dm truncated", "token_id", sender.TokenIDValue)
	}

	target, ok := w.Sessions.GetBySafeName(targetSafeName)
	recipient := chat.RecipientState{Exists: ok}
	if ok {
		recipient.BlockNonFriendsDM = target.BlockNonFriendsDM
		friends, err := w.Svc.Users.GetFriendList(ctx, target.UserID)
		if err == nil {
			for _, f := range friends {
				if f == sender.UserID {
					recipient.SenderIsFriend = true
					break
				}
			}
		}
	}

	outcome := chat.CheckDirectSend(chat.SenderState{Silenced: sender.IsSilenced(w.now())}, recipient)
	switch outcome {
	case chat.OutcomeDirectSent:
		target.Enqueue(wire.BuildSendMessage(sender.Username, message, target.Username, sender.UserID))
		sender.AppendMessageLine(chat.RenderLine(sender.Username, message))
	case chat.OutcomeBlockedDM:
		sender.Enqueue(wire.BuildTargetBlockingDMs())
	}
	return outcome, nil
}

// --- silence / moderation (R3, C11 reuses this) ------------------------

// Silence persists the new silence_end_time, updates the session, and
// sends the §4.4 R3 notifications.
func (w *World) Silence(ctx context.Context, s *session.Session, seconds int64, reason string, authorUserID int32) error {
	until := w.now() + seconds
	if err := w.Svc.Users.Silence(ctx, s.UserID, until, reason, authorUserID); err != nil {
		return err
	}
	s.ApplySilence(until)
	s.Enqueue(wire.BuildSilenceEndTime(int32(seconds)))
	w.Streams.Broadcast(stream.Main, wire.BuildUserSilenced(uint32(s.UserID)), nil)
	return nil
}

// CheckSpam runs spam_protect and auto-silences on the R2 threshold.
func (w *World) CheckSpam(ctx context.Context, s *session.Session) {
	if s.SpamProtect() {
		_ = w.Silence(ctx, s, 600, "Spamming (auto spam protection)", w.BotUserID)
	}
}

// Kick forcibly logs a session out, sending it a notification first.
func (w *World) Kick(ctx context.Context, s *session.Session, message string) {
	if message != "" {
		s.Enqueue(wire.BuildNotification(message))
	}
	w.Logout(ctx, s.TokenIDValue)
}
