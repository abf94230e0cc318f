package dispatcher

import (
	"context"

	"banchod/internal/chat"
	"banchod/internal/match"
	"banchod/internal/model"
	"banchod/internal/session"
	"banchod/internal/wire"
)

// RegisterDefaultHandlers wires every client packet id named in §6 to
// its World operation. Separated from NewServer so tests can register a
// subset against a fake World-backed Server.
func (s *Server) RegisterDefaultHandlers() {
	s.Handle(wire.ClientChangeMatchSettings, s.handleChangeMatchSettings)
	s.Handle(wire.ClientChangeProtocolVer, s.handleChangeProtocolVersion)
	s.Handle(wire.ClientChangeTeam, s.handleChangeTeam)
	s.Handle(wire.ClientMatchFailed, s.handleMatchFailed)
	s.Handle(wire.ClientLockSlot, s.handleLockSlot)
	s.Handle(wire.ClientStartSpectating, s.handleStartSpectating)
	s.Handle(wire.ClientStopSpectating, s.handleStopSpectating)
	s.Handle(wire.ClientSpectateFrames, s.handleSpectateFrames)
	s.Handle(wire.ClientCantSpectate, s.handleCantSpectate)
	s.Handle(wire.ClientSendPublicMessage, s.handleSendPublicMessage)
	s.Handle(wire.ClientSendPrivateMessage, s.handleSendPrivateMessage)
	s.Handle(wire.ClientJoinChannel, s.handleJoinChannel)
	s.Handle(wire.ClientChannelJoinRequest, s.handleJoinChannel)
	s.Handle(wire.ClientPartChannel, s.handlePartChannel)
	s.Handle(wire.ClientChannelPartRequest, s.handlePartChannel)
	s.Handle(wire.ClientPing, s.handlePing)
	s.Handle(wire.ClientLogout, s.handleLogout)
	s.Handle(wire.ClientMatchCreate, s.handleMatchCreate)
	s.Handle(wire.ClientMatchJoin, s.handleMatchJoin)
	s.Handle(wire.ClientMatchPart, s.handleMatchPart)
	s.Handle(wire.ClientMatchReady, s.handleMatchReady)
	s.Handle(wire.ClientMatchNotReady, s.handleMatchNotReady)
	s.Handle(wire.ClientMatchStartRequest, s.handleMatchStart)
	s.Handle(wire.ClientMatchLoadComplete, s.handleMatchLoadComplete)
	s.Handle(wire.ClientMatchSkipRequest, s.handleMatchSkip)
	s.Handle(wire.ClientMatchComplete, s.handleMatchComplete)
}

func (s *Server) handleChangeMatchSettings(ctx context.Context, sess *session.Session, payload []byte) error {
	f, err := wire.ParseChangeMatchSettings(payload)
	if err != nil {
		return err
	}
	if sess.MatchID == nil {
		return nil
	}
	mods := model.Mods(f.Mods)
	scoring := model.MatchScoringType(f.ScoringType)
	teamType := model.MatchTeamType(f.TeamType)
	modMode := model.MatchModMode(f.ModMode)
	return s.world.ChangeSettings(ctx, sess, *sess.MatchID, match.SettingsChange{
		Name:        &f.MatchName,
		BeatmapName: &f.BeatmapName,
		BeatmapID:   &f.BeatmapID,
		BeatmapMD5:  &f.BeatmapMD5,
		Mods:        &mods,
		ScoringType: &scoring,
		TeamType:    &teamType,
		ModMode:     &modMode,
	})
}

func (s *Server) handleChangeProtocolVersion(_ context.Context, sess *session.Session, payload []byte) error {
	version, err := wire.ParseChangeProtocolVersion(payload)
	if err != nil {
		return err
	}
	sess.ProtocolVer = version
	return nil
}

func (s *Server) handleChangeTeam(ctx context.Context, sess *session.Session, payload []byte) error {
	team, err := wire.ParseChangeTeam(payload)
	if err != nil {
		return err
	}
	s.world.SetTeam(ctx, sess, model.Team(team))
	return nil
}

func (s *Server) handleMatchFailed(ctx context.Context, sess *session.Session, _ []byte) error {
	s.world.PlayerFailed(ctx, sess)
	return nil
}

func (s *Server) handleLockSlot(ctx context.Context, sess *session.Session, payload []byte) error {
	slotIdx, err := wire.ParseLockSlot(payload)
	if err != nil {
		return err
	}
	s.world.ToggleLock(ctx, sess, int(slotIdx))
	return nil
}

func (s *Server) handleStartSpectating(ctx context.Context, sess *session.Session, payload []byte) error {
	hostUserID, err := wire.ParseStartSpectating(payload)
	if err != nil {
		return err
	}
	return s.world.StartSpectating(ctx, sess, hostUserID)
}

func (s *Server) handleStopSpectating(ctx context.Context, sess *session.Session, _ []byte) error {
	return s.world.StopSpectating(ctx, sess)
}

func (s *Server) handleSpectateFrames(_ context.Context, sess *session.Session, payload []byte) error {
	frame := wire.ParseSpectateFrames(payload)
	s.world.RelaySpectatorFrames(sess, frame)
	return nil
}

func (s *Server) handleCantSpectate(_ context.Context, sess *session.Session, _ []byte) error {
	s.world.RelayCantSpectate(sess)
	return nil
}

func (s *Server) handleSendPublicMessage(ctx context.Context, sess *session.Session, payload []byte) error {
	f, err := wire.ParseSendPublicMessage(payload)
	if err != nil {
		return err
	}
	var outcome chat.Outcome
	if chat.IsChannelTarget(f.Target) {
		outcome, err = s.world.SendChannelMessage(sess, f.Target, f.Message)
	} else {
		outcome, err = s.world.SendDirectMessage(ctx, sess, session.SafeName(f.Target), f.Message)
	}
	if err != nil {
		return err
	}
	if outcome == chat.OutcomeChannelSent || outcome == chat.OutcomeDirectSent {
		s.world.CheckSpam(ctx, sess)
	}
	return nil
}

func (s *Server) handleSendPrivateMessage(ctx context.Context, sess *session.Session, payload []byte) error {
	f, err := wire.ParseSendPrivateMessage(payload)
	if err != nil {
		return err
	}
	outcome, err := s.world.SendDirectMessage(ctx, sess, session.SafeName(f.Target), f.Message)
	if err != nil {
		return err
	}
	if outcome == chat.OutcomeDirectSent {
		s.world.CheckSpam(ctx, sess)
	}
	return nil
}

func (s *Server) handleJoinChannel(_ context.Context, sess *session.Session, payload []byte) error {
	name, err := wire.ParseJoinChannel(payload)
	if err != nil {
		return err
	}
	packets, err := s.world.JoinChannel(name, sess)
	if err != nil {
		return err
	}
	for _, p := range packets {
		sess.Enqueue(p)
	}
	return nil
}

func (s *Server) handlePartChannel(_ context.Context, sess *session.Session, payload []byte) error {
	name, err := wire.ParsePartChannel(payload)
	if err != nil {
		return err
	}
	s.world.PartChannel(name, sess)
	return nil
}

func (s *Server) handlePing(_ context.Context, sess *session.Session, _ []byte) error {
	sess.UpdatePing(s.world.Svc.Clock.Now())
	return nil
}

func (s *Server) handleLogout(ctx context.Context, sess *session.Session, _ []byte) error {
	s.world.Logout(ctx, sess.TokenID())
	return nil
}

func (s *Server) handleMatchCreate(ctx context.Context, sess *session.Session, payload []byte) error {
	f, err := wire.ParseMatchCreate(payload)
	if err != nil {
		return err
	}
	if sess.MatchID != nil {
		s.world.LeaveMatch(ctx, sess)
	}
	s.world.CreateMatch(ctx, sess, f.Name, f.Password)
	return nil
}

func (s *Server) handleMatchJoin(ctx context.Context, sess *session.Session, payload []byte) error {
	matchID, password, err := wire.ParseMatchJoin(payload)
	if err != nil {
		return err
	}
	return s.world.JoinMatch(ctx, sess, int64(matchID), password)
}

func (s *Server) handleMatchPart(ctx context.Context, sess *session.Session, _ []byte) error {
	s.world.LeaveMatch(ctx, sess)
	return nil
}

func (s *Server) handleMatchReady(ctx context.Context, sess *session.Session, _ []byte) error {
	s.world.SetReady(ctx, sess, true)
	return nil
}

func (s *Server) handleMatchNotReady(ctx context.Context, sess *session.Session, _ []byte) error {
	s.world.SetReady(ctx, sess, false)
	return nil
}

func (s *Server) handleMatchStart(ctx context.Context, sess *session.Session, _ []byte) error {
	s.world.StartMatch(ctx, sess, true)
	return nil
}

func (s *Server) handleMatchLoadComplete(ctx context.Context, sess *session.Session, _ []byte) error {
	s.world.PlayerLoaded(ctx, sess)
	return nil
}

func (s *Server) handleMatchSkip(ctx context.Context, sess *session.Session, payload []byte) error {
	if _, err := wire.ParseMatchSkipRequest(payload); err != nil {
		return err
	}
	s.world.PlayerSkip(ctx, sess)
	return nil
}

func (s *Server) handleMatchComplete(ctx context.Context, sess *session.Session, _ []byte) error {
	s.world.PlayerCompleted(ctx, sess)
	return nil
}
