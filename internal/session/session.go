// Package session implements the per-connected-client state (C4): a
// Token in the spec's vocabulary. Session owns only its own fields;
// operations that cross into Stream, Channel, or Match state are
// orchestrated by the bancho package, which holds all the component
// registries and calls back into Session only through the plain field
// mutators below (per the Design Notes: crossing a boundary is a
// lookup, not a method call into another component).
package session

import (
	"sync"

	"banchod/internal/model"
)

// MaxQueueBytes is the outbound queue cap from invariant I7.
const MaxQueueBytes = 10 * 1024 * 1024

// MessagesBufferSize and MessageLineMaxChars implement the chat ring
// buffer limits from §3.
const (
	MessagesBufferSize  = 100
	MessageLineMaxChars = 1000
)

type Location struct {
	Lat, Lon float32
	Country  uint8
}

type Stats struct {
	RankedScore int64
	Accuracy    float32
	Playcount   uint32
	TotalScore  int64
	Rank        uint32
	PP          uint16
}

// Session is one live client connection with all its state.
type Session struct {
	TokenIDValue string
	UserID       int32
	Username     string
	SafeUsername string

	PrivilegesValue model.Privileges
	Whitelist       byte
	Staff           bool
	Restricted      bool

	IP          string
	IRC         bool
	Tournament  bool
	UTCOffset   int8
	LoginTime   int64
	PingTime    int64
	SilenceEnd  int64
	ProtocolVer int32

	Location Location

	ActionID   uint8
	ActionText string
	ActionMD5  string
	ActionMods int32
	GameMode   model.GameMode
	Relax      bool
	Autopilot  bool
	BeatmapID  int32

	StatsCache Stats

	AwayMessage string

	BlockNonFriendsDM bool

	MatchID           *int64
	SpectatingTokenID *string
	SpectatingUserID  *int32

	mu              sync.Mutex
	joinedStreams   map[string]struct{}
	joinedChannels  map[string]struct{}
	spectators      map[string]struct{}
	sentAway        map[int32]struct{}
	messages        *messageRing

	queueMu sync.Mutex
	queue   []byte

	spamRate int

	closed bool
}

// New creates a Session in its post-login state.
func New(tokenID string, userID int32, username string, privileges model.Privileges, now int64) *Session {
	return &Session{
		TokenIDValue:    tokenID,
		UserID:          userID,
		Username:        username,
		SafeUsername:    SafeName(username),
		PrivilegesValue: privileges,
		Staff:           privileges.IsStaff(),
		Restricted:      privileges.IsRestricted(),
		LoginTime:       now,
		PingTime:        now,
		ProtocolVer:     19,
		joinedStreams:   map[string]struct{}{},
		joinedChannels:  map[string]struct{}{},
		spectators:      map[string]struct{}{},
		sentAway:        map[int32]struct{}{},
		messages:        newMessageRing(MessagesBufferSize),
	}
}

// SafeName lowercases and space->underscore normalizes a username, the
// key FetchUserBySafeName and channel ACLs use.
func SafeName(username string) string {
	out := make([]rune, 0, len(username))
	for _, r := range username {
		if r == ' ' {
			r = '_'
		} else if r >= 'A' && r <= 'Z' {
			r = r - 'A' + 'a'
		}
		out = append(out, r)
	}
	return string(out)
}

func (s *Session) TokenID() string            { return s.TokenIDValue }
func (s *Session) Privileges() model.Privileges { return s.PrivilegesValue }

// IsBot reports whether this session belongs to the server's own bot
// account; bots are exempt from several rules (R1, reaper, channel ACLs).
func (s *Session) IsBot(botUserID int32) bool { return s.UserID == botUserID || s.UserID < 1000 }

// Enqueue appends bytes to the outbound queue (R1, I7). It is a no-op
// for IRC bridges and the bot account, which never read a byte queue.
func (s *Session) Enqueue(data []byte) {
	if s.IRC || s.UserID < 1000 {
		return
	}
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if len(s.queue)+len(data) > MaxQueueBytes {
		return // QueueOverflow: drop silently, never grow unbounded (I7)
	}
	s.queue = append(s.queue, data...)
}

// DrainQueue atomically takes and clears the outbound queue; the socket
// writer calls this once per write cycle.
func (s *Session) DrainQueue() []byte {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	out := s.queue
	s.queue = nil
	return out
}

func (s *Session) ResetQueue() {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	s.queue = nil
}

func (s *Session) QueueLen() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return len(s.queue)
}

// --- joined streams/channels set bookkeeping (pure field mutators) ---

func (s *Session) AddJoinedStream(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joinedStreams[name] = struct{}{}
}

func (s *Session) RemoveJoinedStream(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.joinedStreams, name)
}

func (s *Session) JoinedStreams() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.joinedStreams))
	for n := range s.joinedStreams {
		out = append(out, n)
	}
	return out
}

func (s *Session) AddJoinedChannel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joinedChannels[name] = struct{}{}
}

func (s *Session) RemoveJoinedChannel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.joinedChannels, name)
}

func (s *Session) InChannel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.joinedChannels[name]
	return ok
}

func (s *Session) JoinedChannels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.joinedChannels))
	for n := range s.joinedChannels {
		out = append(out, n)
	}
	return out
}

// --- spectators (P3: token_id in host.spectators) ---

func (s *Session) AddSpectator(tokenID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spectators[tokenID] = struct{}{}
}

func (s *Session) RemoveSpectator(tokenID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.spectators, tokenID)
}

func (s *Session) Spectators() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.spectators))
	for id := range s.spectators {
		out = append(out, id)
	}
	return out
}

func (s *Session) SpectatorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spectators)
}

// --- silence / spam (R2, R3, I6) ---

func (s *Session) IsSilenced(now int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SilenceEnd > now
}

// ApplySilence sets the new silence_end_time; the caller (bancho.World)
// is responsible for persisting it to the UserStore and sending the
// protocol notifications (R3).
func (s *Session) ApplySilence(until int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SilenceEnd = until
}

// SpamProtect increments spam_rate and reports whether this call just
// crossed the auto-silence threshold (R2): more than 10 increments
// within the 10 second decay window the periodic worker (C10) resets.
// It only fires once per window: the caller auto-silences on the first
// true and subsequent increments stay silent until ResetSpam runs.
func (s *Session) SpamProtect() (triggered bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spamRate++
	return s.spamRate == 11
}

// ResetSpam is called by the decay periodic worker (C10) every 10s.
func (s *Session) ResetSpam() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spamRate = 0
}

func (s *Session) UpdatePing(now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PingTime = now
}

func (s *Session) PingAge(now int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now - s.PingTime
}

func (s *Session) UpdateCachedStats(st Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StatsCache = st
}

// --- chat message ring buffer (ring of <=100 lines, each <=1000 chars) ---

func (s *Session) AppendMessageLine(line string) {
	if len(line) > MessageLineMaxChars {
		line = line[:MessageLineMaxChars]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages.push(line)
}

func (s *Session) MessageLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages.snapshot()
}

func (s *Session) MarkAway(userID int32) (alreadySent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sentAway[userID]; ok {
		return true
	}
	s.sentAway[userID] = struct{}{}
	return false
}

func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
