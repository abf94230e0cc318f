package wire

// This file holds the one-typed-reader-per-inbound-packet surface: each
// Parse* function decodes exactly the fields that packet id carries,
// returning model.ErrMalformedPacket/ErrShortRead on a bad frame.

type ChangeMatchSettingsFields struct {
	MatchName    string
	BeatmapName  string
	BeatmapID    int32
	BeatmapMD5   string
	Mods         int32
	ScoringType  uint8
	TeamType     uint8
	ModMode      uint8
}

func ParseChangeMatchSettings(payload []byte) (ChangeMatchSettingsFields, error) {
	r := NewReader(payload)
	var f ChangeMatchSettingsFields
	var err error
	if f.MatchName, err = r.ReadString(); err != nil {
		return f, err
	}
	if f.BeatmapName, err = r.ReadString(); err != nil {
		return f, err
	}
	if f.BeatmapID, err = r.ReadS32(); err != nil {
		return f, err
	}
	if f.BeatmapMD5, err = r.ReadString(); err != nil {
		return f, err
	}
	if f.Mods, err = r.ReadS32(); err != nil {
		return f, err
	}
	if f.ScoringType, err = r.ReadU8(); err != nil {
		return f, err
	}
	if f.TeamType, err = r.ReadU8(); err != nil {
		return f, err
	}
	if f.ModMode, err = r.ReadU8(); err != nil {
		return f, err
	}
	return f, nil
}

func ParseChangeProtocolVersion(payload []byte) (int32, error) {
	return NewReader(payload).ReadS32()
}

func ParseChangeTeam(payload []byte) (uint8, error) {
	return NewReader(payload).ReadU8()
}

func ParseMatchFailed(payload []byte) (int32, error) {
	return NewReader(payload).ReadS32()
}

func ParseLockSlot(payload []byte) (int32, error) {
	return NewReader(payload).ReadS32()
}

// ParseStartSpectating returns the host's user id. A negative value is
// an explicit stop-spectating request, per the Open Question resolved
// in DESIGN.md: negative userID is treated as stop, never re-raised.
func ParseStartSpectating(payload []byte) (int32, error) {
	return NewReader(payload).ReadS32()
}

func ParseSpectateFrames(payload []byte) []byte {
	return NewReader(payload).ReadBytes()
}

type ChatMessageFields struct {
	Message string
	Target  string
}

func ParseSendPublicMessage(payload []byte) (ChatMessageFields, error) {
	r := NewReader(payload)
	var f ChatMessageFields
	var err error
	if _, err = r.ReadString(); err != nil { // from (ignored; dispatcher trusts the session)
		return f, err
	}
	if f.Message, err = r.ReadString(); err != nil {
		return f, err
	}
	if f.Target, err = r.ReadString(); err != nil {
		return f, err
	}
	return f, nil
}

func ParseSendPrivateMessage(payload []byte) (ChatMessageFields, error) {
	return ParseSendPublicMessage(payload)
}

func ParseJoinChannel(payload []byte) (string, error) {
	return NewReader(payload).ReadString()
}

func ParsePartChannel(payload []byte) (string, error) {
	return NewReader(payload).ReadString()
}

func ParseMatchJoin(payload []byte) (matchID int32, password string, err error) {
	r := NewReader(payload)
	if matchID, err = r.ReadS32(); err != nil {
		return
	}
	password, err = r.ReadString()
	return
}

func ParseMatchSkipRequest(payload []byte) (int32, error) {
	return NewReader(payload).ReadS32()
}

// MatchCreateFields is the subset of the client's embedded match struct
// that matters at creation time; the rest (mods, team/scoring type) are
// applied afterward through changeMatchSettings once the host's client
// has a match_id to address.
type MatchCreateFields struct {
	Name     string
	Password string
}

func ParseMatchCreate(payload []byte) (MatchCreateFields, error) {
	r := NewReader(payload)
	var f MatchCreateFields
	var err error
	if f.Name, err = r.ReadString(); err != nil {
		return f, err
	}
	f.Password, err = r.ReadString()
	return f, err
}
