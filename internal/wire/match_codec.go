package wire

// MatchSlotData mirrors one Slot for wire encoding; kept free of any
// dependency on the match package so wire stays a leaf.
type MatchSlotData struct {
	Status    uint8
	Team      uint8
	HasPlayer bool // true iff the slot is occupied (mirrors Slot.Status.Occupied())
	UserID    int32 // -1 if unoccupied
	Mods      int32
}

// MatchData mirrors the fields of a Match the client needs to render a
// lobby row or in-match HUD. Passwords are censored by the caller before
// constructing this (send_updates may omit the real password).
type MatchData struct {
	MatchID      int32
	InProgress   bool
	MatchType    uint8
	Mods         int32
	Name         string
	Password     string
	BeatmapName  string
	BeatmapID    int32
	BeatmapMD5   string
	Slots        [16]MatchSlotData
	HostUserID   int32
	GameMode     uint8
	ScoringType  uint8
	TeamType     uint8
	ModMode      uint8
	Seed         int32
}

// EncodeMatchData serializes a MatchData the way the client expects an
// embedded match struct inside matchNew/updateMatch/matchJoinSuccess.
func EncodeMatchData(m MatchData) []byte {
	w := NewWriter()
	w.WriteS32(m.MatchID)
	w.WriteBool(m.InProgress)
	w.WriteU8(m.MatchType)
	w.WriteS32(m.Mods)
	w.WriteString(m.Name)
	w.WriteString(m.Password)
	w.WriteString(m.BeatmapName)
	w.WriteS32(m.BeatmapID)
	w.WriteString(m.BeatmapMD5)
	for _, slot := range m.Slots {
		w.WriteU8(slot.Status)
	}
	for _, slot := range m.Slots {
		w.WriteU8(slot.Team)
	}
	for _, slot := range m.Slots {
		if slot.HasPlayer { // occupied slots carry a user id
			w.WriteS32(slot.UserID)
		}
	}
	w.WriteS32(m.HostUserID)
	w.WriteU8(m.GameMode)
	w.WriteU8(m.ScoringType)
	w.WriteU8(m.TeamType)
	w.WriteU8(m.ModMode)
	if m.ModMode == 1 { // FREE_MOD: per-slot mods follow
		for _, slot := range m.Slots {
			if slot.HasPlayer {
				w.WriteS32(slot.Mods)
			}
		}
	}
	w.WriteS32(m.Seed)
	return w.Bytes()
}
