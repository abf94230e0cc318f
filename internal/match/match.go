// Package match implements the multiplayer match engine (C7): the slot
// state machine, team/mod settings rules, ready/load/play barriers, host
// transfer, and the send_updates broadcast hook. Like session and
// channel, Match owns only its own fields; the caller (bancho
// orchestration layer) holds the match lock around every method here and
// is responsible for calling the stream/channel registries afterward.
package match

import (
	"banchod/internal/model"
)

const MaxSlots = 16

// Slot is one seat in a Match.
type Slot struct {
	Status    model.SlotStatus
	UserID    int32
	UserToken string
	Team      model.Team
	Mods      model.Mods
	Loaded    bool
	Skipped   bool
	Completed bool
	Failed    bool
}

func (s *Slot) reset() {
	*s = Slot{}
}

// Match is one multiplayer lobby with up to MaxSlots slots.
type Match struct {
	MatchID     int64
	Name        string
	Password    string // may be empty, or "name/hash" form
	BeatmapName string
	BeatmapID   int32
	BeatmapMD5  string

	HostUserID int32

	GameMode model.GameMode
	Mods     model.Mods

	ScoringType MatchScoringType
	TeamType    model.MatchTeamType
	ModMode     model.MatchModMode

	IsInProgress bool
	IsTourney    bool

	Slots [MaxSlots]Slot

	CreatedAt int64
	UpdatedAt int64

	disposed bool
}

// MatchScoringType aliases model.MatchScoringType so callers can import
// just this package for match-local vocabulary.
type MatchScoringType = model.MatchScoringType

// New creates a match in its initial state: host occupies slot 0.
func New(matchID int64, name, password string, hostUserID int32, hostToken string, now int64) *Match {
	m := &Match{
		MatchID:     matchID,
		Name:        name,
		Password:    password,
		HostUserID:  hostUserID,
		TeamType:    model.TeamTypeHeadToHead,
		ModMode:     model.ModModeNormal,
		ScoringType: model.ScoringScore,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.Slots[0] = Slot{Status: model.SlotNotReady, UserID: hostUserID, UserToken: hostToken}
	return m
}

func (m *Match) Disposed() bool { return m.disposed }

func (m *Match) Dispose() { m.disposed = true }

// PasswordMatches compares against an empty or "name/hash" password; an
// empty match password accepts anything.
func (m *Match) PasswordMatches(candidate string) bool {
	return m.Password == "" || m.Password == candidate
}

func (m *Match) occupiedSlots() []int {
	out := make([]int, 0, MaxSlots)
	for i := range m.Slots {
		if m.Slots[i].Status.Occupied() {
			out = append(out, i)
		}
	}
	return out
}

func (m *Match) playingSlots() []int {
	out := make([]int, 0, MaxSlots)
	for i := range m.Slots {
		if m.Slots[i].Status == model.SlotPlaying {
			out = append(out, i)
		}
	}
	return out
}

// SlotOf returns the index of the slot occupied by userToken, or -1.
func (m *Match) SlotOf(userToken string) int {
	for i := range m.Slots {
		if m.Slots[i].Status.Occupied() && m.Slots[i].UserToken == userToken {
			return i
		}
	}
	return -1
}

// UserJoin seats a user in the lowest-index FREE slot (P2: exactly one
// slot per joined session). Returns the slot index, or -1 if full.
func (m *Match) UserJoin(userID int32, userToken string) int {
	for i := range m.Slots {
		if m.Slots[i].Status == model.SlotFree {
			m.Slots[i] = Slot{Status: model.SlotNotReady, UserID: userID, UserToken: userToken, Team: m.initialTeam(i)}
			return i
		}
	}
	return -1
}

func (m *Match) initialTeam(slotIdx int) model.Team {
	switch m.TeamType {
	case model.TeamTypeTeamVs, model.TeamTypeTagTeamVs:
		if slotIdx%2 == 0 {
			return model.TeamRed
		}
		return model.TeamBlue
	default:
		return model.TeamNeutral
	}
}

// UserLeave frees userToken's slot (I2) and reports whether the host
// must be transferred (the host's own slot just went FREE), returning
// the new host's user id and slot index if so.
func (m *Match) UserLeave(userToken string) (hostTransferred bool, newHostUserID int32, newHostSlot int) {
	idx := m.SlotOf(userToken)
	if idx < 0 {
		return false, 0, -1
	}
	wasHost := m.Slots[idx].UserID == m.HostUserID
	m.Slots[idx].reset()

	if !wasHost {
		return false, 0, -1
	}
	occupied := m.occupiedSlots()
	if len(occupied) == 0 {
		return false, 0, -1
	}
	newIdx := occupied[0]
	m.HostUserID = m.Slots[newIdx].UserID
	return true, m.HostUserID, newIdx
}

// ToggleLock flips a FREE slot to LOCKED or a LOCKED slot back to FREE.
func (m *Match) ToggleLock(slotIdx int) {
	if slotIdx < 0 || slotIdx >= MaxSlots {
		return
	}
	switch m.Slots[slotIdx].Status {
	case model.SlotFree:
		m.Slots[slotIdx].Status = model.SlotLocked
	case model.SlotLocked:
		m.Slots[slotIdx].Status = model.SlotFree
	}
}

// SetReady toggles NOT_READY<->READY for the slot belonging to userToken.
func (m *Match) SetReady(userToken string, ready bool) {
	idx := m.SlotOf(userToken)
	if idx < 0 {
		return
	}
	switch m.Slots[idx].Status {
	case model.SlotNotReady, model.SlotReady, model.SlotNoMap:
		if ready {
			m.Slots[idx].Status = model.SlotReady
		} else {
			m.Slots[idx].Status = model.SlotNotReady
		}
	}
}

// AllReady reports whether every non-LOCKED, non-FREE slot is READY,
// the precondition referenced by §4.7's ready-status barrier text.
func (m *Match) AllReady() bool {
	any := false
	for i := range m.Slots {
		st := m.Slots[i].Status
		if st == model.SlotFree || st == model.SlotLocked {
			continue
		}
		any = true
		if st != model.SlotReady {
			return false
		}
	}
	return any
}

// Start transitions every READY slot to PLAYING. force bypasses the "at
// least one READY" requirement the host can override.
func (m *Match) Start(force bool) bool {
	hasReady := false
	for i := range m.Slots {
		if m.Slots[i].Status == model.SlotReady {
			hasReady = true
		}
	}
	if !hasReady && !force {
		return false
	}
	m.IsInProgress = true
	for i := range m.Slots {
		if m.Slots[i].Status == model.SlotReady || (force && m.Slots[i].Status.Occupied() && m.Slots[i].Status != model.SlotPlaying) {
			m.Slots[i].Status = model.SlotPlaying
		}
	}
	return true
}

func (m *Match) PlayerFailed(userToken string) {
	idx := m.SlotOf(userToken)
	if idx < 0 {
		return
	}
	m.Slots[idx].Failed = true
}

// PlayerLoaded marks a PLAYING slot loaded; returns true once every
// PLAYING slot has reported loaded (allPlayersLoaded barrier).
func (m *Match) PlayerLoaded(userToken string) (allLoaded bool) {
	idx := m.SlotOf(userToken)
	if idx >= 0 {
		m.Slots[idx].Loaded = true
	}
	for _, i := range m.playingSlots() {
		if !m.Slots[i].Loaded {
			return false
		}
	}
	return true
}

// PlayerSkipped marks a PLAYING slot skipped; returns true once every
// PLAYING slot has reported skipped (matchSkip barrier).
func (m *Match) PlayerSkipped(userToken string) (allSkipped bool) {
	idx := m.SlotOf(userToken)
	if idx >= 0 {
		m.Slots[idx].Skipped = true
	}
	for _, i := range m.playingSlots() {
		if !m.Slots[i].Skipped {
			return false
		}
	}
	return true
}

// PlayerCompleted marks a PLAYING slot COMPLETE; returns true once every
// non-FREE slot has completed, at which point the caller resets the
// match to its post-game state (§4.7 COMPLETE -> all reset).
func (m *Match) PlayerCompleted(userToken string) (allCompleted bool) {
	idx := m.SlotOf(userToken)
	if idx >= 0 {
		m.Slots[idx].Status = model.SlotComplete
		m.Slots[idx].Completed = true
	}
	for i := range m.Slots {
		if m.Slots[i].Status.Occupied() && m.Slots[i].Status != model.SlotComplete {
			return false
		}
	}
	return true
}

// FinishGame resets every non-FREE slot to NOT_READY and clears the
// in-progress flag, per the COMPLETE -> all reset transition.
func (m *Match) FinishGame() {
	m.IsInProgress = false
	for i := range m.Slots {
		if m.Slots[i].Status.Occupied() {
			m.Slots[i].Status = model.SlotNotReady
			m.Slots[i].Loaded = false
			m.Slots[i].Skipped = false
			m.Slots[i].Completed = false
			m.Slots[i].Failed = false
		}
	}
}

// SettingsChange is the set of fields that, when altered, reset ready
// state (I5).
type SettingsChange struct {
	Name        *string
	BeatmapName *string
	BeatmapID   *int32
	BeatmapMD5  *string
	Mods        *model.Mods
	ScoringType *model.MatchScoringType
	TeamType    *model.MatchTeamType
	ModMode     *model.MatchModMode
}

// ApplySettings applies a settings change, handling the FREE_MOD<->NORMAL
// transition (§4.7), the tag-variant NORMAL override (I4), team
// re-initialization on team type change, and the I5 ready-state reset.
func (m *Match) ApplySettings(c SettingsChange) {
	resetReady := false

	if c.Name != nil {
		m.Name = *c.Name
	}
	if c.BeatmapName != nil {
		m.BeatmapName = *c.BeatmapName
	}
	if c.BeatmapID != nil {
		m.BeatmapID = *c.BeatmapID
	}
	if c.BeatmapMD5 != nil && *c.BeatmapMD5 != m.BeatmapMD5 {
		m.BeatmapMD5 = *c.BeatmapMD5
		resetReady = true
	}
	if c.ScoringType != nil && *c.ScoringType != m.ScoringType {
		m.ScoringType = *c.ScoringType
		resetReady = true
	}
	if c.TeamType != nil && *c.TeamType != m.TeamType {
		m.TeamType = *c.TeamType
		resetReady = true
		m.reinitTeams()
		if m.TeamType.IsTagVariant() {
			m.ModMode = model.ModModeNormal
		}
	}

	newModMode := m.ModMode
	if c.ModMode != nil {
		newModMode = *c.ModMode
	}
	if m.TeamType.IsTagVariant() {
		newModMode = model.ModModeNormal // I4
	}
	if newModMode != m.ModMode {
		m.transitionModMode(newModMode)
		resetReady = true
	}

	if c.Mods != nil && *c.Mods != m.Mods {
		m.Mods = *c.Mods
		resetReady = true
	}

	if resetReady {
		m.resetReadySlots()
	}
}

func (m *Match) reinitTeams() {
	switch m.TeamType {
	case model.TeamTypeHeadToHead, model.TeamTypeTagCoop:
		for i := range m.Slots {
			m.Slots[i].Team = model.TeamNeutral
		}
	case model.TeamTypeTeamVs, model.TeamTypeTagTeamVs:
		for i := range m.Slots {
			m.Slots[i].Team = m.initialTeam(i)
		}
	}
}

// transitionModMode implements the FREE_MOD<->NORMAL copy rules in §4.7.
func (m *Match) transitionModMode(newMode model.MatchModMode) {
	if m.ModMode == model.ModModeFreeMod && newMode == model.ModModeNormal {
		if hostIdx := m.SlotOf(m.hostToken()); hostIdx >= 0 {
			m.Mods = m.Slots[hostIdx].Mods
		}
	} else if m.ModMode == model.ModModeNormal && newMode == model.ModModeFreeMod {
		for i := range m.Slots {
			if m.Slots[i].Status.Occupied() {
				m.Slots[i].Mods = m.Mods
			}
		}
		m.Mods &= model.SpeedChanging
	}
	m.ModMode = newMode
}

func (m *Match) hostToken() string {
	for i := range m.Slots {
		if m.Slots[i].Status.Occupied() && m.Slots[i].UserID == m.HostUserID {
			return m.Slots[i].UserToken
		}
	}
	return ""
}

// resetReadySlots implements I5: every non-LOCKED, non-FREE slot goes to
// NOT_READY.
func (m *Match) resetReadySlots() {
	for i := range m.Slots {
		if m.Slots[i].Status.Occupied() {
			m.Slots[i].Status = model.SlotNotReady
		}
	}
}

// SetSlotMods sets the per-slot mods directly; only meaningful in
// FREE_MOD (ParseChangeMatchSettings does not read per-slot mods; on
// NORMAL->FREE_MOD the match mods are copied into each occupied slot).
func (m *Match) SetSlotMods(userToken string, mods model.Mods) {
	if m.ModMode != model.ModModeFreeMod {
		return
	}
	idx := m.SlotOf(userToken)
	if idx < 0 {
		return
	}
	m.Slots[idx].Mods = mods
}

func (m *Match) SetTeam(userToken string, team model.Team) {
	idx := m.SlotOf(userToken)
	if idx < 0 {
		return
	}
	m.Slots[idx].Team = team
}
