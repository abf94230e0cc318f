package model

// GameMode identifies the ruleset a score/session/match is played under.
type GameMode uint8

const (
	ModeOsu GameMode = iota
	ModeTaiko
	ModeCatch
	ModeMania
)

// Mods is the bitmask of active modifiers. SpeedChanging is the subset
// that alters song playback rate, referenced by the freemod transition
// rules (I4/I5 and the FREE_MOD<->NORMAL transition in the match engine).
type Mods uint32

const (
	ModNoFail Mods = 1 << iota
	ModEasy
	ModTouchDevice
	ModHidden
	ModHardRock
	ModSuddenDeath
	ModDoubleTime
	ModRelax
	ModHalfTime
	ModNightcore
	ModFlashlight
	ModAutoplay
	ModSpunOut
	ModAutopilot
	ModPerfect
	ModKey4
	ModKey5
	ModKey6
	ModKey7
	ModKey8
	ModFadeIn
	ModRandom
	ModCinema
	ModTarget
	ModKey9
	ModKeyCoop
	ModKey1
	ModKey3
	ModKey2
	ModScoreV2
	ModMirror
)

// SpeedChanging is the set of mods that alter song rate: DT, NC, HT.
const SpeedChanging = ModDoubleTime | ModNightcore | ModHalfTime

type MatchScoringType uint8

const (
	ScoringScore MatchScoringType = iota
	ScoringAccuracy
	ScoringCombo
	ScoringScoreV2
)

type MatchTeamType uint8

const (
	TeamTypeHeadToHead MatchTeamType = iota
	TeamTypeTagCoop
	TeamTypeTeamVs
	TeamTypeTagTeamVs
)

// IsTagVariant reports whether the team type forces match_mod_mode to
// NORMAL per invariant I4.
func (t MatchTeamType) IsTagVariant() bool {
	return t == TeamTypeTagCoop || t == TeamTypeTagTeamVs
}

type MatchModMode uint8

const (
	ModModeNormal MatchModMode = iota
	ModModeFreeMod
)

type Team uint8

const (
	TeamNeutral Team = iota
	TeamRed
	TeamBlue
)

type SlotStatus uint8

const (
	SlotFree SlotStatus = iota
	SlotLocked
	SlotNotReady
	SlotReady
	SlotNoMap
	SlotPlaying
	SlotComplete
	SlotQuit
)

func (s SlotStatus) Occupied() bool {
	return s != SlotFree && s != SlotLocked
}
