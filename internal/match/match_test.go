package match

import (
	"testing"

	"banchod/internal/model"
)

func TestCreateMatchAndJoin(t *testing.T) {
	m := New(3, "room", "", 7, "tok-host", 1000)
	if m.Slots[0].Status != model.SlotNotReady || m.Slots[0].UserID != 7 {
		t.Fatalf("expected host seated NOT_READY in slot 0, got %+v", m.Slots[0])
	}

	idx := m.UserJoin(9, "tok-guest")
	if idx != 1 {
		t.Fatalf("expected guest seated in slot 1, got %d", idx)
	}
	if m.Slots[1].Status != model.SlotNotReady {
		t.Fatalf("expected slot 1 NOT_READY, got %v", m.Slots[1].Status)
	}
	if m.HostUserID != 7 {
		t.Fatalf("expected host_user_id=7, got %d", m.HostUserID)
	}

	md5 := "abc123"
	m.ApplySettings(SettingsChange{BeatmapMD5: &md5})
	if m.Slots[0].Status != model.SlotNotReady || m.Slots[1].Status != model.SlotNotReady {
		t.Fatalf("expected both slots reset to NOT_READY after beatmap change")
	}
}

func TestFreemodsTransition(t *testing.T) {
	m := New(1, "room", "", 7, "tok-host", 1000)
	m.Mods = model.ModDoubleTime | model.ModHidden

	freeMod := model.ModModeFreeMod
	m.ApplySettings(SettingsChange{ModMode: &freeMod})

	if m.Slots[0].Mods != (model.ModDoubleTime | model.ModHidden) {
		t.Fatalf("expected occupied slot mods copied from match mods, got %v", m.Slots[0].Mods)
	}
	if m.Mods != model.ModDoubleTime {
		t.Fatalf("expected match mods reduced to SPEED_CHANGING only (DT), got %v", m.Mods)
	}
}

func TestFreeModBackToNormalCopiesHostSlot(t *testing.T) {
	m := New(1, "room", "", 7, "tok-host", 1000)
	freeMod := model.ModModeFreeMod
	m.ApplySettings(SettingsChange{ModMode: &freeMod})
	m.SetSlotMods("tok-host", model.ModHardRock)

	normal := model.ModModeNormal
	m.ApplySettings(SettingsChange{ModMode: &normal})
	if m.Mods != model.ModHardRock {
		t.Fatalf("expected match mods copied from host slot, got %v", m.Mods)
	}
}

func TestTagVariantForcesNormalModMode(t *testing.T) {
	m := New(1, "room", "", 7, "tok-host", 1000)
	freeMod := model.ModModeFreeMod
	m.ApplySettings(SettingsChange{ModMode: &freeMod})

	tagCoop := model.TeamTypeTagCoop
	m.ApplySettings(SettingsChange{TeamType: &tagCoop})
	if m.ModMode != model.ModModeNormal {
		t.Fatalf("expected tag_coop to force NORMAL mod mode, got %v", m.ModMode)
	}
}

func TestTeamTypeChangeInitializesTeams(t *testing.T) {
	m := New(1, "room", "", 7, "tok-host", 1000)
	m.UserJoin(8, "tok-b")
	m.UserJoin(9, "tok-c")

	teamVS := model.TeamTypeTeamVs
	m.ApplySettings(SettingsChange{TeamType: &teamVS})
	if m.Slots[0].Team != model.TeamRed || m.Slots[1].Team != model.TeamBlue || m.Slots[2].Team != model.TeamRed {
		t.Fatalf("expected alternating RED/BLUE by slot index, got %v %v %v",
			m.Slots[0].Team, m.Slots[1].Team, m.Slots[2].Team)
	}

	headToHead := model.TeamTypeHeadToHead
	m.ApplySettings(SettingsChange{TeamType: &headToHead})
	for i := 0; i < 3; i++ {
		if m.Slots[i].Team != model.TeamNeutral {
			t.Fatalf("expected all NEUTRAL after head_to_head, slot %d = %v", i, m.Slots[i].Team)
		}
	}
}

func TestHostTransferOnLeave(t *testing.T) {
	m := New(1, "room", "", 7, "tok-host", 1000)
	m.UserJoin(9, "tok-guest")

	transferred, newHost, newSlot := m.UserLeave("tok-host")
	if !transferred || newHost != 9 || newSlot != 1 {
		t.Fatalf("expected host transferred to user 9 in slot 1, got transferred=%v host=%d slot=%d",
			transferred, newHost, newSlot)
	}
	if m.Slots[0].Status != model.SlotFree {
		t.Fatalf("expected vacated slot FREE")
	}
}

func TestGuestLeaveDoesNotTransferHost(t *testing.T) {
	m := New(1, "room", "", 7, "tok-host", 1000)
	m.UserJoin(9, "tok-guest")
	transferred, _, _ := m.UserLeave("tok-guest")
	if transferred {
		t.Fatalf("expected no host transfer when a non-host leaves")
	}
}

func TestReadyStartPlayingCompleteCycle(t *testing.T) {
	m := New(1, "room", "", 7, "tok-host", 1000)
	m.UserJoin(9, "tok-guest")
	m.SetReady("tok-host", true)
	m.SetReady("tok-guest", true)
	if !m.AllReady() {
		t.Fatalf("expected AllReady true with both slots READY")
	}

	if !m.Start(false) {
		t.Fatalf("expected Start to succeed with a READY slot")
	}
	if m.Slots[0].Status != model.SlotPlaying || m.Slots[1].Status != model.SlotPlaying {
		t.Fatalf("expected both slots PLAYING after start")
	}

	if all := m.PlayerLoaded("tok-host"); all {
		t.Fatalf("expected not all loaded yet")
	}
	if all := m.PlayerLoaded("tok-guest"); !all {
		t.Fatalf("expected allPlayersLoaded once both report loaded")
	}

	if all := m.PlayerCompleted("tok-host"); all {
		t.Fatalf("expected not all completed yet")
	}
	if all := m.PlayerCompleted("tok-guest"); !all {
		t.Fatalf("expected match completed once both slots report complete")
	}

	m.FinishGame()
	if m.IsInProgress {
		t.Fatalf("expected is_in_progress cleared after FinishGame")
	}
	if m.Slots[0].Status != model.SlotNotReady || m.Slots[1].Status != model.SlotNotReady {
		t.Fatalf("expected slots reset to NOT_READY after FinishGame")
	}
}

func TestSkipBarrier(t *testing.T) {
	m := New(1, "room", "", 7, "tok-host", 1000)
	m.UserJoin(9, "tok-guest")
	m.SetReady("tok-host", true)
	m.SetReady("tok-guest", true)
	m.Start(false)

	if all := m.PlayerSkipped("tok-host"); all {
		t.Fatalf("expected not all skipped yet")
	}
	if all := m.PlayerSkipped("tok-guest"); !all {
		t.Fatalf("expected allPlayersSkipped once every playing slot skipped")
	}
}

func TestToggleLock(t *testing.T) {
	m := New(1, "room", "", 7, "tok-host", 1000)
	m.ToggleLock(5)
	if m.Slots[5].Status != model.SlotLocked {
		t.Fatalf("expected slot 5 LOCKED, got %v", m.Slots[5].Status)
	}
	m.ToggleLock(5)
	if m.Slots[5].Status != model.SlotFree {
		t.Fatalf("expected slot 5 FREE again, got %v", m.Slots[5].Status)
	}
}

func TestPasswordMatches(t *testing.T) {
	m := New(1, "room", "secret/hash", 7, "tok-host", 1000)
	if m.PasswordMatches("wrong") {
		t.Fatalf("expected mismatch on wrong password")
	}
	if !m.PasswordMatches("secret/hash") {
		t.Fatalf("expected match on correct password")
	}

	open := New(2, "room", "", 7, "tok-host", 1000)
	if !open.PasswordMatches("anything") {
		t.Fatalf("expected empty match password to accept anything")
	}
}

func TestEmptyAfterAllLeave(t *testing.T) {
	m := New(1, "room", "", 7, "tok-host", 1000)
	if m.Empty() {
		t.Fatalf("expected not empty with host seated")
	}
	m.UserLeave("tok-host")
	if !m.Empty() {
		t.Fatalf("expected match empty once the only occupant leaves")
	}
}

func TestRegistryCreateAssignsIncrementingIDs(t *testing.T) {
	r := NewRegistry()
	a := r.Create("a", "", 1, "tok-a", 1000)
	b := r.Create("b", "", 2, "tok-b", 1000)
	if a.MatchID == b.MatchID {
		t.Fatalf("expected distinct match ids, got %d and %d", a.MatchID, b.MatchID)
	}
	if _, ok := r.Get(a.MatchID); !ok {
		t.Fatalf("expected to find created match by id")
	}
}
