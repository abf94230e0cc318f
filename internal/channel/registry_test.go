package channel

import (
	"testing"

	"banchod/internal/model"
)

func TestCheckJoinPublicChannel(t *testing.T) {
	r := NewRegistry()
	r.Add("#osu", "general chat", true, true, false)
	ch, perm := r.CheckJoin("#osu", model.UserPublic, false, false)
	if perm != PermissionOK || ch == nil {
		t.Fatalf("expected public channel join to succeed, got %v", perm)
	}
}

func TestCheckJoinPremiumRequiresBit(t *testing.T) {
	r := NewRegistry()
	r.Add(PremiumChannel, "premium chat", true, true, false)
	if _, perm := r.CheckJoin(PremiumChannel, model.UserPublic, false, false); perm != PermissionDenied {
		t.Fatalf("expected denial without USER_PREMIUM, got %v", perm)
	}
	if _, perm := r.CheckJoin(PremiumChannel, model.UserPublic|model.UserPremium, false, false); perm != PermissionOK {
		t.Fatalf("expected OK with USER_PREMIUM, got %v", perm)
	}
}

func TestCheckJoinSupporterRequiresDonor(t *testing.T) {
	r := NewRegistry()
	r.Add(SupporterChannel, "supporter chat", true, true, false)
	if _, perm := r.CheckJoin(SupporterChannel, model.UserPublic, false, false); perm != PermissionDenied {
		t.Fatalf("expected denial without USER_DONOR")
	}
	if _, perm := r.CheckJoin(SupporterChannel, model.UserPublic|model.UserDonor, false, false); perm != PermissionOK {
		t.Fatalf("expected OK with USER_DONOR")
	}
}

func TestCheckJoinNonPublicReadRequiresStaff(t *testing.T) {
	r := NewRegistry()
	r.Add("#staff", "staff chat", false, true, false)
	if _, perm := r.CheckJoin("#staff", model.UserPublic, false, false); perm != PermissionDenied {
		t.Fatalf("expected denial for non-staff")
	}
	if _, perm := r.CheckJoin("#staff", model.UserPublic, true, false); perm != PermissionOK {
		t.Fatalf("expected OK for staff")
	}
}

func TestCheckJoinBotExempt(t *testing.T) {
	r := NewRegistry()
	r.Add(PremiumChannel, "premium chat", true, true, false)
	if _, perm := r.CheckJoin(PremiumChannel, model.UserPublic, false, true); perm != PermissionOK {
		t.Fatalf("expected bot to bypass all ACL checks")
	}
}

func TestCheckJoinUnknownChannel(t *testing.T) {
	r := NewRegistry()
	if _, perm := r.CheckJoin("#nonexistent", model.UserPublic, true, false); perm != PermissionNoSuchChannel {
		t.Fatalf("expected PermissionNoSuchChannel, got %v", perm)
	}
}

func TestInstanceChannelGCOnEmpty(t *testing.T) {
	r := NewRegistry()
	ch := r.Add("#spect_7", "spectating 7", true, false, true)
	r.Join(ch, "tok-a")
	r.Join(ch, "tok-b")

	if becameEmpty := r.Part(ch, "tok-a"); becameEmpty {
		t.Fatalf("channel should not be empty with one member left")
	}
	if _, ok := r.Get("#spect_7"); !ok {
		t.Fatalf("channel should still exist")
	}

	if becameEmpty := r.Part(ch, "tok-b"); !becameEmpty {
		t.Fatalf("expected channel to report becameEmpty")
	}
	if _, ok := r.Get("#spect_7"); ok {
		t.Fatalf("expected instance channel to be removed once empty")
	}
}

func TestNonInstanceChannelSurvivesEmpty(t *testing.T) {
	r := NewRegistry()
	ch := r.Add("#osu", "general", true, true, false)
	r.Join(ch, "tok-a")
	r.Part(ch, "tok-a")
	if _, ok := r.Get("#osu"); !ok {
		t.Fatalf("expected non-instance channel to survive becoming empty")
	}
}
