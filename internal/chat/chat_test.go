package chat

import "testing"

func TestIsChannelTarget(t *testing.T) {
	if !IsChannelTarget("#osu") {
		t.Fatalf("expected #osu to be a channel target")
	}
	if IsChannelTarget("cookiezi") {
		t.Fatalf("expected a bare username not to be a channel target")
	}
}

func TestTruncateLongMessage(t *testing.T) {
	long := make([]byte, MaxMessageBytes+100)
	for i := range long {
		long[i] = 'x'
	}
	got, truncated := Truncate(string(long))
	if !truncated {
		t.Fatalf("expected truncation flag set")
	}
	if len(got) != MaxMessageBytes {
		t.Fatalf("expected message capped at %d bytes, got %d", MaxMessageBytes, len(got))
	}
}

func TestTruncateShortMessageUnchanged(t *testing.T) {
	got, truncated := Truncate("hello")
	if truncated || got != "hello" {
		t.Fatalf("expected short message to pass through unchanged")
	}
}

func TestCheckChannelSendSilencedSwallowed(t *testing.T) {
	out := CheckChannelSend(SenderState{Silenced: true}, ChannelState{Exists: true, PublicWrite: true})
	if out != OutcomeSilenced {
		t.Fatalf("expected OutcomeSilenced, got %v", out)
	}
}

func TestCheckChannelSendNoWritePermission(t *testing.T) {
	out := CheckChannelSend(SenderState{}, ChannelState{Exists: true, PublicWrite: false, IsStaff: false})
	if out != OutcomeNoPermission {
		t.Fatalf("expected OutcomeNoPermission, got %v", out)
	}
}

func TestCheckChannelSendStaffBypassesWritePermission(t *testing.T) {
	out := CheckChannelSend(SenderState{}, ChannelState{Exists: true, PublicWrite: false, IsStaff: true})
	if out != OutcomeChannelSent {
		t.Fatalf("expected staff to write to a non-public_write channel, got %v", out)
	}
}

func TestCheckDirectSendBlockedDM(t *testing.T) {
	out := CheckDirectSend(SenderState{}, RecipientState{Exists: true, BlockNonFriendsDM: true, SenderIsFriend: false})
	if out != OutcomeBlockedDM {
		t.Fatalf("expected OutcomeBlockedDM, got %v", out)
	}
}

func TestCheckDirectSendFriendBypassesBlock(t *testing.T) {
	out := CheckDirectSend(SenderState{}, RecipientState{Exists: true, BlockNonFriendsDM: true, SenderIsFriend: true})
	if out != OutcomeDirectSent {
		t.Fatalf("expected friend to bypass DM block, got %v", out)
	}
}

func TestCheckDirectSendUnknownTarget(t *testing.T) {
	out := CheckDirectSend(SenderState{}, RecipientState{Exists: false})
	if out != OutcomeUnknownTarget {
		t.Fatalf("expected OutcomeUnknownTarget, got %v", out)
	}
}

func TestRenderLine(t *testing.T) {
	if got := RenderLine("peppy", "hello"); got != "peppy: hello" {
		t.Fatalf("unexpected render: %q", got)
	}
}
