package session

import (
	"testing"

	"banchod/internal/model"
)

func TestSafeName(t *testing.T) {
	cases := map[string]string{
		"Cookiezi":     "cookiezi",
		"Chicken McNug": "chicken_mcnug",
		"rrtyui":       "rrtyui",
	}
	for in, want := range cases {
		if got := SafeName(in); got != want {
			t.Errorf("SafeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEnqueueDropsOverLimit(t *testing.T) {
	s := New("tok", 1000, "peppy", model.UserPublic, 1000)
	big := make([]byte, MaxQueueBytes+1)
	s.Enqueue(big)
	if s.QueueLen() != 0 {
		t.Fatalf("expected oversized enqueue to be dropped, got %d bytes queued", s.QueueLen())
	}
	s.Enqueue([]byte("hello"))
	if s.QueueLen() != 5 {
		t.Fatalf("expected 5 bytes queued, got %d", s.QueueLen())
	}
	if got := s.DrainQueue(); string(got) != "hello" {
		t.Fatalf("DrainQueue = %q", got)
	}
	if s.QueueLen() != 0 {
		t.Fatalf("expected queue empty after drain")
	}
}

func TestEnqueueNoOpForIRCAndBot(t *testing.T) {
	irc := New("tok2", 3, "ircuser", model.UserPublic, 1000)
	irc.IRC = true
	irc.Enqueue([]byte("x"))
	if irc.QueueLen() != 0 {
		t.Fatalf("IRC session should never queue bytes")
	}

	bot := New("tok3", 1, "BanchoBot", model.UserPublic, 1000)
	bot.Enqueue([]byte("x"))
	if bot.QueueLen() != 0 {
		t.Fatalf("bot session should never queue bytes")
	}
}

func TestSpamProtectFiresOnceAtEleven(t *testing.T) {
	s := New("tok", 4, "spammer", model.UserPublic, 1000)
	triggered := 0
	for i := 0; i < 15; i++ {
		if s.SpamProtect() {
			triggered++
		}
	}
	if triggered != 1 {
		t.Fatalf("expected SpamProtect to fire exactly once in a burst, fired %d times", triggered)
	}
	s.ResetSpam()
	if s.SpamProtect() {
		t.Fatalf("expected SpamProtect not to fire immediately after reset")
	}
}

func TestIsSilenced(t *testing.T) {
	s := New("tok", 5, "naughty", model.UserPublic, 1000)
	s.ApplySilence(2000)
	if !s.IsSilenced(1500) {
		t.Fatalf("expected silenced at t=1500 with silence_end=2000")
	}
	if s.IsSilenced(2001) {
		t.Fatalf("expected not silenced once past silence_end")
	}
}

func TestMessageRingTruncatesAndWraps(t *testing.T) {
	s := New("tok", 6, "chatty", model.UserPublic, 1000)
	for i := 0; i < MessagesBufferSize+10; i++ {
		s.AppendMessageLine("line")
	}
	if len(s.MessageLines()) != MessagesBufferSize {
		t.Fatalf("expected ring capped at %d lines, got %d", MessagesBufferSize, len(s.MessageLines()))
	}

	long := make([]byte, MessageLineMaxChars+50)
	for i := range long {
		long[i] = 'a'
	}
	s2 := New("tok2", 7, "longtalker", model.UserPublic, 1000)
	s2.AppendMessageLine(string(long))
	lines := s2.MessageLines()
	if len(lines[0]) != MessageLineMaxChars {
		t.Fatalf("expected line truncated to %d chars, got %d", MessageLineMaxChars, len(lines[0]))
	}
}

func TestMarkAwayOnlyOnce(t *testing.T) {
	s := New("tok", 8, "afk", model.UserPublic, 1000)
	if s.MarkAway(99) {
		t.Fatalf("expected first MarkAway to report not-already-sent")
	}
	if !s.MarkAway(99) {
		t.Fatalf("expected second MarkAway for same target to report already-sent")
	}
}

func TestStorePutEvictsPriorSessionForSameUser(t *testing.T) {
	st := NewStore()
	first := New("tok-a", 10, "dupe", model.UserPublic, 1000)
	second := New("tok-b", 10, "dupe", model.UserPublic, 2000)

	if evicted := st.Put(first); evicted != nil {
		t.Fatalf("expected no eviction on first login")
	}
	evicted := st.Put(second)
	if evicted == nil || evicted.TokenIDValue != "tok-a" {
		t.Fatalf("expected tok-a evicted on second login, got %#v", evicted)
	}
	if st.TokenExists("tok-a") {
		t.Fatalf("expected tok-a removed from store")
	}
	if cur, ok := st.GetByUserID(10); !ok || cur.TokenIDValue != "tok-b" {
		t.Fatalf("expected tok-b to be the live session for user 10")
	}
}

func TestStoreTournamentBypassesEviction(t *testing.T) {
	st := NewStore()
	first := New("tok-a", 11, "multi", model.UserPublic, 1000)
	first.Tournament = true
	second := New("tok-b", 11, "multi", model.UserPublic, 2000)
	second.Tournament = true

	st.Put(first)
	evicted := st.Put(second)
	if evicted != nil {
		t.Fatalf("expected tournament sessions not to evict each other")
	}
	if !st.TokenExists("tok-a") || !st.TokenExists("tok-b") {
		t.Fatalf("expected both tournament sessions to remain live")
	}
}

func TestStoreGetBySafeName(t *testing.T) {
	st := NewStore()
	st.Put(New("tok", 12, "Cookiezi", model.UserPublic, 1000))
	if _, ok := st.GetBySafeName("cookiezi"); !ok {
		t.Fatalf("expected lookup by safe username to succeed")
	}
}
