package wire

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	frame := Build(PacketUserID, func(w *Writer) { w.WriteS32(42) })
	h, err := ReadHeader(frame)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.ID != PacketUserID {
		t.Fatalf("expected id %d, got %d", PacketUserID, h.ID)
	}
	if int(h.Length) != len(frame)-HeaderSize {
		t.Fatalf("expected length %d, got %d", len(frame)-HeaderSize, h.Length)
	}
}

func TestReadHeaderShortBuffer(t *testing.T) {
	if _, err := ReadHeader([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected ErrShortRead on a truncated header")
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, s := range []string{"", "hello", "unicode: héllo wörld 日本語"} {
		w := NewWriter()
		w.WriteString(s)
		r := NewReader(w.Bytes())
		got, err := r.ReadString()
		if err != nil {
			t.Fatalf("ReadString(%q): %v", s, err)
		}
		if got != s {
			t.Fatalf("round trip %q -> %q", s, got)
		}
	}
}

func TestIntListRoundTrip(t *testing.T) {
	values := []int32{1, -2, 3, 2147483647, -2147483648}
	w := NewWriter()
	w.WriteIntList(values)
	r := NewReader(w.Bytes())
	got, err := r.ReadIntList()
	if err != nil {
		t.Fatalf("ReadIntList: %v", err)
	}
	if len(got) != len(values) {
		t.Fatalf("expected %d values, got %d", len(values), len(got))
	}
	for i := range values {
		if got[i] != values[i] {
			t.Fatalf("index %d: expected %d, got %d", i, values[i], got[i])
		}
	}
}

func TestFixedWidthRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteU8(200)
	w.WriteS8(-5)
	w.WriteBool(true)
	w.WriteU16(40000)
	w.WriteS16(-1000)
	w.WriteU32(4000000000)
	w.WriteS32(-2000000000)
	w.WriteU64(18000000000000000000)
	w.WriteS64(-9000000000000000000)
	w.WriteF32(3.25)

	r := NewReader(w.Bytes())
	if v, _ := r.ReadU8(); v != 200 {
		t.Fatalf("U8 mismatch: %d", v)
	}
	if v, _ := r.ReadS8(); v != -5 {
		t.Fatalf("S8 mismatch: %d", v)
	}
	if v, _ := r.ReadBool(); !v {
		t.Fatalf("Bool mismatch")
	}
	if v, _ := r.ReadU16(); v != 40000 {
		t.Fatalf("U16 mismatch: %d", v)
	}
	if v, _ := r.ReadS16(); v != -1000 {
		t.Fatalf("S16 mismatch: %d", v)
	}
	if v, _ := r.ReadU32(); v != 4000000000 {
		t.Fatalf("U32 mismatch: %d", v)
	}
	if v, _ := r.ReadS32(); v != -2000000000 {
		t.Fatalf("S32 mismatch: %d", v)
	}
	if v, _ := r.ReadU64(); v != 18000000000000000000 {
		t.Fatalf("U64 mismatch: %d", v)
	}
	if v, _ := r.ReadS64(); v != -9000000000000000000 {
		t.Fatalf("S64 mismatch: %d", v)
	}
	if v, _ := r.ReadF32(); v != 3.25 {
		t.Fatalf("F32 mismatch: %v", v)
	}
}

func TestShortReadOnTruncatedPayload(t *testing.T) {
	w := NewWriter()
	w.WriteU32(1)
	buf := w.Bytes()[:2]
	r := NewReader(buf)
	if _, err := r.ReadU32(); err == nil {
		t.Fatalf("expected ErrShortRead on truncated U32")
	}
}

func TestMalformedStringMarker(t *testing.T) {
	r := NewReader([]byte{0xFF})
	if _, err := r.ReadString(); err == nil {
		t.Fatalf("expected error on invalid string marker")
	}
}

func TestBuildUserStatsRoundTrip(t *testing.T) {
	f := UserStatsFields{
		UserID: 42, ActionID: 2, ActionText: "playing", ActionMD5: "deadbeef",
		ActionMods: 64, Mode: 0, BeatmapID: 1001, RankedScore: 123456789,
		Accuracy: 99.5, Playcount: 10, TotalScore: 999999, Rank: 1, PP: 7000,
	}
	frame := BuildUserStats(f)
	h, err := ReadHeader(frame)
	if err != nil || h.ID != PacketUserStats {
		t.Fatalf("expected user_stats header, got %+v err=%v", h, err)
	}

	r := NewReader(frame[HeaderSize:])
	uid, _ := r.ReadU32()
	if uid != f.UserID {
		t.Fatalf("uid mismatch: %d", uid)
	}
}

func TestMatchDataRoundTripShape(t *testing.T) {
	md := MatchData{MatchID: 3, Name: "room", HostUserID: 7}
	md.Slots[0] = MatchSlotData{Status: 2, HasPlayer: true, UserID: 7}
	payload := EncodeMatchData(md)
	if len(payload) == 0 {
		t.Fatalf("expected non-empty encoded match data")
	}
	frame := BuildMatchNew(payload)
	h, err := ReadHeader(frame)
	if err != nil || h.ID != PacketMatchNew {
		t.Fatalf("expected match_new header, got %+v err=%v", h, err)
	}
	if !bytes.Equal(frame[HeaderSize:], payload) {
		t.Fatalf("expected match data embedded verbatim in matchNew payload")
	}
}
