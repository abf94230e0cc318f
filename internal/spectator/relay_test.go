package spectator

import "testing"

type fakeEnqueuer struct {
	id  string
	got [][]byte
}

func (f *fakeEnqueuer) TokenID() string { return f.id }
func (f *fakeEnqueuer) Enqueue(data []byte) { f.got = append(f.got, data) }

func TestRelayFramesExcludesHost(t *testing.T) {
	host := &fakeEnqueuer{id: "host"}
	follower := &fakeEnqueuer{id: "follower"}

	RelayFrames([]Enqueuer{host, follower}, "host", []byte("frame"), func(data []byte) []byte {
		return append([]byte("packet:"), data...)
	})

	if len(host.got) != 0 {
		t.Fatalf("expected host to receive nothing, got %d packets", len(host.got))
	}
	if len(follower.got) != 1 || string(follower.got[0]) != "packet:frame" {
		t.Fatalf("expected follower to receive one relayed frame, got %v", follower.got)
	}
}

func TestCantSpectateExcludesHost(t *testing.T) {
	host := &fakeEnqueuer{id: "host"}
	follower := &fakeEnqueuer{id: "follower"}

	CantSpectate([]Enqueuer{host, follower}, "host", func() []byte { return []byte("no-song") })

	if len(host.got) != 0 {
		t.Fatalf("expected host excluded from cant_spectate broadcast")
	}
	if len(follower.got) != 1 {
		t.Fatalf("expected follower to receive cant_spectate broadcast")
	}
}
