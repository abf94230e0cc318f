package bancho

import (
	"context"
	"sync"
	"testing"
	"time"

	"banchod/internal/clock"
	"banchod/internal/kv"
	"banchod/internal/logging"
	"banchod/internal/model"
	"banchod/internal/services"
	"banchod/internal/session"
	"banchod/internal/userstore"
)

// banchoFakeKV is a minimal in-process kv.KV used only to back the
// fenced-lease acquisitions World.* operations take; no component under
// test here exercises Get/Set/hash/set storage.
type banchoFakeKV struct {
	mu     sync.Mutex
	leases map[string]string
}

func newBanchoFakeKV() *banchoFakeKV {
	return &banchoFakeKV{leases: make(map[string]string)}
}

func (f *banchoFakeKV) Get(context.Context, string) ([]byte, error)          { return nil, nil }
func (f *banchoFakeKV) Set(context.Context, string, []byte) error            { return nil }
func (f *banchoFakeKV) Del(context.Context, string) error                    { return nil }
func (f *banchoFakeKV) HGet(context.Context, string, string) ([]byte, error) { return nil, nil }
func (f *banchoFakeKV) HSet(context.Context, string, string, []byte) error   { return nil }
func (f *banchoFakeKV) HDel(context.Context, string, string) error          { return nil }
func (f *banchoFakeKV) HGetAll(context.Context, string) (map[string][]byte, error) {
	return nil, nil
}
func (f *banchoFakeKV) SAdd(context.Context, string, string) error          { return nil }
func (f *banchoFakeKV) SRem(context.Context, string, string) error          { return nil }
func (f *banchoFakeKV) SMembers(context.Context, string) ([]string, error) { return nil, nil }
func (f *banchoFakeKV) Publish(context.Context, string, []byte) error      { return nil }
func (f *banchoFakeKV) Subscribe(context.Context, string, func([]byte)) (kv.Subscription, error) {
	return banchoFakeSub{}, nil
}

func (f *banchoFakeKV) AcquireLease(_ context.Context, name string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.leases[name]; held {
		return "", context.DeadlineExceeded
	}
	f.leases[name] = "token"
	return "token", nil
}

func (f *banchoFakeKV) ReleaseLease(_ context.Context, name, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.leases, name)
	return nil
}

func (f *banchoFakeKV) Close() error { return nil }

type banchoFakeSub struct{}

func (banchoFakeSub) Unsubscribe() error { return nil }

func newControlTestWorld(t *testing.T) *World {
	t.Helper()
	users := userstore.NewInMemory()
	users.Put(userstore.UserRecord{UserID: 2, Username: "BanchoBot"}, "banchobot", userstore.Stats{}, nil)
	users.Put(userstore.UserRecord{UserID: 1000, Username: "cookiezi"}, "cookiezi", userstore.Stats{RankedScore: 1}, nil)

	svc := &services.Services{
		KV:    newBanchoFakeKV(),
		Clock: clock.NewVirtual(1700000000),
		Users: users,
		Log:   logging.NewNop(),
	}
	return New(svc, 2)
}

func TestBanDisconnectsLiveSession(t *testing.T) {
	w := newControlTestWorld(t)
	sess := session.New("tok-1", 1000, "cookiezi", model.Privileges(0), w.now())
	w.Sessions.Put(sess)

	w.Ban(context.Background(), 1000)

	if _, ok := w.Sessions.GetByUserID(1000); ok {
		t.Fatal("expected Ban to remove the live session")
	}
}

func TestBanOfOfflineUserIsNoop(t *testing.T) {
	w := newControlTestWorld(t)
	// Must not panic when the target has no live session.
	w.Ban(context.Background(), 9999)
}

func TestNotifyEnqueuesPacketForOnlineUser(t *testing.T) {
	w := newControlTestWorld(t)
	sess := session.New("tok-1", 1000, "cookiezi", model.Privileges(0), w.now())
	w.Sessions.Put(sess)

	w.Notify(1000, "hello from staff")

	if sess.QueueLen() == 0 {
		t.Fatal("expected Notify to enqueue a packet")
	}
}

func TestChangeUsernameUpdatesLiveSession(t *testing.T) {
	w := newControlTestWorld(t)
	sess := session.New("tok-1", 1000, "cookiezi", model.Privileges(0), w.now())
	w.Sessions.Put(sess)

	w.ChangeUsername(1000, "cookiezi2")

	if sess.Username != "cookiezi2" {
		t.Fatalf("Username = %q, want cookiezi2", sess.Username)
	}
	if sess.SafeUsername != session.SafeName("cookiezi2") {
		t.Fatalf("SafeUsername not updated: %q", sess.SafeUsername)
	}
}

func TestRefreshStatsOfOfflineUserIsNoop(t *testing.T) {
	w := newControlTestWorld(t)
	if err := w.RefreshStats(context.Background(), 9999); err != nil {
		t.Fatalf("RefreshStats on offline user should be a no-op, got err: %v", err)
	}
}

func TestSilenceByUserIDOfflineStillPersists(t *testing.T) {
	w := newControlTestWorld(t)
	if err := w.SilenceByUserID(context.Background(), 9999, 60, "offline silence", 2); err != nil {
		t.Fatalf("SilenceByUserID: %v", err)
	}
}
