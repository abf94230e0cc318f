package pubsub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"banchod/internal/bancho"
	"banchod/internal/clock"
	"banchod/internal/kv"
	"banchod/internal/logging"
	"banchod/internal/model"
	"banchod/internal/services"
	"banchod/internal/session"
	"banchod/internal/userstore"
	"banchod/internal/wire"
)

// fakeKV is an in-process stand-in for kv.KV: enough to exercise
// AcquireLease/ReleaseLease and Subscribe/Publish without NATS.
type fakeKV struct {
	mu      sync.Mutex
	leases  map[string]string
	subs    map[string][]func([]byte)
}

func newFakeKV() *fakeKV {
	return &fakeKV{leases: make(map[string]string), subs: make(map[string][]func([]byte))}
}

func (f *fakeKV) Get(context.Context, string) ([]byte, error)            { return nil, nil }
func (f *fakeKV) Set(context.Context, string, []byte) error              { return nil }
func (f *fakeKV) Del(context.Context, string) error                      { return nil }
func (f *fakeKV) HGet(context.Context, string, string) ([]byte, error)   { return nil, nil }
func (f *fakeKV) HSet(context.Context, string, string, []byte) error     { return nil }
func (f *fakeKV) HDel(context.Context, string, string) error             { return nil }
func (f *fakeKV) HGetAll(context.Context, string) (map[string][]byte, error) {
	return nil, nil
}
func (f *fakeKV) SAdd(context.Context, string, string) error          { return nil }
func (f *fakeKV) SRem(context.Context, string, string) error          { return nil }
func (f *fakeKV) SMembers(context.Context, string) ([]string, error) { return nil, nil }

func (f *fakeKV) Publish(_ context.Context, subject string, payload []byte) error {
	f.mu.Lock()
	handlers := append([]func([]byte){}, f.subs[subject]...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
	return nil
}

func (f *fakeKV) Subscribe(_ context.Context, subject string, handler func([]byte)) (kv.Subscription, error) {
	f.mu.Lock()
	f.subs[subject] = append(f.subs[subject], handler)
	f.mu.Unlock()
	return fakeSub{}, nil
}

func (f *fakeKV) AcquireLease(_ context.Context, name string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.leases[name]; held {
		return "", context.DeadlineExceeded
	}
	f.leases[name] = "token"
	return "token", nil
}

func (f *fakeKV) ReleaseLease(_ context.Context, name, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.leases, name)
	return nil
}

func (f *fakeKV) Close() error { return nil }

type fakeSub struct{}

func (fakeSub) Unsubscribe() error { return nil }

func newTestWorld(t *testing.T) (*bancho.World, *userstore.InMemory) {
	t.Helper()
	users := userstore.NewInMemory()
	users.Put(userstore.UserRecord{UserID: 2, Username: "BanchoBot"}, "banchobot", userstore.Stats{}, nil)
	users.Put(userstore.UserRecord{UserID: 1000, Username: "cookiezi"}, "cookiezi", userstore.Stats{}, nil)

	svc := &services.Services{
		KV:    newFakeKV(),
		Clock: clock.NewVirtual(1700000000),
		Users: users,
		Log:   logging.NewNop(),
	}
	return bancho.New(svc, 2), users
}

func TestBridgeSilenceAppliesToLiveSession(t *testing.T) {
	world, _ := newTestWorld(t)
	ctx := context.Background()

	sess := session.New("tok-1", 1000, "cookiezi", model.Privileges(0), world.Svc.Clock.Now())
	world.Sessions.Put(sess)

	b := New(newFakeKV(), world, logging.NewNop())

	payload, _ := json.Marshal(silenceMsg{UserID: 1000, Seconds: 60, Reason: "test", AuthorID: 2})
	b.handleSilence(ctx, payload)

	if !sess.IsSilenced(world.Svc.Clock.Now()) {
		t.Fatal("expected session to be silenced after peppy:silence event")
	}
}

func TestBridgeHandlersIgnoreMalformedPayload(t *testing.T) {
	world, _ := newTestWorld(t)
	b := New(newFakeKV(), world, logging.NewNop())

	// None of these should panic on garbage JSON.
	b.handleBan(context.Background(), []byte("not json"))
	b.handleSilence(context.Background(), []byte("not json"))
	b.handleNotification(context.Background(), []byte("{"))
}

func TestBridgeStartSubscribesEverySubject(t *testing.T) {
	world, _ := newTestWorld(t)
	store := newFakeKV()
	b := New(store, world, logging.NewNop())

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Close()

	for _, subject := range Subjects {
		if len(store.subs[subject]) == 0 {
			t.Fatalf("expected a subscriber on %s", subject)
		}
	}
}

func TestBridgeRateLimitDropsExcessEvents(t *testing.T) {
	world, _ := newTestWorld(t)
	store := newFakeKV()
	b := New(store, world, logging.NewNop())
	b.limiters["peppy:notification"] = rate.NewLimiter(rate.Limit(1), 1)

	sess := session.New("tok-1", 1000, "cookiezi", model.Privileges(0), world.Svc.Clock.Now())
	world.Sessions.Put(sess)

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Close()

	payload, _ := json.Marshal(notificationMsg{UserID: 1000, Message: "hi"})
	// First publish should pass the limiter; flooding more should be dropped
	// without erroring (handlers are invoked synchronously by fakeKV.Publish).
	for i := 0; i < 5; i++ {
		_ = store.Publish(context.Background(), "peppy:notification", payload)
	}
	if got, want := sess.QueueLen(), len(wire.BuildNotification("hi")); got != want {
		t.Fatalf("expected only the first of 5 notifications delivered (%d bytes), got %d bytes queued", want, got)
	}
}
