package kv

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"banchod/internal/model"
)

// NATSStore backs KV with a JetStream KeyValue bucket for scalars/hashes/
// sets and core NATS pub/sub for the control channels. Hashes are stored
// as "<key>:<field>" entries in the same bucket; sets are stored as a
// single JSON-encoded array under "set:<key>", mutated through
// compare-and-swap so concurrent SAdd/SRem never lose an update.
type NATSStore struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	kv   nats.KeyValue

	lockTTL       time.Duration
	lockRetries   int
	lockBaseDelay time.Duration
}

type Options struct {
	URL           string
	BucketName    string
	LockTTL       time.Duration
	LockRetries   int
	LockBaseDelay time.Duration
}

func Connect(opts Options) (*NATSStore, error) {
	conn, err := nats.Connect(opts.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", model.ErrKVUnavailable, err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: jetstream: %v", model.ErrKVUnavailable, err)
	}

	bucket := opts.BucketName
	if bucket == "" {
		bucket = "bancho"
	}
	store, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		store, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:  bucket,
			History: 1,
		})
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: keyvalue bucket: %v", model.ErrKVUnavailable, err)
	}

	lockRetries := opts.LockRetries
	if lockRetries <= 0 {
		lockRetries = 8
	}
	lockBaseDelay := opts.LockBaseDelay
	if lockBaseDelay <= 0 {
		lockBaseDelay = 25 * time.Millisecond
	}
	lockTTL := opts.LockTTL
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}

	return &NATSStore{
		conn:          conn,
		js:            js,
		kv:            store,
		lockTTL:       lockTTL,
		lockRetries:   lockRetries,
		lockBaseDelay: lockBaseDelay,
	}, nil
}

func (s *NATSStore) Close() error {
	s.conn.Close()
	return nil
}

func (s *NATSStore) Get(_ context.Context, key string) ([]byte, error) {
	entry, err := s.kv.Get(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", model.ErrKVUnavailable, key, err)
	}
	return entry.Value(), nil
}

func (s *NATSStore) Set(_ context.Context, key string, value []byte) error {
	if _, err := s.kv.Put(key, value); err != nil {
		return fmt.Errorf("%w: set %s: %v", model.ErrKVUnavailable, key, err)
	}
	return nil
}

func (s *NATSStore) Del(_ context.Context, key string) error {
	if err := s.kv.Delete(key); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("%w: del %s: %v", model.ErrKVUnavailable, key, err)
	}
	return nil
}

func hashField(key, field string) string {
	return key + ":" + field
}

func (s *NATSStore) HGet(ctx context.Context, key, field string) ([]byte, error) {
	return s.Get(ctx, hashField(key, field))
}

func (s *NATSStore) HSet(ctx context.Context, key, field string, value []byte) error {
	return s.Set(ctx, hashField(key, field), value)
}

func (s *NATSStore) HDel(ctx context.Context, key, field string) error {
	return s.Del(ctx, hashField(key, field))
}

func (s *NATSStore) HGetAll(_ context.Context, key string) (map[string][]byte, error) {
	keys, err := s.kv.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return map[string][]byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: hgetall %s: %v", model.ErrKVUnavailable, key, err)
	}

	prefix := key + ":"
	out := make(map[string][]byte)
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		entry, err := s.kv.Get(k)
		if err != nil {
			continue
		}
		out[strings.TrimPrefix(k, prefix)] = entry.Value()
	}
	return out, nil
}

func setKey(key string) string { return "set:" + key }

func (s *NATSStore) readSet(key string) (map[string]struct{}, uint64, error) {
	entry, err := s.kv.Get(setKey(key))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return map[string]struct{}{}, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	members := map[string]struct{}{}
	var list []string
	if len(entry.Value()) > 0 {
		if err := json.Unmarshal(entry.Value(), &list); err != nil {
			return nil, 0, err
		}
	}
	for _, m := range list {
		members[m] = struct{}{}
	}
	return members, entry.Revision(), nil
}

func (s *NATSStore) writeSet(key string, members map[string]struct{}, revision uint64) error {
	list := make([]string, 0, len(members))
	for m := range members {
		list = append(list, m)
	}
	payload, err := json.Marshal(list)
	if err != nil {
		return err
	}
	if revision == 0 {
		_, err = s.kv.Create(setKey(key), payload)
		if errors.Is(err, nats.ErrKeyExists) {
			return errRetrySet
		}
		return err
	}
	_, err = s.kv.Update(setKey(key), payload, revision)
	if errors.Is(err, nats.ErrKeyExists) {
		return errRetrySet
	}
	return err
}

var errRetrySet = errors.New("kv: set mutated concurrently, retry")

func (s *NATSStore) mutateSet(ctx context.Context, key string, mutate func(map[string]struct{})) error {
	for attempt := 0; attempt < 20; attempt++ {
		members, rev, err := s.readSet(key)
		if err != nil {
			return fmt.Errorf("%w: set %s: %v", model.ErrKVUnavailable, key, err)
		}
		mutate(members)
		err = s.writeSet(key, members, rev)
		if err == nil {
			return nil
		}
		if errors.Is(err, errRetrySet) || errors.Is(err, nats.ErrKeyExists) {
			continue
		}
		return fmt.Errorf("%w: set %s: %v", model.ErrKVUnavailable, key, err)
	}
	return fmt.Errorf("%w: set %s: exhausted CAS retries", model.ErrKVUnavailable, key)
}

func (s *NATSStore) SAdd(ctx context.Context, key, member string) error {
	return s.mutateSet(ctx, key, func(m map[string]struct{}) { m[member] = struct{}{} })
}

func (s *NATSStore) SRem(ctx context.Context, key, member string) error {
	return s.mutateSet(ctx, key, func(m map[string]struct{}) { delete(m, member) })
}

func (s *NATSStore) SMembers(_ context.Context, key string) ([]string, error) {
	members, _, err := s.readSet(key)
	if err != nil {
		return nil, fmt.Errorf("%w: smembers %s: %v", model.ErrKVUnavailable, key, err)
	}
	out := make([]string, 0, len(members))
	for m := range members {
		out = append(out, m)
	}
	return out, nil
}

func (s *NATSStore) Publish(_ context.Context, subject string, payload []byte) error {
	if err := s.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("%w: publish %s: %v", model.ErrKVUnavailable, subject, err)
	}
	return nil
}

type natsSubscription struct{ sub *nats.Subscription }

func (n natsSubscription) Unsubscribe() error { return n.sub.Unsubscribe() }

func (s *NATSStore) Subscribe(_ context.Context, subject string, handler func([]byte)) (Subscription, error) {
	sub, err := s.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %v", model.ErrKVUnavailable, subject, err)
	}
	return natsSubscription{sub: sub}, nil
}

// leaseValue is the payload stored at a lock key: a random fencing token
// and the epoch millisecond it expires at. A lease past its expiry may
// be stolen by the next acquirer.
type leaseValue struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at_ms"`
}

func (s *NATSStore) AcquireLease(ctx context.Context, name string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = s.lockTTL
	}
	key := "lock:" + name
	token := randomToken()

	delay := s.lockBaseDelay
	for attempt := 0; attempt < s.lockRetries; attempt++ {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %s: %v", model.ErrLockTimeout, name, ctx.Err())
		default:
		}

		lease := leaseValue{Token: token, ExpiresAt: time.Now().Add(ttl).UnixMilli()}
		payload, _ := json.Marshal(lease)

		_, err := s.kv.Create(key, payload)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, nats.ErrKeyExists) {
			return "", fmt.Errorf("%w: %s: %v", model.ErrKVUnavailable, name, err)
		}

		// Someone holds the lease; steal it if it has expired.
		entry, getErr := s.kv.Get(key)
		if getErr == nil {
			var existing leaseValue
			if json.Unmarshal(entry.Value(), &existing) == nil && existing.ExpiresAt <= time.Now().UnixMilli() {
				if _, updErr := s.kv.Update(key, payload, entry.Revision()); updErr == nil {
					return token, nil
				}
			}
		}

		jitter := time.Duration(rand.Int63n(int64(delay)))
		time.Sleep(delay + jitter)
		delay *= 2
	}

	return "", fmt.Errorf("%w: %s", model.ErrLockTimeout, name)
}

func (s *NATSStore) ReleaseLease(_ context.Context, name, token string) error {
	key := "lock:" + name
	entry, err := s.kv.Get(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: release %s: %v", model.ErrKVUnavailable, name, err)
	}

	var existing leaseValue
	if json.Unmarshal(entry.Value(), &existing) == nil && existing.Token != token {
		// A different holder now owns the lease (ours expired and was
		// stolen); releasing it would free someone else's critical
		// section, so this is a silent no-op.
		return nil
	}

	if err := s.kv.Delete(key, nats.LastRevision(entry.Revision())); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("%w: release %s: %v", model.ErrKVUnavailable, name, err)
	}
	return nil
}

func randomToken() string {
	var b [16]byte
	_, _ = cryptorand.Read(b[:])
	const hex = "0123456789abcdef"
	out := make([]byte, 32)
	for i, c := range b {
		out[i*2] = hex[c>>4]
		out[i*2+1] = hex[c&0xf]
	}
	return string(out)
}

var _ KV = (*NATSStore)(nil)
