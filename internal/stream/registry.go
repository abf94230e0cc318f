// Package stream implements the named broadcast-group fan-out fabric
// (C3): streams are not auto-created by join, callers must Add first,
// and Broadcast only ever enqueues bytes into member sessions' outbound
// queues (never blocks on a network send), per the concurrency model's
// suspension-point rules.
package stream

import (
	"context"
	"strconv"
	"sync"

	"banchod/internal/kv"
	"banchod/internal/metrics"
	"banchod/internal/model"
)

// Well-known stream names referenced throughout the service.
const (
	Main  = "main"
	Lobby = "lobby"
)

func ChatStream(channel string) string        { return "chat/" + channel }
func SpectatorStream(hostUserID int32) string { return "spect/" + itoa(int64(hostUserID)) }
func MultiplayerStream(matchID int64) string  { return "multiplay/" + itoa(matchID) }
func MultiplayerPlaying(matchID int64) string { return MultiplayerStream(matchID) + "/playing" }

// Enqueuer is the narrow slice of Session that Broadcast needs; keeping
// it this small lets stream depend on session only through an
// interface, not the concrete package, avoiding an import cycle.
type Enqueuer interface {
	TokenID() string
	Enqueue(data []byte)
	Privileges() model.Privileges
}

// Registry is the in-process view of stream membership for sessions
// local to this replica. Join/Leave also mirror membership into the KV
// set under kv.StreamKey(name), but nothing reads that set back:
// Broadcast reaches only members registered in this Registry, so
// sessions connected to other replicas are not reached, and the hot
// broadcast path never waits on KV.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]map[string]Enqueuer // name -> token_id -> session

	kv      kv.KV
	metrics metrics.Sink
}

func NewRegistry(store kv.KV, sink metrics.Sink) *Registry {
	return &Registry{
		streams: make(map[string]map[string]Enqueuer),
		kv:      store,
		metrics: sink,
	}
}

func (r *Registry) Add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streams[name]; !ok {
		r.streams[name] = make(map[string]Enqueuer)
	}
}

func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, name)
}

// Join adds a session to an existing stream. It is a no-op if the
// stream was never Add-ed, matching "streams are not auto-created by
// join".
func (r *Registry) Join(name string, s Enqueuer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.streams[name]
	if !ok {
		return
	}
	members[s.TokenID()] = s
	if r.kv != nil {
		_ = r.kv.SAdd(context.Background(), kv.StreamKey(name), s.TokenID())
	}
}

func (r *Registry) Leave(name string, tokenID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if members, ok := r.streams[name]; ok {
		delete(members, tokenID)
	}
	if r.kv != nil {
		_ = r.kv.SRem(context.Background(), kv.StreamKey(name), tokenID)
	}
}

// LeaveAll removes a session from every stream it belongs to locally;
// called on logout/disconnect.
func (r *Registry) LeaveAll(tokenID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, members := range r.streams {
		if _, ok := members[tokenID]; ok {
			delete(members, tokenID)
			if r.kv != nil {
				_ = r.kv.SRem(context.Background(), kv.StreamKey(name), tokenID)
			}
		}
	}
}

func (r *Registry) Members(name string) []Enqueuer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.streams[name]
	out := make([]Enqueuer, 0, len(members))
	for _, s := range members {
		out = append(out, s)
	}
	return out
}

func (r *Registry) ClientCount(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams[name])
}

// BroadcastOpts narrows a broadcast to a subset of members.
type BroadcastOpts struct {
	Except       map[string]struct{}
	RequirePrivs model.Privileges
}

// Broadcast appends payload to every member session's outbound queue
// (I7), in the order Members observes them (O4). It never blocks on a
// network send: Enqueue only ever appends to an in-memory buffer.
func (r *Registry) Broadcast(name string, payload []byte, opts *BroadcastOpts) {
	for _, member := range r.Members(name) {
		if opts != nil {
			if opts.Except != nil {
				if _, skip := opts.Except[member.TokenID()]; skip {
					continue
				}
			}
			if opts.RequirePrivs != 0 && !member.Privileges().Has(opts.RequirePrivs) {
				continue
			}
		}
		member.Enqueue(payload)
	}
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
