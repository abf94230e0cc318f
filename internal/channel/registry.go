// Package channel implements the named chat channel registry (C5):
// creation, permission-gated join/part, and instance-channel garbage
// collection (I8). Like stream, channel owns only its own table keyed
// by name; broadcasting to a channel's backing stream is the caller's
// job through the stream registry, not this package's.
package channel

import (
	"sync"

	"banchod/internal/model"
)

// Channel is a named chat room. Instance channels are created on demand
// (spectator/multiplayer shadow channels) and collected when empty (I8).
type Channel struct {
	Name        string
	Description string
	PublicRead  bool
	PublicWrite bool
	Instance    bool

	mu      sync.Mutex
	members map[string]struct{} // token_id set
}

func (c *Channel) MemberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.members)
}

func (c *Channel) Members() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.members))
	for id := range c.members {
		out = append(out, id)
	}
	return out
}

func (c *Channel) addMember(tokenID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members[tokenID] = struct{}{}
}

// removeMember returns true if the channel became empty as a result.
func (c *Channel) removeMember(tokenID string) (nowEmpty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.members, tokenID)
	return len(c.members) == 0
}

// Registry is the table of all known channels, keyed by name.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*Channel)}
}

// Add registers a channel explicitly; re-adding an existing name is a
// no-op (returns the existing channel), matching the "created explicitly"
// semantics — callers must Add before anyone can Join.
func (r *Registry) Add(name, description string, publicRead, publicWrite, instance bool) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[name]; ok {
		return ch
	}
	ch := &Channel{
		Name:        name,
		Description: description,
		PublicRead:  publicRead,
		PublicWrite: publicWrite,
		Instance:    instance,
		members:     make(map[string]struct{}),
	}
	r.channels[name] = ch
	return ch
}

func (r *Registry) Get(name string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	return ch, ok
}

func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, name)
}

// Public channels are ones callers should list in channelInfo broadcasts:
// public_read and not an instance shadow channel.
func (r *Registry) PublicChannels() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		if ch.PublicRead && !ch.Instance {
			out = append(out, ch)
		}
	}
	return out
}

// Privileged channel names requiring a specific bit, per §4.5.
const (
	PremiumChannel   = "#premium"
	SupporterChannel = "#supporter"
)

// Permission is the outcome of a join permission check, matching the
// Design Notes' "typed result variants instead of exceptions" rule.
type Permission int

const (
	PermissionOK Permission = iota
	PermissionNoSuchChannel
	PermissionDenied
)

// CheckJoin enforces the §4.5 ACL: #premium needs USER_PREMIUM,
// #supporter needs USER_DONOR, non-public_read channels need staff, and
// the bot account is exempt from every check.
func (r *Registry) CheckJoin(name string, privs model.Privileges, isStaff, isBot bool) (*Channel, Permission) {
	ch, ok := r.Get(name)
	if !ok {
		return nil, PermissionNoSuchChannel
	}
	if isBot {
		return ch, PermissionOK
	}
	switch name {
	case PremiumChannel:
		if !privs.Has(model.UserPremium) {
			return ch, PermissionDenied
		}
	case SupporterChannel:
		if !privs.Has(model.UserDonor) {
			return ch, PermissionDenied
		}
	}
	if !ch.PublicRead && !isStaff {
		return ch, PermissionDenied
	}
	return ch, PermissionOK
}

// Join adds tokenID to the channel's member set after CheckJoin has
// already approved it.
func (r *Registry) Join(ch *Channel, tokenID string) {
	ch.addMember(tokenID)
}

// Part removes tokenID from the channel. If the channel is an instance
// channel and this was its last member, the channel is removed from the
// registry and becameEmpty reports true so the caller can also tear down
// the backing stream (I8).
func (r *Registry) Part(ch *Channel, tokenID string) (becameEmpty bool) {
	empty := ch.removeMember(tokenID)
	if empty && ch.Instance {
		r.Remove(ch.Name)
		return true
	}
	return false
}
