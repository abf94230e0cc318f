package match

import "sync"

// Registry is the table of all live matches, keyed by match id.
type Registry struct {
	mu      sync.RWMutex
	matches map[int64]*Match
	nextID  int64
}

func NewRegistry() *Registry {
	return &Registry{matches: make(map[int64]*Match)}
}

// Create allocates the next match id and registers the match.
func (r *Registry) Create(name, password string, hostUserID int32, hostToken string, now int64) *Match {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	m := New(r.nextID, name, password, hostUserID, hostToken, now)
	r.matches[m.MatchID] = m
	return m
}

func (r *Registry) Get(matchID int64) (*Match, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.matches[matchID]
	return m, ok
}

// Remove deletes a match from the table. Callers must have disposed it
// under the match lock first.
func (r *Registry) Remove(matchID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.matches, matchID)
}

func (r *Registry) All() []*Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Match, 0, len(r.matches))
	for _, m := range r.matches {
		out = append(out, m)
	}
	return out
}

// Empty reports whether a match has zero occupied slots, the condition
// under which the caller should dispose and remove it ("destroyed when
// the last slot becomes FREE").
func (m *Match) Empty() bool {
	return len(m.occupiedSlots()) == 0
}
