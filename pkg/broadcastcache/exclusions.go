package broadcastcache

import "sync"

// ExclusionRegistry tracks, per channel, the subscribers for which caching
// and retrieval are suppressed. It is independent of the message store: an
// exclusion is a best-effort gate, not a linearizable barrier against
// in-flight adds, so it carries its own lock.
type ExclusionRegistry struct {
	mu     sync.RWMutex
	banned map[string]map[string]struct{}
}

// NewExclusionRegistry creates an empty registry.
func NewExclusionRegistry() *ExclusionRegistry {
	return &ExclusionRegistry{
		banned: make(map[string]map[string]struct{}),
	}
}

// Exclude suppresses caching and retrieval for the subscriber on the given
// channel. Excluding an already-excluded subscriber is a no-op.
func (r *ExclusionRegistry) Exclude(channelID, subscriberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.banned[channelID]
	if !ok {
		set = make(map[string]struct{})
		r.banned[channelID] = set
	}
	set[subscriberID] = struct{}{}
}

// Include lifts the subscriber's exclusion on the given channel. It reports
// whether the subscriber had been excluded.
func (r *ExclusionRegistry) Include(channelID, subscriberID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.banned[channelID]
	if !ok {
		return false
	}
	if _, present := set[subscriberID]; !present {
		return false
	}
	delete(set, subscriberID)
	if len(set) == 0 {
		delete(r.banned, channelID)
	}
	return true
}

// IsExcluded reports whether the subscriber is excluded on the given channel.
func (r *ExclusionRegistry) IsExcluded(channelID, subscriberID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.banned[channelID][subscriberID]
	return ok
}
