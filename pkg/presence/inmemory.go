package presence

import (
	"context"
	"sync"
)

// InMemoryTracker is a thread-safe, in-memory implementation of Tracker for
// single-process hosts and tests.
type InMemoryTracker struct {
	mu       sync.RWMutex
	channels map[string]map[string]struct{}
}

// NewInMemoryTracker creates a tracker with no attachments.
func NewInMemoryTracker() *InMemoryTracker {
	return &InMemoryTracker{
		channels: make(map[string]map[string]struct{}),
	}
}

// Attach records the subscriber as connected to the channel. Attaching twice
// is a no-op.
func (t *InMemoryTracker) Attach(_ context.Context, channelID, subscriberID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	members, ok := t.channels[channelID]
	if !ok {
		members = make(map[string]struct{})
		t.channels[channelID] = members
	}
	members[subscriberID] = struct{}{}
	return nil
}

// Detach removes the subscriber from the channel.
func (t *InMemoryTracker) Detach(_ context.Context, channelID, subscriberID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	members, ok := t.channels[channelID]
	if !ok {
		return nil
	}
	delete(members, subscriberID)
	if len(members) == 0 {
		delete(t.channels, channelID)
	}
	return nil
}

// Members returns the subscriber IDs attached to the channel. An unknown
// channel has no members.
func (t *InMemoryTracker) Members(_ context.Context, channelID string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	members := t.channels[channelID]
	out := make([]string, 0, len(members))
	for subscriberID := range members {
		out = append(out, subscriberID)
	}
	return out, nil
}

// Close is a no-op for the in-memory implementation.
func (t *InMemoryTracker) Close() error {
	return nil
}
