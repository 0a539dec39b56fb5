// Package broadcastcache buffers published messages on behalf of subscribers
// that are not live at publish time, so a reconnecting subscriber can catch
// up in order and without duplicates.
package broadcastcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultClientIdleTime is how long a subscriber may stay inactive before
	// its activity entry and buffered queue are evicted.
	DefaultClientIdleTime = 2 * time.Minute

	// DefaultSweepInterval is how often the eviction sweep runs.
	DefaultSweepInterval = 1 * time.Minute
)

// StoreConfig holds configuration for a Store.
type StoreConfig struct {
	// ClientIdleTime overrides DefaultClientIdleTime when > 0.
	ClientIdleTime time.Duration

	// SweepInterval overrides DefaultSweepInterval when > 0.
	SweepInterval time.Duration

	// Scheduler optionally supplies a shared scheduler for the eviction
	// sweep. When nil the store creates and owns a dedicated one, shut down
	// together with the store.
	Scheduler *SweepScheduler
}

// Store is the per-subscriber message cache. It owns the map from subscriber
// identity to buffered queue and the map from subscriber identity to
// last-activity time, and decides on every publish which subscribers receive
// a buffered copy.
//
// All mutations of the subscriber-keyed maps run under one store-wide mutex:
// a publish's fan-out, a retrieval's activity-touch-and-pop, and the eviction
// sweep each observe and mutate the maps atomically with respect to one
// another. Callers never receive references into the internal maps.
type Store[T any] struct {
	registry   ChannelRegistry
	exclusions *ExclusionRegistry
	logger     zerolog.Logger
	now        func() time.Time

	mu            sync.Mutex
	messages      map[string]*clientQueue[T]
	activeClients map[string]time.Time
	idleTime      time.Duration

	inspectorMu sync.RWMutex
	inspectors  []Inspector[T]

	lifecycleMu   sync.Mutex
	scheduler     *SweepScheduler
	ownsScheduler bool
	sweepInterval time.Duration
	sweepTask     *ScheduledTask
}

// NewStore creates a stopped Store. The registry is consulted during fan-out
// to avoid buffering for subscribers that will receive the message live.
func NewStore[T any](cfg StoreConfig, registry ChannelRegistry, logger zerolog.Logger) (*Store[T], error) {
	if registry == nil {
		return nil, fmt.Errorf("channel registry cannot be nil")
	}
	if cfg.ClientIdleTime <= 0 {
		cfg.ClientIdleTime = DefaultClientIdleTime
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	storeLogger := logger.With().Str("component", "BroadcastCacheStore").Logger()

	scheduler := cfg.Scheduler
	ownsScheduler := false
	if scheduler == nil {
		scheduler = NewSweepScheduler(storeLogger)
		ownsScheduler = true
	}

	return &Store[T]{
		registry:      registry,
		exclusions:    NewExclusionRegistry(),
		logger:        storeLogger,
		now:           time.Now,
		messages:      make(map[string]*clientQueue[T]),
		activeClients: make(map[string]time.Time),
		idleTime:      cfg.ClientIdleTime,
		scheduler:     scheduler,
		ownsScheduler: ownsScheduler,
		sweepInterval: cfg.SweepInterval,
	}, nil
}

// Start schedules the periodic eviction sweep.
func (s *Store[T]) Start(_ context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.sweepTask != nil {
		return fmt.Errorf("store is already started")
	}
	s.sweepTask = s.scheduler.Schedule(s.sweepInterval, s.sweep)
	s.logger.Info().Dur("sweep_interval", s.sweepInterval).Msg("Broadcast cache started.")
	return nil
}

// Stop cancels the eviction sweep and, if the store owns its scheduler, shuts
// the scheduler down. In-flight add/retrieve calls are unaffected and run to
// completion; the context only bounds the wait for the sweep goroutine.
func (s *Store[T]) Stop(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.sweepTask == nil {
		return nil
	}
	task := s.sweepTask
	s.sweepTask = nil
	task.Cancel()

	select {
	case <-task.Done():
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for eviction sweep to stop.")
		return ctx.Err()
	}

	if s.ownsScheduler {
		s.scheduler.Shutdown()
	}
	s.logger.Info().Msg("Broadcast cache stopped.")
	return nil
}

// AddToCache buffers a published payload for the subscribers that will not
// receive it live, and returns the stored envelope so the caller can later
// remove that exact entry via ClearCache.
//
// origin identifies the subscriber connection the publish is being written
// to, when there is one:
//   - origin == nil: no subscriber is connected right now; the message is
//     buffered for every subscriber with a recent activity entry.
//   - origin live: the message is buffered only for active subscribers that
//     the channel does not currently report as attached, since attached
//     subscribers receive it on their live connection.
//   - origin no longer live: the publish raced a disconnect; the message is
//     buffered for that one subscriber only.
//
// A nil return means the origin subscriber is excluded on this channel and
// nothing was cached.
func (s *Store[T]) AddToCache(ctx context.Context, channelID string, origin Subscriber, payload T) *Envelope[T] {
	if origin != nil && s.exclusions.IsExcluded(channelID, origin.ID()) {
		return nil
	}

	msg := newEnvelope(payload, s.now())

	if !s.inspect(payload) {
		// The veto covers the whole publish: fan-out is skipped but the
		// caller still gets the envelope handle.
		s.logger.Debug().Str("channel_id", channelID).Str("message_id", msg.ID).Msg("Inspector vetoed caching for publish.")
		return msg
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if origin == nil {
		s.logger.Trace().Str("channel_id", channelID).Str("message_id", msg.ID).Int("active_clients", len(s.activeClients)).Msg("No live subscriber, caching for all active subscribers.")
		for subscriberID := range s.activeClients {
			s.addIfAbsent(subscriberID, msg)
		}
		return msg
	}

	subscriberID := origin.ID()
	s.activeClients[subscriberID] = s.now()

	if origin.IsLive() {
		// The membership read and the inserts share the critical section, so
		// a subscriber cannot attach between the read and its dedup insert.
		attached, err := s.registry.Members(ctx, channelID)
		if err != nil {
			s.logger.Warn().Err(err).Str("channel_id", channelID).Msg("Channel membership lookup failed, skipping fan-out.")
			return msg
		}
		for _, detachedID := range s.detachedClients(attached) {
			s.addIfAbsent(detachedID, msg)
		}
		return msg
	}

	// The connection dropped before the publish reached it; keep the message
	// for this one subscriber.
	s.addIfAbsent(subscriberID, msg)
	return msg
}

// RetrieveFromCache drains and returns the subscriber's buffered payloads in
// original insertion order. Retrieval is destructive: the queue and its
// duplicate-suppression memory are discarded, so a second retrieval with no
// intervening publish returns nothing. An excluded or unknown subscriber
// receives an empty result.
func (s *Store[T]) RetrieveFromCache(_ context.Context, channelID string, sub Subscriber) []T {
	subscriberID := sub.ID()
	if s.exclusions.IsExcluded(channelID, subscriberID) {
		return nil
	}

	s.mu.Lock()
	if _, known := s.activeClients[subscriberID]; known {
		s.activeClients[subscriberID] = s.now()
	}
	queue := s.messages[subscriberID]
	delete(s.messages, subscriberID)
	s.mu.Unlock()

	if queue == nil {
		return nil
	}
	payloads := queue.payloads()
	s.logger.Trace().Str("subscriber_id", subscriberID).Int("message_count", len(payloads)).Msg("Retrieved cached messages for subscriber.")
	return payloads
}

// ClearCache removes one previously-returned envelope from the subscriber's
// buffered queue, typically after the host has confirmed delivery out of
// band. It is a no-op if the subscriber has no queue or the message already
// left it.
func (s *Store[T]) ClearCache(_ string, sub Subscriber, msg *Envelope[T]) {
	if sub == nil || msg == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if queue, ok := s.messages[sub.ID()]; ok {
		s.logger.Trace().Str("subscriber_id", sub.ID()).Str("message_id", msg.ID).Msg("Removing cached message for subscriber.")
		queue.remove(msg.ID)
	}
}

// ExcludeFromCache suppresses caching and retrieval for the subscriber on the
// given channel.
func (s *Store[T]) ExcludeFromCache(channelID string, sub Subscriber) {
	s.exclusions.Exclude(channelID, sub.ID())
}

// IncludeInCache lifts a previous exclusion, reporting whether the subscriber
// had been excluded.
func (s *Store[T]) IncludeInCache(channelID string, sub Subscriber) bool {
	return s.exclusions.Include(channelID, sub.ID())
}

// RegisterInspector appends an inspector to the veto chain.
func (s *Store[T]) RegisterInspector(inspector Inspector[T]) {
	s.inspectorMu.Lock()
	defer s.inspectorMu.Unlock()
	s.inspectors = append(s.inspectors, inspector)
}

// SetClientIdleTime changes the idle threshold used by subsequent sweeps.
func (s *Store[T]) SetClientIdleTime(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idleTime = d
}

// SetSweepInterval changes how often the eviction sweep runs. If the store is
// started, the scheduled sweep is cancelled and rescheduled with the new
// interval; exactly one sweep loop exists at any time.
func (s *Store[T]) SetSweepInterval(d time.Duration) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.sweepInterval = d
	if s.sweepTask == nil {
		return
	}
	old := s.sweepTask
	old.Cancel()
	<-old.Done()
	s.sweepTask = s.scheduler.Schedule(d, s.sweep)
}

// StoreSnapshot is a point-in-time diagnostic view of the store's state.
type StoreSnapshot struct {
	// ActiveSubscribers maps subscriber identity to last-activity time.
	ActiveSubscribers map[string]time.Time

	// QueuedMessages maps subscriber identity to its buffered message count.
	QueuedMessages map[string]int
}

// Snapshot copies the store's current state for diagnostics. The returned
// maps are the caller's to keep.
func (s *Store[T]) Snapshot() StoreSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StoreSnapshot{
		ActiveSubscribers: make(map[string]time.Time, len(s.activeClients)),
		QueuedMessages:    make(map[string]int, len(s.messages)),
	}
	for subscriberID, lastActive := range s.activeClients {
		snap.ActiveSubscribers[subscriberID] = lastActive
	}
	for subscriberID, queue := range s.messages {
		snap.QueuedMessages[subscriberID] = len(queue.queue)
	}
	return snap
}

// inspect runs the veto chain, stopping at the first rejection.
func (s *Store[T]) inspect(payload T) bool {
	s.inspectorMu.RLock()
	defer s.inspectorMu.RUnlock()
	for _, inspector := range s.inspectors {
		if !inspector(payload) {
			return false
		}
	}
	return true
}

// detachedClients returns the active subscriber identities minus those the
// channel reports as attached. Callers must hold s.mu.
func (s *Store[T]) detachedClients(attached []string) []string {
	detached := make(map[string]struct{}, len(s.activeClients))
	for subscriberID := range s.activeClients {
		detached[subscriberID] = struct{}{}
	}
	for _, attachedID := range attached {
		delete(detached, attachedID)
	}
	out := make([]string, 0, len(detached))
	for subscriberID := range detached {
		out = append(out, subscriberID)
	}
	return out
}

// addIfAbsent appends the envelope to the subscriber's queue unless the queue
// already holds that message id. Callers must hold s.mu.
func (s *Store[T]) addIfAbsent(subscriberID string, msg *Envelope[T]) {
	queue, ok := s.messages[subscriberID]
	if !ok {
		queue = newClientQueue[T]()
		s.messages[subscriberID] = queue
	}
	if queue.has(msg.ID) {
		s.logger.Debug().Str("subscriber_id", subscriberID).Str("message_id", msg.ID).Msg("Duplicate message for subscriber, skipping.")
		return
	}
	s.logger.Trace().Str("subscriber_id", subscriberID).Str("message_id", msg.ID).Msg("Caching message for subscriber.")
	queue.append(msg)
}

// sweep evicts subscribers whose last activity is older than the idle
// threshold, discarding their buffered queues with them.
func (s *Store[T]) sweep() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var idle []string
	for subscriberID, lastActive := range s.activeClients {
		if now.Sub(lastActive) > s.idleTime {
			idle = append(idle, subscriberID)
		}
	}
	for _, subscriberID := range idle {
		s.logger.Debug().Str("subscriber_id", subscriberID).Msg("Evicting idle subscriber.")
		delete(s.activeClients, subscriberID)
		delete(s.messages, subscriberID)
	}
}
