package broadcastcache_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-broadcast/pkg/broadcastcache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepScheduler(t *testing.T) {
	t.Run("Task runs immediately and then periodically", func(t *testing.T) {
		// Arrange
		scheduler := broadcastcache.NewSweepScheduler(zerolog.Nop())
		t.Cleanup(scheduler.Shutdown)
		var runs atomic.Int32

		// Act
		task := scheduler.Schedule(10*time.Millisecond, func() {
			runs.Add(1)
		})
		t.Cleanup(task.Cancel)

		// Assert
		require.Eventually(t, func() bool {
			return runs.Load() >= 3
		}, time.Second, 5*time.Millisecond, "The task should keep running on its interval")
	})

	t.Run("Cancel stops future runs", func(t *testing.T) {
		// Arrange
		scheduler := broadcastcache.NewSweepScheduler(zerolog.Nop())
		t.Cleanup(scheduler.Shutdown)
		var runs atomic.Int32
		task := scheduler.Schedule(5*time.Millisecond, func() {
			runs.Add(1)
		})

		// Act
		task.Cancel()
		<-task.Done()
		settled := runs.Load()
		time.Sleep(30 * time.Millisecond)

		// Assert
		assert.Equal(t, settled, runs.Load(), "No runs should happen after Cancel returns")
	})

	t.Run("Shutdown cancels all tasks and rejects new ones", func(t *testing.T) {
		// Arrange
		scheduler := broadcastcache.NewSweepScheduler(zerolog.Nop())
		var runsBefore, runsAfter atomic.Int32
		scheduler.Schedule(5*time.Millisecond, func() { runsBefore.Add(1) })

		// Act
		scheduler.Shutdown()
		task := scheduler.Schedule(time.Millisecond, func() { runsAfter.Add(1) })

		// Assert
		select {
		case <-task.Done():
		default:
			t.Fatal("A task scheduled after shutdown should come back already completed")
		}
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, int32(0), runsAfter.Load(), "A task scheduled after shutdown should never run")
	})
}

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("Start twice fails, Stop without Start is a no-op", func(t *testing.T) {
		// Arrange
		store := newTestStore(t, &mockRegistry{})

		// Act & Assert
		require.NoError(t, store.Stop(ctx))
		require.NoError(t, store.Start(ctx))
		assert.Error(t, store.Start(ctx))
		require.NoError(t, store.Stop(ctx))
	})

	t.Run("Started store evicts idle subscribers", func(t *testing.T) {
		// Arrange
		registry := &mockRegistry{}
		store, err := broadcastcache.NewStore[string](broadcastcache.StoreConfig{
			ClientIdleTime: 30 * time.Millisecond,
			SweepInterval:  10 * time.Millisecond,
		}, registry, zerolog.Nop())
		require.NoError(t, err)

		// Buffer a message for a subscriber whose connection already dropped,
		// then leave it idle.
		idle := &mockSubscriber{id: "idle-sub", live: false}
		msg := store.AddToCache(ctx, "news", idle, "never-collected")
		require.NotNil(t, msg)

		// Act
		require.NoError(t, store.Start(ctx))
		t.Cleanup(func() { _ = store.Stop(context.Background()) })

		// Assert
		require.Eventually(t, func() bool {
			snap := store.Snapshot()
			return len(snap.ActiveSubscribers) == 0 && len(snap.QueuedMessages) == 0
		}, time.Second, 10*time.Millisecond, "The sweep should drop the idle subscriber and its backlog")

		assert.Empty(t, store.RetrieveFromCache(ctx, "news", &mockSubscriber{id: "idle-sub", live: true}),
			"Retrieval after eviction should find nothing")
		assert.NotContains(t, store.Snapshot().ActiveSubscribers, "idle-sub",
			"Retrieval after eviction should not resurrect the activity entry")
	})

	t.Run("SetSweepInterval reschedules a running sweep", func(t *testing.T) {
		// Arrange
		registry := &mockRegistry{}
		store, err := broadcastcache.NewStore[string](broadcastcache.StoreConfig{
			ClientIdleTime: 20 * time.Millisecond,
			SweepInterval:  time.Hour, // effectively never, until rescheduled
		}, registry, zerolog.Nop())
		require.NoError(t, err)
		require.NoError(t, store.Start(ctx))
		t.Cleanup(func() { _ = store.Stop(context.Background()) })

		dropped := &mockSubscriber{id: "sub-1", live: false}
		store.AddToCache(ctx, "news", dropped, "hello")

		// Act
		store.SetSweepInterval(10 * time.Millisecond)

		// Assert
		require.Eventually(t, func() bool {
			return len(store.Snapshot().ActiveSubscribers) == 0
		}, time.Second, 10*time.Millisecond, "Sweeps should run on the new, shorter interval")
	})

	t.Run("Stores sharing a scheduler stop independently", func(t *testing.T) {
		// Arrange
		scheduler := broadcastcache.NewSweepScheduler(zerolog.Nop())
		t.Cleanup(scheduler.Shutdown)
		cfg := broadcastcache.StoreConfig{
			ClientIdleTime: 20 * time.Millisecond,
			SweepInterval:  10 * time.Millisecond,
			Scheduler:      scheduler,
		}
		first, err := broadcastcache.NewStore[string](cfg, &mockRegistry{}, zerolog.Nop())
		require.NoError(t, err)
		second, err := broadcastcache.NewStore[string](cfg, &mockRegistry{}, zerolog.Nop())
		require.NoError(t, err)
		require.NoError(t, first.Start(ctx))
		require.NoError(t, second.Start(ctx))
		t.Cleanup(func() { _ = second.Stop(context.Background()) })

		// Act: stopping one store must not stop the shared scheduler.
		require.NoError(t, first.Stop(ctx))
		second.AddToCache(ctx, "news", &mockSubscriber{id: "sub-2", live: false}, "hello")

		// Assert
		require.Eventually(t, func() bool {
			return len(second.Snapshot().ActiveSubscribers) == 0
		}, time.Second, 10*time.Millisecond, "The second store's sweep should keep running")
	})
}
