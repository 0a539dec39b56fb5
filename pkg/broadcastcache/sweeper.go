package broadcastcache

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SweepScheduler runs periodic background tasks, one goroutine per task. A
// single scheduler may be shared by several stores; a store constructed
// without one owns a dedicated scheduler instead.
type SweepScheduler struct {
	logger zerolog.Logger

	mu      sync.Mutex
	tasks   map[*ScheduledTask]struct{}
	stopped bool
}

// NewSweepScheduler creates a scheduler with no tasks.
func NewSweepScheduler(logger zerolog.Logger) *SweepScheduler {
	return &SweepScheduler{
		logger: logger.With().Str("component", "SweepScheduler").Logger(),
		tasks:  make(map[*ScheduledTask]struct{}),
	}
}

// Schedule runs task immediately and then once per interval until the
// returned handle is cancelled or the scheduler shuts down. Scheduling on a
// shut-down scheduler returns an already-completed handle and runs nothing.
func (s *SweepScheduler) Schedule(interval time.Duration, task func()) *ScheduledTask {
	t := &ScheduledTask{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.logger.Warn().Msg("Schedule called on a stopped scheduler, task will not run.")
		t.Cancel()
		close(t.done)
		return t
	}
	s.tasks[t] = struct{}{}
	s.mu.Unlock()

	go s.run(t, interval, task)
	return t
}

// Shutdown cancels every scheduled task and waits for their goroutines to
// exit. The scheduler accepts no further tasks afterwards.
func (s *SweepScheduler) Shutdown() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	running := make([]*ScheduledTask, 0, len(s.tasks))
	for t := range s.tasks {
		running = append(running, t)
	}
	s.mu.Unlock()

	for _, t := range running {
		t.Cancel()
		<-t.Done()
	}
	s.logger.Debug().Int("task_count", len(running)).Msg("Sweep scheduler shut down.")
}

func (s *SweepScheduler) run(t *ScheduledTask, interval time.Duration, task func()) {
	defer func() {
		s.mu.Lock()
		delete(s.tasks, t)
		s.mu.Unlock()
		close(t.done)
	}()

	// Fixed-delay schedule with a zero initial delay.
	task()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			task()
		}
	}
}

// ScheduledTask is the cancellation handle for one periodic task.
type ScheduledTask struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Cancel stops future runs of the task. It does not interrupt a run already
// in progress and is safe to call more than once.
func (t *ScheduledTask) Cancel() {
	t.once.Do(func() {
		close(t.stop)
	})
}

// Done returns a channel that is closed once the task's goroutine has exited.
func (t *ScheduledTask) Done() <-chan struct{} {
	return t.done
}
