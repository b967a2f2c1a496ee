// Package scheduler implements the periodic task scheduler of spec.md
// §4.7 (C8): a small table of {id, next_due_ms, period_ms, closure,
// drop}, driven either cooperatively (process_tasks on a caller's own
// thread) or by a dedicated background goroutine. Grounded on
// zenoh-pico's zp_periodic_scheduler, which keeps the identical
// not-caught-up, skip-missed-periods rescheduling rule.
package scheduler

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/eclipse-zenoh/zenoh-pico-sub002/internal/collections"
)

// ErrInvalidPeriod is returned by Add when periodMs is zero (spec.md §4.7
// "add with period 0 → invalid argument").
var ErrInvalidPeriod = errors.New("scheduler: invalid period")

// ErrTooManyTasks is returned by Add once MaxTasks concurrent tasks are
// already registered (spec.md §4.7 "overflow returns a generic error").
var ErrTooManyTasks = errors.New("scheduler: too many tasks")

// DefaultMaxTasks mirrors ZP_PERIODIC_SCHEDULER_MAX_TASKS (spec.md §6).
const DefaultMaxTasks = 32

type task struct {
	id        uint64
	nextDueMs int64
	periodMs  int64
	closure   func()
	drop      func()
	removed   bool
}

// Scheduler is spec.md §4.7's periodic task table. The zero value is not
// usable; construct with New.
type Scheduler struct {
	mu       sync.Mutex
	tasks    *collections.SingleList[*task]
	nextID   uint64
	maxTasks int
	now      func() int64
}

// New creates an empty Scheduler. maxTasks<=0 uses DefaultMaxTasks.
func New(maxTasks int) *Scheduler {
	if maxTasks <= 0 {
		maxTasks = DefaultMaxTasks
	}
	return &Scheduler{
		tasks:    collections.NewSingleList[*task](),
		nextID:   1,
		maxTasks: maxTasks,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// SetTimeSource overrides the scheduler's notion of now() (spec.md §4.7
// "set_time_source(fn)"), letting tests (and a cooperative
// z_clock-driven embedded build) supply a deterministic or
// externally-ticked clock.
func (s *Scheduler) SetTimeSource(fn func() int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = fn
}

// Add registers closure to run every periodMs milliseconds, first firing
// at now()+periodMs. drop, if non-nil, runs exactly once when the task is
// removed (explicitly, by Clear, or by its own callback).
func (s *Scheduler) Add(periodMs int64, closure func(), drop func()) (uint64, error) {
	if periodMs <= 0 {
		return 0, ErrInvalidPeriod
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks.Len() >= s.maxTasks {
		return 0, ErrTooManyTasks
	}
	id := s.nextID
	s.nextID++
	t := &task{id: id, nextDueMs: s.now() + periodMs, periodMs: periodMs, closure: closure, drop: drop}
	s.tasks.PushBack(t)
	return id, nil
}

// Remove cancels task id, running its drop immediately if it was present.
// A task may call Remove on itself or on a peer from within its own
// closure (spec.md §4.7); both cases are safe because ProcessTasks
// snapshots the due set before invoking any closure.
func (s *Scheduler) Remove(id uint64) {
	s.mu.Lock()
	var dropFn func()
	s.tasks.RemoveFirst(func(t *task) bool {
		if t.id == id {
			dropFn = t.drop
			t.removed = true
			return true
		}
		return false
	})
	s.mu.Unlock()
	if dropFn != nil {
		dropFn()
	}
}

// ProcessTasks runs every task whose next_due_ms <= now(), ordered by
// (next_due_ms asc, id asc), then reschedules each fired task to
// max(next_due_ms+period_ms, now()+period_ms) — missed periods are
// skipped, not caught up (spec.md §4.7). Closures run outside the lock
// so they may re-enter Add/Remove/ProcessTasks itself.
func (s *Scheduler) ProcessTasks() {
	s.mu.Lock()
	now := s.now()
	var due []*task
	s.tasks.ForEach(func(t *task) {
		if !t.removed && t.nextDueMs <= now {
			due = append(due, t)
		}
	})
	sortDue(due)
	s.mu.Unlock()

	for _, t := range due {
		s.mu.Lock()
		removed := t.removed
		s.mu.Unlock()
		if removed {
			continue
		}
		t.closure()

		s.mu.Lock()
		if !t.removed {
			next := t.nextDueMs + t.periodMs
			floor := s.now() + t.periodMs
			if next < floor {
				next = floor
			}
			t.nextDueMs = next
		}
		s.mu.Unlock()
	}
}

// sortDue orders by (nextDueMs asc, id asc); insertion sort is sufficient
// since DefaultMaxTasks bounds the slice to a handful of entries.
func sortDue(due []*task) {
	for i := 1; i < len(due); i++ {
		for j := i; j > 0; j-- {
			a, b := due[j-1], due[j]
			if a.nextDueMs < b.nextDueMs || (a.nextDueMs == b.nextDueMs && a.id < b.id) {
				break
			}
			due[j-1], due[j] = due[j], due[j-1]
		}
	}
}

// Clear removes every remaining task, running each one's drop exactly
// once (spec.md §4.7 "On clear() every remaining task's drop is invoked
// exactly once").
func (s *Scheduler) Clear() {
	s.mu.Lock()
	var drops []func()
	s.tasks.ForEach(func(t *task) {
		t.removed = true
		if t.drop != nil {
			drops = append(drops, t.drop)
		}
	})
	s.tasks = collections.NewSingleList[*task]()
	s.mu.Unlock()
	for _, drop := range drops {
		drop()
	}
}

// Len reports the number of currently registered tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks.Len()
}

// Driver runs ProcessTasks on a fixed poll interval in a background
// goroutine (spec.md §4.7 "Driver ... a dedicated background thread").
// Stop blocks until the goroutine has exited.
type Driver struct {
	stop chan struct{}
	done chan struct{}
}

// StartDriver launches a background goroutine calling
// s.ProcessTasks() every pollInterval until Stop is called.
func StartDriver(s *Scheduler, pollInterval time.Duration) *Driver {
	d := &Driver{stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(d.done)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-d.stop:
				return
			case <-ticker.C:
				s.ProcessTasks()
			}
		}
	}()
	return d
}

// Stop halts the driver goroutine and waits for it to exit.
func (d *Driver) Stop() {
	close(d.stop)
	<-d.done
}
