package scheduler

import (
	"sync"
	"time"
)

// Handle identifies a scheduled callback. The zero Handle refers to no callback.
type Handle struct {
	id uint64
}

// IsZero returns true if the handle refers to no callback
func (handle Handle) IsZero() bool {
	return handle.id == 0
}

// Scheduler tells the time and runs callbacks at a given time
type Scheduler interface {
	Now() time.Time

	ScheduleAt(t time.Time, callback func()) Handle
	ScheduleAfter(d time.Duration, callback func()) Handle

	// Cancel is idempotent, cancelling a fired or unknown handle does nothing
	Cancel(handle Handle)
}

// RealScheduler implements Scheduler using the wall clock
type RealScheduler struct {
	lastID uint64
	timers map[uint64]*time.Timer
	mutex  sync.Mutex
}

// NewRealScheduler creates a new RealScheduler
func NewRealScheduler() *RealScheduler {
	return &RealScheduler{
		lastID: 0,
		timers: map[uint64]*time.Timer{},
	}
}

// Now returns current time
func (scheduler *RealScheduler) Now() time.Time {
	return time.Now()
}

// ScheduleAt runs the callback at the given time, on its own goroutine
func (scheduler *RealScheduler) ScheduleAt(t time.Time, callback func()) Handle {
	return scheduler.ScheduleAfter(time.Until(t), callback)
}

// ScheduleAfter runs the callback after the given duration, on its own goroutine
func (scheduler *RealScheduler) ScheduleAfter(d time.Duration, callback func()) Handle {
	scheduler.mutex.Lock()
	defer scheduler.mutex.Unlock()

	scheduler.lastID++
	id := scheduler.lastID

	// the timer goroutine blocks on the mutex until the timer is registered
	scheduler.timers[id] = time.AfterFunc(d, func() {
		scheduler.mutex.Lock()
		_, ok := scheduler.timers[id]
		delete(scheduler.timers, id)
		scheduler.mutex.Unlock()

		if ok {
			callback()
		}
	})

	return Handle{id: id}
}

// Cancel cancels the callback
func (scheduler *RealScheduler) Cancel(handle Handle) {
	scheduler.mutex.Lock()
	defer scheduler.mutex.Unlock()

	if timer, ok := scheduler.timers[handle.id]; ok {
		timer.Stop()
		delete(scheduler.timers, handle.id)
	}
}

// PendingCount returns the number of callbacks not fired nor cancelled yet
func (scheduler *RealScheduler) PendingCount() int {
	scheduler.mutex.Lock()
	defer scheduler.mutex.Unlock()

	return len(scheduler.timers)
}
