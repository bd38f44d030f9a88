package scheduler

import (
	"sort"
	"sync"
	"time"
)

type virtualTask struct {
	id       uint64
	date     time.Time
	callback func()
}

// VirtualScheduler implements Scheduler with a manually advanced clock.
// Callbacks only run inside AdvanceBy and AdvanceTo, on the caller's goroutine.
type VirtualScheduler struct {
	now    time.Time
	lastID uint64
	tasks  []*virtualTask // sorted by date, then by id
	mutex  sync.Mutex
}

// NewVirtualScheduler creates a new VirtualScheduler starting at the given time
func NewVirtualScheduler(start time.Time) *VirtualScheduler {
	return &VirtualScheduler{
		now:    start,
		lastID: 0,
		tasks:  []*virtualTask{},
	}
}

// Now returns the virtual time
func (scheduler *VirtualScheduler) Now() time.Time {
	scheduler.mutex.Lock()
	defer scheduler.mutex.Unlock()

	return scheduler.now
}

// ScheduleAt queues the callback for the given time. A past time fires on the next advance.
func (scheduler *VirtualScheduler) ScheduleAt(t time.Time, callback func()) Handle {
	scheduler.mutex.Lock()
	defer scheduler.mutex.Unlock()

	scheduler.lastID++
	task := &virtualTask{
		id:       scheduler.lastID,
		date:     t,
		callback: callback,
	}

	idx := sort.Search(len(scheduler.tasks), func(i int) bool {
		return scheduler.tasks[i].date.After(t)
	})

	scheduler.tasks = append(scheduler.tasks, nil)
	copy(scheduler.tasks[idx+1:], scheduler.tasks[idx:])
	scheduler.tasks[idx] = task

	return Handle{id: task.id}
}

// ScheduleAfter queues the callback for now + d
func (scheduler *VirtualScheduler) ScheduleAfter(d time.Duration, callback func()) Handle {
	return scheduler.ScheduleAt(scheduler.Now().Add(d), callback)
}

// Cancel removes the callback from the queue
func (scheduler *VirtualScheduler) Cancel(handle Handle) {
	scheduler.mutex.Lock()
	defer scheduler.mutex.Unlock()

	for idx, task := range scheduler.tasks {
		if task.id == handle.id {
			scheduler.tasks = append(scheduler.tasks[:idx], scheduler.tasks[idx+1:]...)
			return
		}
	}
}

// AdvanceBy moves the clock forward, firing all due callbacks in date order before returning
func (scheduler *VirtualScheduler) AdvanceBy(d time.Duration) {
	scheduler.AdvanceTo(scheduler.Now().Add(d))
}

// AdvanceTo moves the clock to the given time, firing all due callbacks in date order before returning
func (scheduler *VirtualScheduler) AdvanceTo(target time.Time) {
	for {
		task := scheduler.popDue(target)
		if task == nil {
			break
		}

		task.callback()
	}

	scheduler.mutex.Lock()
	defer scheduler.mutex.Unlock()

	if target.After(scheduler.now) {
		scheduler.now = target
	}
}

// PendingCount returns the number of callbacks not fired nor cancelled yet
func (scheduler *VirtualScheduler) PendingCount() int {
	scheduler.mutex.Lock()
	defer scheduler.mutex.Unlock()

	return len(scheduler.tasks)
}

func (scheduler *VirtualScheduler) popDue(target time.Time) *virtualTask {
	scheduler.mutex.Lock()
	defer scheduler.mutex.Unlock()

	if len(scheduler.tasks) == 0 {
		return nil
	}

	task := scheduler.tasks[0]
	if task.date.After(target) {
		return nil
	}

	scheduler.tasks = scheduler.tasks[1:]

	// callbacks observe their own date, never a time before the current one
	if task.date.After(scheduler.now) {
		scheduler.now = task.date
	}
	return task
}
