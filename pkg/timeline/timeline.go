// Package timeline is a cooperative task queue driven by a single
// goroutine: the earliest-due task always runs to completion before the
// next is considered, so two scheduled tasks never run concurrently with
// each other. It carries the server's control-plane work (relay polling,
// connection handoff) without a worker pool.
package timeline

import (
	"sort"
	"sync"
	"time"
)

type task struct {
	at  time.Time
	seq uint64
	fn  func()
}

// Timeline owns one scheduling goroutine. Create with New, stop with Stop.
type Timeline struct {
	mu     sync.Mutex
	tasks  []task
	seq    uint64
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

// New starts the scheduling goroutine.
func New() *Timeline {
	t := &Timeline{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go t.run()
	return t
}

// ScheduleNow enqueues fn to run as soon as the queue reaches it.
func (t *Timeline) ScheduleNow(fn func()) {
	t.ScheduleIn(0, fn)
}

// ScheduleIn enqueues fn to run no earlier than d from now. A task may call
// ScheduleIn on its own timeline to reschedule itself, which is how the
// periodic relay poll cycles.
func (t *Timeline) ScheduleIn(d time.Duration, fn func()) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.seq++
	nt := task{at: time.Now().Add(d), seq: t.seq, fn: fn}
	t.tasks = append(t.tasks, nt)
	// insertion keeps the slice ordered by (deadline, enqueue order)
	sort.SliceStable(t.tasks, func(i, j int) bool {
		if !t.tasks[i].at.Equal(t.tasks[j].at) {
			return t.tasks[i].at.Before(t.tasks[j].at)
		}
		return t.tasks[i].seq < t.tasks[j].seq
	})
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Stop prevents any further task from running. Tasks already executing
// finish; queued tasks are dropped.
func (t *Timeline) Stop() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.tasks = nil
	t.mu.Unlock()
	close(t.done)
}

func (t *Timeline) run() {
	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return
		}
		if len(t.tasks) == 0 {
			t.mu.Unlock()
			select {
			case <-t.wake:
			case <-t.done:
				return
			}
			continue
		}
		next := t.tasks[0]
		wait := time.Until(next.at)
		if wait > 0 {
			t.mu.Unlock()
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-t.wake:
				timer.Stop()
			case <-t.done:
				timer.Stop()
				return
			}
			continue
		}
		t.tasks = t.tasks[1:]
		t.mu.Unlock()

		next.fn()
	}
}
