package otp

import (
	"sync"
	"time"
)

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop cancels future runs. It reports whether the call stopped the timer.
	Stop() bool
}

// Scheduler runs callbacks later. Sessions never touch the wall clock directly,
// so tests can drive time with a ManualScheduler.
type Scheduler interface {
	// Every runs fn every d until stopped.
	Every(d time.Duration, fn func()) Timer
	// After runs fn once after d unless stopped first.
	After(d time.Duration, fn func()) Timer
}

// RealScheduler schedules on the runtime clock. Callbacks run on their own goroutines.
type RealScheduler struct{}

// Every implements Scheduler.
func (RealScheduler) Every(d time.Duration, fn func()) Timer {
	t := &tickerTimer{ticker: time.NewTicker(d), stop: make(chan struct{})}
	go func() {
		for {
			select {
			case <-t.stop:
				return
			case <-t.ticker.C:
				// A stop racing with a tick wins
				select {
				case <-t.stop:
					return
				default:
				}
				fn()
			}
		}
	}()
	return t
}

// After implements Scheduler.
func (RealScheduler) After(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

type tickerTimer struct {
	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once
}

func (t *tickerTimer) Stop() bool {
	stopped := false
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.stop)
		stopped = true
	})
	return stopped
}

// ManualScheduler is a Scheduler whose clock only moves when Advance is called.
// Callbacks run synchronously on the goroutine calling Advance.
type ManualScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	tasks []*manualTask
}

type manualTask struct {
	s       *ManualScheduler
	due     time.Duration
	every   time.Duration
	fn      func()
	stopped bool
}

func (t *manualTask) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// NewManualScheduler returns a scheduler at time zero.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// Every implements Scheduler.
func (m *ManualScheduler) Every(d time.Duration, fn func()) Timer {
	return m.add(d, d, fn)
}

// After implements Scheduler.
func (m *ManualScheduler) After(d time.Duration, fn func()) Timer {
	return m.add(d, 0, fn)
}

func (m *ManualScheduler) add(d, every time.Duration, fn func()) *manualTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTask{s: m, due: m.now + d, every: every, fn: fn}
	m.tasks = append(m.tasks, t)
	return t
}

// Advance moves the clock forward by d, running every callback that falls due
// in order. Callbacks may schedule or stop other callbacks.
func (m *ManualScheduler) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	for {
		next := m.nextDue(target)
		if next == nil {
			break
		}
		m.now = next.due
		if next.every > 0 {
			next.due += next.every
		} else {
			next.stopped = true
		}
		m.mu.Unlock()
		next.fn()
		m.mu.Lock()
	}
	m.now = target
	m.prune()
	m.mu.Unlock()
}

// Now returns the elapsed manual time.
func (m *ManualScheduler) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending counts timers that have not fired or been stopped.
func (m *ManualScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (m *ManualScheduler) nextDue(target time.Duration) *manualTask {
	var next *manualTask
	for _, t := range m.tasks {
		if t.stopped || t.due > target {
			continue
		}
		if next == nil || t.due < next.due {
			next = t
		}
	}
	return next
}

func (m *ManualScheduler) prune() {
	live := m.tasks[:0]
	for _, t := range m.tasks {
		if !t.stopped {
			live = append(live, t)
		}
	}
	m.tasks = live
}
