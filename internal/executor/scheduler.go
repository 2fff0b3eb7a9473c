package executor

import (
	"sort"
	"sync"
	"time"
)

// Scheduler runs fn once after d. Stage transitions of the state machine are
// driven exclusively through it.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func())
}

// TimerScheduler schedules on the runtime timer heap.
type TimerScheduler struct{}

func (TimerScheduler) AfterFunc(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}

type manualTask struct {
	at  time.Duration
	seq int
	fn  func()
}

// ManualScheduler keeps scheduled work until the caller fires it, advancing a
// virtual clock. Tasks fire in deadline order, ties in scheduling order.
type ManualScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	tasks  []manualTask
	delays []time.Duration
}

// NewManualScheduler creates an empty ManualScheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (m *ManualScheduler) AfterFunc(d time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.tasks = append(m.tasks, manualTask{at: m.now + d, seq: m.seq, fn: fn})
	m.delays = append(m.delays, d)
}

// Pending reports how many tasks are waiting.
func (m *ManualScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Delays returns every delay requested so far, in request order.
func (m *ManualScheduler) Delays() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.delays...)
}

// Elapsed is the virtual time consumed by fired tasks.
func (m *ManualScheduler) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// RunNext fires the earliest task. It returns false when nothing is pending.
func (m *ManualScheduler) RunNext() bool {
	m.mu.Lock()
	if len(m.tasks) == 0 {
		m.mu.Unlock()
		return false
	}
	sort.SliceStable(m.tasks, func(i, j int) bool {
		if m.tasks[i].at == m.tasks[j].at {
			return m.tasks[i].seq < m.tasks[j].seq
		}
		return m.tasks[i].at < m.tasks[j].at
	})
	t := m.tasks[0]
	m.tasks = m.tasks[1:]
	if t.at > m.now {
		m.now = t.at
	}
	m.mu.Unlock()

	t.fn()
	return true
}

// RunAll fires tasks, including ones scheduled while running, until none
// remain.
func (m *ManualScheduler) RunAll() int {
	n := 0
	for m.RunNext() {
		n++
	}
	return n
}

var (
	_ Scheduler = TimerScheduler{}
	_ Scheduler = (*ManualScheduler)(nil)
)
