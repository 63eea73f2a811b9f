package tracing

import (
	"sync"

	"github.com/ignaciolitma/nachOS/sim"
)

// AverageTimeTracer measures how many ticks the accepted tasks take, for
// example the average latency of a page fault.
type AverageTimeTracer struct {
	clock  sim.TimeTeller
	filter TaskFilter

	mu       sync.Mutex
	startAt  map[string]sim.VTime
	finished uint64
	total    sim.VTime
}

// NewAverageTimeTracer returns an AverageTimeTracer that reads time from
// clock.
func NewAverageTimeTracer(
	clock sim.TimeTeller,
	filter TaskFilter,
) *AverageTimeTracer {
	return &AverageTimeTracer{
		clock:   clock,
		filter:  filter,
		startAt: make(map[string]sim.VTime),
	}
}

// StartTask notes when an accepted task starts.
func (t *AverageTimeTracer) StartTask(task Task) {
	if !t.filter(task) {
		return
	}

	now := t.clock.CurrentTime()

	t.mu.Lock()
	t.startAt[task.ID] = now
	t.mu.Unlock()
}

// StepTask ignores steps.
func (t *AverageTimeTracer) StepTask(Task) {}

// EndTask adds the duration of a task that was started.
func (t *AverageTimeTracer) EndTask(task Task) {
	now := t.clock.CurrentTime()

	t.mu.Lock()
	defer t.mu.Unlock()

	start, ok := t.startAt[task.ID]
	if !ok {
		return
	}

	delete(t.startAt, task.ID)
	t.total += now - start
	t.finished++
}

// AverageTime returns the mean duration of the finished tasks in ticks.
func (t *AverageTimeTracer) AverageTime() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished == 0 {
		return 0
	}

	return float64(t.total) / float64(t.finished)
}

// TotalCount returns how many tasks finished.
func (t *AverageTimeTracer) TotalCount() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.finished
}
