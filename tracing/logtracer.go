package tracing

import (
	"log"
	"sync"

	"github.com/ignaciolitma/nachOS/sim"
)

// LogTracer prints tasks as they happen. It is the debug output of the
// kernel.
type LogTracer struct {
	*log.Logger

	timeTeller sim.TimeTeller
	filter     TaskFilter

	lock     sync.Mutex
	accepted map[string]bool
}

// NewLogTracer creates a LogTracer that writes to logger.
func NewLogTracer(
	logger *log.Logger,
	timeTeller sim.TimeTeller,
	filter TaskFilter,
) *LogTracer {
	return &LogTracer{
		Logger:     logger,
		timeTeller: timeTeller,
		filter:     filter,
		accepted:   make(map[string]bool),
	}
}

// StartTask prints the task.
func (t *LogTracer) StartTask(task Task) {
	if !t.filter(task) {
		return
	}

	t.lock.Lock()
	t.accepted[task.ID] = true
	t.lock.Unlock()

	t.Printf("[%d] %s: start %s %s (task %s)",
		t.timeTeller.CurrentTime(), task.Where, task.Kind, task.What, task.ID)
}

// StepTask prints the step.
func (t *LogTracer) StepTask(task Task) {
	if !t.isAccepted(task.ID) {
		return
	}

	t.Printf("[%d] %s: step %s (task %s)",
		t.timeTeller.CurrentTime(), task.Where, task.Steps[0].What, task.ID)
}

// EndTask prints the end of the task.
func (t *LogTracer) EndTask(task Task) {
	if !t.isAccepted(task.ID) {
		return
	}

	t.lock.Lock()
	delete(t.accepted, task.ID)
	t.lock.Unlock()

	t.Printf("[%d] %s: end (task %s)",
		t.timeTeller.CurrentTime(), task.Where, task.ID)
}

func (t *LogTracer) isAccepted(id string) bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.accepted[id]
}
