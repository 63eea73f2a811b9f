package tracing

import "sync"

// stepTally counts one step name.
type stepTally struct {
	hits  uint64
	tasks uint64
}

// StepCountTracer counts the steps of the accepted tasks. For every step name
// it keeps how often the step happened and how many tasks reached it.
type StepCountTracer struct {
	filter TaskFilter

	mu      sync.Mutex
	started uint64
	order   []string
	tallies map[string]*stepTally
	seen    map[string]map[string]bool
}

// NewStepCountTracer returns a StepCountTracer for the tasks filter accepts.
func NewStepCountTracer(filter TaskFilter) *StepCountTracer {
	return &StepCountTracer{
		filter:  filter,
		tallies: make(map[string]*stepTally),
		seen:    make(map[string]map[string]bool),
	}
}

// StartTask begins tracking task if the filter accepts it.
func (t *StepCountTracer) StartTask(task Task) {
	if !t.filter(task) {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.seen[task.ID] = make(map[string]bool)
	t.started++
}

// StepTask counts the step of a tracked task.
func (t *StepCountTracer) StepTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	reached, tracked := t.seen[task.ID]
	if !tracked {
		return
	}

	for _, step := range task.Steps {
		tally := t.tallies[step.What]
		if tally == nil {
			tally = &stepTally{}
			t.tallies[step.What] = tally
			t.order = append(t.order, step.What)
		}

		tally.hits++
		if !reached[step.What] {
			reached[step.What] = true
			tally.tasks++
		}
	}
}

// EndTask stops tracking task.
func (t *StepCountTracer) EndTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.seen, task.ID)
}

// GetStepNames returns the step names in the order they were first seen.
func (t *StepCountTracer) GetStepNames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]string(nil), t.order...)
}

// GetStepCount returns how many times a step happened.
func (t *StepCountTracer) GetStepCount(stepName string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tally := t.tallies[stepName]; tally != nil {
		return tally.hits
	}

	return 0
}

// GetTaskCount returns how many tasks reached a step at least once.
func (t *StepCountTracer) GetTaskCount(stepName string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tally := t.tallies[stepName]; tally != nil {
		return tally.tasks
	}

	return 0
}

// TotalTaskCount returns how many accepted tasks were started.
func (t *StepCountTracer) TotalTaskCount() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.started
}
