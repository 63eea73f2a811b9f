package tracing

import (
	"log"
	"strings"
	"sync"

	"github.com/tebeka/atexit"

	"github.com/ignaciolitma/nachOS/datarecording"
	"github.com/ignaciolitma/nachOS/sim"
)

// The tables written by a DBTracer.
const (
	taskTableName = "trace"
	stepTableName = "trace_steps"
)

// taskRow is one finished task. Steps lists the step names in order,
// separated by commas.
type taskRow struct {
	ID        string
	ParentID  string
	Kind      string
	What      string
	Component string
	Steps     string
	StartTime uint64
	EndTime   uint64
}

// stepRow is one step, with the tick at which it happened.
type stepRow struct {
	TaskID string
	What   string
	Time   uint64
}

// DBTracer records every task into a database. Steps are written as they
// happen. A task is written when it ends, or when the program exits if it
// never does.
type DBTracer struct {
	clock    sim.TimeTeller
	recorder datarecording.DataRecorder

	mu   sync.Mutex
	open map[string]Task
}

// NewDBTracer creates the trace tables in recorder and returns a tracer that
// fills them.
func NewDBTracer(
	clock sim.TimeTeller,
	recorder datarecording.DataRecorder,
) *DBTracer {
	recorder.CreateTable(taskTableName, taskRow{})
	recorder.CreateTable(stepTableName, stepRow{})

	t := &DBTracer{
		clock:    clock,
		recorder: recorder,
		open:     make(map[string]Task),
	}

	atexit.Register(t.Terminate)

	return t
}

// StartTask opens a task.
func (t *DBTracer) StartTask(task Task) {
	if task.ID == "" || task.Kind == "" || task.What == "" || task.Where == "" {
		log.Panicf("cannot record incomplete task %+v", task)
	}

	task.StartTime = t.clock.CurrentTime()

	t.mu.Lock()
	t.open[task.ID] = task
	t.mu.Unlock()
}

// StepTask writes the step of an open task.
func (t *DBTracer) StepTask(task Task) {
	now := t.clock.CurrentTime()

	t.mu.Lock()
	defer t.mu.Unlock()

	opened, ok := t.open[task.ID]
	if !ok {
		return
	}

	for _, step := range task.Steps {
		step.Time = now
		opened.Steps = append(opened.Steps, step)

		t.recorder.InsertData(stepTableName, stepRow{
			TaskID: task.ID,
			What:   step.What,
			Time:   uint64(now),
		})
	}

	t.open[task.ID] = opened
}

// EndTask writes an open task.
func (t *DBTracer) EndTask(task Task) {
	now := t.clock.CurrentTime()

	t.mu.Lock()
	defer t.mu.Unlock()

	opened, ok := t.open[task.ID]
	if !ok {
		return
	}

	delete(t.open, task.ID)
	opened.EndTime = now
	t.insertTask(opened)
}

// Terminate ends the open tasks at the current time and flushes the
// recorder.
func (t *DBTracer) Terminate() {
	now := t.clock.CurrentTime()

	t.mu.Lock()
	defer t.mu.Unlock()

	for id, task := range t.open {
		task.EndTime = now
		t.insertTask(task)
		delete(t.open, id)
	}

	t.recorder.Flush()
}

func (t *DBTracer) insertTask(task Task) {
	names := make([]string, len(task.Steps))
	for i, s := range task.Steps {
		names[i] = s.What
	}

	t.recorder.InsertData(taskTableName, taskRow{
		ID:        task.ID,
		ParentID:  task.ParentID,
		Kind:      task.Kind,
		What:      task.What,
		Component: task.Where,
		Steps:     strings.Join(names, ","),
		StartTime: uint64(task.StartTime),
		EndTime:   uint64(task.EndTime),
	})
}
