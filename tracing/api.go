// Package tracing reports the work of the virtual memory components as tasks
// and collects them with tracers.
package tracing

import (
	"log"

	"github.com/ignaciolitma/nachOS/sim"
)

// NamedHookable is a component that reports tasks.
type NamedHookable interface {
	sim.Named
	sim.Hookable
	InvokeHook(sim.HookCtx)
}

// The hook positions at which tasks are reported.
var (
	HookPosTaskStart = &sim.HookPos{Name: "TaskStart"}
	HookPosTaskStep  = &sim.HookPos{Name: "TaskStep"}
	HookPosTaskEnd   = &sim.HookPos{Name: "TaskEnd"}
)

// StartTask reports that domain began a task. Nothing is built when no tracer
// is attached to domain.
func StartTask(
	id string,
	parentID string,
	domain NamedHookable,
	kind string,
	what string,
	detail interface{},
) {
	if domain.NumHooks() == 0 {
		return
	}

	switch {
	case id == "":
		log.Panic("task without an id")
	case kind == "":
		log.Panicf("task %s has no kind", id)
	case what == "":
		log.Panicf("task %s has no description", id)
	case domain.Name() == "":
		log.Panicf("task %s is reported by an unnamed component", id)
	}

	notify(domain, HookPosTaskStart, Task{
		ID:       id,
		ParentID: parentID,
		Kind:     kind,
		What:     what,
		Where:    domain.Name(),
		Detail:   detail,
	})
}

// AddTaskStep reports that a task reached a milestone, such as a swap-in.
func AddTaskStep(id string, domain NamedHookable, what string) {
	if domain.NumHooks() == 0 {
		return
	}

	notify(domain, HookPosTaskStep, Task{
		ID:    id,
		Where: domain.Name(),
		Steps: []TaskStep{{What: what}},
	})
}

// EndTask reports that a task is complete.
func EndTask(id string, domain NamedHookable) {
	if domain.NumHooks() == 0 {
		return
	}

	notify(domain, HookPosTaskEnd, Task{ID: id, Where: domain.Name()})
}

func notify(domain NamedHookable, pos *sim.HookPos, task Task) {
	domain.InvokeHook(sim.HookCtx{
		Domain: domain,
		Pos:    pos,
		Item:   task,
	})
}
