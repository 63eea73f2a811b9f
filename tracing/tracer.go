package tracing

import (
	"log"
	"reflect"

	"github.com/ignaciolitma/nachOS/sim"
)

// A Tracer receives the tasks reported by the components it is attached to.
type Tracer interface {
	StartTask(task Task)
	StepTask(task Task)
	EndTask(task Task)
}

// CollectTrace attaches a tracer to a component. Attaching the same tracer to
// a component twice is a programming error.
func CollectTrace(domain NamedHookable, tracer Tracer) {
	for _, h := range domain.Hooks() {
		if th, ok := h.(tracerHook); ok && th.tracer == tracer {
			log.Panicf("%s is already traced by %s",
				domain.Name(), reflect.TypeOf(tracer))
		}
	}

	domain.AcceptHook(tracerHook{tracer: tracer})
}

// tracerHook forwards the task hook positions to a tracer.
type tracerHook struct {
	tracer Tracer
}

func (h tracerHook) Func(ctx sim.HookCtx) {
	task, ok := ctx.Item.(Task)
	if !ok {
		return
	}

	switch ctx.Pos {
	case HookPosTaskStart:
		h.tracer.StartTask(task)
	case HookPosTaskStep:
		h.tracer.StepTask(task)
	case HookPosTaskEnd:
		h.tracer.EndTask(task)
	}
}
