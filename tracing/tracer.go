package tracing

import (
	"fmt"

	"github.com/sarchlab/firmhook/sim"
)

// A Tracer follows the tasks reported by a domain.
type Tracer interface {
	StartTask(task Task)
	StepTask(task Task)
	EndTask(task Task)
}

// CollectTrace makes the tracer follow the tasks of the domain. Attaching the
// same tracer twice to one domain panics.
func CollectTrace(domain NamedHookable, tracer Tracer) {
	for _, h := range domain.Hooks() {
		if th, ok := h.(*traceHook); ok && th.tracer == tracer {
			panic(fmt.Sprintf("domain %s already has tracer %T",
				domain.Name(), tracer))
		}
	}

	domain.AcceptHook(&traceHook{tracer: tracer})
}

type traceHook struct {
	tracer Tracer
}

func (h *traceHook) Func(ctx sim.HookCtx) {
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
