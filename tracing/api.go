package tracing

import (
	"github.com/sarchlab/firmhook/sim"
)

// NamedHookable is a named domain that reports tasks to its hooks.
type NamedHookable interface {
	sim.Named
	sim.Hookable
	InvokeHook(sim.HookCtx)
}

// Hook positions of the task events. The item is always a Task.
var (
	HookPosTaskStart = &sim.HookPos{Name: "Task Start"}
	HookPosTaskStep  = &sim.HookPos{Name: "Task Step"}
	HookPosTaskEnd   = &sim.HookPos{Name: "Task End"}
)

// StartTask reports the start of a task. The id, kind and what must be set.
// An empty where defaults to the domain name.
func StartTask(
	id, parentID string,
	domain NamedHookable,
	kind, what, where string,
	detail any,
) {
	if domain == nil {
		panic("domain must not be nil")
	}

	if !traced(domain) {
		return
	}

	mustBeSet("id", id)
	mustBeSet("kind", kind)
	mustBeSet("what", what)

	if where == "" {
		where = domain.Name()
	}

	emit(domain, HookPosTaskStart, Task{
		ID:       id,
		ParentID: parentID,
		Kind:     kind,
		What:     what,
		Where:    where,
		Detail:   detail,
	})
}

// AddTaskStep reports that a task reached a milestone.
func AddTaskStep(id string, domain NamedHookable, what string) {
	if !traced(domain) {
		return
	}

	emit(domain, HookPosTaskStep, Task{
		ID:    id,
		Steps: []TaskStep{{What: what}},
	})
}

// EndTask reports the end of a task.
func EndTask(id string, domain NamedHookable) {
	if !traced(domain) {
		return
	}

	emit(domain, HookPosTaskEnd, Task{ID: id})
}

func traced(domain NamedHookable) bool {
	return domain.NumHooks() > 0
}

func emit(domain NamedHookable, pos *sim.HookPos, task Task) {
	domain.InvokeHook(sim.HookCtx{Domain: domain, Pos: pos, Item: task})
}

func mustBeSet(field, value string) {
	if value == "" {
		panic(field + " must not be empty")
	}
}
