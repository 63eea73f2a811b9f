// Package sim provides the naming, hooking, timing, and ID primitives that
// the components of the machine share.
package sim

import "log"

// Named is implemented by every component that can be looked up by name.
type Named interface {
	Name() string
}

// NamedBase is embedded by components to implement Named.
type NamedBase struct {
	name string
}

// MakeNamedBase returns a NamedBase with the given name.
func MakeNamedBase(name string) NamedBase {
	return NamedBase{name: name}
}

// Name returns the component name.
func (b NamedBase) Name() string {
	return b.name
}

// A HookPos names a point in the work of a component where hooks run.
type HookPos struct {
	Name string
}

// HookCtx describes one invocation of the hooks of a component.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   interface{}
	Detail interface{}
}

// A Hook is called by the component it is attached to.
type Hook interface {
	Func(ctx HookCtx)
}

// HookFunc lets an ordinary function act as a Hook.
type HookFunc func(ctx HookCtx)

// Func calls f.
func (f HookFunc) Func(ctx HookCtx) {
	f(ctx)
}

// Hookable is implemented by components that accept hooks.
type Hookable interface {
	AcceptHook(hook Hook)
	NumHooks() int
	Hooks() []Hook
}

// HookableBase is embedded by components to implement Hookable. Hooks must be
// attached before the component is used concurrently.
type HookableBase struct {
	hooks []Hook
}

// AcceptHook attaches a hook. Hooks run in the order they were attached. A
// hook value other than a HookFunc may be attached only once.
func (h *HookableBase) AcceptHook(hook Hook) {
	if _, ok := hook.(HookFunc); !ok {
		for _, attached := range h.hooks {
			if attached == hook {
				log.Panicf("hook %v attached twice", hook)
			}
		}
	}

	h.hooks = append(h.hooks, hook)
}

// NumHooks returns how many hooks are attached.
func (h *HookableBase) NumHooks() int {
	return len(h.hooks)
}

// Hooks returns the attached hooks.
func (h *HookableBase) Hooks() []Hook {
	return h.hooks
}

// InvokeHook runs every attached hook with ctx.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.hooks {
		hook.Func(ctx)
	}
}
