// Package hooking lets observers attach to the points where the timing
// ledger records something.
package hooking

// HookPos names a point at which hooks are invoked.
type HookPos struct {
	Name string
}

// HookCtx carries everything a hook needs to know about the site that
// invoked it.
type HookCtx struct {
	// Domain is the hookable object invoking the hook.
	Domain Hookable

	// Pos identifies where the hook is invoked from.
	Pos *HookPos

	// Item is the primary subject, for example a time event.
	Item any

	// Detail holds optional auxiliary data and may be nil.
	Detail any
}

// Hookable is an object that accepts hooks.
type Hookable interface {
	// AcceptHook registers a hook. Hooks are attached while the owner is
	// being configured and are never removed.
	AcceptHook(hook Hook)

	// NumHooks returns the number of hooks registered.
	NumHooks() int

	// Hooks returns all the hooks registered.
	Hooks() []Hook

	// InvokeHook triggers the registered hooks.
	InvokeHook(ctx HookCtx)
}

// Hook is a short piece of program invoked by a hookable object.
type Hook interface {
	Func(ctx HookCtx)
}

// HookFunc adapts a plain function to the Hook interface.
type HookFunc func(ctx HookCtx)

// Func calls f.
func (f HookFunc) Func(ctx HookCtx) {
	f(ctx)
}

// HookableBase implements the bookkeeping half of Hookable. It is meant to be
// embedded.
type HookableBase struct {
	hookList []Hook
}

// NewHookableBase creates a HookableBase object.
func NewHookableBase() *HookableBase {
	return &HookableBase{hookList: make([]Hook, 0)}
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	return len(h.hookList)
}

// Hooks returns all the hooks registered.
func (h *HookableBase) Hooks() []Hook {
	return h.hookList
}

// AcceptHook registers a hook. Registering the same hook twice panics.
func (h *HookableBase) AcceptHook(hook Hook) {
	for _, existing := range h.hookList {
		if sameHook(existing, hook) {
			panic("duplicated hook")
		}
	}

	h.hookList = append(h.hookList, hook)
}

func sameHook(a, b Hook) bool {
	// HookFunc values are not comparable.
	if _, ok := a.(HookFunc); ok {
		return false
	}

	if _, ok := b.(HookFunc); ok {
		return false
	}

	return a == b
}

// InvokeHook triggers the registered hooks in registration order.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.hookList {
		hook.Func(ctx)
	}
}

var _ Hookable = (*HookableBase)(nil)
