package pipeline

import (
	"fmt"
)

// Tappable is an object that exposes named hooks.
type Tappable interface {
	// Kind names the type of the object, such as Compiler or Compilation.
	Kind() string

	// HookNames lists the hooks in declaration order.
	HookNames() []string

	// Hook returns the registrar of a hook, or nil if there is no such hook.
	Hook(name string) Registrar

	// Plugin registers fn on a hook in the legacy style.
	Plugin(hook string, fn func(args ...any) any) error
}

// Unwrapper is implemented by views that stand in for another Tappable.
type Unwrapper interface {
	Unwrap() Tappable
}

// Unwrap returns the innermost Tappable behind t.
func Unwrap(t Tappable) Tappable {
	for {
		u, ok := t.(Unwrapper)
		if !ok {
			return t
		}

		t = u.Unwrap()
	}
}

// HookSet is an ordered collection of hooks. Embedding it makes a type
// Tappable.
type HookSet struct {
	kind  string
	order []*Hook
	hooks map[string]*Hook
}

// NewHookSet creates a HookSet.
func NewHookSet(kind string, hooks ...*Hook) *HookSet {
	s := &HookSet{
		kind:  kind,
		hooks: make(map[string]*Hook),
	}

	for _, h := range hooks {
		if _, dup := s.hooks[h.Name()]; dup {
			panic(fmt.Sprintf("hook %s declared twice on %s", h.Name(), kind))
		}

		s.order = append(s.order, h)
		s.hooks[h.Name()] = h
	}

	return s
}

// Kind returns the kind of the owner.
func (s *HookSet) Kind() string {
	return s.kind
}

// HookNames returns the names of the hooks in declaration order.
func (s *HookSet) HookNames() []string {
	names := make([]string, 0, len(s.order))
	for _, h := range s.order {
		names = append(names, h.Name())
	}

	return names
}

// Hook returns the registrar of the named hook.
func (s *HookSet) Hook(name string) Registrar {
	h, ok := s.hooks[name]
	if !ok {
		return nil
	}

	return h
}

// Get returns the named hook, or nil if there is no such hook.
func (s *HookSet) Get(name string) *Hook {
	return s.hooks[name]
}

// Plugin registers fn on the named hook.
func (s *HookSet) Plugin(hook string, fn func(args ...any) any) error {
	h, ok := s.hooks[hook]
	if !ok {
		return &UnknownHookError{Kind: s.kind, Hook: hook}
	}

	h.plugin(fn)

	return nil
}

// UnknownHookError is returned when registering on a hook that does not
// exist.
type UnknownHookError struct {
	Kind string
	Hook string
}

func (e *UnknownHookError) Error() string {
	return fmt.Sprintf("%s has no hook %q", e.Kind, e.Hook)
}
