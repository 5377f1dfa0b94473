// Package pipeline is a small build pipeline: a compiler that builds modules
// through chains of loaders and exposes named hooks that plugins tap into.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/sarchlab/speedmeasure/deferred"
)

// TapKind tells how a tapped function signals completion.
type TapKind int

// A list of tap kinds.
const (
	// TapSync functions are done when they return.
	TapSync TapKind = iota

	// TapAsync functions receive a continuation as the last argument. The
	// first argument passed to the continuation, if any, is an error.
	TapAsync

	// TapPromise functions return a *deferred.Deferred.
	TapPromise

	// TapLegacy functions are registered with Plugin. On asynchronous hooks
	// they receive a continuation like TapAsync functions.
	TapLegacy
)

// A Tap is one function registered on a hook.
type Tap struct {
	Owner string
	Kind  TapKind
	Fn    func(args ...any) any
}

// Registrar is the registration surface of a hook.
type Registrar interface {
	Name() string
	Tap(owner string, fn func(args ...any) any)
	TapAsync(owner string, fn func(args ...any) any)
	TapPromise(owner string, fn func(args ...any) any)
}

// Hook is a named point in the pipeline lifecycle. Taps run in series, in
// registration order.
type Hook struct {
	name  string
	async bool
	taps  []Tap
}

// NewSyncHook creates a hook that only accepts functions that complete when
// they return.
func NewSyncHook(name string) *Hook {
	return &Hook{name: name}
}

// NewAsyncHook creates a hook that also accepts asynchronous taps.
func NewAsyncHook(name string) *Hook {
	return &Hook{name: name, async: true}
}

// Name returns the name of the hook.
func (h *Hook) Name() string {
	return h.name
}

// IsAsync tells whether the hook accepts asynchronous taps.
func (h *Hook) IsAsync() bool {
	return h.async
}

// Tap registers a function that is done when it returns.
func (h *Hook) Tap(owner string, fn func(args ...any) any) {
	h.taps = append(h.taps, Tap{Owner: owner, Kind: TapSync, Fn: fn})
}

// TapAsync registers a function that calls a continuation when it is done.
func (h *Hook) TapAsync(owner string, fn func(args ...any) any) {
	h.mustBeAsync("TapAsync")
	h.taps = append(h.taps, Tap{Owner: owner, Kind: TapAsync, Fn: fn})
}

// TapPromise registers a function that returns a deferred value.
func (h *Hook) TapPromise(owner string, fn func(args ...any) any) {
	h.mustBeAsync("TapPromise")
	h.taps = append(h.taps, Tap{Owner: owner, Kind: TapPromise, Fn: fn})
}

func (h *Hook) plugin(fn func(args ...any) any) {
	h.taps = append(h.taps, Tap{Kind: TapLegacy, Fn: fn})
}

func (h *Hook) mustBeAsync(method string) {
	if !h.async {
		panic(fmt.Sprintf("%s is not supported on sync hook %s", method, h.name))
	}
}

// Taps returns the registered taps.
func (h *Hook) Taps() []Tap {
	return append([]Tap(nil), h.taps...)
}

// Call runs every tap of a sync hook.
func (h *Hook) Call(args ...any) {
	if h.async {
		panic(fmt.Sprintf("hook %s is async, use CallAsync", h.name))
	}

	for _, t := range h.Taps() {
		t.Fn(args...)
	}
}

// CallAsync runs the taps one after another and calls done once the last one
// completes, or as soon as one of them fails.
func (h *Hook) CallAsync(done func(err error), args ...any) {
	taps := h.Taps()

	var next func(n int)
	next = func(n int) {
		if n == len(taps) {
			done(nil)
			return
		}

		t := taps[n]
		switch t.Kind {
		case TapSync:
			t.Fn(args...)
			next(n + 1)
		case TapAsync, TapLegacy:
			called := false
			cont := func(cbArgs ...any) {
				if called {
					return
				}
				called = true

				if err := firstError(cbArgs); err != nil {
					done(err)
					return
				}

				next(n + 1)
			}

			t.Fn(append(append([]any(nil), args...), cont)...)
		case TapPromise:
			d, ok := t.Fn(args...).(*deferred.Deferred)
			if !ok || d == nil {
				done(fmt.Errorf("tap of %q on hook %s did not return a deferred value",
					t.Owner, h.name))
				return
			}

			d.Then(func(v any) any {
				next(n + 1)
				return v
			})
			d.Catch(func(err error) any {
				done(err)
				return nil
			})
		}
	}

	next(0)
}

func firstError(args []any) error {
	if len(args) == 0 || args[0] == nil {
		return nil
	}

	if err, ok := args[0].(error); ok {
		return err
	}

	return errors.New(fmt.Sprint(args[0]))
}
