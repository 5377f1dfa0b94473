// Package intercept wraps opaque callables so that every invocation is
// recorded as an interval, whatever way the callable signals completion.
package intercept

import (
	"go.uber.org/zap"

	"github.com/sarchlab/speedmeasure/idgen"
	"github.com/sarchlab/speedmeasure/tracing"
)

// Func is an opaque callable.
type Func func(args ...any) any

// Continuation is the callback a callable invokes to signal that it has
// finished.
type Continuation func(args ...any)

// Style tells how a wrapped callable signals completion. It is always
// declared by the code that wraps the callable.
type Style int

// A list of completion styles.
const (
	// Immediate callables are complete when they return.
	Immediate Style = iota

	// CallbackLast callables receive a continuation as their last argument
	// and are complete when they invoke it.
	CallbackLast

	// Deferred callables return a *deferred.Deferred and are complete when
	// it fulfills.
	Deferred

	// Propagating callables have every argument instrumented. Continuations
	// among the arguments end the interval before forwarding.
	Propagating
)

func (s Style) String() string {
	switch s {
	case Immediate:
		return "immediate"
	case CallbackLast:
		return "callback-last"
	case Deferred:
		return "deferred"
	case Propagating:
		return "propagating"
	default:
		return "unknown"
	}
}

// Key tells where the intervals of a wrapped callable are filed.
type Key struct {
	Category string
	Event    string
	Name     string
	Metadata tracing.Metadata
}

// Recorder is where the interceptor records intervals.
type Recorder interface {
	RecordStart(
		category, event string,
		req tracing.StartRequest,
	) tracing.TimeEvent
	RecordEnd(category, event string, req tracing.EndRequest) error
}

// ArgWrapper can replace the arguments handed to a wrapped callable, so that
// objects the callable receives are instrumented too. The owner is the Name
// of the key the callable was wrapped with.
type ArgWrapper interface {
	WrapArg(arg any, owner string) any
}

// Interceptor creates instrumented callables.
type Interceptor struct {
	recorder   Recorder
	ids        idgen.Generator
	logger     *zap.Logger
	argWrapper ArgWrapper
}

// New creates an Interceptor. A nil logger discards log messages.
func New(
	recorder Recorder,
	ids idgen.Generator,
	logger *zap.Logger,
) *Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Interceptor{
		recorder: recorder,
		ids:      ids,
		logger:   logger,
	}
}

// UseArgWrapper sets the ArgWrapper that arguments pass through.
func (i *Interceptor) UseArgWrapper(w ArgWrapper) {
	i.argWrapper = w
}

// Begin opens an interval for one invocation and immediately closes it
// speculatively, so that the interval has an end even if the completion is
// never observed.
func (i *Interceptor) Begin(key Key) *Invocation {
	inv := &Invocation{
		interceptor: i,
		key:         key,
		id:          i.ids.Generate(),
	}

	i.recorder.RecordStart(key.Category, key.Event, tracing.StartRequest{
		ID:       inv.id,
		Name:     key.Name,
		Metadata: key.Metadata,
	})
	inv.end(true)

	return inv
}

// Wrap returns a callable that behaves like fn and records an interval for
// each invocation.
func (i *Interceptor) Wrap(fn Func, style Style, key Key) Func {
	return func(args ...any) any {
		inv := i.Begin(key)
		args = append([]any(nil), args...)

		switch style {
		case CallbackLast:
			return i.callCallbackLast(inv, fn, args)
		case Deferred:
			return i.callDeferred(inv, fn, args)
		case Propagating:
			return i.callPropagating(inv, fn, args)
		default:
			return i.callImmediate(inv, fn, args)
		}
	}
}

func (i *Interceptor) wrapArgs(args []any, owner string) {
	if i.argWrapper == nil {
		return
	}

	for n, arg := range args {
		if _, ok := asContinuation(arg); ok {
			continue
		}

		args[n] = i.argWrapper.WrapArg(arg, owner)
	}
}

func asContinuation(arg any) (Continuation, bool) {
	switch c := arg.(type) {
	case Continuation:
		return c, c != nil
	case func(...any):
		return c, c != nil
	default:
		return nil, false
	}
}

// likeContinuation returns c with the same dynamic type as orig so that the
// callee's type assertions still hold.
func likeContinuation(orig any, c Continuation) any {
	if _, ok := orig.(Continuation); ok {
		return c
	}

	return (func(...any))(c)
}
