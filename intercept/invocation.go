package intercept

import (
	"go.uber.org/zap"

	"github.com/sarchlab/speedmeasure/deferred"
	"github.com/sarchlab/speedmeasure/idgen"
	"github.com/sarchlab/speedmeasure/tracing"
)

// Invocation is one call of a wrapped callable.
type Invocation struct {
	interceptor *Interceptor
	key         Key
	id          idgen.ID
}

// ID returns the id of the interval the invocation opened.
func (inv *Invocation) ID() idgen.ID {
	return inv.id
}

// Key returns the key the interval is filed under.
func (inv *Invocation) Key() Key {
	return inv.key
}

// Complete records the definitive end of the invocation.
func (inv *Invocation) Complete() {
	inv.end(false)
}

// Returned records an end when the callable returns. If the return is not the
// true completion of the callable, the end stays speculative.
func (inv *Invocation) Returned(definitive bool) {
	inv.end(!definitive)
}

// Closes from the adapter always tolerate failure. The pipeline may tear
// down before every continuation fires.
func (inv *Invocation) end(speculative bool) {
	err := inv.interceptor.recorder.RecordEnd(
		inv.key.Category,
		inv.key.Event,
		tracing.EndRequest{
			ID:           inv.id,
			Name:         inv.key.Name,
			AllowFailure: true,
			Speculative:  speculative,
		})
	if err != nil {
		inv.interceptor.logger.Warn("failed to close interval",
			zap.String("category", inv.key.Category),
			zap.String("event", inv.key.Event),
			zap.Uint64("id", uint64(inv.id)),
			zap.Error(err),
		)
	}
}

func (i *Interceptor) callImmediate(inv *Invocation, fn Func, args []any) any {
	i.wrapArgs(args, inv.key.Name)

	ret := fn(args...)
	inv.Complete()

	return ret
}

func (i *Interceptor) callCallbackLast(
	inv *Invocation,
	fn Func,
	args []any,
) any {
	if len(args) == 0 {
		i.degrade(inv, "callback-last call without arguments")
		return i.callImmediate(inv, fn, args)
	}

	last := len(args) - 1
	cont, ok := asContinuation(args[last])
	if !ok {
		i.degrade(inv, "last argument is not a continuation")
		return i.callImmediate(inv, fn, args)
	}

	i.wrapArgs(args[:last], inv.key.Name)
	args[last] = likeContinuation(args[last], func(cbArgs ...any) {
		inv.Complete()
		cont(cbArgs...)
	})

	ret := fn(args...)
	inv.Returned(false)

	return ret
}

func (i *Interceptor) callDeferred(inv *Invocation, fn Func, args []any) any {
	i.wrapArgs(args, inv.key.Name)

	ret := fn(args...)

	d, ok := ret.(*deferred.Deferred)
	if !ok || d == nil {
		i.degrade(inv, "deferred call did not return a deferred value")
		inv.Complete()

		return ret
	}

	inv.Returned(false)

	return d.Then(func(v any) any {
		inv.Complete()
		return v
	})
}

func (i *Interceptor) callPropagating(
	inv *Invocation,
	fn Func,
	args []any,
) any {
	hasContinuation := false

	for n, arg := range args {
		cont, ok := asContinuation(arg)
		if !ok {
			if i.argWrapper != nil {
				args[n] = i.argWrapper.WrapArg(arg, inv.key.Name)
			}

			continue
		}

		hasContinuation = true
		args[n] = likeContinuation(arg, func(cbArgs ...any) {
			inv.Complete()
			cont(cbArgs...)
		})
	}

	ret := fn(args...)
	inv.Returned(!hasContinuation)

	return ret
}

func (i *Interceptor) degrade(inv *Invocation, reason string) {
	i.logger.Warn("timing as an immediate call",
		zap.String("reason", reason),
		zap.String("category", inv.key.Category),
		zap.String("event", inv.key.Event),
		zap.Uint64("id", uint64(inv.id)),
	)
}
