package wrapping

import (
	"github.com/sarchlab/speedmeasure/intercept"
	"github.com/sarchlab/speedmeasure/pipeline"
)

// TappableView stands in for a Tappable. Functions registered through the
// view are timed under the owner's name.
type TappableView struct {
	wrapper *Wrapper
	orig    pipeline.Tappable
	owner   string
}

// Owner returns the name intervals are attributed to.
func (v *TappableView) Owner() string {
	return v.owner
}

// Unwrap returns the wrapped Tappable.
func (v *TappableView) Unwrap() pipeline.Tappable {
	return v.orig
}

// Kind returns the kind of the wrapped Tappable.
func (v *TappableView) Kind() string {
	return v.orig.Kind()
}

// HookNames returns the hook names of the wrapped Tappable.
func (v *TappableView) HookNames() []string {
	return v.orig.HookNames()
}

// Hook returns a view of the named hook.
func (v *TappableView) Hook(name string) pipeline.Registrar {
	r := v.orig.Hook(name)
	if r == nil {
		return nil
	}

	return v.wrapper.registrarView(r, v.owner, v.orig.Kind())
}

// Plugin registers a timed fn. Every argument fn receives is instrumented.
func (v *TappableView) Plugin(hook string, fn func(args ...any) any) error {
	key := v.wrapper.key(v.owner, v.orig.Kind(), hook)

	return v.orig.Plugin(hook,
		v.wrapper.interceptor.Wrap(fn, intercept.Propagating, key))
}

// RegistrarView stands in for the registrar of one hook.
type RegistrarView struct {
	wrapper *Wrapper
	orig    pipeline.Registrar
	owner   string
	kind    string
}

// Name returns the name of the hook.
func (v *RegistrarView) Name() string {
	return v.orig.Name()
}

// Tap registers a timed fn that completes when it returns.
func (v *RegistrarView) Tap(owner string, fn func(args ...any) any) {
	v.orig.Tap(owner, v.wrap(fn, intercept.Immediate))
}

// TapAsync registers a timed fn that completes through its continuation.
func (v *RegistrarView) TapAsync(owner string, fn func(args ...any) any) {
	v.orig.TapAsync(owner, v.wrap(fn, intercept.CallbackLast))
}

// TapPromise registers a timed fn that completes with its deferred value.
func (v *RegistrarView) TapPromise(owner string, fn func(args ...any) any) {
	v.orig.TapPromise(owner, v.wrap(fn, intercept.Deferred))
}

func (v *RegistrarView) wrap(
	fn func(args ...any) any,
	style intercept.Style,
) intercept.Func {
	key := v.wrapper.key(v.owner, v.kind, v.orig.Name())
	return v.wrapper.interceptor.Wrap(fn, style, key)
}

type wrappedPlugin struct {
	wrapper *Wrapper
	plugin  pipeline.Plugin
	name    string
}

// WrapPlugin returns a plugin that applies p to a view of the compiler, so
// that everything p taps is attributed to name.
func (w *Wrapper) WrapPlugin(p pipeline.Plugin, name string) pipeline.Plugin {
	if wp, ok := p.(*wrappedPlugin); ok && wp.wrapper == w {
		return wp
	}

	return &wrappedPlugin{wrapper: w, plugin: p, name: name}
}

// Apply applies the wrapped plugin to a view of the compiler.
func (p *wrappedPlugin) Apply(compiler pipeline.Tappable) {
	p.plugin.Apply(p.wrapper.View(compiler, p.name))
}

// Name returns the name intervals are attributed to.
func (p *wrappedPlugin) Name() string {
	return p.name
}

// Unwrap returns the original plugin.
func (p *wrappedPlugin) Unwrap() pipeline.Plugin {
	return p.plugin
}
