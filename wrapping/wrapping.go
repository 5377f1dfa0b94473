// Package wrapping puts views in front of pipeline objects so that every
// function a plugin registers on their hooks is timed.
package wrapping

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/sarchlab/speedmeasure/intercept"
	"github.com/sarchlab/speedmeasure/pipeline"
)

// CategoryPlugins is the category plugin intervals are filed under.
const CategoryPlugins = "plugins"

type objectKey struct {
	obj   pipeline.Tappable
	owner string
}

type registrarKey struct {
	reg   pipeline.Registrar
	owner string
}

// Wrapper creates and caches views. A Tappable is wrapped at most once per
// owner.
type Wrapper struct {
	interceptor *intercept.Interceptor

	lock       sync.Mutex
	objects    map[objectKey]*TappableView
	registrars map[registrarKey]*RegistrarView
}

// New creates a Wrapper that wraps registered functions with the given
// interceptor.
func New(interceptor *intercept.Interceptor) *Wrapper {
	return &Wrapper{
		interceptor: interceptor,
		objects:     make(map[objectKey]*TappableView),
		registrars:  make(map[registrarKey]*RegistrarView),
	}
}

// WrapArg returns a view of Tappable arguments and passes everything else
// through.
func (w *Wrapper) WrapArg(arg any, owner string) any {
	t, ok := arg.(pipeline.Tappable)
	if !ok || t == nil {
		return arg
	}

	return w.View(t, owner)
}

// View returns the view of t for the owner. Asking for the view of a view of
// the same owner returns that view.
func (w *Wrapper) View(t pipeline.Tappable, owner string) pipeline.Tappable {
	if v, ok := t.(*TappableView); ok {
		if v.owner == owner {
			return v
		}

		t = pipeline.Unwrap(v)
	}

	if !reflect.TypeOf(t).Comparable() {
		return t
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	key := objectKey{obj: t, owner: owner}
	if v, ok := w.objects[key]; ok {
		return v
	}

	v := &TappableView{wrapper: w, orig: t, owner: owner}
	w.objects[key] = v

	return v
}

func (w *Wrapper) registrarView(
	r pipeline.Registrar,
	owner, kind string,
) pipeline.Registrar {
	if !reflect.TypeOf(r).Comparable() {
		return r
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	key := registrarKey{reg: r, owner: owner}
	if v, ok := w.registrars[key]; ok {
		return v
	}

	v := &RegistrarView{wrapper: w, orig: r, owner: owner, kind: kind}
	w.registrars[key] = v

	return v
}

// Clear forgets every view.
func (w *Wrapper) Clear() {
	w.lock.Lock()
	defer w.lock.Unlock()

	w.objects = make(map[objectKey]*TappableView)
	w.registrars = make(map[registrarKey]*RegistrarView)
}

// NumViews returns how many object and registrar views are cached.
func (w *Wrapper) NumViews() int {
	w.lock.Lock()
	defer w.lock.Unlock()

	return len(w.objects) + len(w.registrars)
}

func (w *Wrapper) key(owner, kind, hook string) intercept.Key {
	return intercept.Key{
		Category: CategoryPlugins,
		Event:    fmt.Sprintf("%s/%s/%s", owner, kind, hook),
		Name:     owner,
	}
}
