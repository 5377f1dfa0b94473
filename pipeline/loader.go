package pipeline

import (
	"fmt"
	"regexp"
)

// LoaderCallback receives the result of a loader step.
type LoaderCallback func(err error, result []byte)

// LoaderFunc transforms a source. A loader that calls ctx.Async() delivers its
// result through the returned callback and its return values are ignored.
type LoaderFunc func(ctx *LoaderContext, source []byte) ([]byte, error)

// Loader is one transformer in a chain.
type Loader struct {
	Name string

	// Normal runs right to left over the chain.
	Normal LoaderFunc

	// Pitch runs left to right before any Normal step. A pitch that
	// produces a non-nil result skips the rest of the chain.
	Pitch LoaderFunc
}

// LoaderContext is handed to every loader step.
type LoaderContext struct {
	Resource string
	Loader   string
	Chain    []string
	Index    int
	Pitching bool

	async    bool
	callback LoaderCallback
}

// Async tells the runner that the step completes later and returns the
// callback the step must call.
func (c *LoaderContext) Async() LoaderCallback {
	c.async = true
	return c.callback
}

// IsAsync tells whether Async has been called.
func (c *LoaderContext) IsAsync() bool {
	return c.async
}

// Callback returns the callback that completes the step.
func (c *LoaderContext) Callback() LoaderCallback {
	return c.callback
}

// SetCallback replaces the callback that completes the step.
func (c *LoaderContext) SetCallback(cb LoaderCallback) {
	c.callback = cb
}

// A Rule selects the loaders of the resources its pattern matches.
type Rule struct {
	Test *regexp.Regexp
	Use  []string
}

// MustRule creates a Rule from a pattern.
func MustRule(pattern string, use ...string) Rule {
	return Rule{Test: regexp.MustCompile(pattern), Use: use}
}

// ResolveLoaders returns the loaders of every rule that matches the
// resource, in rule order.
func ResolveLoaders(
	resource string,
	rules []Rule,
	registry map[string]*Loader,
) ([]*Loader, error) {
	var loaders []*Loader

	for _, r := range rules {
		if r.Test == nil || !r.Test.MatchString(resource) {
			continue
		}

		for _, name := range r.Use {
			l, ok := registry[name]
			if !ok {
				return nil, fmt.Errorf("loader %q used by %s is not registered",
					name, resource)
			}

			loaders = append(loaders, l)
		}
	}

	return loaders, nil
}

type loaderRun struct {
	resource string
	loaders  []*Loader
	chain    []string
	done     func(result []byte, err error)
}

// RunLoaders runs the pitch steps left to right and then the normal steps
// right to left. done is called once with the final result.
func RunLoaders(
	resource string,
	source []byte,
	loaders []*Loader,
	done func(result []byte, err error),
) {
	run := &loaderRun{
		resource: resource,
		loaders:  loaders,
		chain:    loaderNames(loaders),
		done:     done,
	}

	run.pitch(0, source)
}

func (r *loaderRun) pitch(i int, source []byte) {
	if i == len(r.loaders) {
		r.normal(i-1, source)
		return
	}

	l := r.loaders[i]
	if l.Pitch == nil {
		r.pitch(i+1, source)
		return
	}

	r.step(i, true, l.Pitch, nil, func(err error, result []byte) {
		if err != nil {
			r.done(nil, err)
			return
		}

		if result != nil {
			r.normal(i-1, result)
			return
		}

		r.pitch(i+1, source)
	})
}

func (r *loaderRun) normal(i int, source []byte) {
	if i < 0 {
		r.done(source, nil)
		return
	}

	l := r.loaders[i]
	if l.Normal == nil {
		r.normal(i-1, source)
		return
	}

	r.step(i, false, l.Normal, source, func(err error, result []byte) {
		if err != nil {
			r.done(nil, err)
			return
		}

		r.normal(i-1, result)
	})
}

func (r *loaderRun) step(
	i int,
	pitching bool,
	fn LoaderFunc,
	source []byte,
	next LoaderCallback,
) {
	called := false
	ctx := &LoaderContext{
		Resource: r.resource,
		Loader:   r.loaders[i].Name,
		Chain:    r.chain,
		Index:    i,
		Pitching: pitching,
		callback: func(err error, result []byte) {
			if called {
				return
			}
			called = true

			next(err, result)
		},
	}

	result, err := fn(ctx, source)
	if ctx.async {
		return
	}

	ctx.callback(err, result)
}

func loaderNames(loaders []*Loader) []string {
	names := make([]string, 0, len(loaders))
	for _, l := range loaders {
		names = append(names, l.Name)
	}

	return names
}
