package pipeline

import (
	"context"
	"fmt"

	"github.com/sarchlab/speedmeasure/deferred"
)

// A Plugin extends the pipeline by tapping into the hooks of a compiler.
type Plugin interface {
	Apply(compiler Tappable)
}

// PluginFunc turns a function into a Plugin.
type PluginFunc func(compiler Tappable)

// Apply calls f.
func (f PluginFunc) Apply(compiler Tappable) {
	f(compiler)
}

// Source is the raw content of one resource.
type Source struct {
	Resource string
	Content  []byte
}

// Config describes a build.
type Config struct {
	Plugins    []Plugin
	Minimizers []Plugin
	Rules      []Rule
	Loaders    map[string]*Loader
	Sources    []Source
}

// Module is one resource being built.
type Module struct {
	Resource string
	Loaders  []*Loader
	Output   []byte
	Err      error
}

// LoaderNames returns the names of the module's loaders, in chain order.
func (m *Module) LoaderNames() []string {
	return loaderNames(m.Loaders)
}

// Stats summarizes a finished run.
type Stats struct {
	Modules []*Module
	Assets  map[string][]byte
	Errors  []error
}

// HasErrors tells whether any module failed to build.
func (s *Stats) HasErrors() bool {
	return len(s.Errors) > 0
}

// Compiler runs builds. Its hooks are run, compile, compilation, emit and
// done.
type Compiler struct {
	*HookSet

	config *Config
}

// NewCompiler creates a compiler and applies the plugins and minimizers of
// the config to it.
func NewCompiler(config *Config) *Compiler {
	c := &Compiler{
		HookSet: NewHookSet("Compiler",
			NewSyncHook("run"),
			NewSyncHook("compile"),
			NewSyncHook("compilation"),
			NewAsyncHook("emit"),
			NewAsyncHook("done"),
		),
		config: config,
	}

	for _, p := range config.Plugins {
		p.Apply(c)
	}

	for _, p := range config.Minimizers {
		p.Apply(c)
	}

	return c
}

// Config returns the config the compiler was created with.
func (c *Compiler) Config() *Config {
	return c.config
}

// Run performs one build. done is called when the done hook completes, or
// when a hook fails.
func (c *Compiler) Run(done func(stats *Stats, err error)) {
	c.Get("run").Call(c)
	c.Get("compile").Call()

	comp := newCompilation(c)
	c.Get("compilation").Call(comp)

	comp.buildAll(0, func() {
		comp.Get("seal").Call(comp)

		c.Get("emit").CallAsync(func(err error) {
			if err != nil {
				done(nil, fmt.Errorf("emit: %w", err))
				return
			}

			stats := comp.stats()
			c.Get("done").CallAsync(func(err error) {
				if err != nil {
					done(stats, fmt.Errorf("done: %w", err))
					return
				}

				done(stats, nil)
			}, stats)
		}, comp)
	})
}

// RunContext performs one build and waits for it to finish or for ctx to be
// done.
func (c *Compiler) RunContext(ctx context.Context) (*Stats, error) {
	d := deferred.New()

	c.Run(func(stats *Stats, err error) {
		if err != nil {
			_ = d.Reject(err)
			return
		}

		_ = d.Resolve(stats)
	})

	v, err := d.Wait(ctx)
	if err != nil {
		return nil, err
	}

	return v.(*Stats), nil
}

// Compilation is the state of one run. Its hooks are build-module,
// succeed-module, failed-module and seal.
type Compilation struct {
	*HookSet

	compiler *Compiler
	modules  []*Module
	assets   map[string][]byte
	errors   []error
}

func newCompilation(c *Compiler) *Compilation {
	return &Compilation{
		HookSet: NewHookSet("Compilation",
			NewSyncHook("build-module"),
			NewSyncHook("succeed-module"),
			NewSyncHook("failed-module"),
			NewSyncHook("seal"),
		),
		compiler: c,
		assets:   make(map[string][]byte),
	}
}

// Compiler returns the compiler that started the compilation.
func (comp *Compilation) Compiler() *Compiler {
	return comp.compiler
}

// Modules returns the modules built so far.
func (comp *Compilation) Modules() []*Module {
	return append([]*Module(nil), comp.modules...)
}

// EmitAsset adds or replaces an output file.
func (comp *Compilation) EmitAsset(name string, content []byte) {
	comp.assets[name] = content
}

// Asset returns an output file.
func (comp *Compilation) Asset(name string) ([]byte, bool) {
	content, ok := comp.assets[name]
	return content, ok
}

func (comp *Compilation) buildAll(i int, done func()) {
	sources := comp.compiler.config.Sources
	if i == len(sources) {
		done()
		return
	}

	comp.buildModule(sources[i], func() {
		comp.buildAll(i+1, done)
	})
}

func (comp *Compilation) buildModule(src Source, done func()) {
	cfg := comp.compiler.config

	loaders, err := ResolveLoaders(src.Resource, cfg.Rules, cfg.Loaders)
	m := &Module{Resource: src.Resource, Loaders: loaders}
	comp.modules = append(comp.modules, m)

	if err != nil {
		comp.fail(m, err)
		done()

		return
	}

	comp.Get("build-module").Call(m)

	RunLoaders(m.Resource, src.Content, m.Loaders,
		func(result []byte, err error) {
			if err != nil {
				comp.fail(m, err)
				done()

				return
			}

			m.Output = result
			comp.EmitAsset(m.Resource, result)
			comp.Get("succeed-module").Call(m)
			done()
		})
}

func (comp *Compilation) fail(m *Module, err error) {
	m.Err = err
	comp.errors = append(comp.errors, fmt.Errorf("%s: %w", m.Resource, err))
	comp.Get("failed-module").Call(m, err)
}

func (comp *Compilation) stats() *Stats {
	assets := make(map[string][]byte, len(comp.assets))
	for k, v := range comp.assets {
		assets[k] = v
	}

	return &Stats{
		Modules: comp.Modules(),
		Assets:  assets,
		Errors:  append([]error(nil), comp.errors...),
	}
}
