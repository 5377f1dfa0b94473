// Package measure times the plugins and loaders of a pipeline build.
//
// A SpeedMeasure wraps the plugins of a build config so that every function
// they register on a hook is timed, adds itself as the last plugin, and
// reports the collected timings when the build is done.
package measure

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/sarchlab/speedmeasure/analysis"
	"github.com/sarchlab/speedmeasure/history"
	"github.com/sarchlab/speedmeasure/intercept"
	"github.com/sarchlab/speedmeasure/monitoring"
	"github.com/sarchlab/speedmeasure/pipeline"
	"github.com/sarchlab/speedmeasure/report"
	"github.com/sarchlab/speedmeasure/tracing"
	"github.com/sarchlab/speedmeasure/wrapping"
)

// PluginName is the owner of every tap a SpeedMeasure registers.
const PluginName = "SpeedMeasurePlugin"

const unknownPluginName = "(unable to deduce plugin name)"

// SpeedMeasure measures builds. It owns the ledger, the id counter and the
// wrap caches of every build it measures.
type SpeedMeasure struct {
	logger      *zap.Logger
	ledger      *tracing.Ledger
	interceptor *intercept.Interceptor
	wrapper     *wrapping.Wrapper

	lock           sync.Mutex
	opts           Options
	pending        *Options
	running        bool
	lastSummary    *analysis.Summary
	store          *history.Store
	wrappedLoaders map[*pipeline.Loader]bool
	onSummary      []func(*analysis.Summary)
	monitor        *monitoring.Monitor
}

// Ledger returns the ledger intervals are recorded in.
func (sm *SpeedMeasure) Ledger() *tracing.Ledger {
	return sm.ledger
}

// Options returns the options in effect.
func (sm *SpeedMeasure) Options() Options {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	return sm.opts
}

// SetOptions replaces the options. The new options take effect when the next
// build starts.
func (sm *SpeedMeasure) SetOptions(opts Options) {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	sm.pending = &opts
}

// OnSummary registers a function called with the summary of every finished
// build.
func (sm *SpeedMeasure) OnSummary(fn func(*analysis.Summary)) {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	sm.onSummary = append(sm.onSummary, fn)
}

// Wrap returns a copy of the config in which every plugin and minimizer is
// timed and the SpeedMeasure itself is the last plugin. Wrapping a wrapped
// config again changes nothing.
func (sm *SpeedMeasure) Wrap(cfg *pipeline.Config) *pipeline.Config {
	opts := sm.Options()
	if opts.Disable {
		return cfg
	}

	out := *cfg
	out.Plugins = nil

	for _, p := range cfg.Plugins {
		if self, ok := p.(*SpeedMeasure); ok && self == sm {
			continue
		}

		out.Plugins = append(out.Plugins,
			sm.wrapper.WrapPlugin(p, sm.pluginName(p, opts)))
	}

	out.Minimizers = nil
	for _, p := range cfg.Minimizers {
		out.Minimizers = append(out.Minimizers,
			sm.wrapper.WrapPlugin(p, sm.pluginName(p, opts)))
	}

	if opts.GranularLoaderData {
		out.Loaders = sm.wrapLoaders(cfg.Loaders)
	}

	out.Plugins = append(out.Plugins, sm)

	return &out
}

func (sm *SpeedMeasure) pluginName(p pipeline.Plugin, opts Options) string {
	for name, candidate := range opts.PluginNames {
		if samePlugin(p, candidate) {
			return name
		}
	}

	if named, ok := p.(interface{ Name() string }); ok {
		return named.Name()
	}

	t := reflect.TypeOf(p)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t == nil || t.Name() == "" {
		return unknownPluginName
	}

	return t.Name()
}

func samePlugin(a, b pipeline.Plugin) bool {
	if a == nil || b == nil {
		return false
	}

	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}

	return a == b
}

// Apply taps the lifecycle hooks of the compiler.
func (sm *SpeedMeasure) Apply(compiler pipeline.Tappable) {
	opts := sm.Options()
	if opts.Disable {
		return
	}

	sm.startConfiguredMonitor(opts)

	// Compilers without a run hook start a build at compile.
	hasRun := compiler.Hook("run") != nil
	if hasRun {
		sm.tap(compiler, "run", func(...any) any {
			sm.startBuild()
			return nil
		})
	}

	sm.tap(compiler, "compile", func(...any) any {
		if !hasRun {
			sm.startBuild()
		}

		sm.ledger.RecordStart(analysis.CategoryMisc, analysis.EventCompile,
			tracing.StartRequest{})

		return nil
	})

	sm.tap(compiler, "compilation", func(args ...any) any {
		if comp, ok := args[0].(pipeline.Tappable); ok {
			sm.applyCompilation(comp)
		}

		return nil
	})

	done := compiler.Hook("done")
	if done == nil {
		sm.logger.Warn("compiler has no done hook, timings are never reported",
			zap.String("kind", compiler.Kind()))
		return
	}

	done.TapAsync(PluginName, func(args ...any) any {
		cont := args[len(args)-1].(func(...any))

		if err := sm.finishBuild(); err != nil {
			sm.logger.Error("failed to report build timings", zap.Error(err))
			cont(err)

			return nil
		}

		cont()

		return nil
	})
}

func (sm *SpeedMeasure) tap(t pipeline.Tappable, hook string, fn func(...any) any) {
	h := t.Hook(hook)
	if h == nil {
		sm.logger.Warn("hook not found",
			zap.String("kind", t.Kind()), zap.String("hook", hook))
		return
	}

	h.Tap(PluginName, fn)
}

func (sm *SpeedMeasure) applyCompilation(comp pipeline.Tappable) {
	sm.tap(comp, "build-module", func(args ...any) any {
		m := args[0].(*pipeline.Module)
		sm.ledger.RecordStart(analysis.CategoryLoaders, analysis.EventBuild,
			tracing.StartRequest{
				Name: m.Resource,
				Metadata: tracing.Metadata{
					tracing.MetaLoaders: m.LoaderNames(),
				},
			})

		return nil
	})

	sm.tap(comp, "succeed-module", func(args ...any) any {
		m := args[0].(*pipeline.Module)
		_ = sm.ledger.RecordEnd(analysis.CategoryLoaders, analysis.EventBuild,
			tracing.EndRequest{
				Name:         m.Resource,
				FillLast:     true,
				AllowFailure: true,
			})

		return nil
	})
}

// Reset empties the ledger and the wrap caches. The id counter keeps
// counting.
func (sm *SpeedMeasure) Reset() {
	sm.ledger.Reset()
	sm.wrapper.Clear()
}

// startBuild empties the ledger, so whatever the previous build recorded
// after its report, such as done taps of minimizers, is dropped.
func (sm *SpeedMeasure) startBuild() {
	sm.lock.Lock()
	if sm.pending != nil {
		sm.opts = *sm.pending
		sm.pending = nil
	}
	stale := sm.running
	sm.running = true
	sm.lastSummary = nil
	sm.lock.Unlock()

	if stale {
		sm.logger.Warn("previous build never finished, dropping its timings")
	}

	sm.Reset()
}

func (sm *SpeedMeasure) finishBuild() error {
	sm.wrapper.Clear()

	_ = sm.ledger.RecordEnd(analysis.CategoryMisc, analysis.EventCompile,
		tracing.EndRequest{FillLast: true, AllowFailure: true})

	snapshot := sm.ledger.Snapshot()
	opts := sm.Options()

	var errs []error

	summary, err := analysis.Summarize(snapshot)
	if err != nil {
		errs = append(errs, err)
	} else {
		sm.publish(summary)

		if err := sm.output(summary, opts); err != nil {
			errs = append(errs, err)
		}
	}

	if opts.CompareLoadersBuild != "" {
		if err := sm.compareLoadersBuild(snapshot, opts); err != nil {
			errs = append(errs, err)
		}
	}

	sm.lock.Lock()
	sm.running = false
	sm.lock.Unlock()

	return errors.Join(errs...)
}

func (sm *SpeedMeasure) publish(summary *analysis.Summary) {
	sm.lock.Lock()
	sm.lastSummary = summary
	callbacks := slices.Clone(sm.onSummary)
	sm.lock.Unlock()

	for _, fn := range callbacks {
		fn(summary)
	}
}

// Summary returns the summary of the last finished build, or of the build in
// progress when none has finished since it started.
func (sm *SpeedMeasure) Summary() (*analysis.Summary, error) {
	sm.lock.Lock()
	last := sm.lastSummary
	sm.lock.Unlock()

	if last != nil {
		return last, nil
	}

	return analysis.Summarize(sm.ledger.Snapshot())
}

// Output renders the summary with the configured format.
func (sm *SpeedMeasure) Output() (string, error) {
	summary, err := sm.Summary()
	if err != nil {
		return "", err
	}

	return sm.render(summary, sm.Options())
}

func (sm *SpeedMeasure) render(s *analysis.Summary, opts Options) (string, error) {
	r := report.NewRenderer(report.Options{
		Format:         opts.OutputFormat,
		Custom:         opts.OutputFormatter,
		Color:          opts.Color && opts.OutputTarget == "",
		LoaderTopFiles: opts.LoaderTopFiles,
	})

	return r.Render(s)
}

func (sm *SpeedMeasure) output(s *analysis.Summary, opts Options) error {
	text, err := sm.render(s, opts)
	if err != nil {
		return err
	}

	w := writerOf(opts)

	if opts.OutputTarget == "" {
		_, err := fmt.Fprintln(w, text)
		return err
	}

	f, err := os.OpenFile(opts.OutputTarget,
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening output target: %w", err)
	}

	if _, err := fmt.Fprintln(f, text); err != nil {
		f.Close()
		return fmt.Errorf("writing output target: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("writing output target: %w", err)
	}

	sm.logger.Info("Outputted timing info", zap.String("path", opts.OutputTarget))
	fmt.Fprintln(w, report.NewRenderer(report.Options{Color: opts.Color}).Tag()+
		"Outputted timing info to "+opts.OutputTarget)

	return nil
}

func writerOf(opts Options) io.Writer {
	if opts.Output == nil {
		return os.Stdout
	}

	return opts.Output
}

func (sm *SpeedMeasure) compareLoadersBuild(snapshot tracing.Snapshot, opts Options) error {
	store, err := sm.historyStore(opts.CompareLoadersBuild)
	if err != nil {
		return err
	}

	chains, err := analysis.LoaderChains(snapshot)
	if err != nil {
		return err
	}

	if _, err := store.Record(chains); err != nil {
		return err
	}

	builds, err := store.Builds()
	if err != nil {
		return err
	}

	return history.Render(writerOf(opts), builds, opts.verbose())
}

func (sm *SpeedMeasure) historyStore(path string) (*history.Store, error) {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	if sm.store != nil && sm.store.Path() == path {
		return sm.store, nil
	}

	if sm.store != nil {
		sm.store.Close()
		sm.store = nil
	}

	store, err := history.Open(path)
	if err != nil {
		return nil, err
	}

	sm.store = store

	return store, nil
}

// History returns the build history, or nil if no build was compared yet.
func (sm *SpeedMeasure) History() *history.Store {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	return sm.store
}

// Close stops the monitor and releases the build history.
func (sm *SpeedMeasure) Close() error {
	err := sm.stopMonitor()

	sm.lock.Lock()
	defer sm.lock.Unlock()

	if sm.store == nil {
		return err
	}

	err = errors.Join(err, sm.store.Close())
	sm.store = nil

	return err
}
