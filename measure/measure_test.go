package measure

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sarchlab/speedmeasure/analysis"
	"github.com/sarchlab/speedmeasure/clock"
	"github.com/sarchlab/speedmeasure/config"
	"github.com/sarchlab/speedmeasure/deferred"
	"github.com/sarchlab/speedmeasure/hooking"
	"github.com/sarchlab/speedmeasure/idgen"
	"github.com/sarchlab/speedmeasure/pipeline"
	"github.com/sarchlab/speedmeasure/report"
	"github.com/sarchlab/speedmeasure/tracing"
)

// manualClock only moves when a test advances it.
type manualClock struct {
	now clock.Millis
}

func (c *manualClock) CurrentTime() clock.Millis {
	return c.now
}

func (c *manualClock) advance(ms clock.Millis) {
	c.now += ms
}

type emitPlugin struct {
	clk *manualClock
}

func (p emitPlugin) Name() string {
	return "EmitPlugin"
}

func (p emitPlugin) Apply(compiler pipeline.Tappable) {
	compiler.Hook("emit").TapAsync("EmitPlugin", func(args ...any) any {
		p.clk.advance(100)
		args[len(args)-1].(func(...any))()

		return nil
	})
}

// terserPlugin taps done after the SpeedMeasure, as every minimizer does.
type terserPlugin struct {
	clk *manualClock
}

func (p terserPlugin) Name() string {
	return "Terser"
}

func (p terserPlugin) Apply(compiler pipeline.Tappable) {
	compiler.Hook("done").TapAsync("Terser", func(args ...any) any {
		p.clk.advance(40)
		args[len(args)-1].(func(...any))()

		return nil
	})
}

type compilePlugin struct {
	clk *manualClock
}

func (p *compilePlugin) Apply(compiler pipeline.Tappable) {
	compiler.Hook("compile").Tap("compilePlugin", func(...any) any {
		p.clk.advance(50)
		return nil
	})
}

func passThrough(clk *manualClock, ms clock.Millis) pipeline.LoaderFunc {
	return func(_ *pipeline.LoaderContext, source []byte) ([]byte, error) {
		clk.advance(ms)
		return source, nil
	}
}

func asyncPassThrough(clk *manualClock, ms clock.Millis) pipeline.LoaderFunc {
	return func(ctx *pipeline.LoaderContext, source []byte) ([]byte, error) {
		clk.advance(ms)
		ctx.Async()(nil, source)

		return nil, nil
	}
}

func newConfig(clk *manualClock) *pipeline.Config {
	return &pipeline.Config{
		Plugins: []pipeline.Plugin{
			&compilePlugin{clk: clk},
			emitPlugin{clk: clk},
		},
		Rules: []pipeline.Rule{
			pipeline.MustRule(`\.js$`, "babel-loader"),
			pipeline.MustRule(`\.css$`, "style-loader", "css-loader"),
		},
		Loaders: map[string]*pipeline.Loader{
			"babel-loader": {Name: "babel-loader", Normal: passThrough(clk, 30)},
			"css-loader":   {Name: "css-loader", Normal: passThrough(clk, 20)},
			"style-loader": {Name: "style-loader", Normal: asyncPassThrough(clk, 5)},
		},
		Sources: []pipeline.Source{
			{Resource: "a.js", Content: []byte("a")},
			{Resource: "b.css", Content: []byte("b")},
		},
	}
}

func run(c *pipeline.Compiler) (*pipeline.Stats, error) {
	var (
		stats *pipeline.Stats
		err   error
	)

	c.Run(func(s *pipeline.Stats, e error) {
		stats, err = s, e
	})

	return stats, err
}

func subLoader(c analysis.ChainStatistics, name string) clock.Millis {
	for _, s := range c.SubLoaders {
		if s.Key == name {
			return s.ActiveTime
		}
	}

	return -1
}

var _ = Describe("SpeedMeasure", func() {
	var (
		clk  *manualClock
		out  *bytes.Buffer
		opts Options
		cfg  *pipeline.Config
	)

	build := func(b Builder) *SpeedMeasure {
		return b.WithOptions(opts).WithTimeTeller(clk).Build()
	}

	BeforeEach(func() {
		clk = &manualClock{now: 1000}
		out = new(bytes.Buffer)
		opts = DefaultOptions()
		opts.Output = out
		cfg = newConfig(clk)
	})

	Context("wrapping a config", func() {
		It("should wrap every plugin and add itself last", func() {
			sm := build(MakeBuilder())

			wrapped := sm.Wrap(cfg)

			Expect(wrapped).NotTo(BeIdenticalTo(cfg))
			Expect(wrapped.Plugins).To(HaveLen(3))
			Expect(wrapped.Plugins[2]).To(BeIdenticalTo(sm))
			Expect(wrapped.Plugins[0].(interface{ Name() string }).Name()).
				To(Equal("compilePlugin"))
			Expect(wrapped.Plugins[1].(interface{ Name() string }).Name()).
				To(Equal("EmitPlugin"))
			Expect(cfg.Plugins).To(HaveLen(2))
		})

		It("should add itself only once", func() {
			sm := build(MakeBuilder())

			twice := sm.Wrap(sm.Wrap(cfg))

			Expect(twice.Plugins).To(HaveLen(3))
			Expect(twice.Plugins[2]).To(BeIdenticalTo(sm))
		})

		It("should prefer the configured plugin names", func() {
			named := cfg.Plugins[0]
			opts.PluginNames = map[string]pipeline.Plugin{"Compiling": named}
			sm := build(MakeBuilder())

			wrapped := sm.Wrap(cfg)

			Expect(wrapped.Plugins[0].(interface{ Name() string }).Name()).
				To(Equal("Compiling"))
		})

		It("should fall back to the type name", func() {
			cfg.Plugins = []pipeline.Plugin{
				pipeline.PluginFunc(func(pipeline.Tappable) {}),
			}
			sm := build(MakeBuilder())

			wrapped := sm.Wrap(cfg)

			Expect(wrapped.Plugins[0].(interface{ Name() string }).Name()).
				To(Equal("PluginFunc"))
		})

		It("should wrap minimizers", func() {
			cfg.Minimizers = []pipeline.Plugin{emitPlugin{clk: clk}}
			sm := build(MakeBuilder())

			wrapped := sm.Wrap(cfg)

			Expect(wrapped.Minimizers).To(HaveLen(1))
			Expect(wrapped.Minimizers[0]).NotTo(Equal(cfg.Minimizers[0]))
		})

		It("should do nothing when disabled", func() {
			opts.Disable = true
			sm := build(MakeBuilder())

			Expect(sm.Wrap(cfg)).To(BeIdenticalTo(cfg))

			c := pipeline.NewCompiler(cfg)
			sm.Apply(c)
			Expect(c.Get("compile").Taps()).To(HaveLen(1))
		})
	})

	Context("measuring a build", func() {
		It("should time plugins, loaders and the whole build", func() {
			sm := build(MakeBuilder())

			stats, err := run(pipeline.NewCompiler(sm.Wrap(cfg)))
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.HasErrors()).To(BeFalse())

			s, err := sm.Summary()
			Expect(err).NotTo(HaveOccurred())

			Expect(s.Misc.CompileTime).To(Equal(clock.Millis(155)))
			Expect(s.Plugins).To(Equal([]analysis.PluginTime{
				{Name: "EmitPlugin", ActiveTime: 100},
				{Name: "compilePlugin", ActiveTime: 50},
			}))

			Expect(s.Loaders.Build).To(HaveLen(2))
			Expect(s.Loaders.Build[0].Loaders).To(Equal([]string{"babel-loader"}))
			Expect(s.Loaders.Build[0].Stats.TotalActiveTime).
				To(Equal(clock.Millis(30)))
			Expect(s.Loaders.Build[1].Loaders).
				To(Equal([]string{"style-loader", "css-loader"}))
			Expect(s.Loaders.Build[1].Stats.TotalActiveTime).
				To(Equal(clock.Millis(25)))
			Expect(s.Loaders.Build[1].SubLoaders).To(BeEmpty())
		})

		It("should time every loader with granular loader data", func() {
			opts.GranularLoaderData = true
			sm := build(MakeBuilder())

			_, err := run(pipeline.NewCompiler(sm.Wrap(cfg)))
			Expect(err).NotTo(HaveOccurred())

			s, err := sm.Summary()
			Expect(err).NotTo(HaveOccurred())

			chain := s.Loaders.Build[1]
			Expect(subLoader(chain, "css-loader")).To(Equal(clock.Millis(20)))
			Expect(subLoader(chain, "style-loader")).To(Equal(clock.Millis(5)))
		})

		It("should not wrap loaders twice", func() {
			opts.GranularLoaderData = true
			sm := build(MakeBuilder())

			once := sm.Wrap(cfg)
			twice := sm.Wrap(once)

			Expect(twice.Loaders["babel-loader"]).
				To(BeIdenticalTo(once.Loaders["babel-loader"]))
			Expect(once.Loaders["babel-loader"]).
				NotTo(BeIdenticalTo(cfg.Loaders["babel-loader"]))
		})

		It("should time promise taps", func() {
			cfg.Plugins = []pipeline.Plugin{
				pipeline.PluginFunc(func(c pipeline.Tappable) {
					c.Hook("emit").TapPromise("Upload", func(...any) any {
						clk.advance(70)
						return deferred.Resolved("uploaded")
					})
				}),
			}
			opts.PluginNames = map[string]pipeline.Plugin{}
			sm := build(MakeBuilder())

			_, err := run(pipeline.NewCompiler(sm.Wrap(cfg)))
			Expect(err).NotTo(HaveOccurred())

			s, _ := sm.Summary()
			Expect(s.Plugins).To(Equal([]analysis.PluginTime{
				{Name: "PluginFunc", ActiveTime: 70},
			}))
		})

		It("should clear the wrap caches when the build is done", func() {
			sm := build(MakeBuilder())

			_, err := run(pipeline.NewCompiler(sm.Wrap(cfg)))
			Expect(err).NotTo(HaveOccurred())

			Expect(sm.wrapper.NumViews()).To(BeZero())
		})

		It("should not carry timings recorded after the report into the next build", func() {
			cfg.Minimizers = []pipeline.Plugin{terserPlugin{clk: clk}}
			sm := build(MakeBuilder())
			c := pipeline.NewCompiler(sm.Wrap(cfg))

			_, err := run(c)
			Expect(err).NotTo(HaveOccurred())
			first, _ := sm.Summary()
			Expect(sm.Ledger().Events(analysis.CategoryPlugins,
				"Terser/Compiler/done")).To(HaveLen(1))

			_, err = run(c)
			Expect(err).NotTo(HaveOccurred())
			second, _ := sm.Summary()

			expected := []analysis.PluginTime{
				{Name: "EmitPlugin", ActiveTime: 100},
				{Name: "compilePlugin", ActiveTime: 50},
			}
			Expect(first.Plugins).To(Equal(expected))
			Expect(second.Plugins).To(Equal(expected))
			Expect(sm.Ledger().Events(analysis.CategoryPlugins,
				"Terser/Compiler/done")).To(HaveLen(1))
		})

		It("should never reuse ids across builds", func() {
			var ids [][]idgen.ID
			hook := hooking.HookFunc(func(ctx hooking.HookCtx) {
				if ctx.Pos == tracing.HookPosLedgerReset {
					ids = append(ids, nil)
					return
				}

				if ctx.Pos != tracing.HookPosIntervalStart {
					return
				}

				e := ctx.Item.(tracing.TimeEvent)
				if e.ID != idgen.None {
					ids[len(ids)-1] = append(ids[len(ids)-1], e.ID)
				}
			})

			opts.GranularLoaderData = true
			sm := build(MakeBuilder().WithHook(hook))
			c := pipeline.NewCompiler(sm.Wrap(cfg))

			_, err := run(c)
			Expect(err).NotTo(HaveOccurred())
			_, err = run(c)
			Expect(err).NotTo(HaveOccurred())

			Expect(ids).To(HaveLen(2))
			first, second := ids[0], ids[1]
			Expect(first).To(HaveLen(5))
			Expect(second).To(HaveLen(5))
			Expect(second[0]).To(BeNumerically(">", first[len(first)-1]))
		})

		It("should report the same timings for every build", func() {
			sm := build(MakeBuilder())
			c := pipeline.NewCompiler(sm.Wrap(cfg))

			_, err := run(c)
			Expect(err).NotTo(HaveOccurred())
			first, _ := sm.Summary()

			_, err = run(c)
			Expect(err).NotTo(HaveOccurred())
			second, _ := sm.Summary()

			Expect(second).NotTo(BeIdenticalTo(first))
			Expect(second.Misc).To(Equal(first.Misc))
			Expect(second.Plugins).To(Equal(first.Plugins))
			Expect(second.Loaders.Build).To(HaveLen(len(first.Loaders.Build)))
			for i, chain := range second.Loaders.Build {
				Expect(chain.Stats.TotalActiveTime).
					To(Equal(first.Loaders.Build[i].Stats.TotalActiveTime))
			}
		})

		It("should publish summaries", func() {
			sm := build(MakeBuilder())

			var published []*analysis.Summary
			sm.OnSummary(func(s *analysis.Summary) {
				published = append(published, s)
			})

			_, err := run(pipeline.NewCompiler(sm.Wrap(cfg)))
			Expect(err).NotTo(HaveOccurred())

			Expect(published).To(HaveLen(1))
			Expect(published[0].Misc.CompileTime).To(Equal(clock.Millis(155)))
		})

		It("should drop the timings of a build that never finished", func() {
			core, logs := observer.New(zapcore.WarnLevel)
			sm := build(MakeBuilder().WithLogger(zap.New(core)))
			c := pipeline.NewCompiler(sm.Wrap(cfg))

			c.Get("run").Call(c)
			c.Get("compile").Call()
			c.Get("run").Call(c)
			c.Get("compile").Call()

			Expect(sm.Ledger().Events(analysis.CategoryMisc, analysis.EventCompile)).
				To(HaveLen(1))
			Expect(logs.FilterMessageSnippet("never finished").Len()).To(Equal(1))
		})
	})

	Context("reporting", func() {
		It("should write the human report", func() {
			sm := build(MakeBuilder())

			_, err := run(pipeline.NewCompiler(sm.Wrap(cfg)))
			Expect(err).NotTo(HaveOccurred())

			Expect(out.String()).To(ContainSubstring("General output time took 0.155 secs"))
			Expect(out.String()).To(ContainSubstring("EmitPlugin took 0.1 secs"))
			Expect(out.String()).To(ContainSubstring("babel-loader took 0.03 secs"))
		})

		It("should render JSON", func() {
			opts.OutputFormat = report.FormatJSON
			sm := build(MakeBuilder())

			_, err := run(pipeline.NewCompiler(sm.Wrap(cfg)))
			Expect(err).NotTo(HaveOccurred())

			var s analysis.Summary
			Expect(json.Unmarshal(out.Bytes(), &s)).To(Succeed())
			Expect(s.Misc.CompileTime).To(Equal(clock.Millis(155)))
			Expect(s.Plugins).To(HaveLen(2))
		})

		It("should render with a custom formatter", func() {
			opts.OutputFormatter = func(s *analysis.Summary) (string, error) {
				return "custom", nil
			}
			sm := build(MakeBuilder())

			_, err := run(pipeline.NewCompiler(sm.Wrap(cfg)))
			Expect(err).NotTo(HaveOccurred())

			Expect(out.String()).To(Equal("custom\n"))

			text, err := sm.Output()
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("custom"))
		})

		It("should fail the build when the report cannot be rendered", func() {
			opts.OutputFormatter = func(*analysis.Summary) (string, error) {
				return "", errors.New("broken formatter")
			}
			sm := build(MakeBuilder())

			_, err := run(pipeline.NewCompiler(sm.Wrap(cfg)))

			Expect(err).To(MatchError(ContainSubstring("broken formatter")))
		})

		It("should append to the output target", func() {
			opts.OutputTarget = filepath.Join(GinkgoT().TempDir(), "smp.txt")
			sm := build(MakeBuilder())
			c := pipeline.NewCompiler(sm.Wrap(cfg))

			_, err := run(c)
			Expect(err).NotTo(HaveOccurred())
			_, err = run(c)
			Expect(err).NotTo(HaveOccurred())

			content, err := os.ReadFile(opts.OutputTarget)
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.Count(string(content), "General output time took")).
				To(Equal(2))
			Expect(string(content)).NotTo(ContainSubstring("\x1b["))
			Expect(out.String()).To(ContainSubstring(
				"Outputted timing info to " + opts.OutputTarget))
		})

		It("should compare loader builds", func() {
			opts.CompareLoadersBuild = filepath.Join(
				GinkgoT().TempDir(), "builds.sqlite3")
			sm := build(MakeBuilder())
			DeferCleanup(sm.Close)
			c := pipeline.NewCompiler(sm.Wrap(cfg))

			_, err := run(c)
			Expect(err).NotTo(HaveOccurred())
			_, err = run(c)
			Expect(err).NotTo(HaveOccurred())

			Expect(out.String()).To(ContainSubstring("Build No 1"))
			Expect(out.String()).To(ContainSubstring("Build No 2"))
			Expect(out.String()).To(ContainSubstring("0ms (unchanged)"))

			builds, err := sm.History().Builds()
			Expect(err).NotTo(HaveOccurred())
			Expect(builds).To(HaveLen(2))
		})

		It("should apply new options at the next build", func() {
			sm := build(MakeBuilder())
			c := pipeline.NewCompiler(sm.Wrap(cfg))

			newOpts := sm.Options().WithConfig(config.Options{OutputFormat: "json"})
			sm.SetOptions(newOpts)
			Expect(sm.Options().OutputFormat).To(Equal(report.FormatHuman))

			_, err := run(c)
			Expect(err).NotTo(HaveOccurred())

			Expect(sm.Options().OutputFormat).To(Equal(report.FormatJSON))
			Expect(out.String()).To(HavePrefix("{"))
		})
	})

	Context("monitoring", func() {
		get := func(url string) (int, []byte) {
			rsp, err := http.Get(url)
			Expect(err).NotTo(HaveOccurred())
			defer rsp.Body.Close()

			body, err := io.ReadAll(rsp.Body)
			Expect(err).NotTo(HaveOccurred())

			return rsp.StatusCode, body
		}

		It("should serve the last build", func() {
			opts.CompareLoadersBuild = filepath.Join(
				GinkgoT().TempDir(), "builds.sqlite3")
			sm := build(MakeBuilder())
			DeferCleanup(sm.Close)

			addr, err := sm.StartMonitor("localhost:0")
			Expect(err).NotTo(HaveOccurred())

			_, err = run(pipeline.NewCompiler(sm.Wrap(cfg)))
			Expect(err).NotTo(HaveOccurred())

			status, body := get("http://" + addr + "/api/summary")
			Expect(status).To(Equal(http.StatusOK))

			var summary analysis.Summary
			Expect(json.Unmarshal(body, &summary)).To(Succeed())
			Expect(summary.Misc.CompileTime).To(Equal(clock.Millis(155)))

			status, body = get("http://" + addr + "/api/history")
			Expect(status).To(Equal(http.StatusOK))
			Expect(string(body)).To(ContainSubstring(`"BuildNo":1`))

			status, body = get("http://" + addr + "/metrics")
			Expect(status).To(Equal(http.StatusOK))
			Expect(string(body)).To(ContainSubstring("smp_ledger_resets_total 1"))
			Expect(string(body)).To(ContainSubstring(
				`smp_intervals_started_total{category="misc",event="compile"} 1`))
		})

		It("should start the configured monitor once", func() {
			opts.MonitorAddr = "localhost:0"
			sm := build(MakeBuilder())
			DeferCleanup(sm.Close)

			pipeline.NewCompiler(sm.Wrap(cfg))

			_, err := sm.StartMonitor("localhost:0")
			Expect(err).To(MatchError("monitor already started"))
		})
	})
})
