package report

import (
	"encoding/json"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/speedmeasure/analysis"
	"github.com/sarchlab/speedmeasure/clock"
	"github.com/sarchlab/speedmeasure/tracing"
)

func sampleSummary() *analysis.Summary {
	variance := 100.0

	return &analysis.Summary{
		Misc: &analysis.MiscSummary{CompileTime: 1500},
		Plugins: []analysis.PluginTime{
			{Name: "HtmlPlugin", ActiveTime: 1200},
			{Name: "DefinePlugin", ActiveTime: 30},
		},
		Loaders: &analysis.LoaderSummary{Build: []analysis.ChainStatistics{
			{
				Loaders: []string{"style-loader", "css-loader"},
				Stats: analysis.GroupedStatistics{
					Count:           2,
					TotalActiveTime: 60,
					Mean:            30,
					Median:          30,
					Variance:        &variance,
					Range:           analysis.Range{Start: 0, End: 60},
					Members: []tracing.TimeEvent{
						{Name: "a.css", Start: 0, End: 40, Ended: true},
						{Name: "b.css", Start: 40, End: 60, Ended: true},
					},
				},
				SubLoaders: []analysis.SubKeyTime{
					{Key: "css-loader", ActiveTime: 25},
				},
			},
		}},
	}
}

var _ = Describe("Renderer", func() {
	It("should render the human format", func() {
		out, err := NewRenderer(Options{}).Render(sampleSummary())

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("General output time took 1.5 secs"))
		Expect(out).To(ContainSubstring("HtmlPlugin took 1.2 secs"))
		Expect(out).To(ContainSubstring(
			"style-loader, and \ncss-loader took 0.06 secs"))
		Expect(out).To(ContainSubstring("  css-loader   = 0.025 secs"))
		Expect(out).To(ContainSubstring("  module count = 2"))
		Expect(out).NotTo(ContainSubstring("median"))
		Expect(out).NotTo(ContainSubstring("\x1b["))
	})

	It("should render the verbose format", func() {
		out, err := NewRenderer(Options{
			Format:         FormatHumanVerbose,
			LoaderTopFiles: 1,
		}).Render(sampleSummary())

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("General output time took 1,500 ms"))
		Expect(out).To(ContainSubstring("median       = 30 ms"))
		Expect(out).To(ContainSubstring("s.d.         = 10 ms"))
		Expect(out).To(ContainSubstring("range        = (0 ms --> 60 ms)"))
		Expect(out).To(ContainSubstring("a.css        = 40 ms"))
		Expect(out).NotTo(ContainSubstring("b.css"))
		Expect(strings.ToUpper(out)).To(ContainSubstring("MODULES"))
	})

	It("should colour slow durations", func() {
		out, err := NewRenderer(Options{Color: true}).Render(sampleSummary())

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("\x1b["))
	})

	It("should render JSON", func() {
		out, err := NewRenderer(Options{Format: FormatJSON}).
			Render(sampleSummary())
		Expect(err).NotTo(HaveOccurred())

		var decoded map[string]any
		Expect(json.Unmarshal([]byte(out), &decoded)).To(Succeed())
		Expect(decoded).To(HaveKey("misc"))
		Expect(decoded).To(HaveKey("plugins"))
		Expect(decoded).To(HaveKey("loaders"))
		Expect(decoded["misc"]).To(HaveKeyWithValue("compileTime", 1500.0))
	})

	It("should use a custom formatter", func() {
		r := NewRenderer(Options{
			Format: FormatJSON,
			Custom: func(s *analysis.Summary) (string, error) {
				return "custom", nil
			},
		})

		Expect(r.Render(sampleSummary())).To(Equal("custom"))
	})

	It("should pass custom formatter errors through", func() {
		boom := errors.New("boom")
		r := NewRenderer(Options{
			Custom: func(*analysis.Summary) (string, error) { return "", boom },
		})

		_, err := r.Render(sampleSummary())

		Expect(err).To(MatchError(boom))
	})

	It("should reject unknown formats", func() {
		_, err := NewRenderer(Options{Format: "xml"}).Render(sampleSummary())

		Expect(err).To(MatchError(ContainSubstring("xml")))
	})

	It("should name chains without loaders", func() {
		s := &analysis.Summary{Loaders: &analysis.LoaderSummary{
			Build: []analysis.ChainStatistics{{
				Stats: analysis.GroupedStatistics{Count: 1, TotalActiveTime: 5},
			}},
		}}

		out, err := NewRenderer(Options{}).Render(s)

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("modules with no loaders took"))
	})
})

var _ = Describe("colorTime thresholds", func() {
	It("should pick the colour by duration", func() {
		r := NewRenderer(Options{Color: true})

		Expect(r.colorTime(clock.Millis(10))).
			To(Equal(r.fast.Sprint("0.01 secs")))
		Expect(r.colorTime(SlowThreshold)).
			To(Equal(r.slow.Sprint("2 secs")))
		Expect(r.colorTime(VerySlowThreshold)).
			To(Equal(r.verySlow.Sprint("10 secs")))
	})
})
