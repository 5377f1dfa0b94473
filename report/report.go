// Package report renders the Summary of a run for people or for programs.
package report

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/sarchlab/speedmeasure/analysis"
	"github.com/sarchlab/speedmeasure/clock"
)

// Format selects how a Summary is rendered.
type Format string

// A list of supported formats.
const (
	FormatHuman        Format = "human"
	FormatHumanVerbose Format = "humanVerbose"
	FormatJSON         Format = "json"
)

// Formatter renders a Summary in a caller-defined way.
type Formatter func(s *analysis.Summary) (string, error)

// Durations at or above these thresholds are highlighted.
const (
	SlowThreshold     clock.Millis = 2000
	VerySlowThreshold clock.Millis = 10000
)

// Options configure a Renderer.
type Options struct {
	Format Format

	// Custom, if set, replaces the built-in formats.
	Custom Formatter

	// Color enables terminal colors in the human formats.
	Color bool

	// LoaderTopFiles is the number of slowest modules listed per loader
	// chain.
	LoaderTopFiles int
}

// Renderer turns a Summary into text.
type Renderer struct {
	opts Options

	tag      *color.Color
	bold     *color.Color
	fast     *color.Color
	slow     *color.Color
	verySlow *color.Color
}

// NewRenderer creates a Renderer.
func NewRenderer(opts Options) *Renderer {
	if opts.Format == "" {
		opts.Format = FormatHuman
	}

	r := &Renderer{
		opts:     opts,
		tag:      color.New(color.BgBlue, color.FgHiWhite, color.Bold),
		bold:     color.New(color.Bold),
		fast:     color.New(color.FgGreen),
		slow:     color.New(color.FgYellow),
		verySlow: color.New(color.FgRed, color.Bold),
	}

	for _, c := range []*color.Color{r.tag, r.bold, r.fast, r.slow, r.verySlow} {
		if opts.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	return r
}

// Render renders the Summary.
func (r *Renderer) Render(s *analysis.Summary) (string, error) {
	if r.opts.Custom != nil {
		return r.opts.Custom(s)
	}

	switch r.opts.Format {
	case FormatJSON:
		out, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return "", fmt.Errorf("rendering summary: %w", err)
		}

		return string(out), nil
	case FormatHuman, FormatHumanVerbose:
		return r.human(s)
	default:
		return "", fmt.Errorf("unknown output format %q", r.opts.Format)
	}
}

// Tag returns the prefix of every section header.
func (r *Renderer) Tag() string {
	return r.tag.Sprint(" SMP ") + " ⏱  "
}

func (r *Renderer) verbose() bool {
	return r.opts.Format == FormatHumanVerbose
}

func (r *Renderer) time(ms clock.Millis) string {
	return HumanTime(ms, r.verbose())
}

func (r *Renderer) colorTime(ms clock.Millis) string {
	text := r.time(ms)

	switch {
	case ms >= VerySlowThreshold:
		return r.verySlow.Sprint(text)
	case ms >= SlowThreshold:
		return r.slow.Sprint(text)
	default:
		return r.fast.Sprint(text)
	}
}

func (r *Renderer) human(s *analysis.Summary) (string, error) {
	var b strings.Builder

	b.WriteString("\n\n" + r.Tag() + "\n")

	if s.Misc != nil {
		fmt.Fprintf(&b, "General output time took %s\n\n",
			r.colorTime(s.Misc.CompileTime))
	}

	if len(s.Plugins) > 0 {
		b.WriteString(r.Tag() + "Plugins\n")

		for _, p := range s.Plugins {
			fmt.Fprintf(&b, "%s took %s\n",
				r.bold.Sprint(p.Name), r.colorTime(p.ActiveTime))
		}

		b.WriteString("\n")
	}

	if s.Loaders != nil {
		b.WriteString(r.Tag() + "Loaders\n")

		for _, c := range s.Loaders.Build {
			r.chain(&b, c)
		}

		if r.verbose() {
			b.WriteString("\n")

			if err := r.chainTable(&b, s.Loaders.Build); err != nil {
				return "", fmt.Errorf("rendering loader table: %w", err)
			}
		}
	}

	b.WriteString("\n\n")

	return b.String(), nil
}

func chainLabel(loaders []string) []string {
	if len(loaders) == 0 {
		return []string{"modules with no loaders"}
	}

	return loaders
}

func (r *Renderer) chain(b *strings.Builder, c analysis.ChainStatistics) {
	names := make([]string, 0, len(c.Loaders))
	for _, l := range chainLabel(c.Loaders) {
		names = append(names, r.bold.Sprint(l))
	}

	fmt.Fprintf(b, "%s took %s\n",
		strings.Join(names, ", and \n"), r.colorTime(c.Stats.TotalActiveTime))

	var pairs [][2]string

	if r.verbose() {
		pairs = append(pairs,
			[2]string{"median", r.time(clock.Millis(math.Round(c.Stats.Median)))},
			[2]string{"mean", r.time(clock.Millis(math.Round(c.Stats.Mean)))},
		)

		if sd, ok := c.Stats.StdDev(); ok {
			pairs = append(pairs,
				[2]string{"s.d.", r.time(clock.Millis(math.Round(sd)))})
		}

		pairs = append(pairs, [2]string{"range", fmt.Sprintf("(%s --> %s)",
			r.time(c.Stats.Range.Start), r.time(c.Stats.Range.End))})
	}

	if len(c.Loaders) > 1 {
		for _, sub := range c.SubLoaders {
			pairs = append(pairs, [2]string{sub.Key, r.time(sub.ActiveTime)})
		}
	}

	pairs = append(pairs,
		[2]string{"module count", fmt.Sprint(c.Stats.Count)})

	top := min(r.opts.LoaderTopFiles, len(c.Stats.Members))
	for _, m := range c.Stats.Members[:max(top, 0)] {
		d, _ := m.Duration()
		pairs = append(pairs, [2]string{m.Name, r.time(d)})
	}

	width := 0
	for _, p := range pairs {
		width = max(width, len(p[0]))
	}

	for _, p := range pairs {
		fmt.Fprintf(b, "  %-*s = %s\n", width, p[0], p[1])
	}
}

func (r *Renderer) chainTable(b *strings.Builder, chains []analysis.ChainStatistics) error {
	table := tablewriter.NewWriter(b)
	table.Header("Loaders", "Time", "Modules", "Median", "Mean", "S.D.")

	for _, c := range chains {
		sd := "-"
		if v, ok := c.Stats.StdDev(); ok {
			sd = HumanTime(clock.Millis(math.Round(v)), true)
		}

		err := table.Append(
			strings.Join(chainLabel(c.Loaders), ", "),
			HumanTime(c.Stats.TotalActiveTime, true),
			fmt.Sprint(c.Stats.Count),
			HumanTime(clock.Millis(math.Round(c.Stats.Median)), true),
			HumanTime(clock.Millis(math.Round(c.Stats.Mean)), true),
			sd,
		)
		if err != nil {
			return err
		}
	}

	return table.Render()
}
