package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sarchlab/speedmeasure/clock"
	"github.com/sarchlab/speedmeasure/tracing"
)

// Categories and events the instrumenter records.
const (
	CategoryMisc    = "misc"
	CategoryPlugins = "plugins"
	CategoryLoaders = "loaders"

	EventCompile       = "compile"
	EventBuild         = "build"
	EventBuildSpecific = "build-specific"
)

// NoDataError is returned when there is nothing to aggregate.
type NoDataError struct {
	Category string
}

func (e *NoDataError) Error() string {
	if e.Category == "" {
		return "no timing data recorded"
	}

	return fmt.Sprintf("no timing data recorded for %s", e.Category)
}

// MiscSummary holds the overall timings of a run.
type MiscSummary struct {
	CompileTime clock.Millis `json:"compileTime"`
}

// PluginTime is the active time attributed to one plugin.
type PluginTime struct {
	Name       string       `json:"name"`
	ActiveTime clock.Millis `json:"activeTime"`
}

// ChainStatistics is the aggregation of the module builds that went through
// the same chain of loaders.
type ChainStatistics struct {
	Loaders    []string          `json:"loaders"`
	Stats      GroupedStatistics `json:"stats"`
	SubLoaders []SubKeyTime      `json:"subLoadersTime,omitempty"`
}

// Name joins the loader names of the chain.
func (c ChainStatistics) Name() string {
	return strings.Join(c.Loaders, ",")
}

// LoaderSummary holds the loader chain statistics of a run.
type LoaderSummary struct {
	Build []ChainStatistics `json:"build"`
}

// Summary is the report of one run. Categories without data are nil.
type Summary struct {
	Misc    *MiscSummary   `json:"misc,omitempty"`
	Plugins []PluginTime   `json:"plugins,omitempty"`
	Loaders *LoaderSummary `json:"loaders,omitempty"`
}

// Summarize aggregates a snapshot into a Summary.
func Summarize(s tracing.Snapshot) (*Summary, error) {
	if s.IsEmpty() {
		return nil, &NoDataError{}
	}

	summary := &Summary{Misc: miscSummary(s)}
	if s.HasCategory(CategoryPlugins) {
		summary.Plugins = PluginTimes(s)
	}

	chains, err := LoaderChains(s)
	if err == nil {
		summary.Loaders = &LoaderSummary{Build: chains}
	}

	return summary, nil
}

func miscSummary(s tracing.Snapshot) *MiscSummary {
	for _, e := range s.Events(CategoryMisc, EventCompile) {
		if d, ok := e.Duration(); ok {
			return &MiscSummary{CompileTime: d}
		}
	}

	return nil
}

// PluginTimes returns the active time of every plugin, longest first.
func PluginTimes(s tracing.Snapshot) []PluginTime {
	var out []PluginTime

	index := make(map[string]int)

	for _, b := range s.Category(CategoryPlugins) {
		for _, g := range AggregateByGroup(b.Events, ByName) {
			i, ok := index[g.Key]
			if !ok {
				i = len(out)
				index[g.Key] = i
				out = append(out, PluginTime{Name: g.Key})
			}

			out[i].ActiveTime += g.TotalActiveTime
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ActiveTime > out[j].ActiveTime
	})

	return out
}

func chainKey(e tracing.TimeEvent) string {
	return strings.Join(e.Metadata.Strings(tracing.MetaLoaders), ",")
}

// LoaderChains aggregates the module builds per loader chain, most expensive
// chain first. Each chain carries the time of its individual loaders when
// those were recorded.
func LoaderChains(s tracing.Snapshot) ([]ChainStatistics, error) {
	builds := s.Events(CategoryLoaders, EventBuild)
	if len(builds) == 0 {
		return nil, &NoDataError{Category: CategoryLoaders}
	}

	specific := s.Events(CategoryLoaders, EventBuildSpecific)

	var chains []ChainStatistics

	for _, g := range AggregateByGroup(builds, chainKey) {
		chains = append(chains, ChainStatistics{
			Loaders: g.Members[0].Metadata.Strings(tracing.MetaLoaders),
			Stats:   g,
			SubLoaders: SubKeyTotals(g.Members, specific,
				sameResource, loaderKey),
		})
	}

	if len(chains) == 0 {
		return nil, &NoDataError{Category: CategoryLoaders}
	}

	sort.SliceStable(chains, func(i, j int) bool {
		return chains[i].Stats.TotalActiveTime > chains[j].Stats.TotalActiveTime
	})

	return chains, nil
}

func sameResource(fine, outer tracing.TimeEvent) bool {
	return fine.Name == outer.Name
}

func loaderKey(e tracing.TimeEvent) string {
	return e.Metadata.String(tracing.MetaLoader)
}
