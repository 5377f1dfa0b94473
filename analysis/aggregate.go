// Package analysis turns the intervals of a finished run into grouped
// statistics.
package analysis

import (
	"math"
	"sort"

	"github.com/sarchlab/speedmeasure/clock"
	"github.com/sarchlab/speedmeasure/tracing"
)

// Range is the wall-clock span a group occupied.
type Range struct {
	Start clock.Millis `json:"start"`
	End   clock.Millis `json:"end"`
}

// Averages describes a population of durations.
type Averages struct {
	DataPoints int      `json:"dataPoints"`
	Mean       float64  `json:"mean"`
	Median     float64  `json:"median"`
	Variance   *float64 `json:"variance,omitempty"`
}

// GroupedStatistics is the aggregation of the intervals sharing a key.
type GroupedStatistics struct {
	Key   string `json:"key"`
	Count int    `json:"count"`

	// TotalActiveTime is the sum of the durations. Overlapping intervals
	// are counted once each.
	TotalActiveTime clock.Millis `json:"totalActiveTime"`

	// BusyTime is the wall-clock time covered by at least one interval.
	BusyTime clock.Millis `json:"busyTime"`

	Mean     float64  `json:"mean"`
	Median   float64  `json:"median"`
	Variance *float64 `json:"variance,omitempty"`
	Range    Range    `json:"range"`

	// Members are sorted by duration, longest first.
	Members []tracing.TimeEvent `json:"-"`
}

// StdDev returns the population standard deviation, if the variance is
// defined.
func (g GroupedStatistics) StdDev() (float64, bool) {
	if g.Variance == nil {
		return 0, false
	}

	return math.Sqrt(*g.Variance), true
}

// Averages returns the descriptive statistics of the group.
func (g GroupedStatistics) Averages() Averages {
	return Averages{
		DataPoints: g.Count,
		Mean:       g.Mean,
		Median:     g.Median,
		Variance:   g.Variance,
	}
}

// KeyFunc returns the group an interval belongs to.
type KeyFunc func(e tracing.TimeEvent) string

// ByName groups intervals by their name.
func ByName(e tracing.TimeEvent) string {
	return e.Name
}

// AggregateByGroup groups the ended intervals by key and computes the
// statistics of every group. Groups are returned in first-seen order.
func AggregateByGroup(
	events []tracing.TimeEvent,
	keyFn KeyFunc,
) []GroupedStatistics {
	var order []string

	groups := make(map[string][]tracing.TimeEvent)

	for _, e := range events {
		if !e.Ended {
			continue
		}

		key := keyFn(e)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}

		groups[key] = append(groups[key], e)
	}

	out := make([]GroupedStatistics, 0, len(order))
	for _, key := range order {
		out = append(out, aggregate(key, groups[key]))
	}

	return out
}

func aggregate(key string, members []tracing.TimeEvent) GroupedStatistics {
	durations := make([]clock.Millis, 0, len(members))
	r := Range{Start: members[0].Start, End: members[0].End}

	for _, e := range members {
		durations = append(durations, duration(e))

		if e.Start < r.Start {
			r.Start = e.Start
		}

		if e.End > r.End {
			r.End = e.End
		}
	}

	sorted := append([]tracing.TimeEvent(nil), members...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return duration(sorted[i]) > duration(sorted[j])
	})

	avg := DescribeDurations(durations)

	return GroupedStatistics{
		Key:             key,
		Count:           len(members),
		TotalActiveTime: TotalActiveTime(members),
		BusyTime:        BusyTime(members),
		Mean:            avg.Mean,
		Median:          avg.Median,
		Variance:        avg.Variance,
		Range:           r,
		Members:         sorted,
	}
}

func duration(e tracing.TimeEvent) clock.Millis {
	d, ok := e.Duration()
	if !ok || d < 0 {
		return 0
	}

	return d
}

// TotalActiveTime sums the durations of the ended intervals.
func TotalActiveTime(events []tracing.TimeEvent) clock.Millis {
	var total clock.Millis
	for _, e := range events {
		total += duration(e)
	}

	return total
}

// BusyTime returns the wall-clock time covered by at least one of the ended
// intervals.
func BusyTime(events []tracing.TimeEvent) clock.Millis {
	spans := make([]Range, 0, len(events))
	for _, e := range events {
		if !e.Ended {
			continue
		}

		spans = append(spans, Range{Start: e.Start, End: e.Start + duration(e)})
	}

	sort.Slice(spans, func(i, j int) bool {
		return spans[i].Start < spans[j].Start
	})

	var busy clock.Millis

	for i := 0; i < len(spans); {
		cur := spans[i]

		j := i + 1
		for ; j < len(spans) && spans[j].Start <= cur.End; j++ {
			if spans[j].End > cur.End {
				cur.End = spans[j].End
			}
		}

		busy += cur.End - cur.Start
		i = j
	}

	return busy
}

// DescribeDurations computes the mean, the median and the population variance of the
// durations. The variance is nil when there are fewer than two durations.
func DescribeDurations(durations []clock.Millis) Averages {
	n := len(durations)
	avg := Averages{DataPoints: n}

	if n == 0 {
		return avg
	}

	sorted := append([]clock.Millis(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum float64
	for _, d := range sorted {
		sum += float64(d)
	}

	avg.Mean = sum / float64(n)

	if n%2 == 1 {
		avg.Median = float64(sorted[n/2])
	} else {
		avg.Median = float64(sorted[n/2-1]+sorted[n/2]) / 2
	}

	if n < 2 {
		return avg
	}

	var sq float64
	for _, d := range sorted {
		diff := float64(d) - avg.Mean
		sq += diff * diff
	}

	variance := sq / float64(n)
	avg.Variance = &variance

	return avg
}

// SubKeyTime is the active time of one sub-key within a group.
type SubKeyTime struct {
	Key        string       `json:"key"`
	ActiveTime clock.Millis `json:"activeTime"`
}

// SubKeyTotals sums the durations of the finer intervals that belong to any of
// the outer intervals, per sub-key, in first-seen order.
func SubKeyTotals(
	outer []tracing.TimeEvent,
	finer []tracing.TimeEvent,
	belongs func(fine, outer tracing.TimeEvent) bool,
	subKey KeyFunc,
) []SubKeyTime {
	var out []SubKeyTime

	index := make(map[string]int)

	for _, f := range finer {
		if !f.Ended || !belongsToAny(f, outer, belongs) {
			continue
		}

		key := subKey(f)

		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, SubKeyTime{Key: key})
		}

		out[i].ActiveTime += duration(f)
	}

	return out
}

func belongsToAny(
	f tracing.TimeEvent,
	outer []tracing.TimeEvent,
	belongs func(fine, outer tracing.TimeEvent) bool,
) bool {
	for _, o := range outer {
		if belongs(f, o) {
			return true
		}
	}

	return false
}
