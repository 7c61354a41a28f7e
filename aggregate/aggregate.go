// Package aggregate averages per-step metrics across the repetitions of a
// configuration.
package aggregate

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/neehar-mavuduru/argosbench/results"
)

// Stat is the mean and standard error of a metric at one step over N
// repetitions.
type Stat struct {
	Step int
	Mean float64
	SEM  float64
	N    int
}

// Series is the aggregated time series of one metric.
type Series struct {
	Metric results.Metric
	Points []Stat
}

// Summary is the mean and standard error of a set of values.
type Summary struct {
	Mean float64
	SEM  float64
	N    int
}

// Summarize computes the mean and SEM of vals. SEM is zero below two values.
func Summarize(vals []float64) Summary {
	n := len(vals)
	if n == 0 {
		return Summary{}
	}
	s := Summary{Mean: stat.Mean(vals, nil), N: n}
	if n > 1 {
		s.SEM = stat.StdDev(vals, nil) / math.Sqrt(float64(n))
	}
	return s
}

// Aggregate aligns the repetitions by step over the union of their steps.
// A repetition contributes from its first sample on; after its last sample it
// keeps contributing that final value, so runs that stop early do not shift
// the mean.
func Aggregate(logs []*results.Log, m results.Metric) Series {
	var runs [][]results.Point
	steps := make(map[int]struct{})
	for _, l := range logs {
		pts := l.Series(m)
		if len(pts) == 0 {
			continue
		}
		runs = append(runs, pts)
		for _, p := range pts {
			steps[p.Step] = struct{}{}
		}
	}

	ordered := make([]int, 0, len(steps))
	for s := range steps {
		ordered = append(ordered, s)
	}
	sort.Ints(ordered)

	series := Series{Metric: m, Points: make([]Stat, 0, len(ordered))}
	cursor := make([]int, len(runs))
	vals := make([]float64, 0, len(runs))

	for _, step := range ordered {
		vals = vals[:0]
		for i, pts := range runs {
			for cursor[i]+1 < len(pts) && pts[cursor[i]+1].Step <= step {
				cursor[i]++
			}
			if pts[cursor[i]].Step > step {
				continue
			}
			vals = append(vals, pts[cursor[i]].Value)
		}

		sum := Summarize(vals)
		series.Points = append(series.Points, Stat{Step: step, Mean: sum.Mean, SEM: sum.SEM, N: sum.N})
	}
	return series
}

// Downsample keeps every n-th point and always the last one.
func Downsample(s Series, every int) Series {
	if every <= 1 || len(s.Points) <= 2 {
		return s
	}

	out := Series{Metric: s.Metric, Points: make([]Stat, 0, len(s.Points)/every+2)}
	for i, p := range s.Points {
		if i%every == 0 || i == len(s.Points)-1 {
			out.Points = append(out.Points, p)
		}
	}
	return out
}

// Final summarizes the last value of metric m over the repetitions that
// report it.
func Final(logs []*results.Log, m results.Metric) Summary {
	var vals []float64
	for _, l := range logs {
		if p, ok := l.Final(m); ok {
			vals = append(vals, p.Value)
		}
	}
	return Summarize(vals)
}

// Completion summarizes the step at which all targets were found.
type Completion struct {
	Summary
	Missed int // Repetitions that never found every target
}

// TimeToAll summarizes the first step at which targets_found reached the
// configured target count. Logs without targets are ignored.
func TimeToAll(logs []*results.Log) Completion {
	var c Completion
	var vals []float64
	for _, l := range logs {
		if l.Targets <= 0 || !l.Has(results.TargetsFound) {
			continue
		}
		found := false
		for _, p := range l.Series(results.TargetsFound) {
			if p.Value >= float64(l.Targets) {
				vals = append(vals, float64(p.Step))
				found = true
				break
			}
		}
		if !found {
			c.Missed++
		}
	}
	c.Summary = Summarize(vals)
	return c
}

// Best returns the key with the best mean. lowerIsBetter selects the
// minimum. Keys with no samples are ignored; ties go to the first key in
// sorted order.
func Best(summaries map[string]Summary, lowerIsBetter bool) (string, bool) {
	keys := make([]string, 0, len(summaries))
	for k, s := range summaries {
		if s.N > 0 {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return "", false
	}
	sort.Strings(keys)

	best := keys[0]
	for _, k := range keys[1:] {
		a, b := summaries[k].Mean, summaries[best].Mean
		if (lowerIsBetter && a < b) || (!lowerIsBetter && a > b) {
			best = k
		}
	}
	return best, true
}
