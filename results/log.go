// Package results loads the JSON logs written by the simulation controllers.
//
// A log is either an object carrying run metadata and a "steps" array, or a
// bare array of step objects. In the latter case the metadata comes from the
// file path: <results>/<experiment>/<robots>_<targets>[_<repetition>].json.
package results

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrNoSteps is returned for a log without any step records.
var ErrNoSteps = errors.New("log has no steps")

// Metric names a per-step measurement.
type Metric string

const (
	TargetsFound    Metric = "targets_found"
	Coverage        Metric = "coverage"
	DistanceToLight Metric = "distance_to_light"
)

// Metrics lists every metric in plotting order.
var Metrics = []Metric{TargetsFound, Coverage, DistanceToLight}

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	for _, m := range Metrics {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// Title is the human-readable name of the metric.
func (m Metric) Title() string {
	switch m {
	case TargetsFound:
		return "Targets found"
	case Coverage:
		return "Coverage"
	case DistanceToLight:
		return "Distance to light"
	}
	return string(m)
}

// Unit is the axis label of the metric.
func (m Metric) Unit() string {
	switch m {
	case TargetsFound:
		return "targets"
	case Coverage:
		return "coverage (%)"
	case DistanceToLight:
		return "distance (m)"
	}
	return string(m)
}

// Step is one record of a log. Metrics a controller does not report are nil.
type Step struct {
	Step            int      `json:"step"`
	TargetsFound    *float64 `json:"targets_found,omitempty"`
	Coverage        *float64 `json:"coverage,omitempty"`
	DistanceToLight *float64 `json:"distance_to_light,omitempty"`
}

// Value returns the metric value at this step.
func (s Step) Value(m Metric) (float64, bool) {
	var v *float64
	switch m {
	case TargetsFound:
		v = s.TargetsFound
	case Coverage:
		v = s.Coverage
	case DistanceToLight:
		v = s.DistanceToLight
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Meta describes the run that produced a log.
type Meta struct {
	Experiment string `json:"experiment"`
	Robots     int    `json:"robots"`
	Targets    int    `json:"targets"`
	Repetition int    `json:"repetition"`
	Seed       int64  `json:"seed"`
}

// Log is a decoded result log.
type Log struct {
	Meta
	Path  string
	Steps []Step
}

// Point is a (step, value) sample.
type Point struct {
	Step  int
	Value float64
}

// Series returns the samples of metric m in step order. Steps without the
// metric are skipped.
func (l *Log) Series(m Metric) []Point {
	points := make([]Point, 0, len(l.Steps))
	for _, s := range l.Steps {
		if v, ok := s.Value(m); ok {
			points = append(points, Point{Step: s.Step, Value: v})
		}
	}
	return points
}

// Has reports whether any step carries metric m.
func (l *Log) Has(m Metric) bool {
	for _, s := range l.Steps {
		if _, ok := s.Value(m); ok {
			return true
		}
	}
	return false
}

// Final returns the last sample of metric m.
func (l *Log) Final(m Metric) (Point, bool) {
	for i := len(l.Steps) - 1; i >= 0; i-- {
		if v, ok := l.Steps[i].Value(m); ok {
			return Point{Step: l.Steps[i].Step, Value: v}, true
		}
	}
	return Point{}, false
}

// LastStep returns the step number of the final record.
func (l *Log) LastStep() int {
	if len(l.Steps) == 0 {
		return 0
	}
	return l.Steps[len(l.Steps)-1].Step
}

type document struct {
	Meta
	Steps []Step `json:"steps"`
}

// Decode reads a log. Metadata present in the document overrides meta.
func Decode(r io.Reader, meta Meta) (*Log, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrNoSteps
	}

	var doc document
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &doc.Steps); err != nil {
			return nil, fmt.Errorf("failed to decode steps: %w", err)
		}
	case '{':
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode log: %w", err)
		}
	default:
		return nil, fmt.Errorf("unexpected log format starting with %q", trimmed[0])
	}

	if len(doc.Steps) == 0 {
		return nil, ErrNoSteps
	}

	log := &Log{Meta: meta, Steps: normalize(doc.Steps)}
	if doc.Experiment != "" {
		log.Experiment = doc.Experiment
	}
	if doc.Robots > 0 {
		log.Robots = doc.Robots
	}
	if doc.Targets > 0 {
		log.Targets = doc.Targets
	}
	if doc.Repetition > 0 {
		log.Repetition = doc.Repetition
	}
	if doc.Seed != 0 {
		log.Seed = doc.Seed
	}
	return log, nil
}

// normalize sorts steps and keeps the last record of duplicated step numbers.
func normalize(steps []Step) []Step {
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Step < steps[j].Step })

	out := steps[:0]
	for _, s := range steps {
		if n := len(out); n > 0 && out[n-1].Step == s.Step {
			out[n-1] = s
			continue
		}
		out = append(out, s)
	}
	return out
}

// Load reads the log at path, taking default metadata from the path.
func Load(path string) (*Log, error) {
	meta, err := ParseName(path)
	if err != nil {
		meta = Meta{}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	log, err := Decode(f, meta)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if log.Robots <= 0 {
		return nil, fmt.Errorf("%s: missing robot count", path)
	}
	log.Path = path
	return log, nil
}

// FileName returns the log file name for a run, matching the names the
// simulation is configured with: "<robots>_<targets>.json" for single runs
// and "<robots>_<targets>_<rep>.json" when repetitions are used.
func FileName(robots, targets, repetition int, repeated bool) string {
	if !repeated {
		return fmt.Sprintf("%d_%d.json", robots, targets)
	}
	return fmt.Sprintf("%d_%d_%d.json", robots, targets, repetition)
}

// ParseName extracts metadata from <dir>/<experiment>/<robots>_<targets>[_<rep>].json.
func ParseName(path string) (Meta, error) {
	base := filepath.Base(path)
	if filepath.Ext(base) != ".json" {
		return Meta{}, fmt.Errorf("%s: not a json log", base)
	}

	parts := strings.Split(strings.TrimSuffix(base, ".json"), "_")
	if len(parts) != 2 && len(parts) != 3 {
		return Meta{}, fmt.Errorf("%s: expected <robots>_<targets>[_<rep>].json", base)
	}

	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Meta{}, fmt.Errorf("%s: invalid number %q", base, p)
		}
		nums[i] = n
	}

	meta := Meta{
		Experiment: filepath.Base(filepath.Dir(path)),
		Robots:     nums[0],
		Targets:    nums[1],
	}
	if len(nums) == 3 {
		meta.Repetition = nums[2]
	}
	return meta, nil
}
