// Package report writes the markdown comparison of the algorithms in a
// results directory.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/neehar-mavuduru/argosbench/aggregate"
	"github.com/neehar-mavuduru/argosbench/plots"
	"github.com/neehar-mavuduru/argosbench/results"
)

// Row is the per-algorithm summary of one group.
type Row struct {
	Experiment      string
	Repetitions     int
	Steps           aggregate.Summary
	TargetsFound    aggregate.Summary
	Coverage        aggregate.Summary
	DistanceToLight aggregate.Summary
	TimeToAll       aggregate.Completion
}

// Section is the comparison of one (robots, targets) group.
type Section struct {
	Group results.Group
	Rows  []Row
}

// Summarize builds the report sections of a result set.
func Summarize(set *results.Set) []Section {
	var sections []Section
	for _, g := range set.Groups() {
		sec := Section{Group: g}
		for _, exp := range set.Experiments(g) {
			logs := set.Logs(g, exp)
			steps := make([]float64, len(logs))
			for i, l := range logs {
				steps[i] = float64(l.LastStep())
			}
			sec.Rows = append(sec.Rows, Row{
				Experiment:      exp,
				Repetitions:     len(logs),
				Steps:           aggregate.Summarize(steps),
				TargetsFound:    aggregate.Final(logs, results.TargetsFound),
				Coverage:        aggregate.Final(logs, results.Coverage),
				DistanceToLight: aggregate.Final(logs, results.DistanceToLight),
				TimeToAll:       aggregate.TimeToAll(logs),
			})
		}
		sections = append(sections, sec)
	}
	return sections
}

// Options controls the generated document.
type Options struct {
	Title    string
	PlotsDir string // Linked relative to the report when set
	Now      func() time.Time
}

// Write renders the report to w. reportDir is used to make plot links
// relative.
func Write(w io.Writer, set *results.Set, reportDir string, opts Options) error {
	if opts.Title == "" {
		opts.Title = "Swarm Search Experiment Results"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ew := &errWriter{w: w}
	p := ew.printf

	sections := Summarize(set)

	p("# %s\n\n", opts.Title)
	p("**Generated:** %s\n\n", opts.Now().Format("2006-01-02 15:04:05"))
	p("**Result logs:** %d", set.Len())
	if len(set.Skipped) > 0 {
		p(" (%d skipped)", len(set.Skipped))
	}
	p("\n\n")
	p("**Configurations:** %d\n\n", len(sections))
	p("---\n\n")

	for _, sec := range sections {
		p("## %d robots, %d targets\n\n", sec.Group.Robots, sec.Group.Targets)

		p("| Algorithm | Reps | Steps | Targets found | Coverage | Distance to light | Time to all targets |\n")
		p("|-----------|------|-------|---------------|----------|-------------------|---------------------|\n")
		for _, r := range sec.Rows {
			p("| %s | %d | %.0f | %s | %s | %s | %s |\n",
				r.Experiment, r.Repetitions, r.Steps.Mean,
				formatSummary(r.TargetsFound, "%.2f"),
				formatSummary(r.Coverage, "%.2f%%"),
				formatSummary(r.DistanceToLight, "%.3f"),
				formatCompletion(r.TimeToAll))
		}
		p("\n")

		writeFindings(p, sec)

		if opts.PlotsDir != "" {
			writePlotLinks(p, sec.Group, opts.PlotsDir, reportDir)
		}
		p("---\n\n")
	}

	return ew.err
}

// WriteFile writes the report to path.
func WriteFile(path string, set *results.Set, opts Options) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := Write(f, set, filepath.Dir(path), opts); err != nil {
		return err
	}
	return f.Close()
}

func writeFindings(p func(string, ...interface{}), sec Section) {
	if len(sec.Rows) < 2 {
		return
	}

	found := make(map[string]aggregate.Summary)
	coverage := make(map[string]aggregate.Summary)
	light := make(map[string]aggregate.Summary)
	speed := make(map[string]aggregate.Summary)
	for _, r := range sec.Rows {
		found[r.Experiment] = r.TargetsFound
		coverage[r.Experiment] = r.Coverage
		light[r.Experiment] = r.DistanceToLight
		speed[r.Experiment] = r.TimeToAll.Summary
	}

	p("### Key Findings\n\n")
	if best, ok := aggregate.Best(found, false); ok {
		p("- **Most targets found:** %s (%.2f)\n", best, found[best].Mean)
	}
	if best, ok := aggregate.Best(speed, true); ok {
		p("- **Fastest to find all targets:** %s (step %.0f)\n", best, speed[best].Mean)
	}
	if best, ok := aggregate.Best(coverage, false); ok {
		p("- **Highest coverage:** %s (%.2f%%)\n", best, coverage[best].Mean)
	}
	if best, ok := aggregate.Best(light, true); ok {
		p("- **Closest to light:** %s (%.3f)\n", best, light[best].Mean)
	}
	p("\n")
}

func writePlotLinks(p func(string, ...interface{}), g results.Group, plotsDir, reportDir string) {
	var links []string
	for _, m := range results.Metrics {
		file := filepath.Join(plotsDir, plots.FileName(m, g)+".png")
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if rel, err := filepath.Rel(reportDir, file); err == nil {
			file = rel
		}
		links = append(links, fmt.Sprintf("![%s](%s)", m.Title(), filepath.ToSlash(file)))
	}
	if len(links) == 0 {
		return
	}

	p("### Plots\n\n")
	for _, l := range links {
		p("%s\n\n", l)
	}
}

func formatSummary(s aggregate.Summary, format string) string {
	if s.N == 0 {
		return "-"
	}
	v := fmt.Sprintf(format, s.Mean)
	if s.N < 2 {
		return v
	}
	return fmt.Sprintf("%s ± "+format, v, s.SEM)
}

func formatCompletion(c aggregate.Completion) string {
	if c.N == 0 && c.Missed == 0 {
		return "-"
	}
	if c.N == 0 {
		return fmt.Sprintf("never (%d missed)", c.Missed)
	}
	v := formatSummary(c.Summary, "%.0f")
	if c.Missed > 0 {
		v += fmt.Sprintf(" (%d missed)", c.Missed)
	}
	return v
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...interface{}) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
