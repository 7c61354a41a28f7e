package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neehar-mavuduru/argosbench/aggregate"
	"github.com/neehar-mavuduru/argosbench/results"
)

func f(v float64) *float64 { return &v }

func addLog(set *results.Set, exp string, rep int, found []float64, coverage float64) {
	l := &results.Log{Meta: results.Meta{Experiment: exp, Robots: 5, Targets: 2, Repetition: rep}}
	for i, v := range found {
		l.Steps = append(l.Steps, results.Step{Step: i * 100, TargetsFound: f(v), Coverage: f(coverage * float64(i+1))})
	}
	set.Add(l)
}

func testSet() *results.Set {
	set := results.NewSet()
	addLog(set, "pso", 0, []float64{0, 1, 2}, 10)
	addLog(set, "pso", 1, []float64{0, 2, 2}, 12)
	addLog(set, "mbfo", 0, []float64{0, 0, 1}, 20)
	return set
}

func TestSummarize(t *testing.T) {
	sections := Summarize(testSet())
	require.Len(t, sections, 1)

	sec := sections[0]
	assert.Equal(t, results.Group{Robots: 5, Targets: 2}, sec.Group)
	require.Len(t, sec.Rows, 2)

	mbfo, pso := sec.Rows[0], sec.Rows[1]
	assert.Equal(t, "mbfo", mbfo.Experiment)
	assert.Equal(t, 1, mbfo.Repetitions)
	assert.Equal(t, 1, mbfo.TimeToAll.Missed)
	assert.Equal(t, 0, mbfo.TimeToAll.N)

	assert.Equal(t, 2, pso.Repetitions)
	assert.InDelta(t, 2.0, pso.TargetsFound.Mean, 1e-9)
	assert.InDelta(t, 150.0, pso.TimeToAll.Mean, 1e-9)
	assert.InDelta(t, 33.0, pso.Coverage.Mean, 1e-9)
	assert.Equal(t, 0, pso.DistanceToLight.N)
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	now := func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, Write(&buf, testSet(), "", Options{Title: "Campaign", Now: now}))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "# Campaign\n"))
	assert.Contains(t, out, "**Generated:** 2024-05-01 12:00:00")
	assert.Contains(t, out, "**Result logs:** 3")
	assert.Contains(t, out, "## 5 robots, 2 targets")
	assert.Contains(t, out, "| pso | 2 | 200 | 2.00 ± 0.00 |")
	assert.Contains(t, out, "never (1 missed)")
	assert.Contains(t, out, "- **Most targets found:** pso (2.00)")
	assert.Contains(t, out, "- **Fastest to find all targets:** pso (step 150)")
	assert.Contains(t, out, "- **Highest coverage:** mbfo (60.00%)")
	assert.NotContains(t, out, "Closest to light")
}

func TestWriteFile_LinksPlots(t *testing.T) {
	dir := t.TempDir()
	plotsDir := filepath.Join(dir, "plots")
	require.NoError(t, os.MkdirAll(plotsDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(plotsDir, "5r_2t_coverage.png"), []byte("png"), 0644))

	path := filepath.Join(dir, "REPORT.md")
	require.NoError(t, WriteFile(path, testSet(), Options{PlotsDir: plotsDir}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "![Coverage](plots/5r_2t_coverage.png)")
	assert.NotContains(t, string(data), "5r_2t_targets_found.png")
}

func TestFormatSummary(t *testing.T) {
	assert.Equal(t, "-", formatSummary(aggregate.Summary{}, "%.1f"))
	assert.Equal(t, "1.5", formatSummary(aggregate.Summary{Mean: 1.5, N: 1}, "%.1f"))
	assert.Equal(t, "1.5 ± 0.2", formatSummary(aggregate.Summary{Mean: 1.5, SEM: 0.2, N: 3}, "%.1f"))
	assert.Equal(t, "12% ± 1%", formatSummary(aggregate.Summary{Mean: 12, SEM: 1, N: 3}, "%.0f%%"))
}
