package plots

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neehar-mavuduru/argosbench/aggregate"
	"github.com/neehar-mavuduru/argosbench/results"
)

func f(v float64) *float64 { return &v }

func testSet() *results.Set {
	set := results.NewSet()
	for rep := 0; rep < 2; rep++ {
		for i, exp := range []string{"mbfo", "pso"} {
			l := &results.Log{Meta: results.Meta{Experiment: exp, Robots: 5, Targets: 3, Repetition: rep}}
			for step := 0; step <= 50; step += 10 {
				cov := float64(step) * float64(i+1+rep)
				l.Steps = append(l.Steps, results.Step{
					Step:         step,
					TargetsFound: f(float64(step / 20)),
					Coverage:     f(cov),
				})
			}
			set.Add(l)
		}
	}
	return set
}

func TestTitleAndFileName(t *testing.T) {
	g := results.Group{Robots: 5, Targets: 3}
	assert.Equal(t, "Coverage (5 robots, 3 targets)", Title(results.Coverage, g))
	assert.Equal(t, "5r_3t_targets_found", FileName(results.TargetsFound, g))
}

func TestRender(t *testing.T) {
	set := testSet()
	g := results.Group{Robots: 5, Targets: 3}

	p, err := Render("coverage", results.Coverage, GroupSeries(set, g, results.Coverage), DefaultOptions())
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "coverage", p.Title.Text)
	assert.Equal(t, "step", p.X.Label.Text)

	p, err = Render("light", results.DistanceToLight, GroupSeries(set, g, results.DistanceToLight), DefaultOptions())
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestWriteAll(t *testing.T) {
	out := t.TempDir()
	opts := DefaultOptions()
	opts.DPI = 40

	written, err := WriteAll(testSet(), out, opts, nil)
	require.NoError(t, err)

	// Two metrics with data, a PNG and a CSV each.
	assert.ElementsMatch(t, []string{
		filepath.Join(out, "5r_3t_targets_found.png"),
		filepath.Join(out, "5r_3t_targets_found.csv"),
		filepath.Join(out, "5r_3t_coverage.png"),
		filepath.Join(out, "5r_3t_coverage.csv"),
	}, written)

	data, err := os.ReadFile(filepath.Join(out, "5r_3t_coverage.png"))
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
}

func TestWriteCSV(t *testing.T) {
	series := map[string]aggregate.Series{
		"pso": {Metric: results.Coverage, Points: []aggregate.Stat{
			{Step: 0, Mean: 1, SEM: 0.5, N: 2},
			{Step: 10, Mean: 2.5, SEM: 0, N: 1},
		}},
		"mbfo": {Metric: results.Coverage, Points: []aggregate.Stat{
			{Step: 10, Mean: 3, SEM: 1, N: 2},
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, series))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "step,mbfo_mean,mbfo_sem,mbfo_n,pso_mean,pso_sem,pso_n", lines[0])
	assert.Equal(t, "0,,,,1,0.5,2", lines[1])
	assert.Equal(t, "10,3,1,2,2.5,0,1", lines[2])
}
