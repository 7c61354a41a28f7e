package plots

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/neehar-mavuduru/argosbench/aggregate"
	"github.com/neehar-mavuduru/argosbench/logging"
	"github.com/neehar-mavuduru/argosbench/results"
)

// GroupSeries aggregates metric m for every experiment of group g.
func GroupSeries(set *results.Set, g results.Group, m results.Metric) map[string]aggregate.Series {
	out := make(map[string]aggregate.Series)
	for _, exp := range set.Experiments(g) {
		s := aggregate.Aggregate(set.Logs(g, exp), m)
		if len(s.Points) > 0 {
			out[exp] = s
		}
	}
	return out
}

// WriteAll renders a PNG chart and a CSV table for every group and metric
// with data and returns the files written.
func WriteAll(set *results.Set, outDir string, opts Options, logger *zap.Logger) ([]string, error) {
	logger = logging.OrNop(logger)

	var written []string
	for _, g := range set.Groups() {
		for _, m := range results.Metrics {
			series := GroupSeries(set, g, m)
			if len(series) == 0 {
				continue
			}

			base := filepath.Join(outDir, FileName(m, g))
			p, err := Render(Title(m, g), m, series, opts)
			if err != nil {
				return written, fmt.Errorf("render %s: %w", base, err)
			}
			if p != nil {
				if err := SavePNG(p, base+".png", opts); err != nil {
					return written, err
				}
				written = append(written, base+".png")
			}

			if err := writeCSVFile(base+".csv", series); err != nil {
				return written, err
			}
			written = append(written, base+".csv")

			logger.Info("plot written",
				zap.String("metric", string(m)),
				zap.Int("robots", g.Robots),
				zap.Int("targets", g.Targets),
				zap.Int("algorithms", len(series)))
		}
	}
	return written, nil
}

func writeCSVFile(path string, series map[string]aggregate.Series) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("CSV: cannot create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("CSV: cannot open %s: %w", path, err)
	}
	defer f.Close()

	if err := WriteCSV(f, series); err != nil {
		return err
	}
	return f.Close()
}

// WriteCSV writes step,<algo>_mean,<algo>_sem,<algo>_n,... rows over the
// union of steps. Cells of algorithms without a sample at a step are empty.
func WriteCSV(w io.Writer, series map[string]aggregate.Series) error {
	names := make([]string, 0, len(series))
	steps := make(map[int]struct{})
	byStep := make(map[string]map[int]aggregate.Stat, len(series))
	for name, s := range series {
		names = append(names, name)
		idx := make(map[int]aggregate.Stat, len(s.Points))
		for _, p := range s.Points {
			idx[p.Step] = p
			steps[p.Step] = struct{}{}
		}
		byStep[name] = idx
	}
	sort.Strings(names)

	ordered := make([]int, 0, len(steps))
	for s := range steps {
		ordered = append(ordered, s)
	}
	sort.Ints(ordered)

	cw := csv.NewWriter(w)
	header := []string{"step"}
	for _, name := range names {
		header = append(header, name+"_mean", name+"_sem", name+"_n")
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("CSV: cannot write header: %w", err)
	}

	for _, step := range ordered {
		row := []string{strconv.Itoa(step)}
		for _, name := range names {
			st, ok := byStep[name][step]
			if !ok {
				row = append(row, "", "", "")
				continue
			}
			row = append(row,
				strconv.FormatFloat(st.Mean, 'g', 10, 64),
				strconv.FormatFloat(st.SEM, 'g', 10, 64),
				strconv.Itoa(st.N))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("CSV: cannot write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
