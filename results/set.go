package results

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/neehar-mavuduru/argosbench/logging"
)

// Group is a (robots, targets) configuration shared by the compared algorithms.
type Group struct {
	Robots  int
	Targets int
}

func (g Group) String() string {
	return fmt.Sprintf("%d robots, %d targets", g.Robots, g.Targets)
}

// Set holds the logs of a results directory grouped by configuration and
// experiment.
type Set struct {
	logs    map[Group]map[string][]*Log
	Skipped []string
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{logs: make(map[Group]map[string][]*Log)}
}

// Add inserts a log, keeping repetitions ordered.
func (s *Set) Add(l *Log) {
	g := Group{Robots: l.Robots, Targets: l.Targets}
	byExp, ok := s.logs[g]
	if !ok {
		byExp = make(map[string][]*Log)
		s.logs[g] = byExp
	}
	reps := append(byExp[l.Experiment], l)
	sort.SliceStable(reps, func(i, j int) bool { return reps[i].Repetition < reps[j].Repetition })
	byExp[l.Experiment] = reps
}

// Len returns the number of logs.
func (s *Set) Len() int {
	n := 0
	for _, byExp := range s.logs {
		for _, reps := range byExp {
			n += len(reps)
		}
	}
	return n
}

// Groups returns the configurations ordered by robots then targets.
func (s *Set) Groups() []Group {
	groups := make([]Group, 0, len(s.logs))
	for g := range s.logs {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Robots != groups[j].Robots {
			return groups[i].Robots < groups[j].Robots
		}
		return groups[i].Targets < groups[j].Targets
	})
	return groups
}

// Experiments returns the experiments present in group g, sorted.
func (s *Set) Experiments(g Group) []string {
	names := make([]string, 0, len(s.logs[g]))
	for name := range s.logs[g] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Logs returns the repetitions of experiment in group g.
func (s *Set) Logs(g Group, experiment string) []*Log {
	return s.logs[g][experiment]
}

// LoadDir loads every <root>/<experiment>/*.json log. Unreadable or
// malformed files are logged and listed in Skipped.
func LoadDir(root string, logger *zap.Logger) (*Set, error) {
	logger = logging.OrNop(logger)

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read results directory: %w", err)
	}

	set := NewSet()
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		files, err := filepath.Glob(filepath.Join(dir, "*.json"))
		if err != nil {
			return nil, err
		}
		sort.Strings(files)

		for _, file := range files {
			log, err := Load(file)
			if err != nil {
				logger.Warn("skipping result log", zap.String("path", file), zap.Error(err))
				set.Skipped = append(set.Skipped, file)
				continue
			}
			if log.Experiment == "" {
				log.Experiment = entry.Name()
			}
			set.Add(log)
		}
	}

	logger.Debug("loaded result logs", zap.String("root", root), zap.Int("logs", set.Len()), zap.Int("skipped", len(set.Skipped)))
	return set, nil
}
