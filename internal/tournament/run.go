package tournament

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// RunIDPrefix starts every run id.
	RunIDPrefix = "round_robin_"
	// ResultsFile is the artifact the tournament writes under its run directory.
	ResultsFile = "trueskill_results.json"

	runIDLayout = "20060102_150405"
)

// Run identifies one tournament invocation.
type Run struct {
	ID        string
	StartedAt time.Time
}

// NewRun stamps a run from now. Ids have second granularity, so two runs
// started within the same second share an id unless unique is set, which
// appends eight random hex characters.
func NewRun(now time.Time, unique bool) Run {
	return Run{ID: RunID(now, unique), StartedAt: now}
}

// RunID formats the run id for t.
func RunID(t time.Time, unique bool) string {
	id := RunIDPrefix + t.Format(runIDLayout)
	if unique {
		suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		id += "_" + suffix
	}
	return id
}

// IsTournamentID reports whether id came from RunID.
func IsTournamentID(id string) bool {
	return strings.HasPrefix(id, RunIDPrefix)
}

// ResultsPath locates the results artifact for run id under root.
func ResultsPath(root, id string) string {
	return filepath.Join(root, id, ResultsFile)
}
