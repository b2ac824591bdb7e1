package pipeline

import (
	"time"

	"github.com/kingrea/arena/internal/logbook"
)

// Stage names a pipeline step.
type Stage string

const (
	StagePreflight  Stage = "preflight"
	StageRoster     Stage = "roster"
	StageTopology   Stage = "topology"
	StageServices   Stage = "services"
	StageReadiness  Stage = "readiness"
	StageTournament Stage = "tournament"
	StageValidation Stage = "validation"
	StageUpload     Stage = "upload"
	StageTeardown   Stage = "teardown"
)

// Stages lists every stage in execution order.
var Stages = []Stage{
	StagePreflight,
	StageRoster,
	StageTopology,
	StageServices,
	StageReadiness,
	StageTournament,
	StageValidation,
	StageUpload,
	StageTeardown,
}

// State is a stage's progress.
type State string

const (
	StateRunning State = "running"
	StateDone    State = "done"
	StateWarning State = "warning"
	StateSkipped State = "skipped"
	StateFailed  State = "failed"
)

// Event reports a stage transition or a diagnostic within a stage.
type Event struct {
	Stage   Stage
	State   State
	Message string
	At      time.Time
}

// Observer receives pipeline events in order.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Fanout delivers every event to each observer.
func Fanout(observers ...Observer) Observer {
	return ObserverFunc(func(e Event) {
		for _, o := range observers {
			if o != nil {
				o.Observe(e)
			}
		}
	})
}

// JournalObserver writes events to the run logbook.
func JournalObserver(book *logbook.Logbook) Observer {
	return ObserverFunc(func(e Event) {
		level := logbook.LevelInfo
		switch e.State {
		case StateWarning:
			level = logbook.LevelWarn
		case StateFailed:
			level = logbook.LevelError
		}
		line := string(e.Stage) + " " + string(e.State)
		if e.Message != "" {
			line += ": " + e.Message
		}
		book.Append(level, line)
	})
}
