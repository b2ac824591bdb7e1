// Package pipeline sequences a tournament run: preflight, roster, topology,
// services, tournament, then the optional snapshot upload. It owns the run
// id and the guarantee that a started topology is torn down.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kingrea/arena/internal/preflight"
	"github.com/kingrea/arena/internal/roster"
	"github.com/kingrea/arena/internal/services"
	"github.com/kingrea/arena/internal/snapshot"
	"github.com/kingrea/arena/internal/topology"
	"github.com/kingrea/arena/internal/tournament"
)

// PreflightChecker runs the precondition battery.
type PreflightChecker interface {
	Run(ctx context.Context) preflight.Report
}

// RosterLoader reads the roster at path.
type RosterLoader func(path string) (roster.Tournament, error)

// Services manages the topology's lifetime.
type Services interface {
	Scope(ctx context.Context, topo topology.Topology, fn func(context.Context) error) error
	AwaitReady(ctx context.Context, topo topology.Topology) ([]services.LivenessWarning, error)
}

// TournamentRunner runs one tournament to completion.
type TournamentRunner interface {
	Run(ctx context.Context, req tournament.Request) (tournament.Outcome, error)
}

// SnapshotUploader sends a validated snapshot.
type SnapshotUploader interface {
	Upload(ctx context.Context, req snapshot.Request) (snapshot.Receipt, error)
}

// Deps are the collaborators the orchestrator sequences.
type Deps struct {
	Preflight  PreflightChecker
	LoadRoster RosterLoader
	Renderer   topology.Renderer
	Services   Services
	Tournament TournamentRunner
	Validator  snapshot.Validator
	Uploader   SnapshotUploader
}

// Settings carry the paths and switches for one run.
type Settings struct {
	RosterPath      string
	ComposePath     string
	CredentialsPath string
	UniqueRunID     bool
	// SkipUpload validates credentials but never uploads.
	SkipUpload bool
}

// Summary describes a finished run, successful or not.
type Summary struct {
	Preflight   preflight.Report
	Tournament  roster.Tournament
	Topology    topology.Topology
	Run         tournament.Run
	Warnings    []services.LivenessWarning
	Outcome     tournament.Outcome
	Results     *tournament.Results
	Validation  snapshot.Result
	Validated   bool
	Receipt     *snapshot.Receipt
	UploadError error
}

// Orchestrator runs the pipeline.
type Orchestrator struct {
	deps     Deps
	settings Settings
	clock    func() time.Time
	observer Observer
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the run id time source.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithObserver receives stage events.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// New builds an orchestrator. Every dependency is required.
func New(deps Deps, settings Settings, opts ...Option) (*Orchestrator, error) {
	missing := []string{}
	if deps.Preflight == nil {
		missing = append(missing, "preflight")
	}
	if deps.LoadRoster == nil {
		missing = append(missing, "roster loader")
	}
	if deps.Renderer == nil {
		missing = append(missing, "renderer")
	}
	if deps.Services == nil {
		missing = append(missing, "services")
	}
	if deps.Tournament == nil {
		missing = append(missing, "tournament")
	}
	if deps.Validator == nil {
		missing = append(missing, "validator")
	}
	if deps.Uploader == nil {
		missing = append(missing, "uploader")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pipeline: missing dependencies: %s", strings.Join(missing, ", "))
	}
	o := &Orchestrator{
		deps:     deps,
		settings: settings,
		clock:    time.Now,
		observer: ObserverFunc(func(Event) {}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

// Run executes the whole pipeline. The returned error is nil or an *Error;
// ExitCode maps it to the process exit status. Liveness, validation and
// upload problems never fail the run; they are recorded in the Summary.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	o.emit(StagePreflight, StateRunning, "")
	summary.Preflight = o.deps.Preflight.Run(ctx)
	for _, res := range summary.Preflight.Results {
		if res.Err != nil && res.Advisory {
			o.emit(StagePreflight, StateWarning, res.Name+": "+res.Err.Error())
		}
	}
	if !summary.Preflight.OK() {
		failures := summary.Preflight.Failures()
		names := make([]string, len(failures))
		for i, f := range failures {
			names[i] = f.Name
			o.emit(StagePreflight, StateFailed, f.Name+": "+f.Err.Error())
		}
		return summary, &Error{
			Kind:  KindPreflight,
			Stage: StagePreflight,
			Code:  ExitFailure,
			Err:   fmt.Errorf("%d fatal check(s) failed: %s", len(failures), strings.Join(names, ", ")),
		}
	}
	o.emit(StagePreflight, StateDone, fmt.Sprintf("%d checks", len(summary.Preflight.Results)))

	o.emit(StageRoster, StateRunning, o.settings.RosterPath)
	tour, err := o.deps.LoadRoster(o.settings.RosterPath)
	if err != nil {
		return summary, o.fail(StageRoster, KindConfig, err)
	}
	summary.Tournament = tour
	o.emit(StageRoster, StateDone, fmt.Sprintf("%d snakes, %d iterations, %d workers", len(tour.Agents), tour.Iterations, tour.Workers))

	o.emit(StageTopology, StateRunning, o.settings.ComposePath)
	topo, err := o.deps.Renderer.Render(ctx, tour, o.settings.ComposePath)
	if err != nil {
		return summary, o.fail(StageTopology, KindTopology, err)
	}
	summary.Topology = topo
	o.emit(StageTopology, StateDone, fmt.Sprintf("%d services", len(topo.Services)))

	summary.Run = tournament.NewRun(o.clock(), o.settings.UniqueRunID)

	o.emit(StageServices, StateRunning, topo.Project)
	err = o.deps.Services.Scope(ctx, topo, func(ctx context.Context) error {
		o.emit(StageServices, StateDone, "")
		return o.runScoped(ctx, &summary)
	})
	o.emit(StageTeardown, StateDone, topo.Project)
	if err != nil {
		var perr *Error
		if errors.As(err, &perr) {
			return summary, perr
		}
		return summary, o.fail(StageServices, KindServices, err)
	}
	return summary, nil
}

// runScoped is everything that needs running agents.
func (o *Orchestrator) runScoped(ctx context.Context, summary *Summary) error {
	topo := summary.Topology

	o.emit(StageReadiness, StateRunning, "")
	warnings, err := o.deps.Services.AwaitReady(ctx, topo)
	if err != nil {
		return o.fail(StageReadiness, KindServices, err)
	}
	summary.Warnings = warnings
	for _, w := range warnings {
		o.emit(StageReadiness, StateWarning, w.Error())
	}
	o.emit(StageReadiness, StateDone, fmt.Sprintf("%d/%d agents answering", len(topo.Services)-len(warnings), len(topo.Services)))

	o.emit(StageTournament, StateRunning, summary.Run.ID)
	outcome, err := o.deps.Tournament.Run(ctx, tournament.Request{Run: summary.Run, Tournament: summary.Tournament})
	summary.Outcome = outcome
	if err != nil {
		return o.fail(StageTournament, KindTournament, err)
	}
	if res, err := tournament.ReadResults(outcome.ResultsPath); err != nil {
		o.emit(StageTournament, StateWarning, err.Error())
	} else {
		summary.Results = &res
	}
	o.emit(StageTournament, StateDone, outcome.ResultsPath)

	o.snapshot(ctx, summary)
	return nil
}

func (o *Orchestrator) snapshot(ctx context.Context, summary *Summary) {
	o.emit(StageValidation, StateRunning, o.settings.CredentialsPath)
	result := o.deps.Validator.Validate(ctx, o.settings.CredentialsPath)
	summary.Validation = result
	summary.Validated = true

	switch result.Status {
	case snapshot.StatusValid:
		o.emit(StageValidation, StateDone, "valid for "+result.UserID)
	case snapshot.StatusInvalid:
		o.emit(StageValidation, StateWarning, "invalid: "+result.Diagnostic)
	default:
		o.emit(StageValidation, StateDone, result.Status.String()+": "+result.Diagnostic)
	}

	if !result.ShouldUpload() {
		o.emit(StageUpload, StateSkipped, result.Status.String())
		return
	}
	if o.settings.SkipUpload {
		o.emit(StageUpload, StateSkipped, "upload disabled for this run")
		return
	}

	o.emit(StageUpload, StateRunning, summary.Run.ID)
	receipt, err := o.deps.Uploader.Upload(ctx, snapshot.Request{
		Validation:  result,
		Identifier:  summary.Run.ID,
		ResultsPath: summary.Outcome.ResultsPath,
	})
	if err != nil {
		summary.UploadError = err
		msg := err.Error()
		if hint := snapshot.Guidance(err); hint != "" {
			msg += "\n" + hint
		}
		o.emit(StageUpload, StateWarning, msg)
		return
	}
	summary.Receipt = &receipt
	o.emit(StageUpload, StateDone, fmt.Sprintf("slot %d, %d bytes", receipt.Slot, receipt.TarballBytes))
}

func (o *Orchestrator) fail(stage Stage, kind Kind, err error) *Error {
	perr := classify(stage, kind, err)
	o.emit(stage, StateFailed, perr.Err.Error())
	return perr
}

func (o *Orchestrator) emit(stage Stage, state State, msg string) {
	o.observer.Observe(Event{Stage: stage, State: state, Message: msg, At: o.clock()})
}
