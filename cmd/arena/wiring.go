package main

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/kingrea/arena/internal/command"
	"github.com/kingrea/arena/internal/config"
	"github.com/kingrea/arena/internal/logbook"
	"github.com/kingrea/arena/internal/preflight"
	"github.com/kingrea/arena/internal/services"
	"github.com/kingrea/arena/internal/snapshot"
	"github.com/kingrea/arena/internal/topology"
	"github.com/kingrea/arena/internal/tournament"
)

const (
	dockerBinary   = "docker"
	composeProject = "arena"
	uploadAttempts = 3
	probeTimeout   = 5 * time.Second
)

// app binds the loaded config to concrete collaborators.
type app struct {
	cfg    *config.Config
	book   *logbook.Logbook
	runner command.Runner
}

func newApp(cfg *config.Config) (*app, error) {
	book, err := logbook.New(cfg.LogPath())
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, book: book, runner: command.ExecRunner{}}, nil
}

// journal adapts the logbook to the Printf loggers the packages accept.
type journal struct{ book *logbook.Logbook }

func (j journal) Printf(format string, args ...any) { j.book.Info(format, args...) }

func (a *app) preflight() *preflight.Checker {
	return preflight.NewChecker(preflight.Standard(preflight.Options{
		Interpreter:     a.cfg.Project.Commands.Interpreter,
		RulesCLI:        a.cfg.RulesCLI(),
		DockerBinary:    dockerBinary,
		RosterPath:      a.cfg.RosterPath(),
		EntryPoint:      a.cfg.EntryPoint(),
		CredentialsPath: a.cfg.CredentialsPath(),
		Pinger:          preflight.DockerPinger{},
	})...)
}

func (a *app) renderer() topology.Renderer {
	if argv := a.cfg.Project.Commands.Renderer; len(argv) > 0 {
		return topology.CommandRenderer{
			Argv:    argv,
			Dir:     a.cfg.ProjectDir,
			Project: composeProject,
			Runner:  a.runner,
		}
	}
	return topology.ComposeRenderer{Project: composeProject}
}

func (a *app) services(output io.Writer) *services.Manager {
	r := a.cfg.Project.Readiness
	return services.NewManager(
		services.ComposeRuntime{
			Binary: dockerBinary,
			Dir:    a.cfg.ProjectDir,
			Runner: a.runner,
			Output: output,
		},
		services.WithProber(services.HTTPProber{Client: &http.Client{Timeout: probeTimeout}}),
		services.WithReadiness(services.Readiness{
			Mode:            r.Mode,
			InitialInterval: r.InitialInterval,
			MaxInterval:     r.MaxInterval,
			Deadline:        r.Deadline,
			FixedWait:       r.FixedWait,
		}),
		services.WithLogger(journal{a.book}),
	)
}

func (a *app) tournament(output io.Writer) tournament.Runner {
	return tournament.Runner{
		Argv:        a.cfg.Project.Commands.Tournament,
		Dir:         a.cfg.ProjectDir,
		ResultsRoot: a.cfg.TournamentsDir(),
		Timeout:     a.cfg.Project.Timeouts.Tournament,
		Runner:      a.runner,
		Output:      output,
	}
}

func (a *app) validator() snapshot.Validator {
	if argv := a.cfg.Project.Commands.Validator; len(argv) > 0 {
		return snapshot.CommandValidator{Argv: argv, Dir: a.cfg.ProjectDir, Runner: a.runner}
	}
	return snapshot.FileValidator{Getenv: os.Getenv}
}

func (a *app) uploader() *snapshot.Uploader {
	return &snapshot.Uploader{
		SourceDir:   a.cfg.SourceDir(),
		StateDir:    a.cfg.StateDir(),
		Timeout:     a.cfg.Project.Timeouts.Upload,
		MaxAttempts: uploadAttempts,
		Logger:      journal{a.book},
	}
}
