// cmd/arena/main.go
//
// Entry point for the arena CLI. With no subcommand it runs the whole
// tournament pipeline: preflight, roster, topology, services, tournament,
// snapshot validation and upload, then teardown.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kingrea/arena/internal/logbook"
	"github.com/kingrea/arena/internal/pipeline"
	"github.com/kingrea/arena/internal/roster"
	"github.com/kingrea/arena/internal/tui"
)

const usage = `Usage: arena [command] [flags]

Commands:
  run                 run the tournament pipeline (default)
  preflight           run the preflight checks only
  render              render the compose topology from the roster
  validate-snapshot   report the snapshot credentials status
  upload              upload an init, final or tournament snapshot
  stub                serve a minimal Battlesnake agent
  init                create the .arena project directory

Run "arena <command> -h" for command flags.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run dispatches to a subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	name := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name, args = args[0], args[1:]
	}
	switch name {
	case "run":
		return runPipeline(ctx, args, stdout, stderr)
	case "preflight":
		return runPreflight(ctx, args, stdout, stderr)
	case "render":
		return runRender(ctx, args, stdout, stderr)
	case "validate-snapshot":
		return runValidateSnapshot(ctx, args, stdout, stderr)
	case "upload":
		return runUpload(ctx, args, stdout, stderr)
	case "stub":
		return runStub(ctx, args, stdout, stderr)
	case "init":
		return runInit(args, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "arena: unknown command %q\n\n%s", name, usage)
		return 2
	}
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("arena "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// parseFlags returns -1 when parsing succeeded, otherwise the exit code.
func parseFlags(fs *flag.FlagSet, args []string) int {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	return -1
}

func runPipeline(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("run", stderr)
	common := bindCommon(fs)
	useTUI := fs.Bool("tui", isTerminal(asFile(stdout)), "show the interactive progress view")
	unique := fs.Bool("unique-run-id", false, "append a random suffix to the run id")
	skipUpload := fs.Bool("skip-upload", false, "validate snapshot credentials but never upload")
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}
	cfg, err := common.load()
	if err != nil {
		fmt.Fprintf(stderr, "arena: %v\n", err)
		return pipeline.ExitFailure
	}
	a, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "arena: %v\n", err)
		return pipeline.ExitFailure
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		view     pipeline.Observer
		stream   io.Writer
		progress *tui.Progress
	)
	if *useTUI {
		progress = tui.NewProgress(os.Stdin, stdout, cancel)
		progress.Start()
		view, stream = progress, progress.Stream()
	} else {
		console := tui.NewConsole(stdout)
		view, stream = console, console.Stream()
	}

	composeLog := a.book.Writer(logbook.LevelInfo, "compose")
	tournamentLog := a.book.Writer(logbook.LevelInfo, "tournament")
	defer composeLog.Close()
	defer tournamentLog.Close()

	orch, err := pipeline.New(pipeline.Deps{
		Preflight:  a.preflight(),
		LoadRoster: roster.Load,
		Renderer:   a.renderer(),
		Services:   a.services(io.MultiWriter(composeLog, stream)),
		Tournament: a.tournament(io.MultiWriter(tournamentLog, stream)),
		Validator:  a.validator(),
		Uploader:   a.uploader(),
	}, pipeline.Settings{
		RosterPath:      cfg.RosterPath(),
		ComposePath:     cfg.ComposePath(),
		CredentialsPath: cfg.CredentialsPath(),
		UniqueRunID:     *unique || cfg.Project.RunID.Unique,
		SkipUpload:      *skipUpload,
	}, pipeline.WithObserver(pipeline.Fanout(pipeline.JournalObserver(a.book), view)))
	if err != nil {
		fmt.Fprintf(stderr, "arena: %v\n", err)
		return pipeline.ExitFailure
	}

	a.book.Info("arena run started in %s", cfg.ProjectDir)
	summary, runErr := orch.Run(ctx)
	if progress != nil {
		if err := progress.Finish(runErr); err != nil {
			a.book.Warn("progress view: %v", err)
		}
	}
	fmt.Fprint(stdout, tui.RenderSummary(stdout, summary, runErr))
	code := pipeline.ExitCode(runErr)
	if runErr != nil {
		a.book.Error("arena run failed (exit %d): %v", code, runErr)
	} else {
		a.book.Info("arena run %s finished", summary.Run.ID)
	}
	return code
}

func runPreflight(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("preflight", stderr)
	common := bindCommon(fs)
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}
	cfg, err := common.load()
	if err != nil {
		fmt.Fprintf(stderr, "arena: %v\n", err)
		return pipeline.ExitFailure
	}
	a, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "arena: %v\n", err)
		return pipeline.ExitFailure
	}
	report := a.preflight().Run(ctx)
	fmt.Fprint(stdout, tui.RenderReport(stdout, report))
	if !report.OK() {
		a.book.Error("preflight: %d fatal check(s) failed", len(report.Failures()))
		return pipeline.ExitFailure
	}
	return 0
}

func runRender(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("render", stderr)
	common := bindCommon(fs)
	output := fs.String("output", "", "topology output path (overrides paths.compose_file)")
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}
	cfg, err := common.load()
	if err != nil {
		fmt.Fprintf(stderr, "arena: %v\n", err)
		return pipeline.ExitFailure
	}
	a, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "arena: %v\n", err)
		return pipeline.ExitFailure
	}
	tour, err := roster.Load(cfg.RosterPath())
	if err != nil {
		fmt.Fprintf(stderr, "arena: %v\n", err)
		return pipeline.ExitFailure
	}
	out := cfg.ComposePath()
	if strings.TrimSpace(*output) != "" {
		out = *output
	}
	topo, err := a.renderer().Render(ctx, tour, out)
	if err != nil {
		fmt.Fprintf(stderr, "arena: %v\n", err)
		return pipeline.ExitCode(err)
	}
	a.book.Info("rendered %d services to %s", len(topo.Services), topo.File)
	fmt.Fprintf(stdout, "Wrote %s\n", topo.File)
	for _, svc := range topo.Services {
		fmt.Fprintf(stdout, "  %-24s %s\n", svc.Name, svc.Endpoint)
	}
	return 0
}

func runInit(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("init", stderr)
	common := bindCommon(fs)
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}
	cfg, err := common.load()
	if err != nil {
		fmt.Fprintf(stderr, "arena: %v\n", err)
		return pipeline.ExitFailure
	}
	fmt.Fprintf(stdout, "Initialized %s\n", cfg.ArenaProjectDir)
	return 0
}

func asFile(w io.Writer) *os.File {
	f, _ := w.(*os.File)
	return f
}
