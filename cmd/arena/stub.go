package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/kingrea/arena/internal/agentstub"
	"github.com/kingrea/arena/internal/pipeline"
)

type stdoutLogger struct{ out io.Writer }

func (l stdoutLogger) Printf(format string, args ...any) {
	fmt.Fprintf(l.out, format+"\n", args...)
}

// runStub serves the stub agent until interrupted. PORT and SNAKE_NAME are
// read from the environment first, as they are inside a container.
func runStub(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	settings := agentstub.SettingsFromEnv()
	fs := newFlagSet("stub", stderr)
	fs.StringVar(&settings.Name, "name", settings.Name, "snake name reported on GET /")
	fs.StringVar(&settings.Host, "host", settings.Host, "bind host")
	fs.IntVar(&settings.Port, "port", settings.Port, "bind port")
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}
	srv := agentstub.NewServer(settings, agentstub.WithLogger(stdoutLogger{stdout}))
	if err := srv.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "arena: %v\n", err)
		return pipeline.ExitFailure
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(stderr, "arena: shutdown: %v\n", err)
		return pipeline.ExitFailure
	}
	games, moves := srv.Stats()
	fmt.Fprintf(stdout, "stub stopped after %d games, %d moves\n", games, moves)
	return 0
}
