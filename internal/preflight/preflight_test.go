package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func lookPathAll(name string) (string, error) { return "/usr/bin/" + name, nil }

type workspace struct {
	rules, roster, entry, creds string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	dir := t.TempDir()
	ws := workspace{
		rules:  filepath.Join(dir, "rules", "battlesnake"),
		roster: filepath.Join(dir, "snakes_config.json"),
		entry:  filepath.Join(dir, "your_snake", "main.py"),
		creds:  filepath.Join(dir, "eval", "snapshot_config.json"),
	}
	for path, mode := range map[string]os.FileMode{ws.rules: 0o755, ws.roster: 0o644, ws.entry: 0o644} {
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), mode))
	}
	return ws
}

func (ws workspace) options() Options {
	return Options{
		Interpreter:     "python3",
		RulesCLI:        ws.rules,
		RosterPath:      ws.roster,
		EntryPoint:      ws.entry,
		CredentialsPath: ws.creds,
		Pinger:          stubPinger{},
		LookPath:        lookPathAll,
	}
}

func TestStandardPassesWithoutCredentials(t *testing.T) {
	ws := newWorkspace(t)
	report := NewChecker(Standard(ws.options())...).Run(context.Background())
	require.Len(t, report.Results, 7)
	assert.True(t, report.OK(), "missing credentials is advisory")
	last := report.Results[6]
	assert.True(t, last.Advisory)
	assert.Error(t, last.Err)
	assert.Empty(t, report.Failures())
}

func TestStandardReportsEveryFailure(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.Chmod(ws.rules, 0o644))
	require.NoError(t, os.Remove(ws.entry))
	opts := ws.options()
	opts.Pinger = stubPinger{err: errors.New("dial unix /var/run/docker.sock: connect: no such file")}
	opts.LookPath = func(name string) (string, error) {
		if name == "python3" {
			return "", errors.New("missing")
		}
		return "/usr/bin/" + name, nil
	}

	report := NewChecker(Standard(opts)...).Run(context.Background())
	assert.False(t, report.OK())
	var failed []string
	for _, res := range report.Failures() {
		failed = append(failed, res.Name)
	}
	assert.Equal(t, []string{"tournament interpreter", "rules engine", "container daemon", "agent entry point"}, failed)
	assert.Contains(t, report.Results[1].Err.Error(), "not executable")
}

func TestCheckerRunsChecksConcurrently(t *testing.T) {
	var running, peak int32
	slow := func(context.Context) (string, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return "", nil
	}
	report := NewChecker(Check{Name: "a", Run: slow}, Check{Name: "b", Run: slow}, Check{Name: "c", Run: slow}).Run(context.Background())
	assert.True(t, report.OK())
	assert.Equal(t, []string{"a", "b", "c"}, []string{report.Results[0].Name, report.Results[1].Name, report.Results[2].Name})
	assert.Greater(t, atomic.LoadInt32(&peak), int32(1))
}
