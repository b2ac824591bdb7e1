package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/arena/internal/agentstub"
	"github.com/kingrea/arena/internal/command"
	"github.com/kingrea/arena/internal/roster"
	"github.com/kingrea/arena/internal/topology"
)

type fakeRuntime struct {
	mu        sync.Mutex
	ups       int
	downs     int
	upErr     error
	downCtxOK bool
}

func (f *fakeRuntime) Up(context.Context, topology.Topology) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ups++
	return f.upErr
}

func (f *fakeRuntime) Down(ctx context.Context, _ topology.Topology) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downs++
	f.downCtxOK = ctx.Err() == nil
	return nil
}

type flakyProber struct {
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
}

func (p *flakyProber) Probe(_ context.Context, endpoint string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = map[string]int{}
	}
	p.calls[endpoint]++
	if left, ok := p.failures[endpoint]; ok && (left < 0 || p.calls[endpoint] <= left) {
		return errors.New("connection refused")
	}
	return nil
}

func sampleTopology() topology.Topology {
	return topology.Describe(roster.Tournament{Agents: []roster.AgentSpec{
		{Name: "alpha", Port: 7001},
		{Name: "beta", Port: 7002},
	}}, "docker-compose.test.yml", "")
}

func fastReadiness() Readiness {
	return Readiness{
		Mode:            ModePoll,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Deadline:        150 * time.Millisecond,
	}
}

func TestScopeTearsDownOnceOnSuccess(t *testing.T) {
	rt := &fakeRuntime{}
	m := NewManager(rt)
	called := false
	err := m.Scope(context.Background(), sampleTopology(), func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, 1, rt.ups)
	assert.Equal(t, 1, rt.downs)
}

func TestScopeTearsDownOnceOnFailure(t *testing.T) {
	rt := &fakeRuntime{}
	m := NewManager(rt)
	boom := errors.New("tournament exploded")
	err := m.Scope(context.Background(), sampleTopology(), func(ctx context.Context) error {
		require.NoError(t, m.Teardown(ctx))
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, rt.downs, "explicit teardown inside the scope must not double up")
}

func TestScopeStartFailureSkipsBodyButTearsDown(t *testing.T) {
	rt := &fakeRuntime{upErr: &command.ExitError{Command: "docker compose up", Code: 1}}
	m := NewManager(rt)
	err := m.Scope(context.Background(), sampleTopology(), func(context.Context) error {
		t.Fatal("body must not run when start fails")
		return nil
	})
	require.ErrorIs(t, err, ErrStart)
	code, ok := command.ExitCode(err)
	assert.True(t, ok)
	assert.Equal(t, 1, code)
	assert.Equal(t, 1, rt.downs)
}

func TestScopeTearsDownOnPanic(t *testing.T) {
	rt := &fakeRuntime{}
	m := NewManager(rt)
	assert.Panics(t, func() {
		_ = m.Scope(context.Background(), sampleTopology(), func(context.Context) error {
			panic("agent crashed the orchestrator")
		})
	})
	assert.Equal(t, 1, rt.downs)
}

func TestScopeTearsDownWithLiveContextAfterCancel(t *testing.T) {
	rt := &fakeRuntime{}
	m := NewManager(rt)
	ctx, cancel := context.WithCancel(context.Background())
	err := m.Scope(ctx, sampleTopology(), func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, rt.downs)
	assert.True(t, rt.downCtxOK, "teardown should not inherit the canceled context")
}

func TestTeardownIsNoOpWhenNothingStarted(t *testing.T) {
	rt := &fakeRuntime{}
	m := NewManager(rt)
	require.NoError(t, m.Teardown(context.Background()))
	require.NoError(t, m.Teardown(context.Background()))
	assert.Equal(t, 0, rt.downs)
}

func TestStartTwiceFails(t *testing.T) {
	m := NewManager(&fakeRuntime{})
	require.NoError(t, m.Start(context.Background(), sampleTopology()))
	require.ErrorIs(t, m.Start(context.Background(), sampleTopology()), ErrStart)
}

func TestAwaitReadyPollsUntilAgentsAnswer(t *testing.T) {
	topo := sampleTopology()
	prober := &flakyProber{failures: map[string]int{
		topo.Services[0].Endpoint: 2,
		topo.Services[1].Endpoint: -1,
	}}
	m := NewManager(&fakeRuntime{}, WithProber(prober), WithReadiness(fastReadiness()))
	warnings, err := m.AwaitReady(context.Background(), topo)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, "beta", warnings[0].Service)
	assert.Contains(t, warnings[0].Error(), "connection refused")
	assert.Equal(t, 3, prober.calls[topo.Services[0].Endpoint])
	assert.Greater(t, prober.calls[topo.Services[1].Endpoint], 1)
}

func TestAwaitReadyFixedModeSleepsThenProbesOnce(t *testing.T) {
	topo := sampleTopology()
	prober := &flakyProber{failures: map[string]int{topo.Services[1].Endpoint: -1}}
	var slept time.Duration
	m := NewManager(&fakeRuntime{},
		WithProber(prober),
		WithReadiness(Readiness{Mode: ModeFixed, FixedWait: 20 * time.Second}),
		WithSleep(func(_ context.Context, d time.Duration) error {
			slept = d
			return nil
		}),
	)
	warnings, err := m.AwaitReady(context.Background(), topo)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, slept)
	require.Len(t, warnings, 1)
	assert.Equal(t, 1, prober.calls[topo.Services[0].Endpoint])
	assert.Equal(t, 1, prober.calls[topo.Services[1].Endpoint])
}

func TestAwaitReadyReturnsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewManager(&fakeRuntime{}, WithReadiness(Readiness{Mode: ModeFixed, FixedWait: time.Hour}))
	_, err := m.AwaitReady(ctx, sampleTopology())
	require.ErrorIs(t, err, context.Canceled)
}

func TestHTTPProber(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(healthy.Close)
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(broken.Close)

	p := HTTPProber{}
	require.NoError(t, p.Probe(context.Background(), healthy.URL))
	err := p.Probe(context.Background(), broken.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestAwaitReadyAgainstStubAgent(t *testing.T) {
	stub := agentstub.NewServer(agentstub.Settings{Name: "stub", Host: "127.0.0.1", Port: 0})
	require.NoError(t, stub.Start(context.Background()))
	t.Cleanup(func() { _ = stub.Shutdown(context.Background()) })

	topo := topology.Topology{Services: []topology.Service{
		{Agent: roster.AgentSpec{Name: "stub"}, Endpoint: stub.BaseURL()},
	}}
	m := NewManager(&fakeRuntime{}, WithReadiness(fastReadiness()))
	warnings, err := m.AwaitReady(context.Background(), topo)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

type recordingRunner struct {
	specs []command.Spec
}

func (r *recordingRunner) Run(_ context.Context, spec command.Spec) (command.Result, error) {
	r.specs = append(r.specs, spec)
	return command.Result{}, nil
}

func TestComposeRuntimeCommands(t *testing.T) {
	runner := &recordingRunner{}
	rt := ComposeRuntime{Runner: runner}
	topo := sampleTopology()
	require.NoError(t, rt.Up(context.Background(), topo))
	require.NoError(t, rt.Down(context.Background(), topo))
	require.Len(t, runner.specs, 2)
	assert.Equal(t, "docker compose -p arena -f docker-compose.test.yml up -d --build", runner.specs[0].String())
	assert.Equal(t, "docker compose -p arena -f docker-compose.test.yml down --remove-orphans", runner.specs[1].String())
	assert.False(t, strings.Contains(strings.Join(runner.specs[0].Env, " "), "_PORT"))
}
