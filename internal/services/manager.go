// Package services brings the agent topology up, waits for every agent to
// answer, and tears the topology down again.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/arena/internal/topology"
)

const (
	ModePoll  = "poll"
	ModeFixed = "fixed"

	defaultTeardownTimeout = 2 * time.Minute
)

var (
	ErrStart    = errors.New("services: start failed")
	ErrTeardown = errors.New("services: teardown failed")
)

// Runtime launches and removes a rendered topology.
type Runtime interface {
	Up(ctx context.Context, topo topology.Topology) error
	Down(ctx context.Context, topo topology.Topology) error
}

// Prober checks whether a single agent endpoint answers.
type Prober interface {
	Probe(ctx context.Context, endpoint string) error
}

// Logger records lifecycle diagnostics.
type Logger interface {
	Printf(format string, args ...any)
}

// Readiness configures how long the manager waits for agents after start.
type Readiness struct {
	Mode            string
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Deadline        time.Duration
	FixedWait       time.Duration
}

// DefaultReadiness polls from 500ms up to 2s between attempts for at most 60s.
func DefaultReadiness() Readiness {
	return Readiness{
		Mode:            ModePoll,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Deadline:        60 * time.Second,
		FixedWait:       20 * time.Second,
	}
}

// LivenessWarning records an agent that did not answer. It never aborts a run.
type LivenessWarning struct {
	Service  string
	Endpoint string
	Err      error
}

func (w LivenessWarning) Error() string {
	return fmt.Sprintf("%s (%s) is not responding: %v", w.Service, w.Endpoint, w.Err)
}

func (w LivenessWarning) Unwrap() error { return w.Err }

// Manager owns one topology's lifetime.
type Manager struct {
	runtime         Runtime
	prober          Prober
	readiness       Readiness
	logger          Logger
	sleep           func(context.Context, time.Duration) error
	teardownTimeout time.Duration

	mu       sync.Mutex
	started  bool
	tornDown bool
	topo     topology.Topology
}

// Option customizes a Manager.
type Option func(*Manager)

// WithProber overrides the HTTP prober.
func WithProber(p Prober) Option {
	return func(m *Manager) {
		if p != nil {
			m.prober = p
		}
	}
}

// WithReadiness overrides the readiness policy.
func WithReadiness(r Readiness) Option {
	return func(m *Manager) { m.readiness = r }
}

// WithLogger routes lifecycle diagnostics.
func WithLogger(l Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithSleep replaces the fixed-mode wait (tests).
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(m *Manager) {
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

// WithTeardownTimeout bounds the detached teardown call.
func WithTeardownTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.teardownTimeout = d
		}
	}
}

// NewManager prepares a manager over rt.
func NewManager(rt Runtime, opts ...Option) *Manager {
	m := &Manager{
		runtime:         rt,
		prober:          HTTPProber{Client: &http.Client{Timeout: 2 * time.Second}},
		readiness:       DefaultReadiness(),
		logger:          nopLogger{},
		sleep:           sleepContext,
		teardownTimeout: defaultTeardownTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Start launches topo. It does not wait for agents to become ready.
// Once Start has been called, Teardown has work to do even if Start failed,
// since a partial launch may have left containers behind.
func (m *Manager) Start(ctx context.Context, topo topology.Topology) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("%w: topology already started", ErrStart)
	}
	m.started = true
	m.topo = topo
	m.mu.Unlock()

	m.logger.Printf("starting %d services from %s", len(topo.Services), topo.File)
	if err := m.runtime.Up(ctx, topo); err != nil {
		return fmt.Errorf("%w: %w", ErrStart, err)
	}
	return nil
}

// AwaitReady waits for every service according to the readiness policy and
// returns one warning per agent that never answered. The only error is
// cancellation of ctx.
func (m *Manager) AwaitReady(ctx context.Context, topo topology.Topology) ([]LivenessWarning, error) {
	if m.readiness.Mode == ModeFixed {
		m.logger.Printf("waiting %s for services to boot", m.readiness.FixedWait)
		if err := m.sleep(ctx, m.readiness.FixedWait); err != nil {
			return nil, err
		}
	}

	results := make([]error, len(topo.Services))
	g, gctx := errgroup.WithContext(ctx)
	for i, svc := range topo.Services {
		i, svc := i, svc
		g.Go(func() error {
			results[i] = m.awaitService(gctx, svc)
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var warnings []LivenessWarning
	for i, err := range results {
		if err == nil {
			continue
		}
		svc := topo.Services[i]
		warnings = append(warnings, LivenessWarning{Service: svc.Agent.Name, Endpoint: svc.Endpoint, Err: err})
	}
	return warnings, nil
}

func (m *Manager) awaitService(ctx context.Context, svc topology.Service) error {
	if m.readiness.Mode == ModeFixed {
		return m.prober.Probe(ctx, svc.Endpoint)
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.readiness.InitialInterval
	policy.MaxInterval = m.readiness.MaxInterval
	policy.MaxElapsedTime = m.readiness.Deadline
	policy.RandomizationFactor = 0

	deadline, cancel := context.WithTimeout(ctx, m.readiness.Deadline)
	defer cancel()
	attempts := 0
	var lastErr error
	err := backoff.Retry(func() error {
		attempts++
		lastErr = m.prober.Probe(deadline, svc.Endpoint)
		return lastErr
	}, backoff.WithContext(policy, deadline))
	if err == nil {
		m.logger.Printf("%s ready after %d probe(s)", svc.Agent.Name, attempts)
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("no answer after %d probe(s) in %s: %w", attempts, m.readiness.Deadline, lastErr)
	}
	return err
}

// Teardown removes the topology. It is a no-op when nothing was started or
// when teardown already ran.
func (m *Manager) Teardown(ctx context.Context) error {
	m.mu.Lock()
	if !m.started || m.tornDown {
		m.mu.Unlock()
		return nil
	}
	m.tornDown = true
	topo := m.topo
	m.mu.Unlock()

	m.logger.Printf("tearing down %s", topo.Project)
	if err := m.runtime.Down(ctx, topo); err != nil {
		return fmt.Errorf("%w: %w", ErrTeardown, err)
	}
	return nil
}

// Scope starts topo, runs fn, and tears the topology down exactly once on
// every exit path, including panics and cancellation of ctx. A Start failure
// is returned without calling fn. Teardown failures are logged, not returned.
func (m *Manager) Scope(ctx context.Context, topo topology.Topology, fn func(context.Context) error) (err error) {
	defer func() {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.teardownTimeout)
		defer cancel()
		if terr := m.Teardown(tctx); terr != nil {
			m.logger.Printf("%v", terr)
		}
	}()
	if err := m.Start(ctx, topo); err != nil {
		return err
	}
	return fn(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
