//go:build integration

package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kingrea/arena/internal/roster"
	"github.com/kingrea/arena/internal/topology"
)

// containerRuntime starts one HTTP container per Up and removes it on Down.
type containerRuntime struct {
	container testcontainers.Container
	endpoint  string
}

func (c *containerRuntime) Up(ctx context.Context, _ topology.Topology) error {
	req := testcontainers.ContainerRequest{
		Image:        "nginx:alpine",
		ExposedPorts: []string{"80/tcp"},
		WaitingFor:   wait.ForListeningPort("80/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return err
	}
	c.container = container
	host, err := container.Host(ctx)
	if err != nil {
		return err
	}
	port, err := container.MappedPort(ctx, "80")
	if err != nil {
		return err
	}
	c.endpoint = fmt.Sprintf("http://%s:%s", host, port.Port())
	return nil
}

func (c *containerRuntime) Down(ctx context.Context, _ topology.Topology) error {
	if c.container == nil {
		return nil
	}
	err := c.container.Terminate(ctx)
	c.container = nil
	return err
}

func TestAwaitReadyAgainstContainer(t *testing.T) {
	rt := &containerRuntime{}
	mgr := NewManager(rt, WithReadiness(Readiness{
		Mode:            ModePoll,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     time.Second,
		Deadline:        5 * time.Second,
	}))

	err := mgr.Scope(context.Background(), topology.Topology{Project: "arena-it"}, func(ctx context.Context) error {
		topo := topology.Topology{
			Project: "arena-it",
			Services: []topology.Service{
				{Agent: roster.AgentSpec{Name: "up"}, Name: "up-service", Endpoint: rt.endpoint},
				{Agent: roster.AgentSpec{Name: "down"}, Name: "down-service", Endpoint: "http://127.0.0.1:1"},
			},
		}
		warnings, err := mgr.AwaitReady(ctx, topo)
		require.NoError(t, err)
		require.Len(t, warnings, 1)
		assert.Equal(t, "down", warnings[0].Service)
		return nil
	})
	require.NoError(t, err)
	assert.Nil(t, rt.container, "container should be removed by teardown")
}
