// Package testutil provides shared helpers for integration tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/c360/cloudrelay/natsclient"
)

// StartNATSContainer runs a throwaway NATS server with JetStream enabled
// and returns its client URL. The container is removed when the test ends.
func StartNATSContainer(ctx context.Context, t *testing.T) string {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "nats:latest",
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor:   wait.ForListeningPort("4222/tcp"),
		Cmd:          []string{"-js"},
	}

	natsContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = natsContainer.Terminate(context.Background())
	})

	host, err := natsContainer.Host(ctx)
	require.NoError(t, err)

	port, err := natsContainer.MappedPort(ctx, "4222")
	require.NoError(t, err)

	// Give JetStream a moment to finish initializing.
	time.Sleep(200 * time.Millisecond)

	return fmt.Sprintf("nats://%s:%s", host, port.Port())
}

// ConnectNATS opens a connected client against the test server and closes
// it when the test ends.
func ConnectNATS(ctx context.Context, t *testing.T, url, name string) *natsclient.Client {
	t.Helper()

	nc, err := natsclient.NewClient(url, name, nil)
	require.NoError(t, err)
	require.NoError(t, nc.Connect(ctx))
	t.Cleanup(nc.Close)

	return nc
}
