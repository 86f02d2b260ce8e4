//go:build integration

package natsbridge

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/c360/controlbus/message"
)

func startNATSContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	req := testcontainers.ContainerRequest{
		Image:        "nats:2.11.7-alpine",
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor:   wait.ForListeningPort("4222/tcp"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)

	return container, fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func TestIntegration_ProxyRoundTrip(t *testing.T) {
	ctx := context.Background()
	container, url := startNATSContainer(ctx, t)
	defer func() {
		_ = container.Terminate(ctx)
	}()

	serverClient := NewClient(url, WithClientName("server"))
	require.NoError(t, serverClient.Connect(ctx))
	defer serverClient.Close()
	assert.Equal(t, StatusConnected, serverClient.Status())
	assert.True(t, serverClient.Health().IsHealthy())

	remote, remoteReg := newTestBus()
	methods := message.NewMethodTable()
	require.NoError(t, methods.Register("Add", message.Ref2(func(a *int, b *int) error {
		*a += *b
		return nil
	})))
	remoteReg.add("Calc", message.NewEndpoint("Calc", remote, message.WithMethods(methods)))

	server := NewServer(remote, []string{"Calc"})
	require.NoError(t, server.Start(ctx, serverClient.Conn()))
	defer server.Stop(time.Second)
	require.NoError(t, serverClient.Conn().Flush())

	proxyClient := NewClient(url, WithClientName("proxy"))
	require.NoError(t, proxyClient.Connect(ctx))
	defer proxyClient.Close()

	local, localReg := newTestBus()
	localReg.add("Calc", NewProxy("Calc", local, proxyClient.Conn()))

	msg := message.New("Calc", "Add",
		message.WithMaxWait(5*time.Second),
		message.WithPayload(40, 2))
	require.NoError(t, local.SendMessageAndWaitReply(ctx, msg, "Tester", 5*time.Second))
	assert.Equal(t, []any{42, 2}, msg.Payload())

	missing := message.New("Nowhere", "Add", message.WithMode(message.ExpectsReply))
	localReg.add("Nowhere", NewProxy("Nowhere", local, proxyClient.Conn()))
	err := local.SendMessageAndWaitReply(ctx, missing, "Tester", time.Second)
	assert.ErrorIs(t, err, ErrNoResponders)
}
