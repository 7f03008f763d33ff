package repository

import (
	"context"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedisContainer(t *testing.T) (testcontainers.Container, *redis.Client) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := redisContainer.Host(ctx)
	require.NoError(t, err)

	port, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
		DB:   0,
	})
	require.NoError(t, client.Ping(ctx).Err())

	return redisContainer, client
}

func TestRedisWorkflowStore(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	container, client := setupRedisContainer(t)
	defer container.Terminate(context.Background())
	defer client.Close()

	testStoreContract(t, func(t *testing.T) WorkflowStore {
		require.NoError(t, client.FlushDB(context.Background()).Err())
		return NewRedisWorkflowStore(client, "test")
	})
}
