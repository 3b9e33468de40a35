package taskstore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"goa.design/a2aruntime/runtime/task"
	"goa.design/a2aruntime/runtime/taskstore"
)

// TestRedisSaveLoadRoundTrip exercises taskstore.Redis against a real
// Redis server, started in a disposable container. Grounded on the
// teacher's registry/health_tracker_integration_test.go container-setup
// pattern (recover-on-panic so a missing Docker daemon skips instead of
// failing the suite).
func TestRedisSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()

	client, terminate, ok := startRedisContainer(ctx, t)
	if !ok {
		t.Skip("docker not available, skipping redis integration test")
	}
	defer terminate()
	defer client.Close()

	store := taskstore.NewRedis(client, time.Minute)
	want := &task.Task{TaskID: "t1", ContextID: "c1", Status: task.Status{State: task.StateCompleted}}

	require.NoError(t, store.Save(ctx, want))
	got, found, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want.TaskID, got.TaskID)
	assert.Equal(t, want.Status.State, got.Status.State)

	_, found, err = store.Load(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func startRedisContainer(ctx context.Context, t *testing.T) (client *redis.Client, terminate func(), ok bool) {
	t.Helper()

	var container testcontainers.Container
	var setupErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				setupErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		container, setupErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if setupErr != nil {
		return nil, nil, false
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, false
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, false
	}

	client = redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		_ = container.Terminate(ctx)
		return nil, nil, false
	}

	return client, func() { _ = container.Terminate(ctx) }, true
}
