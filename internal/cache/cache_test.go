package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/riskforge/riskforge/internal/cache"
	"github.com/riskforge/riskforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a connected RedisCache + cleanup.
func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	redisURL := "redis://" + host + ":" + port.Port()
	rc, err := cache.NewRedisCache(redisURL)
	require.NoError(t, err)

	return rc
}

// --- Ping ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	err := rc.Ping(context.Background())
	assert.NoError(t, err)
}

// --- Set / Get roundtrip ---

func TestSetGet_Roundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	err := rc.Set(ctx, "test:key", []byte("hello"), 10*time.Second)
	require.NoError(t, err)

	val, found, err := rc.Get(ctx, "test:key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), val)
}

func TestGet_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)

	val, found, err := rc.Get(context.Background(), "nonexistent:key")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
}

func TestDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "test:del", []byte("x"), 10*time.Second))
	require.NoError(t, rc.Delete(ctx, "test:del"))

	_, found, err := rc.Get(ctx, "test:del")
	require.NoError(t, err)
	assert.False(t, found)
}

// --- Task status mirror ---

func TestTaskStatus_Roundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	taskID := models.NewTaskID()
	err := rc.SetTaskStatus(ctx, taskID, models.TaskStatusProcessing, 10*time.Second)
	require.NoError(t, err)

	status, found, err := rc.GetTaskStatus(ctx, taskID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, models.TaskStatusProcessing, status)
}

func TestTaskStatus_Miss(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)

	status, found, err := rc.GetTaskStatus(context.Background(), "pred_never_seen")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, status)
}

func TestTaskStatus_Overwrite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	taskID := models.NewTaskID()
	require.NoError(t, rc.SetTaskStatus(ctx, taskID, models.TaskStatusPending, 10*time.Second))
	require.NoError(t, rc.SetTaskStatus(ctx, taskID, models.TaskStatusCompleted, 10*time.Second))

	status, found, err := rc.GetTaskStatus(ctx, taskID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, models.TaskStatusCompleted, status)
}

// --- IncrWithExpiry (rate limiting) ---

func TestIncrWithExpiry_Counts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	key := cache.RateLimitKey("rf_test1", "write")
	for want := int64(1); want <= 3; want++ {
		got, err := rc.IncrWithExpiry(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
