package marketdata

import (
	"context"
	"testing"
	"time"

	"ohlcv-collector/internal/config"
	"ohlcv-collector/internal/infrastructure/marketdata/memory"
	"ohlcv-collector/internal/infrastructure/marketdata/repotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestRepository starts a PostgreSQL container and applies the schema.
func setupTestRepository(t *testing.T) *Repository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("ohlcv"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	repo, err := NewRepository(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	require.NoError(t, repo.EnsureSchema(ctx))
	require.NoError(t, repo.EnsureSchema(ctx), "schema must be re-appliable")
	return repo
}

func TestRepositoryContract(t *testing.T) {
	repo := setupTestRepository(t)
	require.NoError(t, repo.Ping(context.Background()))
	repotest.Run(t, repo)
}

func TestOpenRepository(t *testing.T) {
	repo, err := OpenRepository(context.Background(), config.StoreConfig{Backend: config.StoreBackendMemory}, true)
	require.NoError(t, err)
	assert.IsType(t, &memory.Repository{}, repo)

	_, err = OpenRepository(context.Background(), config.StoreConfig{Backend: "sqlite"}, true)
	assert.Error(t, err)
}

func TestMetadataHelpers(t *testing.T) {
	data, err := marshalMetadata(nil)
	require.NoError(t, err)
	assert.Nil(t, data)

	data, err = marshalMetadata(map[string]any{"figi": "BBG004730N88"})
	require.NoError(t, err)
	meta, err := unmarshalMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, "BBG004730N88", meta["figi"])

	meta, err = unmarshalMetadata(nil)
	require.NoError(t, err)
	assert.Nil(t, meta)
}
