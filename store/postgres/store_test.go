//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/renderq/store"
	"github.com/xraph/renderq/store/postgres"
	"github.com/xraph/renderq/store/storetest"
)

// setupTestStore starts one Postgres container for the whole suite and
// returns a factory that hands out the migrated store with empty tables.
func setupTestStore(t *testing.T) storetest.Factory {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "renderq_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	endpoint, err := container.PortEndpoint(ctx, "5432/tcp", "")
	require.NoError(t, err)

	s, err := postgres.New(ctx,
		fmt.Sprintf("postgres://test:test@%s/renderq_test?sslmode=disable", endpoint),
		postgres.WithLogger(slog.Default()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))

	return func(t *testing.T) store.Store {
		t.Helper()
		_, err := s.Pool().Exec(ctx,
			`TRUNCATE renderq_jobs, renderq_dlq, renderq_subscriptions RESTART IDENTITY`)
		require.NoError(t, err)
		return s
	}
}

func TestConformance(t *testing.T) {
	storetest.Run(t, setupTestStore(t))
}
