//go:build integration

package mongo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/renderq/store"
	mongostore "github.com/xraph/renderq/store/mongo"
	"github.com/xraph/renderq/store/storetest"
)

func setupTestStore(t *testing.T) storetest.Factory {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor: wait.ForLog("Waiting for connections").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "start mongo container")
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	endpoint, err := container.PortEndpoint(ctx, "27017/tcp", "mongodb")
	require.NoError(t, err)

	s, err := mongostore.Open(ctx, endpoint, "renderq_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))

	return func(t *testing.T) store.Store {
		t.Helper()
		for _, col := range []string{"renderq_jobs", "renderq_dlq", "renderq_subscriptions", "renderq_counters"} {
			_, err := s.Database().Collection(col).DeleteMany(ctx, map[string]any{})
			require.NoError(t, err)
		}
		return s
	}
}

func TestConformance(t *testing.T) {
	storetest.Run(t, setupTestStore(t))
}
