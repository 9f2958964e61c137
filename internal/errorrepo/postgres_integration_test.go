package errorrepo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/orderingest/core/internal/apperr"
	"github.com/orderingest/core/internal/order"
	"github.com/orderingest/core/internal/partner"
)

// TestPostgresIntegration exercises the Postgres-backed error repository
// against a real database. Skipped under -short since it requires a
// Docker daemon.
func TestPostgresIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testcontainers-based integration test in -short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432")
	require.NoError(t, err)
	dsn := "postgres://postgres:postgres@" + host + ":" + port.Port() + "/testdb?sslmode=disable"

	repo, err := NewPostgres(ctx, dsn, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	extID := "ord-pg-1"
	ev := &order.ErrorEvent{
		ID:              uuid.New(),
		PartnerID:       partner.A,
		ExternalOrderID: &extID,
		ErrorCode:       apperr.CodeNegativeNumber,
		Message:         "quantity must be positive",
		Details: []order.ErrorDetail{
			{Field: "quantity", Code: apperr.CodeNegativeNumber, Message: "quantity must be positive"},
		},
		OriginalPayload: map[string]any{"quantity": -1},
		Timestamp:       time.Now().UTC(),
	}
	require.NoError(t, repo.Save(ctx, ev))

	got, err := repo.FindByID(ctx, ev.ID.String())
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, ev.Message, got.Message)
	require.Equal(t, ev.ErrorCode, got.ErrorCode)

	count, err := repo.Count(ctx, Filters{})
	require.NoError(t, err)
	require.Equal(t, 1, count)

	stats, err := repo.GetStatistics(ctx, Filters{})
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalErrors)

	require.NoError(t, repo.Clear(ctx))
	count, err = repo.Count(ctx, Filters{})
	require.NoError(t, err)
	require.Equal(t, 0, count)
}
