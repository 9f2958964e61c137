package orderrepo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/orderingest/core/internal/order"
	"github.com/orderingest/core/internal/partner"
)

// TestPostgresIntegration exercises the Postgres-backed repository against
// a real database. Skipped under -short since it requires a Docker daemon.
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

	ev := &order.Event{
		ID:              uuid.New(),
		ExternalOrderID: "ord-pg-1",
		PartnerID:       partner.A,
		SequenceNumber:  1,
		ProductID:       "sku-1",
		CustomerID:      "cust-1",
		Quantity:        2,
		UnitPrice:       decimal.RequireFromString("9.99"),
		TaxRate:         decimal.RequireFromString("0.08"),
		GrossAmount:     decimal.RequireFromString("19.98"),
		TaxAmount:       decimal.RequireFromString("1.60"),
		NetAmount:       decimal.RequireFromString("21.58"),
		TransactionTime: order.NewTimestamp(time.Now()),
		ProcessedAt:     order.NewTimestamp(time.Now()),
	}
	require.NoError(t, repo.Save(ctx, ev))

	got, err := repo.FindByID(ctx, ev.ID.String())
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, ev.ExternalOrderID, got.ExternalOrderID)
	require.True(t, ev.NetAmount.Equal(got.NetAmount))

	exists, err := repo.ExistsByExternalID(ctx, "ord-pg-1", partner.A)
	require.NoError(t, err)
	require.True(t, exists)

	byExt, err := repo.FindByExternalID(ctx, "ord-pg-1", partner.A)
	require.NoError(t, err)
	require.NotNil(t, byExt)

	count, err := repo.Count(ctx, Filters{})
	require.NoError(t, err)
	require.Equal(t, 1, count)

	stats, err := repo.GetStatistics(ctx, Filters{})
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalOrders)

	require.NoError(t, repo.Clear(ctx))
	count, err = repo.Count(ctx, Filters{})
	require.NoError(t, err)
	require.Equal(t, 0, count)
}
