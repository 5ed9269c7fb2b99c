// Package storagetest starts migrated database containers for integration
// tests. Every helper skips the test under -short.
package storagetest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"market-state-engine/internal/storage/clickhouse"
	"market-state-engine/internal/storage/migrations"
	"market-state-engine/internal/storage/postgres"
)

const (
	postgresImage   = "postgres:15-alpine"
	clickhouseImage = "clickhouse/clickhouse-server:24.1-alpine"
	startupTimeout  = 60 * time.Second
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Postgres starts PostgreSQL, applies the embedded migrations and returns a
// pool that is closed when the test ends.
func Postgres(t *testing.T) *postgres.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, postgresImage,
		tcpostgres.WithDatabase("marketstate"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(startupTimeout),
		),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "postgres connection string")

	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err, "connect postgres")
	t.Cleanup(pool.Close)

	_, err = migrations.RunPostgresMigrations(ctx, pool, quietLogger())
	require.NoError(t, err, "postgres migrations")

	return pool
}

// Clickhouse starts ClickHouse, applies the embedded migrations and returns
// a connection to the migrated database plus its DSN.
func Clickhouse(t *testing.T) (*clickhouse.Conn, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        clickhouseImage,
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"CLICKHOUSE_USER":     "default",
				"CLICKHOUSE_PASSWORD": "",
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready for connections").WithStartupTimeout(startupTimeout),
				wait.ForListeningPort("9000/tcp"),
			),
		},
		Started: true,
	})
	require.NoError(t, err, "start clickhouse container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate clickhouse container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	dsn := fmt.Sprintf("clickhouse://default:@%s:%s/marketstate", host, port.Port())
	conn, _, err := migrations.RunClickhouseMigrations(ctx, dsn, quietLogger())
	require.NoError(t, err, "clickhouse migrations")
	t.Cleanup(func() { conn.Close() })

	return conn, dsn
}
