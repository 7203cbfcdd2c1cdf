//go:build integration

package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/turtacn/qrgate/internal/config"
	"github.com/turtacn/qrgate/pkg/logger"
)

func TestRepositories_Postgres(t *testing.T) {
	if os.Getenv("SKIP_DOCKER_TESTS") == "true" {
		t.Skip("Skipping Docker-dependent tests")
	}

	ctx := context.Background()
	pgContainer, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("qrgate"),
		tcpostgres.WithUsername("qrgate"),
		tcpostgres.WithPassword("password"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, testcontainers.TerminateContainer(pgContainer))
	}()

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	conn, err := NewDBConnection(ctx, &config.DatabaseConfig{
		Driver:      "postgres",
		Host:        host,
		Port:        port.Int(),
		User:        "qrgate",
		Password:    "password",
		Database:    "qrgate",
		SSLMode:     "disable",
		MaxConns:    5,
		MinConns:    1,
		AutoMigrate: true,
	}, logger.NewNoopLogger())
	require.NoError(t, err)
	defer conn.Close()

	health, err := conn.HealthCheck(ctx)
	require.NoError(t, err)
	require.Equal(t, "postgres", health["driver"])

	runRepositorySuite(t, conn.DB())
}
