package helper

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testDbName     = "database"
	testDbUser     = "user"
	testDbPassword = "password"
)

// MustStartPostgresContainer starts a PostgreSQL container for tests and examples.
// It returns the terminate function of the container and the mapped host port.
func MustStartPostgresContainer() (func(ctx context.Context, opts ...testcontainers.TerminateOption) error, string, error) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(
		ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(testDbName),
		postgres.WithUsername(testDbUser),
		postgres.WithPassword(testDbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, "", NewError("run postgres container", err)
	}

	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return pgContainer.Terminate, "", NewError("mapped port", err)
	}

	return pgContainer.Terminate, port.Port(), nil
}

// SetTestDatabaseConfigEnvs sets the CTIGRAPH_DB_* variables for the test container.
func SetTestDatabaseConfigEnvs(t *testing.T, dbPort string) {
	t.Setenv("CTIGRAPH_DB_HOST", "localhost")
	t.Setenv("CTIGRAPH_DB_PORT", dbPort)
	t.Setenv("CTIGRAPH_DB_DATABASE", testDbName)
	t.Setenv("CTIGRAPH_DB_USERNAME", testDbUser)
	t.Setenv("CTIGRAPH_DB_PASSWORD", testDbPassword)
	t.Setenv("CTIGRAPH_DB_SCHEMA", "public")
	t.Setenv("CTIGRAPH_DB_SSLMODE", "disable")
}
