//go:build integration

// Package containers provides testcontainers-go helpers for integration
// testing against real service containers.
//
// All helpers in this package are gated behind the "integration" build
// tag so they do not pull Docker-related dependencies into unit test
// builds. Use them exclusively from test files that carry the same tag:
//
//	//go:build integration
//
// # Redis
//
// [StartRedis] starts a Redis 7 container and returns a [RedisResult]
// containing the container handle and a connection string (redis://...):
//
//	result, err := containers.StartRedis(ctx)
//	if err != nil { ... }
//	defer result.Container.Terminate(ctx)
//
// # PostgreSQL
//
// [StartPostgres] starts a PostgreSQL 16 container and returns a
// [PostgresResult] with a connection string (sslmode=disable, because
// testcontainers expose the database on localhost without TLS).
//
// # Adding New Helpers
//
// When a new client package is implemented, add a corresponding Start*
// function that returns a *Result struct with the container handle and
// any connection details the client needs.
package containers

import (
	"context"
	"fmt"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// DefaultRedisImage is the container image used for Redis integration
// tests. Alpine variant is used for minimal image size (~30 MB) and
// fast startup.
const DefaultRedisImage = "docker.io/redis:7-alpine"

// RedisResult holds a started Redis container and the connection string
// needed to connect to it. The caller is responsible for terminating
// the container when it is no longer needed:
//
//	defer result.Container.Terminate(ctx)
//
// ConnString is in Redis URI format (e.g., "redis://localhost:55679/0").
type RedisResult struct {
	// Container is the started Redis testcontainer. Use it to
	// retrieve mapped ports, inspect logs, or terminate the container.
	Container *tcredis.RedisContainer

	// ConnString is a Redis connection string in URI format
	// (e.g., "redis://localhost:55679/0"). Pass this directly
	// to the Redis client configuration.
	ConnString string
}

// StartRedis starts a Redis 7 container using testcontainers-go and
// returns a [RedisResult] containing the container handle and a
// connection string.
//
// The container is configured with [DefaultRedisImage] and no
// authentication (suitable for ephemeral test containers on a trusted
// local network).
//
// The caller must terminate the container when done:
//
//	result, err := containers.StartRedis(ctx)
//	if err != nil {
//	    return err
//	}
//	defer result.Container.Terminate(ctx)
func StartRedis(ctx context.Context) (*RedisResult, error) {
	container, err := tcredis.Run(ctx, DefaultRedisImage)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start redis container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		// Clean up the started container before returning the error.
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get connection string: %w", err)
	}

	return &RedisResult{
		Container:  container,
		ConnString: connStr,
	}, nil
}

// DefaultPostgresImage is the container image used for PostgreSQL
// integration tests.
const DefaultPostgresImage = "docker.io/postgres:16-alpine"

// DefaultPostgresDatabase is the database name created inside the
// PostgreSQL container for integration tests.
const DefaultPostgresDatabase = "gateway_test"

// DefaultPostgresUser is the superuser name for the PostgreSQL
// container.
const DefaultPostgresUser = "testuser"

// DefaultPostgresPassword is the password for the test superuser. A
// deliberately weak credential suitable only for ephemeral test
// containers on a trusted local network.
const DefaultPostgresPassword = "testpassword"

// PostgresResult holds a started PostgreSQL container and the
// connection string needed to connect to it. The caller is responsible
// for terminating the container:
//
//	defer result.Container.Terminate(ctx)
type PostgresResult struct {
	// Container is the started PostgreSQL testcontainer.
	Container *tcpostgres.PostgresContainer

	// ConnString is a PostgreSQL connection string in URI format with
	// sslmode=disable. Pass this directly to the postgres client's
	// Config.URI.
	ConnString string
}

// StartPostgres starts a PostgreSQL 16 container and returns a
// [PostgresResult] with the container handle and a connection string.
// It waits for the database to become ready before returning; on a
// failure after startup the container is terminated before the error
// is returned.
func StartPostgres(ctx context.Context) (*PostgresResult, error) {
	container, err := tcpostgres.Run(ctx,
		DefaultPostgresImage,
		tcpostgres.WithDatabase(DefaultPostgresDatabase),
		tcpostgres.WithUsername(DefaultPostgresUser),
		tcpostgres.WithPassword(DefaultPostgresPassword),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get connection string: %w", err)
	}

	return &PostgresResult{
		Container:  container,
		ConnString: connStr,
	}, nil
}
