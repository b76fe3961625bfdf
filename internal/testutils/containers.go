// Package testutils starts throwaway Postgres and Redis containers for
// integration tests. Containers are terminated through t.Cleanup.
//
// Tests using these helpers are skipped under -short and when no Docker
// provider is reachable.
package testutils

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/shorturl/config"
	infraPostgres "github.com/sifan077/shorturl/internal/infra/postgres"
	infraRedis "github.com/sifan077/shorturl/internal/infra/redis"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

const startupTimeout = 60 * time.Second

// Postgres is a migrated database inside a container.
type Postgres struct {
	Config config.PostgresConfig
	DB     *gorm.DB
	Pool   *pgxpool.Pool
}

// SetupPostgres starts postgres:16-alpine, connects through the same code
// paths the server uses and migrates the schema.
func SetupPostgres(t *testing.T) *Postgres {
	t.Helper()
	skipUnlessIntegration(t)

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, port := endpoint(t, ctx, container)
	cfg := config.PostgresConfig{
		Host:     host,
		Port:     port,
		User:     "testuser",
		Password: "testpass",
		Database: "testdb",
		SSLMode:  "disable",
		MaxConns: 10,
		MinConns: 2,
	}

	db, err := infraPostgres.NewGorm(cfg)
	if err != nil {
		t.Fatalf("failed to open gorm: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := infraPostgres.Migrate(ctx, db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	pool, err := infraPostgres.NewPool(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to create postgres pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return &Postgres{Config: cfg, DB: db, Pool: pool}
}

// Truncate empties the application tables and resets their id sequences.
func (p *Postgres) Truncate(t *testing.T) {
	t.Helper()

	if err := p.DB.Exec("TRUNCATE TABLE click_events, links RESTART IDENTITY CASCADE").Error; err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}

// SetupRedis starts redis:7-alpine and returns a connected client.
func SetupRedis(t *testing.T) *redis.Client {
	t.Helper()
	skipUnlessIntegration(t)

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, port := endpoint(t, ctx, container)
	rdb, err := infraRedis.NewClient(ctx, config.RedisConfig{Host: host, Port: port})
	if err != nil {
		t.Fatalf("failed to connect to redis: %v", err)
	}
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb
}

// FlushRedis clears the current Redis database between tests.
func FlushRedis(t *testing.T, rdb *redis.Client) {
	t.Helper()

	if err := rdb.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
}

func skipUnlessIntegration(t *testing.T) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	tc.SkipIfProviderIsNotHealthy(t)
}

func endpoint(t *testing.T, ctx context.Context, container interface {
	Endpoint(ctx context.Context, proto string) (string, error)
}) (string, int) {
	t.Helper()

	addr, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get container endpoint: %v", err)
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("failed to split endpoint %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("invalid endpoint port %q: %v", portStr, err)
	}
	return host, port
}
