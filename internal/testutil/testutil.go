package testutil

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	// Import pgx driver for database/sql compatibility in tests.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/target/fbdispatch/internal/migrate"
)

// TestingTB is an interface that covers both *testing.T and *testing.B.
type TestingTB interface {
	Helper()
	Skip(args ...any)
	Skipf(format string, args ...any)
	Fatal(args ...any)
	Fatalf(format string, args ...any)
	Logf(format string, args ...any)
}

// TestDBConfig holds configuration for test database.
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// DefaultTestDBConfig returns default test database configuration.
// Defaults to port 55432 (local test DB from docker-compose test profile).
// CI/CD environments should set TEST_DB_PORT=5432 explicitly.
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     getEnvOrDefault("TEST_DB_HOST", "localhost"),
		Port:     getEnvOrDefault("TEST_DB_PORT", "55432"),
		User:     getEnvOrDefault("TEST_DB_USER", "fbdispatch"),
		Password: getEnvOrDefault("TEST_DB_PASSWORD", "fbdispatch"),
		DBName:   getEnvOrDefault("TEST_DB_NAME", "fbdispatch"),
	}
}

func (c TestDBConfig) dsn() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + getEnvOrDefault("DB_SSL_MODE", "disable"),
	}
	return u.String()
}

// SkipIfNoTestDB skips the test if test database is not available.
// Set TEST_REQUIRE_DB or TEST_REQUIRE_INFRA to turn the skip into a failure.
func SkipIfNoTestDB(t TestingTB) {
	t.Helper()

	db, err := sql.Open("pgx", DefaultTestDBConfig().dsn())
	if err != nil {
		skipOrFail(t, requireDB(), "Test database not available:", err)
		return
	}
	defer closeAndLog(t, "probe DB", db)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if pingErr := db.PingContext(ctx); pingErr != nil {
		skipOrFail(t, requireDB(), "Test database not available:", pingErr)
	}
}

// SetupTestDB creates a test database connection, runs migrations and clears old rows.
func SetupTestDB(t TestingTB) *sql.DB {
	t.Helper()
	SkipIfNoTestDB(t)

	db, err := sql.Open("pgx", DefaultTestDBConfig().dsn())
	if err != nil {
		t.Fatal("Failed to open database:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if pingErr := db.PingContext(ctx); pingErr != nil {
		t.Fatal("Failed to connect to test database. Make sure PostgreSQL is running (docker-compose up -d):", pingErr)
	}
	if migrateErr := migrate.Run(ctx, db); migrateErr != nil {
		t.Fatal("Failed to run migrations:", migrateErr)
	}

	CleanupTestDB(t, db)
	return db
}

// CleanupTestDB removes all documents from the database.
func CleanupTestDB(t TestingTB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "DELETE FROM family_tests"); err != nil {
		t.Fatalf("Failed to clean up table family_tests: %v", err)
	}
}

// WithAutoDB runs fn against a per-test schema when TEST_DB_EPHEMERAL is truthy, otherwise
// against the shared test database which is cleaned afterwards.
func WithAutoDB(t TestingTB, fn func(*sql.DB)) {
	t.Helper()
	if envBool("TEST_DB_EPHEMERAL") {
		fn(SetupEphemeralSchemaDB(t))
		return
	}
	db := SetupTestDB(t)
	defer func() {
		CleanupTestDB(t, db)
		closeAndLog(t, "test DB", db)
	}()
	fn(db)
}

// SetupEphemeralSchemaDB creates a unique schema, points search_path at it, runs migrations,
// and registers cleanup to drop the schema after the test completes.
func SetupEphemeralSchemaDB(t TestingTB) *sql.DB {
	t.Helper()
	SkipIfNoTestDB(t)

	cfg := DefaultTestDBConfig()
	adminDB, err := sql.Open("pgx", cfg.dsn())
	if err != nil {
		t.Fatal("Failed to open admin DB:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	schema := generateSchemaName()
	if _, execErr := adminDB.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); execErr != nil {
		closeAndLog(t, "admin DB", adminDB)
		t.Fatalf("Failed to create schema %s: %v", schema, execErr)
	}

	u, err := url.Parse(cfg.dsn())
	if err != nil {
		t.Fatal("Failed to parse DSN:", err)
	}
	q := u.Query()
	q.Set("search_path", schema+",public")
	u.RawQuery = q.Encode()

	db, err := sql.Open("pgx", u.String())
	if err != nil {
		closeAndLog(t, "admin DB", adminDB)
		t.Fatal("Failed to open schema-scoped DB:", err)
	}
	db.SetMaxOpenConns(10)

	registerCleanup(t, func() {
		cctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer ccancel()
		closeAndLog(t, "schema DB", db)
		if _, dropErr := adminDB.ExecContext(cctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); dropErr != nil {
			t.Logf("Warning: failed to drop schema %s: %v", schema, dropErr)
		}
		closeAndLog(t, "admin DB", adminDB)
	})

	if migrateErr := migrate.Run(ctx, db); migrateErr != nil {
		t.Fatal("Failed to run migrations in ephemeral schema:", migrateErr)
	}
	t.Logf("Using ephemeral schema: %s", schema)
	return db
}

// SetupTestRedis creates a Redis client for testing on a dedicated DB index.
// Tests will be skipped if Redis is not available.
func SetupTestRedis(t TestingTB) *redis.Client {
	t.Helper()

	addr := getEnvOrDefault("TEST_REDIS_ADDR", "localhost:6379")
	dbIndex := 1
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			dbIndex = i
		}
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: dbIndex})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		closeAndLog(t, "redis client", client)
		skipOrFail(t, requireRedis(), fmt.Sprintf("Redis not available for testing at %s:", addr), err)
		return nil
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Logf("warning: failed to flush redis test DB %d: %v", dbIndex, err)
	}
	registerCleanup(t, func() { closeAndLog(t, "redis client", client) })
	return client
}

// TestTime returns a fixed time for testing.
func TestTime() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

func skipOrFail(t TestingTB, required bool, args ...any) {
	if required {
		t.Fatal(args...)
	}
	t.Skip(args...)
}

func registerCleanup(t TestingTB, fn func()) {
	if tc, ok := any(t).(interface{ Cleanup(func()) }); ok {
		tc.Cleanup(fn)
		return
	}
	t.Logf("warning: %T does not support Cleanup; resources leak until process exit", t)
}

// generateSchemaName creates a lowercase alphanumeric schema name with prefix.
func generateSchemaName() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("t_%d", time.Now().UnixNano())
	}
	return "t_" + hex.EncodeToString(b)
}

func closeAndLog(t TestingTB, name string, closer interface{ Close() error }) {
	if err := closer.Close(); err != nil {
		t.Logf("warning: failed to close %s: %v", name, err)
	}
}

// getEnvOrDefault returns environment variable value or default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envBool parses common truthy values from env vars.
func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

func requireDB() bool    { return envBool("TEST_REQUIRE_DB") || envBool("TEST_REQUIRE_INFRA") }
func requireRedis() bool { return envBool("TEST_REQUIRE_REDIS") || envBool("TEST_REQUIRE_INFRA") }
