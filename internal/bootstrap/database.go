package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/target/fbdispatch/config"
	httpx "github.com/target/fbdispatch/internal/http"
	"github.com/target/fbdispatch/internal/migrate"
)

const (
	// poolHeadroom covers the submission API, the sweeper transaction and readiness checks.
	poolHeadroom    = 4
	minIdleConns    = 2
	connMaxLifetime = 5 * time.Minute
	connectTimeout  = 5 * time.Second
)

// ErrSchemaIncomplete is returned when the document store lacks a relation or function the
// repositories query.
var ErrSchemaIncomplete = errors.New("document store schema incomplete")

type schemaObject struct {
	kind string // "table" or "function"
	name string
}

var documentStoreObjects = []schemaObject{
	{kind: "table", name: "schema_migrations"},
	{kind: "table", name: "family_tests"},
	{kind: "function", name: "family_test_rollup(jsonb)"},
	{kind: "function", name: "family_test_indexed(jsonb,jsonb)"},
}

// DatabaseConfig contains configuration for the document store and blob store connections.
type DatabaseConfig struct {
	DBConfig    config.DBConfig
	RedisConfig config.RedisConfig
	// Consumers is the number of queue consumer loops sharing the pool. Zero sizes the pool
	// for one-shot admin commands.
	Consumers int
	Logger    *slog.Logger
}

// ConsumerLoops counts the queue consumer loops the enabled roles run in one process.
func ConsumerLoops(cfg *config.AppConfig) int {
	n := 0
	for _, mode := range []config.ServiceMode{
		config.ServiceModeDistributor,
		config.ServiceModeChecker,
		config.ServiceModeDiffer,
	} {
		if cfg.IsEnabled(mode) {
			n += max(cfg.Worker.Concurrency, 1)
		}
	}
	if cfg.IsEnabled(config.ServiceModeCoordinator) {
		n += max(cfg.Coordinator.Concurrency, 1)
	}
	return n
}

// PoolSize returns the connection limits for a process running consumers loops. A loop holds
// at most one connection because every document update is a single statement.
func PoolSize(consumers int) (maxOpen, maxIdle int) {
	consumers = max(consumers, 0)
	return consumers + poolHeadroom, max(consumers, minIdleConns)
}

// ConnectDB opens the document store pool, sized for cfg.Consumers, and pings it.
func ConnectDB(ctx context.Context, cfg DatabaseConfig) (*sql.DB, error) {
	connCfg, err := pgx.ParseConfig(postgresURL(cfg.DBConfig))
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	connCfg.RuntimeParams["application_name"] = "fbdispatch"

	db := stdlib.OpenDB(*connCfg)
	maxOpen, maxIdle := PoolSize(cfg.Consumers)
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if pingErr := db.PingContext(pingCtx); pingErr != nil {
		if closeErr := db.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close database connection: %w", closeErr))
		}
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}

	if cfg.Logger != nil {
		cfg.Logger.InfoContext(ctx, "document store connected",
			"host", cfg.DBConfig.Host,
			"database", cfg.DBConfig.Name,
			"max_open_conns", maxOpen,
			"consumers", cfg.Consumers,
		)
	}
	return db, nil
}

// postgresURL builds the connection URL; url.URL escapes special characters in credentials.
func postgresURL(c config.DBConfig) string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Name,
	}
	q := u.Query()
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// RunMigrations applies the embedded migrations and verifies the resulting schema.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := migrate.Run(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if err := VerifySchema(ctx, db); err != nil {
		return err
	}

	if logger != nil {
		logger.InfoContext(ctx, "database migrations completed")
	}
	return nil
}

// VerifySchema checks that the family_tests table and the SQL functions the merge statements
// call are visible on the connection's search_path.
func VerifySchema(ctx context.Context, db *sql.DB) error {
	return verifySchema(ctx, db, documentStoreObjects)
}

func verifySchema(ctx context.Context, db *sql.DB, objects []schemaObject) error {
	var missing []string
	for _, obj := range objects {
		query := `SELECT to_regclass($1) IS NOT NULL`
		if obj.kind == "function" {
			query = `SELECT to_regprocedure($1) IS NOT NULL`
		}
		var present bool
		if err := db.QueryRowContext(ctx, query, obj.name).Scan(&present); err != nil {
			return fmt.Errorf("look up %s %s: %w", obj.kind, obj.name, err)
		}
		if !present {
			missing = append(missing, obj.kind+" "+obj.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrSchemaIncomplete, strings.Join(missing, ", "))
	}
	return nil
}

// DocumentStoreCheck reports ready once the pool answers and the schema is in place, so a
// process started with migrations disabled stays unready until they run.
func DocumentStoreCheck(db *sql.DB) httpx.ReadinessCheck {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		return VerifySchema(ctx, db)
	}
}

// ConnectRedis connects the blob store in direct, sentinel or cluster mode and pings it.
//
//nolint:ireturn // the universal client picks single, sentinel or cluster at runtime.
func ConnectRedis(ctx context.Context, cfg DatabaseConfig) (redis.UniversalClient, error) {
	opts, mode, err := redisOptions(cfg.RedisConfig)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if pingErr := client.Ping(pingCtx).Err(); pingErr != nil {
		if closeErr := client.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close redis client: %w", closeErr))
		}
		return nil, fmt.Errorf("ping redis (%s): %w", mode, pingErr)
	}

	if cfg.Logger != nil {
		cfg.Logger.InfoContext(ctx, "blob store connected", "mode", mode, "addrs", opts.Addrs)
	}
	return client, nil
}

// redisOptions translates the blob store configuration into universal client options and
// names the selected mode.
func redisOptions(cfg config.RedisConfig) (*redis.UniversalOptions, string, error) {
	switch {
	case cfg.UseCluster:
		opts := &redis.UniversalOptions{
			Addrs:         normalizeAddrs(cfg.ClusterNodes),
			Password:      cfg.Password,
			IsClusterMode: true,
		}
		if len(opts.Addrs) == 0 {
			if err := applyRedisURI(opts, cfg.URI); err != nil {
				return nil, "", fmt.Errorf("redis cluster: %w", err)
			}
		}
		if len(opts.Addrs) == 0 {
			return nil, "", errors.New("redis cluster configuration requires at least one address")
		}
		opts.DB = 0
		return opts, "cluster", nil

	case cfg.UseSentinel:
		addrs := normalizeAddrs(cfg.SentinelNodes)
		if len(addrs) == 0 {
			return nil, "", errors.New("redis sentinel configuration requires at least one sentinel node")
		}
		if strings.TrimSpace(cfg.SentinelMasterName) == "" {
			return nil, "", errors.New("redis sentinel configuration requires a master name")
		}
		return &redis.UniversalOptions{
			Addrs:            addrs,
			MasterName:       cfg.SentinelMasterName,
			Password:         cfg.Password,
			SentinelPassword: cfg.SentinelPassword,
			DB:               cfg.DB,
		}, "sentinel", nil

	default:
		opts := &redis.UniversalOptions{Password: cfg.Password, DB: cfg.DB}
		if err := applyRedisURI(opts, cfg.URI); err != nil {
			return nil, "", err
		}
		if len(opts.Addrs) == 0 {
			return nil, "", errors.New("redis direct configuration requires a URI")
		}
		return opts, "direct", nil
	}
}

// applyRedisURI sets the address from uri. redis:// and rediss:// URLs also carry the
// credentials, database and TLS settings.
func applyRedisURI(opts *redis.UniversalOptions, uri string) error {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil
	}
	if !strings.HasPrefix(uri, "redis://") && !strings.HasPrefix(uri, "rediss://") {
		opts.Addrs = []string{uri}
		return nil
	}

	parsed, err := redis.ParseURL(uri)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	opts.Addrs = []string{parsed.Addr}
	opts.Username = parsed.Username
	if parsed.Password != "" {
		opts.Password = parsed.Password
	}
	opts.DB = parsed.DB
	opts.TLSConfig = parsed.TLSConfig
	return nil
}

func normalizeAddrs(raw []string) []string {
	result := make([]string, 0, len(raw))
	for _, addr := range raw {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
