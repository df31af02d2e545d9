package config

import (
	"strings"
	"time"
)

// DBConfig contains PostgreSQL document store configuration.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"fbdispatch"`
	Password string `env:"PASSWORD"                envDefault:"fbdispatch"`
	Name     string `env:"NAME"                    envDefault:"fbdispatch"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration for the blob store.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	DB                 int      `env:"DB"                   envDefault:"0"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
}

// BlobConfig controls how file bundles are kept in the blob store.
type BlobConfig struct {
	// KeyPrefix namespaces bundle keys inside a shared Redis.
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"fbdispatch:blob:"`

	// TTL bounds how long an unpurged bundle survives, e.g. when a document is never closed.
	TTL time.Duration `env:"TTL" envDefault:"168h"`
}

// Sanitize applies guardrails to blob configuration values.
func (b *BlobConfig) Sanitize() {
	if b.KeyPrefix = strings.TrimSpace(b.KeyPrefix); b.KeyPrefix == "" {
		b.KeyPrefix = "fbdispatch:blob:"
	}
	if b.TTL < time.Hour {
		b.TTL = time.Hour
	}
}
