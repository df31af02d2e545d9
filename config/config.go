package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Document store and blob store configuration
//   - queue.go: NATS JetStream configuration
//   - http.go: Submission API configuration
//   - services.go: Service mode, worker, engine and sweeper configuration
//   - observability.go: Metrics and failure notifications
type AppConfig struct {
	// IsDev controls development mode behavior (text logs, relaxed defaults).
	// Set DEV=true or APP_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Document store and blob store
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`
	Blob     BlobConfig  `envPrefix:"BLOB_"`

	// Queue broker
	NATS NATSConfig `envPrefix:"NATS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Services is a comma-delimited list of enabled roles.
	Services string `env:"SERVICES" envDefault:"http"`

	Worker      WorkerConfig      `envPrefix:"WORKER_"`
	Engine      EngineConfig      `envPrefix:"ENGINE_"`
	Diff        DiffConfig        `envPrefix:"DIFF_"`
	Coordinator CoordinatorConfig `envPrefix:"COORDINATOR_"`
	Sweeper     SweeperConfig     `envPrefix:"SWEEPER_"`

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Blob.Sanitize()
	c.NATS.Sanitize()
	c.HTTP.Sanitize()
	c.Worker.Sanitize()
	c.Engine.Sanitize()
	c.Diff.Sanitize()
	c.Coordinator.Sanitize()
	c.Sweeper.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// detectDevMode checks APP_ENV as a fallback for DEV.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		appEnv := strings.ToLower(os.Getenv("APP_ENV"))
		c.IsDev = appEnv == "development" || appEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsEnabled reports whether mode is listed in SERVICES.
func (c *AppConfig) IsEnabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[mode]
}

// NeedsQueue reports whether any enabled service talks to the broker.
func (c *AppConfig) NeedsQueue() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	for mode := range services {
		if mode != ServiceModeSweeper {
			return true
		}
	}
	return false
}
