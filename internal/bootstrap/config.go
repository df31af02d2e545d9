package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/target/fbdispatch/config"
)

// InitLogger initializes the structured logger.
func InitLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return logger
}

// ConfigureLogger swaps in a text handler with debug output for development mode.
func ConfigureLogger(cfg *config.AppConfig, logger *slog.Logger) *slog.Logger {
	if cfg == nil || !cfg.IsDev {
		return logger
	}
	dev := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(dev)
	return dev
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (config.AppConfig, error) {
	// Load .env file if it exists (development)
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return config.AppConfig{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg config.AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	return cfg, nil
}

// ValidateServiceConfig checks that at least one service is enabled and that every enabled
// worker role has the external tool it shells out to.
func ValidateServiceConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("service config is required")
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}

	if len(services) == 0 {
		return errors.New("no services enabled")
	}

	if (services[config.ServiceModeDistributor] || services[config.ServiceModeChecker]) && cfg.Engine.Path == "" {
		return errors.New("ENGINE_PATH is required for the distributor and checker services")
	}
	if services[config.ServiceModeDiffer] && cfg.Diff.Path == "" {
		return errors.New("DIFF_PATH is required for the differ service")
	}
	if cfg.NeedsQueue() && cfg.NATS.URL == "" {
		return errors.New("NATS_URL is required")
	}

	return nil
}

// GetEnabledServices returns the sorted names of enabled services.
func GetEnabledServices(cfg *config.AppConfig) []string {
	if cfg == nil {
		return []string{}
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		// Validation reports the error.
		return []string{}
	}

	enabled := make([]string, 0, len(services))
	for svc := range services {
		enabled = append(enabled, string(svc))
	}
	sort.Strings(enabled)
	return enabled
}
