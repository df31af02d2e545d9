package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the submission API.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeDistributor partitions origin jobs.
	ServiceModeDistributor ServiceMode = "distributor"
	// ServiceModeChecker runs check partitions.
	ServiceModeChecker ServiceMode = "checker"
	// ServiceModeDiffer runs diff jobs.
	ServiceModeDiffer ServiceMode = "differ"
	// ServiceModeCoordinator consumes completion messages and closes documents.
	ServiceModeCoordinator ServiceMode = "coordinator"
	// ServiceModeSweeper closes documents whose completions were lost.
	ServiceModeSweeper ServiceMode = "sweeper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeDistributor,
		ServiceModeChecker,
		ServiceModeDiffer,
		ServiceModeCoordinator,
		ServiceModeSweeper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP,
			ServiceModeDistributor,
			ServiceModeChecker,
			ServiceModeDiffer,
			ServiceModeCoordinator,
			ServiceModeSweeper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, distributor, checker, differ, coordinator, sweeper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains settings shared by the distributor, checker and differ roles.
type WorkerConfig struct {
	// Concurrency is the number of consumer loops per enabled role.
	Concurrency int `env:"CONCURRENCY" envDefault:"1"`

	// TicksToFlush is how many check results are buffered before one merge.
	TicksToFlush int `env:"TICKS_TO_FLUSH" envDefault:"1"`

	// MaxFonts caps the font files accepted per family test.
	MaxFonts int `env:"MAX_FONTS" envDefault:"45"`

	// MaxDiffFonts caps the font files accepted per diff job, both sides together.
	MaxDiffFonts int `env:"MAX_DIFF_FONTS" envDefault:"60"`

	// WorkDir is the parent of job workspaces. Empty means the OS temp dir.
	WorkDir string `env:"WORK_DIR"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.TicksToFlush < 1 {
		w.TicksToFlush = 1
	}
	if w.MaxFonts < 1 {
		w.MaxFonts = 1
	}
	if w.MaxDiffFonts < 2 {
		w.MaxDiffFonts = 2
	}
	w.WorkDir = strings.TrimSpace(w.WorkDir)
}

// EngineConfig configures the external check engine.
type EngineConfig struct {
	Path string   `env:"PATH"`
	Args []string `env:"ARGS"`

	// WaitDelay bounds how long a killed engine may hold its output open.
	WaitDelay time.Duration `env:"WAIT_DELAY" envDefault:"10s"`
}

// Sanitize applies guardrails to check engine configuration values.
func (e *EngineConfig) Sanitize() {
	e.Path = strings.TrimSpace(e.Path)
	if e.WaitDelay <= 0 {
		e.WaitDelay = 10 * time.Second
	}
}

// DiffConfig configures the external diff tool.
type DiffConfig struct {
	Path      string        `env:"PATH"`
	Args      []string      `env:"ARGS"`
	WaitDelay time.Duration `env:"WAIT_DELAY" envDefault:"10s"`
}

// Sanitize applies guardrails to diff tool configuration values.
func (d *DiffConfig) Sanitize() {
	d.Path = strings.TrimSpace(d.Path)
	if d.WaitDelay <= 0 {
		d.WaitDelay = 10 * time.Second
	}
}

// CoordinatorConfig contains completion coordinator configuration.
type CoordinatorConfig struct {
	// Concurrency is the number of completion consumer loops.
	Concurrency int `env:"CONCURRENCY" envDefault:"2"`
}

// Sanitize applies guardrails to coordinator configuration values.
func (c *CoordinatorConfig) Sanitize() {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
}

// SweeperConfig contains the reconciliation sweeper configuration.
type SweeperConfig struct {
	// Interval is the sweeper tick interval.
	Interval time.Duration `env:"INTERVAL" envDefault:"5m"`

	// MaxAge is how long a document may stay open before it is force-closed.
	MaxAge time.Duration `env:"MAX_AGE" envDefault:"6h"`

	// BatchSize is the maximum number of documents closed per statement.
	// Batching prevents long locks on the documents table.
	BatchSize int `env:"BATCH_SIZE" envDefault:"100"`
}

// Sanitize applies guardrails to sweeper configuration values.
func (s *SweeperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if s.Interval < 10*time.Second {
		s.Interval = 10 * time.Second
	}
	if s.MaxAge < 5*time.Minute {
		s.MaxAge = 5 * time.Minute
	}

	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	if s.BatchSize > 10000 {
		s.BatchSize = 10000
	}
}
