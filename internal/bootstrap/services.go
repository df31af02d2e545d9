package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"github.com/target/fbdispatch/config"
	"github.com/target/fbdispatch/internal/core"
	"github.com/target/fbdispatch/internal/data"
	"github.com/target/fbdispatch/internal/domain/model"
	"github.com/target/fbdispatch/internal/engine"
	httpx "github.com/target/fbdispatch/internal/http"
	"github.com/target/fbdispatch/internal/observability/notify/pagerduty"
	"github.com/target/fbdispatch/internal/observability/notify/slack"
	"github.com/target/fbdispatch/internal/observability/statsd"
	"github.com/target/fbdispatch/internal/queue"
	"github.com/target/fbdispatch/internal/service"
	"github.com/target/fbdispatch/internal/service/failurenotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Docs      *data.FamilyTestRepo
	Blobs     *data.BlobRepo
	Queue     queue.Config
	Publisher *queue.Publisher // nil when no enabled service uses the broker
	// Submissions is set when a publisher is available.
	Submissions *service.SubmissionService
	// Workers is set when a worker role is enabled.
	Workers       *service.WorkerService
	Coordinator   *service.Coordinator
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink     *statsd.Client
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.ObservabilityNotificationsConfig
}

// Notifier returns the failure notifier port, or nil when no sink is configured.
func (o ObservabilityContainer) Notifier() core.FailureNotifier {
	if o.FailureNotifier == nil || !o.FailureNotifier.Enabled() {
		return nil
	}
	return o.FailureNotifier
}

// Metrics returns the metrics sink, or nil when metrics are disabled.
func (o ObservabilityContainer) Metrics() statsd.Sink {
	if !o.MetricsSink.Enabled() {
		return nil
	}
	return o.MetricsSink
}

// Close flushes buffered metrics.
func (o ObservabilityContainer) Close() error {
	if o.MetricsSink == nil {
		return nil
	}
	return o.MetricsSink.Close()
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	// JS is nil when no enabled service needs the broker.
	JS     jetstream.JetStream
	Logger *slog.Logger
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.Prefix,
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:     metricsSink,
		MetricsConfig:   cfg.Metrics,
		FailureNotifier: buildFailureNotifier(obsLogger, cfg.Notifications),
		NotifierConfig:  cfg.Notifications,
	}
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	var sinks []failurenotifier.SinkRegistration

	if cfg.Enabled && cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:        cfg.Slack.WebhookURL,
			Channel:           cfg.Slack.Channel,
			Username:          cfg.Slack.Username,
			Timeout:           cfg.Timeout,
			RetryLimit:        cfg.RetryLimit,
			DocumentURLPrefix: cfg.Slack.DocumentURLPrefix,
		})
		if err != nil {
			logger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "slack", Sink: client})
		}
	}

	if cfg.Enabled && cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			logger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "pagerduty", Sink: client})
		}
	}

	if cfg.Enabled && len(sinks) == 0 {
		logger.Warn("failure notifications enabled but no sink is configured")
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger: logger,
		Sinks:  sinks,
	})
}

// NewServices wires repositories and services for the enabled roles.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	obs := buildObservability(logger, cfg.Observability)
	docs := data.NewFamilyTestRepo(deps.DB, data.RepoConfig{Logger: logger})
	blobs := data.NewBlobRepo(deps.RedisClient, data.BlobRepoConfig{
		KeyPrefix: cfg.Blob.KeyPrefix,
		TTL:       cfg.Blob.TTL,
		Logger:    logger,
	})

	coord, err := service.NewCoordinator(service.CoordinatorOptions{
		Docs:     docs,
		Blobs:    blobs,
		Notifier: obs.Notifier(),
		Logger:   logger,
		Metrics:  obs.Metrics(),
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("coordinator: %w", err)
	}

	out := ServiceContainer{
		Docs:          docs,
		Blobs:         blobs,
		Queue:         QueueConfig(cfg.NATS),
		Coordinator:   coord,
		Observability: obs,
	}
	if deps.JS == nil {
		return out, nil
	}

	out.Publisher = queue.NewPublisher(deps.JS, out.Queue.Subjects, logger)
	out.Submissions, err = service.NewSubmissionService(service.SubmissionServiceOptions{
		Docs:         docs,
		Blobs:        blobs,
		Jobs:         out.Publisher,
		Lister:       docs,
		Logger:       logger,
		MaxFonts:     cfg.Worker.MaxFonts,
		MaxDiffFonts: cfg.Worker.MaxDiffFonts,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("submission service: %w", err)
	}

	if workerRoleEnabled(cfg) {
		out.Workers, err = newWorkerService(cfg, &out, logger)
		if err != nil {
			return ServiceContainer{}, err
		}
	}
	return out, nil
}

func workerRoleEnabled(cfg *config.AppConfig) bool {
	return cfg.IsEnabled(config.ServiceModeDistributor) ||
		cfg.IsEnabled(config.ServiceModeChecker) ||
		cfg.IsEnabled(config.ServiceModeDiffer)
}

func newWorkerService(cfg *config.AppConfig, c *ServiceContainer, logger *slog.Logger) (*service.WorkerService, error) {
	opts := service.WorkerServiceOptions{
		Docs:         c.Docs,
		Blobs:        c.Blobs,
		Completions:  c.Publisher,
		Jobs:         c.Publisher,
		Logger:       logger,
		Metrics:      c.Observability.Metrics(),
		WorkDir:      cfg.Worker.WorkDir,
		TicksToFlush: cfg.Worker.TicksToFlush,
		MaxFonts:     cfg.Worker.MaxFonts,
		MaxDiffFonts: cfg.Worker.MaxDiffFonts,
	}
	if cfg.Engine.Path != "" {
		cmd, err := engine.NewCommand(engine.CommandConfig{
			Path:      cfg.Engine.Path,
			Args:      cfg.Engine.Args,
			WaitDelay: cfg.Engine.WaitDelay,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("check engine: %w", err)
		}
		opts.Engine = cmd
	}
	if cfg.Diff.Path != "" {
		cmd, err := engine.NewDiffCommand(engine.DiffCommandConfig{
			Path:      cfg.Diff.Path,
			Args:      cfg.Diff.Args,
			WaitDelay: cfg.Diff.WaitDelay,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("diff tool: %w", err)
		}
		opts.Differ = cmd
	}
	svc, err := service.NewWorkerService(opts)
	if err != nil {
		return nil, fmt.Errorf("worker service: %w", err)
	}
	return svc, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	DB       *sql.DB
	JS       jetstream.JetStream
	// Ready lists readiness probes served on /readyz.
	Ready  map[string]httpx.ReadinessCheck
	Logger *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		Ready:    deps.cfg.Ready,
		Logger:   deps.logger,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error",
					"service", descriptor.name,
					"error", errMsg,
				)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newWorkerBackgroundService(deps *serviceStartupDeps, mode config.ServiceMode, role model.WorkerRole) backgroundService {
	return backgroundService{
		mode: mode,
		name: string(role) + " worker",
		start: func(ctx context.Context) error {
			svc := deps.cfg.Services
			if svc.Workers == nil {
				return fmt.Errorf("%s worker: worker service not configured", role)
			}
			return RunWorkerRole(ctx, WorkerRoleConfig{
				JS:          deps.cfg.JS,
				Queue:       svc.Queue,
				Publisher:   svc.Publisher,
				Role:        role,
				Handler:     svc.Workers.Handle,
				Concurrency: deps.cfg.Config.Worker.Concurrency,
				Logger:      deps.logger,
				Metrics:     svc.Observability.Metrics(),
			})
		},
	}
}

func newCoordinatorBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeCoordinator,
		name: "coordinator",
		start: func(ctx context.Context) error {
			svc := deps.cfg.Services
			return RunCoordinator(ctx, CoordinatorRunConfig{
				JS:          deps.cfg.JS,
				Queue:       svc.Queue,
				Publisher:   svc.Publisher,
				Coordinator: svc.Coordinator,
				Concurrency: deps.cfg.Config.Coordinator.Concurrency,
				Logger:      deps.logger,
				Metrics:     svc.Observability.Metrics(),
			})
		},
	}
}

func newSweeperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeSweeper,
		name: "sweeper",
		start: func(ctx context.Context) error {
			svc := deps.cfg.Services
			return RunSweeper(ctx, SweeperRunConfig{
				DB:       deps.cfg.DB,
				Blobs:    svc.Blobs,
				Notifier: svc.Observability.Notifier(),
				Config:   deps.cfg.Config.Sweeper,
				Logger:   deps.logger,
				Metrics:  svc.Observability.Metrics(),
			})
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newWorkerBackgroundService(deps, config.ServiceModeDistributor, model.RoleDistributor),
		newWorkerBackgroundService(deps, config.ServiceModeChecker, model.RoleChecker),
		newWorkerBackgroundService(deps, config.ServiceModeDiffer, model.RoleDiffer),
		newCoordinatorBackgroundService(deps),
		newSweeperBackgroundService(deps),
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}
	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		httpServer:  result.HTTPServer,
		logger:      logger,
		backgrounds: result.Background,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	return errorChannelCapacity(enabled) + 1
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *http.Server
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel()
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop stops the HTTP server and waits for consumer loops to finish their
// in-flight jobs. Unacknowledged jobs are redelivered by the broker.
func gracefulStop(cfg shutdownConfig) error {
	if cfg.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
		defer cancel()

		if err := ShutdownHTTPServer(ShutdownConfig{
			Context: shutdownCtx,
			Server:  cfg.httpServer,
			Logger:  cfg.logger,
		}); err != nil {
			return err
		}
	}

	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	return nil
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
