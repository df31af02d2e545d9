package bootstrap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/target/fbdispatch/config"
)

func TestErrorChannelCapacity(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 0,
		},
		{
			name:  "http only",
			modes: []config.ServiceMode{config.ServiceModeHTTP},
			want:  1,
		},
		{
			name:  "checker and differ",
			modes: []config.ServiceMode{config.ServiceModeChecker, config.ServiceModeDiffer},
			want:  2,
		},
		{
			name:  "all services enabled",
			modes: config.ValidServiceModes(),
			want:  6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			if got := errorChannelCapacity(enabled); got != tt.want {
				t.Fatalf("errorChannelCapacity(%v) = %d, want %d", tt.modes, got, tt.want)
			}
			if got := errorChannelBufferSize(enabled); got != tt.want+1 {
				t.Fatalf("errorChannelBufferSize(%v) = %d, want %d", tt.modes, got, tt.want+1)
			}
		})
	}
}

func TestValidateServiceConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.AppConfig)
		wantErr bool
	}{
		{
			name: "http only",
		},
		{
			name:    "unknown service",
			mutate:  func(c *config.AppConfig) { c.Services = "http,reaper" },
			wantErr: true,
		},
		{
			name:    "checker without engine",
			mutate:  func(c *config.AppConfig) { c.Services = "checker" },
			wantErr: true,
		},
		{
			name: "checker with engine",
			mutate: func(c *config.AppConfig) {
				c.Services = "distributor,checker"
				c.Engine.Path = "/usr/bin/fontbakery"
			},
		},
		{
			name:    "differ without diff tool",
			mutate:  func(c *config.AppConfig) { c.Services = "differ" },
			wantErr: true,
		},
		{
			name: "coordinator without broker url",
			mutate: func(c *config.AppConfig) {
				c.Services = "coordinator"
				c.NATS.URL = ""
			},
			wantErr: true,
		},
		{
			name: "sweeper alone does not need the broker",
			mutate: func(c *config.AppConfig) {
				c.Services = "sweeper"
				c.NATS.URL = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.AppConfig{
				Services: "http",
				NATS:     config.NATSConfig{URL: "nats://localhost:4222"},
			}
			if tt.mutate != nil {
				tt.mutate(cfg)
			}

			err := ValidateServiceConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateServiceConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := ValidateServiceConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestGetEnabledServices(t *testing.T) {
	cfg := &config.AppConfig{Services: " sweeper, http ,checker"}
	got := GetEnabledServices(cfg)
	want := []string{"checker", "http", "sweeper"}
	if !slices.Equal(got, want) {
		t.Fatalf("GetEnabledServices() = %v, want %v", got, want)
	}

	if got := GetEnabledServices(&config.AppConfig{Services: "bogus"}); len(got) != 0 {
		t.Fatalf("GetEnabledServices() with invalid services = %v, want empty", got)
	}
	if got := GetEnabledServices(nil); len(got) != 0 {
		t.Fatalf("GetEnabledServices(nil) = %v, want empty", got)
	}
}

func TestNewServices_WithoutBroker(t *testing.T) {
	cfg := &config.AppConfig{Services: "sweeper"}
	cfg.Sanitize()

	svc, err := NewServices(&ServiceDeps{Config: cfg, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewServices() error = %v", err)
	}
	if svc.Coordinator == nil {
		t.Fatal("expected coordinator to be wired")
	}
	if svc.Publisher != nil || svc.Submissions != nil || svc.Workers != nil {
		t.Fatal("expected broker-bound services to stay nil without a JetStream handle")
	}
	if svc.Observability.Notifier() != nil {
		t.Fatal("expected no notifier when notifications are disabled")
	}
	if svc.Observability.Metrics() != nil {
		t.Fatal("expected no metrics sink when metrics are disabled")
	}
	if err := svc.Observability.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := NewServices(nil); err == nil {
		t.Fatal("expected error for nil deps")
	}
}

func TestBuildFailureNotifier(t *testing.T) {
	cfg := config.ObservabilityNotificationsConfig{
		Enabled:    true,
		Timeout:    time.Second,
		RetryLimit: 1,
		Slack: config.SlackNotificationConfig{
			Enabled:    true,
			WebhookURL: "https://hooks.slack.test/services/x",
		},
		PagerDuty: config.PagerDutyNotificationConfig{
			Enabled:    true,
			RoutingKey: "routing-key",
		},
	}

	obs := ObservabilityContainer{FailureNotifier: buildFailureNotifier(discardLogger(), cfg)}
	if obs.Notifier() == nil {
		t.Fatal("expected notifier with configured sinks")
	}

	cfg.Enabled = false
	obs = ObservabilityContainer{FailureNotifier: buildFailureNotifier(discardLogger(), cfg)}
	if obs.Notifier() != nil {
		t.Fatal("expected no notifier when notifications are disabled")
	}
}

func TestLaunchBackground(t *testing.T) {
	errCh := make(chan error, 1)
	deps := &serviceStartupDeps{
		ctx:             context.Background(),
		logger:          discardLogger(),
		enabledServices: map[config.ServiceMode]bool{config.ServiceModeSweeper: true},
		errCh:           errCh,
	}

	disabled := launchBackground(deps.ctx, deps, backgroundService{
		mode:  config.ServiceModeCoordinator,
		name:  "coordinator",
		start: func(context.Context) error { return nil },
	})
	if disabled != nil {
		t.Fatal("expected disabled service not to start")
	}

	boom := errors.New("boom")
	done := launchBackground(deps.ctx, deps, backgroundService{
		mode:  config.ServiceModeSweeper,
		name:  "sweeper",
		start: func(context.Context) error { return boom },
	})
	if done == nil {
		t.Fatal("expected enabled service to start")
	}
	<-done

	select {
	case err := <-errCh:
		if !errors.Is(err, boom) {
			t.Fatalf("background error = %v, want wrapped %v", err, boom)
		}
	default:
		t.Fatal("expected background error to be reported")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
