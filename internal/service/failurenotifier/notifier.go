// Package failurenotifier fans document failure events out to the configured alert sinks.
package failurenotifier

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/target/fbdispatch/internal/domain/model"
	"github.com/target/fbdispatch/internal/observability/notify"
	"golang.org/x/sync/errgroup"
)

// Sources whose failures indicate a pipeline fault rather than a bad submission.
var criticalSources = map[string]bool{
	"force_close": true,
	"distributor": true,
}

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the failure notifier service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
	// Metadata is attached to every payload, e.g. the deployment environment.
	Metadata map[string]string
}

// Service dispatches failure events to all registered sinks.
type Service struct {
	logger   *slog.Logger
	sinks    []SinkRegistration
	metadata map[string]string
}

// NewService constructs a failure notifier.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var sinks []SinkRegistration
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		name := entry.Name
		if name == "" {
			name = "sink"
		}
		sinks = append(sinks, SinkRegistration{
			Name: name,
			Sink: entry.Sink,
		})
	}

	return &Service{
		logger:   logger.With("component", "failure_notifier"),
		sinks:    sinks,
		metadata: opts.Metadata,
	}
}

// NotifyDocumentFailure implements core.FailureNotifier. Delivery errors are logged, never returned.
func (s *Service) NotifyDocumentFailure(ctx context.Context, ev model.DocumentFailureEvent) {
	if len(s.sinks) == 0 {
		return
	}
	payload := PayloadFor(ev)
	if len(s.metadata) > 0 {
		payload.Metadata = s.metadata
	}
	s.Notify(ctx, payload)
}

// Notify fan-outs the payload to all sinks and waits for every delivery.
func (s *Service) Notify(ctx context.Context, payload notify.DocumentFailurePayload) {
	if len(s.sinks) == 0 {
		return
	}
	if payload.Severity == "" {
		payload.Severity = notify.SeverityCritical
	}

	var g errgroup.Group
	for _, entry := range s.sinks {
		g.Go(func() error {
			if err := entry.Sink.SendDocumentFailure(ctx, payload); err != nil {
				s.logger.ErrorContext(ctx, "failure notifier delivery error",
					"sink", entry.Name,
					"doc_id", payload.DocID,
					"source", payload.Source,
					"error", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Enabled reports whether the notifier has any active sinks.
func (s *Service) Enabled() bool {
	return len(s.sinks) > 0
}

// PayloadFor converts a failure event into a sink payload.
func PayloadFor(ev model.DocumentFailureEvent) notify.DocumentFailurePayload {
	severity := notify.SeverityWarning
	if criticalSources[ev.Source] {
		severity = notify.SeverityCritical
	}
	open := append([]string(nil), ev.OpenSubJobs...)
	sort.Strings(open)
	var results map[string]int
	if len(ev.Results) > 0 {
		results = make(map[string]int, len(ev.Results))
		for category, n := range ev.Results {
			results[string(category)] = n
		}
	}
	var elapsed time.Duration
	if !ev.CreatedAt.IsZero() && ev.OccurredAt.After(ev.CreatedAt) {
		elapsed = ev.OccurredAt.Sub(ev.CreatedAt)
	}
	return notify.DocumentFailurePayload{
		DocID:       ev.DocID,
		Kind:        string(ev.Kind),
		Source:      ev.Source,
		Reason:      ev.Reason,
		OpenJobs:    open,
		FailedJobs:  append([]string(nil), ev.FailedSubJobs...),
		SubJobCount: ev.SubJobCount,
		Results:     results,
		Severity:    severity,
		OccurredAt:  ev.OccurredAt,
		Elapsed:     elapsed,
	}
}
