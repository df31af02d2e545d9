package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/fbdispatch/internal/core"
	"github.com/target/fbdispatch/internal/domain/model"
	"github.com/target/fbdispatch/internal/observability/metrics"
	"github.com/target/fbdispatch/internal/observability/statsd"
)

// Sources reported on document.finished metrics and failure notifications.
const (
	SourceCompletion  = "completion"
	SourceDistributor = "distributor"
	SourceSweep       = "sweep"
	SourceForceClose  = "force_close"
)

// CoordinatorOptions groups dependencies for Coordinator.
type CoordinatorOptions struct {
	Docs     core.DocumentRepository // Required
	Blobs    core.BlobStore          // Required
	Notifier core.FailureNotifier    // Optional
	Logger   *slog.Logger
	Metrics  statsd.Sink
}

// Coordinator consumes completion messages and closes documents once every sub-job finished.
type Coordinator struct {
	docs     core.DocumentRepository
	blobs    core.BlobStore
	notifier core.FailureNotifier
	logger   *slog.Logger
	metrics  statsd.Sink
	now      func() time.Time
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.Docs == nil {
		return nil, errors.New("DocumentRepository is required")
	}
	if opts.Blobs == nil {
		return nil, errors.New("BlobStore is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		docs:     opts.Docs,
		blobs:    opts.Blobs,
		notifier: opts.Notifier,
		logger:   logger.With("component", "coordinator"),
		metrics:  opts.Metrics,
		now:      time.Now,
	}, nil
}

// HandleCompletion reacts to one completion message. Redelivered and duplicate messages are
// harmless: only the call that actually closes a document purges and notifies.
func (c *Coordinator) HandleCompletion(ctx context.Context, msg model.CompletionMessage) error {
	if msg.Role == model.RoleDistributor && msg.Failed() {
		return c.handleDistributorFailure(ctx, msg)
	}

	cacheKey, finished, err := c.docs.TryFinish(ctx, msg.DocID)
	if err != nil {
		return fmt.Errorf("try finish %s: %w", msg.DocID, err)
	}
	if !finished {
		c.logger.DebugContext(ctx, "document still running",
			"doc_id", msg.DocID,
			"sub_job_id", msg.SubJobID,
			"role", msg.Role,
		)
		return nil
	}

	doc, err := c.docs.GetByID(ctx, msg.DocID)
	if err != nil {
		return fmt.Errorf("load finished document %s: %w", msg.DocID, err)
	}
	d := closedFrom(doc, SourceCompletion)
	d.cacheKey = cacheKey
	c.closed(ctx, d)
	return nil
}

// handleDistributorFailure purges the input of a document the distributor already closed.
func (c *Coordinator) handleDistributorFailure(ctx context.Context, msg model.CompletionMessage) error {
	doc, err := c.docs.GetByID(ctx, msg.DocID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", msg.DocID, err)
	}
	if !doc.IsFinished {
		// The distributor failed to record its failure and will be redelivered.
		c.logger.WarnContext(ctx, "distributor failure not recorded yet", "doc_id", msg.DocID)
		return nil
	}
	d := closedFrom(doc, SourceDistributor)
	if d.reason == "" {
		d.reason = msg.Failure
	}
	c.closed(ctx, d)
	return nil
}

type closedDocument struct {
	id            string
	kind          model.DocumentKind
	cacheKey      string
	createdAt     time.Time
	reason        string
	openSubJobs   []string
	failedSubJobs []string
	subJobCount   int
	results       map[model.CheckResultCategory]int
	source        string
}

func closedFrom(doc *model.FamilyTestDocument, source string) closedDocument {
	return closedDocument{
		id:            doc.ID,
		kind:          doc.Kind,
		cacheKey:      doc.CacheKey,
		createdAt:     doc.CreatedAt,
		reason:        doc.FailureText(),
		failedSubJobs: doc.FailedSubJobs(),
		subJobCount:   len(doc.Jobs),
		results:       doc.Results,
		source:        source,
	}
}

// closed releases the document's input bundle, emits metrics and notifies on failure. A
// distributor failure whose bundle was already gone has been handled by an earlier delivery.
func (c *Coordinator) closed(ctx context.Context, d closedDocument) {
	removed, shared, err := c.releaseBundle(ctx, d)
	if err != nil {
		c.logger.WarnContext(ctx, "purge input bundle failed", "doc_id", d.id, "cache_key", d.cacheKey, "error", err)
	}
	failed := d.reason != ""
	metrics.EmitDocumentFinished(c.metrics, metrics.DocumentMetric{
		Kind:   string(d.kind),
		Source: d.source,
		Failed: failed,
		Age:    c.now().Sub(d.createdAt),
	})
	c.logger.InfoContext(ctx, "document finished",
		"doc_id", d.id,
		"source", d.source,
		"failed", failed,
	)

	if !failed || c.notifier == nil {
		return
	}
	if d.source == SourceDistributor && err == nil && !shared && !removed {
		return
	}
	c.notifier.NotifyDocumentFailure(ctx, model.DocumentFailureEvent{
		DocID:         d.id,
		Kind:          d.kind,
		Reason:        d.reason,
		Source:        d.source,
		OpenSubJobs:   d.openSubJobs,
		FailedSubJobs: d.failedSubJobs,
		SubJobCount:   d.subJobCount,
		Results:       d.results,
		OccurredAt:    c.now(),
		CreatedAt:     d.createdAt,
	})
}

// releaseBundle purges the input bundle unless another open document was submitted with the
// same content and still needs it.
func (c *Coordinator) releaseBundle(ctx context.Context, d closedDocument) (removed, shared bool, err error) {
	shared, err = c.docs.CacheKeyInUse(ctx, d.cacheKey, d.id)
	if err != nil {
		return false, false, fmt.Errorf("check cache key usage: %w", err)
	}
	if shared {
		c.logger.DebugContext(ctx, "input bundle still referenced", "doc_id", d.id, "cache_key", d.cacheKey)
		return false, true, nil
	}
	removed, err = c.blobs.Purge(ctx, d.cacheKey)
	return removed, false, err
}
