// Package core declares the ports between the fbdispatch services and their adapters.
package core

import (
	"context"
	"time"

	"github.com/target/fbdispatch/internal/domain/model"
)

// This file contains the interface definitions (ports in hexagonal architecture) the worker
// services depend on. Concrete implementations live in internal/data, internal/queue and
// internal/engine.

// DocumentRepository defines the atomic document operations shared by all workers.
type DocumentRepository interface {
	Create(ctx context.Context, req model.CreateDocumentRequest, jobIDs ...string) (*model.FamilyTestDocument, error)
	GetByID(ctx context.Context, id string) (*model.FamilyTestDocument, error)
	// WriteSkeleton reports written=false when the document already carries a skeleton.
	WriteSkeleton(ctx context.Context, sk model.DocumentSkeleton) (bool, error)
	MergeCheckResults(ctx context.Context, docID string, results map[string]model.CheckResult) error
	MarkSubJobStarted(ctx context.Context, docID, subJobID string) error
	FinishSubJob(ctx context.Context, fin model.SubJobFinish) error
	RecordDocumentFailure(ctx context.Context, f model.DocumentFailure) error
	AppendPreparationLogs(ctx context.Context, docID string, logs []string) error
	// TryFinish returns finished=true only for the caller that performed the transition.
	TryFinish(ctx context.Context, docID string) (cacheKey string, finished bool, err error)
	// CacheKeyInUse reports whether an open document other than excludeDocID references cacheKey.
	CacheKeyInUse(ctx context.Context, cacheKey, excludeDocID string) (bool, error)
}

// DocumentLister pages through document summaries for dashboards and operators.
type DocumentLister interface {
	List(ctx context.Context, opts model.DocumentListOptions) (model.DocumentPage, error)
}

// SweepRepository defines the reconciliation queries run by the sweeper.
type SweepRepository interface {
	FinishCompletedDocuments(ctx context.Context, batchSize int) ([]model.StaleDocument, error)
	ForceCloseStaleDocuments(ctx context.Context, maxAge time.Duration, batchSize int) ([]model.StaleDocument, error)
}

// BlobStore holds content-addressed file bundles.
type BlobStore interface {
	Get(ctx context.Context, cacheKey string) (model.Bundle, error)
	// Put returns one storage key per bundle, in order.
	Put(ctx context.Context, bundles []model.Bundle) ([]string, error)
	Purge(ctx context.Context, cacheKey string) (bool, error)
}

// JobPublisher routes job envelopes to the input subject of the role that handles their kind.
type JobPublisher interface {
	PublishJob(ctx context.Context, env model.JobEnvelope) error
}

// CompletionPublisher emits completion messages on the cleanup subject.
type CompletionPublisher interface {
	PublishCompletion(ctx context.Context, msg model.CompletionMessage) error
}

// CheckEngine is the external font check runner.
type CheckEngine interface {
	// Plan lists the full check order for fonts located in dir.
	Plan(ctx context.Context, dir string, fonts []string) (*model.CheckPlan, error)
	// Run executes order against fonts and calls emit for every finished check, in order.
	// An error returned by emit stops the run and is returned unchanged.
	Run(ctx context.Context, req model.CheckRun, emit func(model.CheckResult) error) error
}

// DiffTool is the external font diffing tool.
type DiffTool interface {
	// Diff compares the fonts in beforeDir and afterDir and writes artifacts into outDir.
	Diff(ctx context.Context, beforeDir, afterDir, outDir string) error
}

// FailureNotifier delivers alerts for documents that closed exceptionally.
type FailureNotifier interface {
	NotifyDocumentFailure(ctx context.Context, f model.DocumentFailureEvent)
}
