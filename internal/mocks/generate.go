// Package mocks provides mock implementations of the fbdispatch ports for testing.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the interfaces in
// internal/core. The mocks are generated using go:generate directives and provide a fluent API
// for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	docs := mocks.NewMockDocumentRepository(ctrl)
//	docs.EXPECT().TryFinish(gomock.Any(), "doc-1").Return("sha256:abc", true, nil)
package mocks

// Generate mock for DocumentRepository interface from internal/core package.
// This creates MockDocumentRepository with methods for all DocumentRepository interface methods:
// Create, GetByID, WriteSkeleton, MergeCheckResults, MarkSubJobStarted, FinishSubJob,
// RecordDocumentFailure, AppendPreparationLogs, TryFinish
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=document_repository_mock.go github.com/target/fbdispatch/internal/core DocumentRepository

// Generate mock for SweepRepository interface from internal/core package.
// This creates MockSweepRepository with methods for all SweepRepository interface methods:
// FinishCompletedDocuments, ForceCloseStaleDocuments
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=sweep_repository_mock.go github.com/target/fbdispatch/internal/core SweepRepository

// Generate mock for DocumentLister interface from internal/core package.
// This creates MockDocumentLister with methods for all DocumentLister interface methods:
// List
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=document_lister_mock.go github.com/target/fbdispatch/internal/core DocumentLister

// Generate mock for BlobStore interface from internal/core package.
// This creates MockBlobStore with methods for all BlobStore interface methods:
// Get, Put, Purge
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=blob_store_mock.go github.com/target/fbdispatch/internal/core BlobStore

// Generate mock for JobPublisher interface from internal/core package.
// This creates MockJobPublisher with methods for all JobPublisher interface methods:
// PublishJob
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_publisher_mock.go github.com/target/fbdispatch/internal/core JobPublisher

// Generate mock for CompletionPublisher interface from internal/core package.
// This creates MockCompletionPublisher with methods for all CompletionPublisher interface methods:
// PublishCompletion
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=completion_publisher_mock.go github.com/target/fbdispatch/internal/core CompletionPublisher

// Generate mock for CheckEngine interface from internal/core package.
// This creates MockCheckEngine with methods for all CheckEngine interface methods:
// Plan, Run
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=check_engine_mock.go github.com/target/fbdispatch/internal/core CheckEngine

// Generate mock for DiffTool interface from internal/core package.
// This creates MockDiffTool with methods for all DiffTool interface methods:
// Diff
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=diff_tool_mock.go github.com/target/fbdispatch/internal/core DiffTool

// Generate mock for FailureNotifier interface from internal/core package.
// This creates MockFailureNotifier with methods for all FailureNotifier interface methods:
// NotifyDocumentFailure
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=failure_notifier_mock.go github.com/target/fbdispatch/internal/core FailureNotifier
