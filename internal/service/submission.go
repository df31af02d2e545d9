package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/target/fbdispatch/internal/core"
	"github.com/target/fbdispatch/internal/domain/model"
)

// diffSubJobID is the single sub-job of a diff document.
const diffSubJobID = "0"

// SubmissionServiceOptions groups dependencies for SubmissionService.
type SubmissionServiceOptions struct {
	Docs         core.DocumentRepository // Required
	Blobs        core.BlobStore          // Required
	Jobs         core.JobPublisher       // Required
	Lister       core.DocumentLister     // Optional
	Logger       *slog.Logger
	MaxFonts     int
	MaxDiffFonts int
}

// SubmissionService stores incoming font bundles, creates their documents and enqueues the
// first job.
type SubmissionService struct {
	docs         core.DocumentRepository
	blobs        core.BlobStore
	jobs         core.JobPublisher
	lister       core.DocumentLister
	logger       *slog.Logger
	checkerRules FileRules
	diffRules    FileRules
	newID        func() string
	now          func() time.Time
}

// NewSubmissionService constructs a SubmissionService.
func NewSubmissionService(opts SubmissionServiceOptions) (*SubmissionService, error) {
	if opts.Docs == nil {
		return nil, errors.New("DocumentRepository is required")
	}
	if opts.Blobs == nil {
		return nil, errors.New("BlobStore is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("JobPublisher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SubmissionService{
		docs:         opts.Docs,
		blobs:        opts.Blobs,
		jobs:         opts.Jobs,
		lister:       opts.Lister,
		logger:       logger.With("component", "submission_service"),
		checkerRules: CheckerRules(opts.MaxFonts),
		diffRules:    DiffRules(opts.MaxDiffFonts),
		newID:        uuid.NewString,
		now:          time.Now,
	}, nil
}

// SubmitFamilyTest stores files and enqueues an origin job for the distributor.
func (s *SubmissionService) SubmitFamilyTest(
	ctx context.Context,
	files model.Bundle,
	metadata json.RawMessage,
) (*model.FamilyTestDocument, error) {
	return s.submit(ctx, submission{
		kind:     model.DocumentKindFamilyTest,
		jobKind:  model.JobKindOrigin,
		rules:    s.checkerRules,
		files:    files,
		metadata: metadata,
	})
}

// SubmitDiff stores a before/after bundle and enqueues a diff job.
func (s *SubmissionService) SubmitDiff(
	ctx context.Context,
	files model.Bundle,
	metadata json.RawMessage,
) (*model.FamilyTestDocument, error) {
	return s.submit(ctx, submission{
		kind:     model.DocumentKindDiff,
		jobKind:  model.JobKindDiff,
		subJobID: diffSubJobID,
		rules:    s.diffRules,
		files:    files,
		metadata: metadata,
	})
}

// Get returns the document with the given id.
func (s *SubmissionService) Get(ctx context.Context, id string) (*model.FamilyTestDocument, error) {
	return s.docs.GetByID(ctx, id)
}

// List returns one page of document summaries, newest first.
func (s *SubmissionService) List(ctx context.Context, opts model.DocumentListOptions) (model.DocumentPage, error) {
	if s.lister == nil {
		return model.DocumentPage{}, errors.New("document listing is not configured")
	}
	return s.lister.List(ctx, opts)
}

type submission struct {
	kind     model.DocumentKind
	jobKind  model.JobKind
	subJobID string
	rules    FileRules
	files    model.Bundle
	metadata json.RawMessage
}

func (s *SubmissionService) submit(ctx context.Context, in submission) (*model.FamilyTestDocument, error) {
	// Reject what a worker would reject before anything is stored.
	if _, _, err := ValidateBundle(in.files, in.rules); err != nil {
		return nil, err
	}

	keys, err := s.blobs.Put(ctx, []model.Bundle{in.files})
	if err != nil {
		return nil, fmt.Errorf("store bundle: %w", err)
	}
	cacheKey := keys[0]

	var jobIDs []string
	if in.subJobID != "" {
		jobIDs = append(jobIDs, in.subJobID)
	}
	doc, err := s.docs.Create(ctx, model.CreateDocumentRequest{
		ID:       s.newID(),
		Kind:     in.kind,
		CacheKey: cacheKey,
		Metadata: in.metadata,
	}, jobIDs...)
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	env := model.JobEnvelope{
		Kind:     in.jobKind,
		DocID:    doc.ID,
		SubJobID: in.subJobID,
		CacheKey: cacheKey,
	}
	if err := s.jobs.PublishJob(ctx, env); err != nil {
		pubErr := fmt.Errorf("enqueue %s job: %w", in.jobKind, err)
		if recErr := s.docs.RecordDocumentFailure(ctx, model.DocumentFailure{
			DocID:     doc.ID,
			Exception: ExceptionText(pubErr),
			At:        s.now(),
			Close:     true,
		}); recErr != nil {
			s.logger.ErrorContext(ctx, "failed to close unpublished document", "doc_id", doc.ID, "error", recErr)
		}
		return nil, pubErr
	}

	s.logger.InfoContext(ctx, "submitted document",
		"doc_id", doc.ID,
		"kind", in.kind,
		"files", len(in.files),
		"cache_key", cacheKey,
	)
	return doc, nil
}
