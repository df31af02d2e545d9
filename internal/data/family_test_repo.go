package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/target/fbdispatch/internal/domain/model"
	apperrors "github.com/target/fbdispatch/internal/errors"
)

// exceptionSeparator joins a secondary failure onto an already recorded one.
const exceptionSeparator = "\n\n AND "

// RepoConfig holds configuration options for the document repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// FamilyTestRepo stores the shared run documents in Postgres JSONB columns. Every mutation is
// a single UPDATE statement so concurrent workers never read-modify-write a document.
type FamilyTestRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewFamilyTestRepo creates a new FamilyTestRepo.
func NewFamilyTestRepo(db *sql.DB, cfg RepoConfig) *FamilyTestRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FamilyTestRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger.With("component", "family_test_repo"),
	}
}

const documentColumns = `
  id,
  kind,
  cache_key,
  jobs,
  check_index,
  descriptions,
  tests,
  results,
  preparation_logs,
  exception,
  is_finished,
  metadata,
  created_at,
  started_at,
  finished_at,
  updated_at
`

// Create inserts a new document. jobIDs pre-registers sub-jobs for runs that are not partitioned.
func (r *FamilyTestRepo) Create(ctx context.Context, req model.CreateDocumentRequest, jobIDs ...string) (*model.FamilyTestDocument, error) {
	if strings.TrimSpace(req.ID) == "" {
		return nil, apperrors.Validationf("document id is required")
	}
	if strings.TrimSpace(req.CacheKey) == "" {
		return nil, apperrors.Validationf("cache key is required")
	}
	kind := req.Kind
	if kind == "" {
		kind = model.DocumentKindFamilyTest
	}
	metadata := req.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}

	now := r.timeProvider.Now().UTC()
	jobs, err := json.Marshal(jobSkeleton(jobIDs, now))
	if err != nil {
		return nil, fmt.Errorf("encode jobs: %w", err)
	}

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO family_tests (id, kind, cache_key, jobs, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $6)
		RETURNING `+documentColumns,
		req.ID, string(kind), req.CacheKey, string(jobs), string(metadata), now)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return doc, nil
}

// GetByID returns the document with the given id.
func (r *FamilyTestRepo) GetByID(ctx context.Context, id string) (*model.FamilyTestDocument, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM family_tests WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return doc, nil
}

// WriteSkeleton stores the check index, descriptions and sub-job skeleton in one update and
// marks the document started. It only succeeds once per document; a second call (for example a
// redelivered distributor job) returns written=false and leaves the document untouched.
func (r *FamilyTestRepo) WriteSkeleton(ctx context.Context, sk model.DocumentSkeleton) (bool, error) {
	if len(sk.JobIDs) == 0 {
		return false, apperrors.Validationf("skeleton for %s has no sub-jobs", sk.DocID)
	}
	startedAt := sk.StartedAt.UTC()
	if startedAt.IsZero() {
		startedAt = r.timeProvider.Now().UTC()
	}

	index, err := json.Marshal(sk.CheckIndex)
	if err != nil {
		return false, fmt.Errorf("encode check index: %w", err)
	}
	descriptions, err := json.Marshal(nonNilMap(sk.Descriptions))
	if err != nil {
		return false, fmt.Errorf("encode descriptions: %w", err)
	}
	jobs, err := json.Marshal(jobSkeleton(sk.JobIDs, startedAt))
	if err != nil {
		return false, fmt.Errorf("encode jobs: %w", err)
	}
	logs, err := json.Marshal(nonNilSlice(sk.Logs))
	if err != nil {
		return false, fmt.Errorf("encode logs: %w", err)
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE family_tests
		SET check_index = $2::jsonb,
			descriptions = $3::jsonb,
			jobs = $4::jsonb,
			tests = '{}'::jsonb,
			results = '{}'::jsonb,
			preparation_logs = preparation_logs || $5::jsonb,
			started_at = $6,
			updated_at = $6
		WHERE id = $1
		  AND jobs = '{}'::jsonb
		  AND finished_at IS NULL
	`, sk.DocID, string(index), string(descriptions), string(jobs), string(logs), startedAt)
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	if _, getErr := r.GetByID(ctx, sk.DocID); getErr != nil {
		return false, getErr
	}
	return false, nil
}

// MergeCheckResults merges results into the tests map and recomputes the results rollup from the
// merged map in the same statement. Keys unknown to the document's check index reject the
// whole merge.
func (r *FamilyTestRepo) MergeCheckResults(ctx context.Context, docID string, results map[string]model.CheckResult) error {
	if len(results) == 0 {
		return nil
	}
	patch := make(map[string]model.TestEntry, len(results))
	for key, res := range results {
		if res.Result == "" {
			return apperrors.Aggregationf("check %s has no result category", key)
		}
		statuses := res.StatusLog
		if statuses == nil {
			statuses = []model.StatusLogEntry{}
		}
		patch[key] = model.TestEntry{Result: res.Result, Statuses: statuses}
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeAggregation, "encode check results")
	}

	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE family_tests AS d
		SET tests = d.tests || family_test_indexed($2::jsonb, d.check_index),
			results = family_test_rollup(d.tests || family_test_indexed($2::jsonb, d.check_index)),
			updated_at = $3
		WHERE d.id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM jsonb_object_keys($2::jsonb) AS k(key)
			WHERE NOT d.check_index ? k.key
		  )
	`, docID, string(body), now)
	if err != nil {
		return apperrors.Wrap(apperrors.MapDBError(err), apperrors.ErrCodeAggregation, "merge check results")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeAggregation, "merge check results")
	}
	if n != 1 {
		return apperrors.Aggregationf("merge check results into %s rejected: unknown document or check key", docID)
	}
	return nil
}

// MarkSubJobStarted sets jobs[subJobID].started_at, and the document's started_at when the
// document has none yet (diff runs are never distributed).
func (r *FamilyTestRepo) MarkSubJobStarted(ctx context.Context, docID, subJobID string) error {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE family_tests
		SET jobs = jsonb_set(jobs, ARRAY[$2::text],
				(jobs -> $2::text) || jsonb_build_object('started_at', to_jsonb($3::timestamptz))),
			started_at = COALESCE(started_at, $3),
			updated_at = $3
		WHERE id = $1 AND jobs ? $2::text
	`, docID, subJobID, now)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return r.requireSubJobRow(res, docID, subJobID)
}

// FinishSubJob sets jobs[id].finished_at together with the optional exception and artifact keys.
// A second call for the same sub-job appends the new exception to the recorded one.
func (r *FamilyTestRepo) FinishSubJob(ctx context.Context, fin model.SubJobFinish) error {
	at := fin.FinishedAt.UTC()
	if fin.FinishedAt.IsZero() {
		at = r.timeProvider.Now().UTC()
	}
	var artifacts any
	if len(fin.ArtifactIDs) > 0 {
		b, err := json.Marshal(fin.ArtifactIDs)
		if err != nil {
			return fmt.Errorf("encode artifacts: %w", err)
		}
		artifacts = string(b)
	}
	var exception any
	if fin.Exception != "" {
		exception = fin.Exception
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE family_tests
		SET jobs = jsonb_set(jobs, ARRAY[$2::text],
				(jobs -> $2::text) || jsonb_strip_nulls(jsonb_build_object(
					'finished_at', to_jsonb($3::timestamptz),
					'exception', CASE
						WHEN $4::text IS NULL THEN NULL
						WHEN jobs -> $2::text ->> 'exception' IS NULL THEN to_jsonb($4::text)
						ELSE to_jsonb((jobs -> $2::text ->> 'exception') || $6::text || $4::text)
					END,
					'artifacts', $5::jsonb
				))),
			updated_at = $3
		WHERE id = $1 AND jobs ? $2::text
	`, fin.DocID, fin.SubJobID, at, exception, artifacts, exceptionSeparator)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return r.requireSubJobRow(res, fin.DocID, fin.SubJobID)
}

// RecordDocumentFailure stores a document-level exception. When Close is set the document is
// also marked finished.
func (r *FamilyTestRepo) RecordDocumentFailure(ctx context.Context, f model.DocumentFailure) error {
	at := f.At.UTC()
	if f.At.IsZero() {
		at = r.timeProvider.Now().UTC()
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE family_tests
		SET exception = CASE WHEN exception IS NULL THEN $2 ELSE exception || $5 || $2 END,
			finished_at = CASE WHEN $4 THEN COALESCE(finished_at, $3) ELSE finished_at END,
			is_finished = is_finished OR $4,
			updated_at = $3
		WHERE id = $1
	`, f.DocID, f.Exception, at, f.Close, exceptionSeparator)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// AppendPreparationLogs appends human readable input validation messages.
func (r *FamilyTestRepo) AppendPreparationLogs(ctx context.Context, docID string, logs []string) error {
	if len(logs) == 0 {
		return nil
	}
	body, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("encode logs: %w", err)
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE family_tests
		SET preparation_logs = preparation_logs || $2::jsonb, updated_at = $3
		WHERE id = $1
	`, docID, string(body), r.timeProvider.Now().UTC())
	if err != nil {
		return apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// TryFinish marks the document finished when every sub-job has a finished_at marker.
// It returns the document's cache key and true only for the call that performed the transition.
func (r *FamilyTestRepo) TryFinish(ctx context.Context, docID string) (string, bool, error) {
	now := r.timeProvider.Now().UTC()
	var cacheKey string
	err := r.DB.QueryRowContext(ctx, `
		UPDATE family_tests AS d
		SET finished_at = $2, is_finished = true, updated_at = $2
		WHERE d.id = $1
		  AND d.finished_at IS NULL
		  AND d.jobs <> '{}'::jsonb
		  AND NOT EXISTS (
			SELECT 1 FROM jsonb_each(d.jobs) AS j
			WHERE j.value ->> 'finished_at' IS NULL
		  )
		RETURNING d.cache_key
	`, docID, now).Scan(&cacheKey)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.MapDBError(err)
	}
	return cacheKey, true, nil
}

// CacheKeyInUse reports whether any open document other than excludeDocID still references cacheKey.
func (r *FamilyTestRepo) CacheKeyInUse(ctx context.Context, cacheKey, excludeDocID string) (bool, error) {
	var inUse bool
	err := r.DB.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM family_tests
			WHERE cache_key = $1
			  AND finished_at IS NULL
			  AND id <> $2
		)
	`, cacheKey, excludeDocID).Scan(&inUse)
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	return inUse, nil
}

func (r *FamilyTestRepo) requireSubJobRow(res sql.Result, docID, subJobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrSubJobNotFound, docID, subJobID)
	}
	return nil
}

func jobSkeleton(ids []string, createdAt time.Time) map[string]model.SubJobMeta {
	jobs := make(map[string]model.SubJobMeta, len(ids))
	for _, id := range ids {
		jobs[id] = model.SubJobMeta{ID: id, CreatedAt: createdAt}
	}
	return jobs
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*model.FamilyTestDocument, error) {
	var (
		doc                   model.FamilyTestDocument
		kind                  string
		exception             sql.NullString
		startedAt, finishedAt sql.NullTime
		jobs, index, tests    []byte
		descriptions, results []byte
		logs, metadata        []byte
	)
	if err := row.Scan(
		&doc.ID, &kind, &doc.CacheKey,
		&jobs, &index, &descriptions, &tests, &results, &logs,
		&exception, &doc.IsFinished, &metadata,
		&doc.CreatedAt, &startedAt, &finishedAt, &doc.UpdatedAt,
	); err != nil {
		return nil, err
	}
	doc.Kind = model.DocumentKind(kind)
	if exception.Valid {
		doc.Exception = &exception.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		doc.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		doc.FinishedAt = &t
	}
	doc.Metadata = json.RawMessage(metadata)

	fields := []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"jobs", jobs, &doc.Jobs},
		{"check_index", index, &doc.CheckIndex},
		{"descriptions", descriptions, &doc.Descriptions},
		{"tests", tests, &doc.Tests},
		{"results", results, &doc.Results},
		{"preparation_logs", logs, &doc.PreparationLogs},
	}
	for _, f := range fields {
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.name, err)
		}
	}
	return &doc, nil
}
