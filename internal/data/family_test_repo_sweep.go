package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/target/fbdispatch/internal/data/pgxutil"
	"github.com/target/fbdispatch/internal/domain/model"
)

// Advisory lock namespace for reconciliation sweeps.
// Using two-arg pg_try_advisory_xact_lock(major, minor) for proper namespacing.
const (
	advisoryLockSweepMajor      = 2000
	advisoryLockSweepFinish     = 1 // minor key for FinishCompletedDocuments
	advisoryLockSweepForceClose = 2 // minor key for ForceCloseStaleDocuments
)

// FinishCompletedDocuments closes open documents whose sub-jobs have all finished but whose
// completion message was lost. Processes up to batchSize documents per call and returns them.
func (r *FamilyTestRepo) FinishCompletedDocuments(ctx context.Context, batchSize int) ([]model.StaleDocument, error) {
	var out []model.StaleDocument
	err := r.withSweepLock(ctx, advisoryLockSweepFinish, func(tx *sql.Tx) error {
		now := r.timeProvider.Now().UTC()
		rows, err := tx.QueryContext(ctx, `
			UPDATE family_tests AS d
			SET finished_at = $1, is_finished = true, updated_at = $1
			WHERE d.id IN (
				SELECT f.id FROM family_tests AS f
				WHERE f.finished_at IS NULL
				  AND f.jobs <> '{}'::jsonb
				  AND NOT EXISTS (
					SELECT 1 FROM jsonb_each(f.jobs) AS j
					WHERE j.value ->> 'finished_at' IS NULL
				  )
				ORDER BY f.created_at
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			RETURNING d.id, d.cache_key, d.created_at
		`, now, batchSize)
		if err != nil {
			return fmt.Errorf("finish completed documents: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var doc model.StaleDocument
			if scanErr := rows.Scan(&doc.ID, &doc.CacheKey, &doc.CreatedAt); scanErr != nil {
				return fmt.Errorf("scan finished document: %w", scanErr)
			}
			out = append(out, doc)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ForceCloseStaleDocuments closes documents created more than maxAge ago that are still open.
// Every sub-job without a finished_at marker is finished with the given reason as its exception,
// and the reason is appended to the document exception.
func (r *FamilyTestRepo) ForceCloseStaleDocuments(
	ctx context.Context,
	maxAge time.Duration,
	batchSize int,
) ([]model.StaleDocument, error) {
	var out []model.StaleDocument
	err := r.withSweepLock(ctx, advisoryLockSweepForceClose, func(tx *sql.Tx) error {
		now := r.timeProvider.Now().UTC()
		cutoff := now.Add(-maxAge)
		reason := fmt.Sprintf("abandoned: no completion reported within %s", maxAge)

		rows, err := tx.QueryContext(ctx, `
			WITH stale AS (
				SELECT f.id,
					(SELECT COALESCE(jsonb_agg(j.key ORDER BY j.key), '[]'::jsonb)
					 FROM jsonb_each(f.jobs) AS j
					 WHERE j.value ->> 'finished_at' IS NULL) AS open_jobs
				FROM family_tests AS f
				WHERE f.finished_at IS NULL
				  AND f.created_at < $2
				ORDER BY f.created_at
				LIMIT $3
				FOR UPDATE SKIP LOCKED
			)
			UPDATE family_tests AS d
			SET jobs = COALESCE((
					SELECT jsonb_object_agg(j.key, CASE
						WHEN j.value ->> 'finished_at' IS NULL THEN j.value || jsonb_build_object(
							'finished_at', to_jsonb($1::timestamptz),
							'exception', to_jsonb($4::text))
						ELSE j.value
					END)
					FROM jsonb_each(d.jobs) AS j
				), '{}'::jsonb),
				exception = CASE WHEN d.exception IS NULL THEN $4 ELSE d.exception || $5 || $4 END,
				finished_at = $1,
				is_finished = true,
				updated_at = $1
			FROM stale
			WHERE d.id = stale.id
			RETURNING d.id, d.cache_key, d.created_at, stale.open_jobs
		`, now, cutoff, batchSize, reason, exceptionSeparator)
		if err != nil {
			return fmt.Errorf("force close stale documents: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				doc      model.StaleDocument
				openJobs []byte
			)
			if scanErr := rows.Scan(&doc.ID, &doc.CacheKey, &doc.CreatedAt, &openJobs); scanErr != nil {
				return fmt.Errorf("scan stale document: %w", scanErr)
			}
			if jsonErr := json.Unmarshal(openJobs, &doc.OpenSubJobs); jsonErr != nil {
				return fmt.Errorf("decode open sub-jobs: %w", jsonErr)
			}
			doc.ForceClosed = true
			out = append(out, doc)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// withSweepLock runs fn in a transaction holding the sweep advisory lock for minor.
// When another sweeper holds the lock, fn is skipped and nil is returned.
func (r *FamilyTestRepo) withSweepLock(ctx context.Context, minor int, fn func(*sql.Tx) error) error {
	return pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockSweepMajor, minor).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				r.logger.DebugContext(ctx, "sweep lock held elsewhere", "lock_minor", minor)
				return nil
			}
			return fn(tx)
		},
	})
}
