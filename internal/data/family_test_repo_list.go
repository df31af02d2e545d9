package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/target/fbdispatch/internal/data/database"
	"github.com/target/fbdispatch/internal/domain/model"
	apperrors "github.com/target/fbdispatch/internal/errors"
)

const (
	documentsTable = "family_tests"

	// hasExceptionSQL is true when the document or any sub-job recorded an exception.
	hasExceptionSQL = `(exception IS NOT NULL OR EXISTS (
		SELECT 1 FROM jsonb_each(jobs) AS j WHERE COALESCE(j.value ->> 'exception', '') <> ''))`
)

// List returns one page of document summaries, newest first, plus the total match count.
func (r *FamilyTestRepo) List(ctx context.Context, opts model.DocumentListOptions) (model.DocumentPage, error) {
	if err := opts.Normalize(); err != nil {
		return model.DocumentPage{}, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid list options")
	}
	filters := listFilters(opts)

	countQuery, countArgs := database.BuildListQuery(database.NewListQueryOptions(documentsTable,
		slices.Concat(filters, []database.ListQueryOption{database.WithCountOnly()})...))
	var total int
	if err := r.DB.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return model.DocumentPage{}, apperrors.MapDBError(err)
	}

	page := model.DocumentPage{Items: []model.DocumentSummary{}, Total: total, Limit: opts.Limit, Offset: opts.Offset}
	if total == 0 || opts.Offset >= total {
		return page, nil
	}

	listQuery, listArgs := database.BuildListQuery(database.NewListQueryOptions(documentsTable,
		slices.Concat(filters, []database.ListQueryOption{
			database.WithColumns("id", "kind", "jobs", "exception", "created_at", "finished_at"),
			database.WithOrderBy("created_at", "desc"),
			database.WithOrderBy("id", "asc"),
			database.WithLimit(opts.Limit),
			database.WithOffset(opts.Offset),
		})...))
	rows, err := r.DB.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return model.DocumentPage{}, apperrors.MapDBError(err)
	}
	defer rows.Close()

	for rows.Next() {
		summary, scanErr := scanSummary(rows)
		if scanErr != nil {
			return model.DocumentPage{}, scanErr
		}
		page.Items = append(page.Items, summary)
	}
	if err := rows.Err(); err != nil {
		return model.DocumentPage{}, apperrors.MapDBError(err)
	}
	return page, nil
}

func listFilters(opts model.DocumentListOptions) []database.ListQueryOption {
	var out []database.ListQueryOption
	if opts.Kind != "" {
		out = append(out, database.WithCondition(database.WhereCond("kind", database.Equal, string(opts.Kind))))
	}
	switch opts.Status {
	case model.DocumentStatusOpen:
		out = append(out, database.WithCondition(database.WhereRawCond("finished_at IS NULL")))
	case model.DocumentStatusFinished:
		out = append(out, database.WithCondition(database.WhereRawCond("finished_at IS NOT NULL AND NOT "+hasExceptionSQL)))
	case model.DocumentStatusFailed:
		out = append(out, database.WithCondition(database.WhereRawCond("finished_at IS NOT NULL AND "+hasExceptionSQL)))
	case model.DocumentStatusAny:
	}
	return out
}

func scanSummary(rows *sql.Rows) (model.DocumentSummary, error) {
	var (
		s         model.DocumentSummary
		kind      string
		jobs      []byte
		exception sql.NullString
	)
	if err := rows.Scan(&s.ID, &kind, &jobs, &exception, &s.CreatedAt, &s.FinishedAt); err != nil {
		return s, fmt.Errorf("scan document summary: %w", err)
	}
	s.Kind = model.DocumentKind(kind)

	doc := model.FamilyTestDocument{FinishedAt: s.FinishedAt}
	if exception.Valid {
		doc.Exception = &exception.String
	}
	if err := json.Unmarshal(jobs, &doc.Jobs); err != nil {
		return s, fmt.Errorf("decode jobs of %s: %w", s.ID, err)
	}
	s.SubJobs = len(doc.Jobs)
	for _, j := range doc.Jobs {
		if !j.Finished() {
			s.OpenSubJobs++
		}
	}
	s.HasException = doc.FailureText() != ""
	switch {
	case s.FinishedAt == nil:
		s.Status = model.DocumentStatusOpen
	case s.HasException:
		s.Status = model.DocumentStatusFailed
	default:
		s.Status = model.DocumentStatusFinished
	}
	return s, nil
}
