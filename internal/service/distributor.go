package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/target/fbdispatch/internal/domain/model"
	apperrors "github.com/target/fbdispatch/internal/errors"
)

// distributorJob plans the full check order for an origin job, writes the document skeleton
// and publishes one distributed envelope per partition.
type distributorJob struct {
	jobBase

	logs           []string
	skeletonStored bool
}

func (j *distributorJob) Prepare(ctx context.Context) error {
	if j.svc.opts.Engine == nil || j.svc.opts.Jobs == nil {
		return apperrors.Internalf("distributor requires a check engine and a job publisher")
	}
	ws, logs, err := PrepareWorkspace(ctx, j.svc.opts.Blobs, j.env.CacheKey, j.svc.opts.WorkDir,
		CheckerRules(j.svc.opts.MaxFonts))
	j.logs = logs
	if err != nil {
		return err
	}
	j.ws = ws
	return nil
}

func (j *distributorJob) Run(ctx context.Context) (model.RunSummary, error) {
	opts := j.svc.opts
	fonts := j.ws.Fonts("")

	plan, err := opts.Engine.Plan(ctx, j.ws.Dir, fonts)
	if err != nil {
		return model.RunSummary{}, err
	}
	envs := Partition(j.env, plan.Order, len(fonts))

	written, err := opts.Docs.WriteSkeleton(ctx, model.DocumentSkeleton{
		DocID:        j.env.DocID,
		CheckIndex:   CheckIndex(plan.Order),
		Descriptions: plan.Descriptions,
		JobIDs:       SubJobIDs(envs),
		Logs:         j.logs,
		StartedAt:    j.svc.now(),
	})
	if err != nil {
		return model.RunSummary{}, fmt.Errorf("write document skeleton: %w", err)
	}
	j.skeletonStored = true

	summary := model.RunSummary{Checks: len(plan.Order), SubJobs: len(envs)}
	if !written {
		// Redelivered origin job: only republish partitions that never finished.
		doc, err := opts.Docs.GetByID(ctx, j.env.DocID)
		if err != nil {
			return model.RunSummary{}, fmt.Errorf("load document: %w", err)
		}
		if doc.IsFinished {
			j.svc.logger.InfoContext(ctx, "document already finished, nothing to distribute", "doc_id", j.env.DocID)
			return summary, nil
		}
		envs = unfinished(envs, doc.Jobs)
	}

	var errs []error
	for _, env := range envs {
		if err := opts.Jobs.PublishJob(ctx, env); err != nil {
			errs = append(errs, fmt.Errorf("publish sub-job %s: %w", env.SubJobID, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return model.RunSummary{}, err
	}
	j.svc.logger.InfoContext(ctx, "distributed family test",
		"doc_id", j.env.DocID,
		"checks", summary.Checks,
		"published", len(envs),
	)
	return summary, nil
}

func unfinished(envs []model.JobEnvelope, jobs map[string]model.SubJobMeta) []model.JobEnvelope {
	out := envs[:0:0]
	for _, env := range envs {
		if meta, ok := jobs[env.SubJobID]; ok && meta.Finished() {
			continue
		}
		out = append(out, env)
	}
	return out
}

// Finalize closes the document when distribution failed. Sub-jobs own the success path,
// so a successful distributor only reports its summary.
func (j *distributorJob) Finalize(ctx context.Context, outcome Outcome) error {
	j.cleanup(ctx)
	docs := j.svc.opts.Docs

	if !outcome.Failed() {
		summary := outcome.Summary
		j.emit(ctx, model.CompletionMessage{Role: model.RoleDistributor, DocID: j.env.DocID, Summary: &summary})
		return nil
	}

	var secondary []error
	if !j.skeletonStored && len(j.logs) > 0 {
		if err := docs.AppendPreparationLogs(ctx, j.env.DocID, j.logs); err != nil {
			secondary = append(secondary, fmt.Errorf("store preparation logs: %w", err))
		}
	}
	exception := ExceptionText(outcome.Err, secondary...)
	recordErr := docs.RecordDocumentFailure(ctx, model.DocumentFailure{
		DocID:     j.env.DocID,
		Exception: exception,
		At:        j.svc.now(),
		Close:     true,
	})
	j.emit(ctx, model.CompletionMessage{Role: model.RoleDistributor, DocID: j.env.DocID, Failure: exception})

	if recordErr != nil {
		return fmt.Errorf("%w: record distributor failure for %s: %w", ErrUnrecorded, j.env.DocID, recordErr)
	}
	return nil
}
