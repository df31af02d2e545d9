package service

import (
	"context"

	"github.com/target/fbdispatch/internal/domain/model"
	apperrors "github.com/target/fbdispatch/internal/errors"
)

// checkerJob runs one partition of a family test and streams its results into the
// parent document.
type checkerJob struct {
	jobBase
	agg     *Aggregator
	emitted int
}

func (j *checkerJob) Prepare(ctx context.Context) error {
	if err := j.svc.opts.Docs.MarkSubJobStarted(ctx, j.env.DocID, j.env.SubJobID); err != nil {
		return err
	}
	if len(j.env.Order) == 0 {
		return nil
	}
	if j.svc.opts.Engine == nil {
		return apperrors.Internalf("checker requires a check engine")
	}
	ws, _, err := PrepareWorkspace(ctx, j.svc.opts.Blobs, j.env.CacheKey, j.svc.opts.WorkDir,
		CheckerRules(j.svc.opts.MaxFonts))
	if err != nil {
		return err
	}
	j.ws = ws
	return nil
}

func (j *checkerJob) Run(ctx context.Context) (model.RunSummary, error) {
	if len(j.env.Order) == 0 {
		return model.RunSummary{}, nil
	}
	err := j.svc.opts.Engine.Run(ctx, model.CheckRun{
		Dir:   j.ws.Dir,
		Fonts: j.ws.Fonts(""),
		Order: j.env.Order,
	}, func(res model.CheckResult) error {
		j.emitted++
		return j.agg.Record(ctx, res)
	})
	return model.RunSummary{Checks: j.emitted}, err
}

func (j *checkerJob) Finalize(ctx context.Context, outcome Outcome) error {
	var flushErr error
	if !apperrors.IsAggregation(outcome.Err) {
		flushErr = j.agg.Flush(ctx)
	}
	if j.agg.Pending() > 0 {
		j.svc.logger.ErrorContext(ctx, "check results lost",
			"doc_id", j.env.DocID,
			"sub_job_id", j.env.SubJobID,
			"pending", j.agg.Pending(),
		)
	}
	j.cleanup(ctx)

	summary := outcome.Summary
	summary.Results = j.agg.Counts()
	return j.finishSubJob(ctx, subJobReport{
		role:      model.RoleChecker,
		primary:   outcome.Err,
		secondary: []error{flushErr},
		summary:   summary,
	})
}
