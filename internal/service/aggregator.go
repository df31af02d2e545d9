package service

import (
	"context"
	"fmt"
	"maps"

	"github.com/target/fbdispatch/internal/domain/model"
	apperrors "github.com/target/fbdispatch/internal/errors"
)

// ResultMerger is the document operation the aggregator flushes into.
type ResultMerger interface {
	MergeCheckResults(ctx context.Context, docID string, results map[string]model.CheckResult) error
}

// Aggregator buffers the check results of one sub-job and merges them into the parent
// document every ticksToFlush results. It is not safe for concurrent use; a sub-job records
// results from a single goroutine in the order the engine emits them.
type Aggregator struct {
	merger       ResultMerger
	docID        string
	ticksToFlush int

	pending map[string]model.CheckResult
	counts  map[model.CheckResultCategory]int
	merged  int
}

// NewAggregator creates an aggregator for docID. ticksToFlush below 1 means 1.
func NewAggregator(merger ResultMerger, docID string, ticksToFlush int) *Aggregator {
	if ticksToFlush < 1 {
		ticksToFlush = 1
	}
	return &Aggregator{
		merger:       merger,
		docID:        docID,
		ticksToFlush: ticksToFlush,
		counts:       make(map[model.CheckResultCategory]int),
	}
}

// Record buffers res and flushes when the buffer reached ticksToFlush entries.
// A check reported twice keeps its latest result.
func (a *Aggregator) Record(ctx context.Context, res model.CheckResult) error {
	if res.Result == "" {
		return apperrors.Aggregationf("check %s finished without a result", res.Identity.Key())
	}
	if a.pending == nil {
		a.pending = make(map[string]model.CheckResult, a.ticksToFlush)
	}
	a.pending[res.Identity.Key()] = res
	if len(a.pending) >= a.ticksToFlush {
		return a.Flush(ctx)
	}
	return nil
}

// Flush merges every buffered result. A failed merge keeps the buffer so the caller can
// report what was lost; the error is fatal for the sub-job.
func (a *Aggregator) Flush(ctx context.Context) error {
	if len(a.pending) == 0 {
		return nil
	}
	if err := a.merger.MergeCheckResults(ctx, a.docID, a.pending); err != nil {
		if apperrors.IsAggregation(err) {
			return err
		}
		return apperrors.Wrap(err, apperrors.ErrCodeAggregation,
			fmt.Sprintf("merge %d check results", len(a.pending)))
	}
	for _, res := range a.pending {
		a.counts[res.Result]++
	}
	a.merged += len(a.pending)
	a.pending = nil
	return nil
}

// Pending returns the number of buffered results.
func (a *Aggregator) Pending() int { return len(a.pending) }

// Merged returns the number of results merged so far.
func (a *Aggregator) Merged() int { return a.merged }

// Counts returns the per-category counts of merged results.
func (a *Aggregator) Counts() map[model.CheckResultCategory]int {
	return maps.Clone(a.counts)
}
