package service

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/target/fbdispatch/internal/domain/model"
	apperrors "github.com/target/fbdispatch/internal/errors"
)

const (
	diffOutDir = "out"
	// rootArtifact names the bundle of files written directly into the output directory.
	rootArtifact = "report"
)

// diffJob runs the diff tool over a before/after bundle and stores every result directory as
// its own bundle.
type diffJob struct {
	jobBase
	logs []string
}

func (j *diffJob) Prepare(ctx context.Context) error {
	if err := j.svc.opts.Docs.MarkSubJobStarted(ctx, j.env.DocID, j.env.SubJobID); err != nil {
		return err
	}
	if j.svc.opts.Differ == nil {
		return apperrors.Internalf("differ requires a diff tool")
	}
	ws, logs, err := PrepareWorkspace(ctx, j.svc.opts.Blobs, j.env.CacheKey, j.svc.opts.WorkDir,
		DiffRules(j.svc.opts.MaxDiffFonts))
	j.logs = logs
	if err != nil {
		return err
	}
	j.ws = ws
	return os.Mkdir(ws.Path(diffOutDir), 0o750)
}

func (j *diffJob) Run(ctx context.Context) (model.RunSummary, error) {
	err := j.svc.opts.Differ.Diff(ctx, j.ws.Path(DiffBeforeDir), j.ws.Path(DiffAfterDir), j.ws.Path(diffOutDir))
	return model.RunSummary{}, err
}

func (j *diffJob) Finalize(ctx context.Context, outcome Outcome) error {
	var secondary []error
	if len(j.logs) > 0 {
		if err := j.svc.opts.Docs.AppendPreparationLogs(ctx, j.env.DocID, j.logs); err != nil {
			secondary = append(secondary, fmt.Errorf("store preparation logs: %w", err))
		}
	}

	var artifacts []string
	if j.ws != nil {
		ids, err := j.storeArtifacts(ctx)
		if err != nil {
			secondary = append(secondary, apperrors.Wrap(err, apperrors.ErrCodeExternalTool, "Can't create (all) results"))
		}
		artifacts = ids
	}
	j.cleanup(ctx)

	return j.finishSubJob(ctx, subJobReport{
		role:      model.RoleDiffer,
		primary:   outcome.Err,
		secondary: secondary,
		summary:   model.RunSummary{Artifacts: artifacts},
		artifacts: artifacts,
	})
}

// storeArtifacts puts the output directory to the blob store and returns "name=key" ids.
func (j *diffJob) storeArtifacts(ctx context.Context) ([]string, error) {
	names, bundles, err := collectArtifacts(j.ws.Path(diffOutDir))
	if err != nil || len(bundles) == 0 {
		return nil, err
	}
	keys, err := j.svc.opts.Blobs.Put(ctx, bundles)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(keys))
	for i, key := range keys {
		ids[i] = names[i] + "=" + key
	}
	return ids, nil
}

// collectArtifacts groups the files below dir into one bundle per top-level directory. Files
// directly inside dir form a bundle named "report". Bundles and their files are sorted by name.
func collectArtifacts(dir string) ([]string, []model.Bundle, error) {
	groups := make(map[string]model.Bundle)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		group, name := rootArtifact, filepath.ToSlash(rel)
		if top, rest, found := strings.Cut(name, "/"); found {
			group, name = top, rest
		}
		groups[group] = append(groups[group], model.NamedBlob{Name: name, Data: data})
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("collect artifacts: %w", err)
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	bundles := make([]model.Bundle, len(names))
	for i, name := range names {
		bundles[i] = groups[name]
	}
	return names, bundles, nil
}
