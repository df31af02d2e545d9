package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/fbdispatch/internal/domain/model"
	"github.com/target/fbdispatch/internal/mocks"
	"github.com/target/fbdispatch/internal/testutil"
	"go.uber.org/mock/gomock"
)

type workerFixture struct {
	docs        *mocks.MockDocumentRepository
	blobs       *mocks.MockBlobStore
	jobs        *mocks.MockJobPublisher
	completions *mocks.MockCompletionPublisher
	engine      *mocks.MockCheckEngine
	differ      *mocks.MockDiffTool
	svc         *WorkerService
	workDir     string
	sent        []model.CompletionMessage
}

func newWorkerFixture(t *testing.T, ticks int) *workerFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &workerFixture{
		docs:        mocks.NewMockDocumentRepository(ctrl),
		blobs:       mocks.NewMockBlobStore(ctrl),
		jobs:        mocks.NewMockJobPublisher(ctrl),
		completions: mocks.NewMockCompletionPublisher(ctrl),
		engine:      mocks.NewMockCheckEngine(ctrl),
		differ:      mocks.NewMockDiffTool(ctrl),
		workDir:     t.TempDir(),
	}
	svc, err := NewWorkerService(WorkerServiceOptions{
		Docs:         f.docs,
		Blobs:        f.blobs,
		Completions:  f.completions,
		Jobs:         f.jobs,
		Engine:       f.engine,
		Differ:       f.differ,
		WorkDir:      f.workDir,
		TicksToFlush: ticks,
	})
	require.NoError(t, err)
	f.svc = svc

	// Every job emits exactly one completion message.
	f.completions.EXPECT().PublishCompletion(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg model.CompletionMessage) error {
			f.sent = append(f.sent, msg)
			return nil
		}).Times(1)
	return f
}

func (f *workerFixture) assertWorkDirEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.workDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace must be removed")
}

func passAll(_ context.Context, req model.CheckRun, emit func(model.CheckResult) error) error {
	for _, id := range req.Order {
		if err := emit(testutil.PassResult(id)); err != nil {
			return err
		}
	}
	return nil
}

func TestNewWorkerService_RequiresPorts(t *testing.T) {
	_, err := NewWorkerService(WorkerServiceOptions{})
	require.Error(t, err)
}

func TestWorkerService_DistributorPartitionsAndPublishes(t *testing.T) {
	f := newWorkerFixture(t, 1)
	ctx := context.Background()
	env := testutil.NewOriginEnvelope().Build()
	order := testutil.CheckOrder(10, "A-Regular.ttf", "B-Bold.ttf")

	f.blobs.EXPECT().Get(gomock.Any(), "sha256:abc").
		Return(testutil.FontBundle("B-Bold.ttf", "A-Regular.ttf", "METADATA.pb"), nil)
	f.engine.EXPECT().Plan(gomock.Any(), gomock.Any(), []string{"A-Regular.ttf", "B-Bold.ttf"}).
		DoAndReturn(func(_ context.Context, dir string, fonts []string) (*model.CheckPlan, error) {
			for _, name := range fonts {
				assert.FileExists(t, filepath.Join(dir, name))
			}
			return &model.CheckPlan{Order: order}, nil
		})
	f.docs.EXPECT().WriteSkeleton(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, sk model.DocumentSkeleton) (bool, error) {
			assert.Equal(t, []string{"0", "1", "2"}, sk.JobIDs)
			assert.Len(t, sk.CheckIndex, 10)
			assert.Equal(t, 0, sk.CheckIndex[order[0].Key()])
			assert.Contains(t, sk.Logs, `Added file "METADATA.pb".`)
			return true, nil
		})

	var published []model.JobEnvelope
	f.jobs.EXPECT().PublishJob(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, e model.JobEnvelope) error {
			published = append(published, e)
			return nil
		}).Times(3)

	require.NoError(t, f.svc.Handle(ctx, env))

	sizes := make([]int, len(published))
	for i, e := range published {
		sizes[i] = len(e.Order)
		assert.Equal(t, model.JobKindDistributed, e.Kind)
		assert.Equal(t, env.CacheKey, e.CacheKey)
	}
	assert.Equal(t, []int{4, 4, 2}, sizes)

	require.Len(t, f.sent, 1)
	assert.Equal(t, model.RoleDistributor, f.sent[0].Role)
	require.NotNil(t, f.sent[0].Summary)
	assert.Equal(t, 10, f.sent[0].Summary.Checks)
	assert.Equal(t, 3, f.sent[0].Summary.SubJobs)
	f.assertWorkDirEmpty(t)
}

func TestWorkerService_DistributorRejectsInvalidFilename(t *testing.T) {
	f := newWorkerFixture(t, 1)
	env := testutil.NewOriginEnvelope().Build()

	f.blobs.EXPECT().Get(gomock.Any(), env.CacheKey).
		Return(testutil.FontBundle("A-Regular.ttf", "../evil.ttf"), nil)
	f.docs.EXPECT().AppendPreparationLogs(gomock.Any(), env.DocID, []string{`Added file "A-Regular.ttf".`}).
		Return(nil)
	f.docs.EXPECT().RecordDocumentFailure(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, fail model.DocumentFailure) error {
			assert.True(t, fail.Close)
			assert.Equal(t, `preparation: Invalid filename: "../evil.ttf".`, fail.Exception)
			return nil
		})

	require.NoError(t, f.svc.Handle(context.Background(), env))

	require.Len(t, f.sent, 1)
	assert.True(t, f.sent[0].Failed())
	assert.Nil(t, f.sent[0].Summary)
	f.assertWorkDirEmpty(t)
}

func TestWorkerService_DistributorSkipsDuplicateFilename(t *testing.T) {
	f := newWorkerFixture(t, 1)
	env := testutil.NewOriginEnvelope().Build()

	f.blobs.EXPECT().Get(gomock.Any(), env.CacheKey).
		Return(testutil.FontBundle("A.ttf", "A.ttf", "B.ttf"), nil)
	f.engine.EXPECT().Plan(gomock.Any(), gomock.Any(), []string{"A.ttf", "B.ttf"}).
		Return(&model.CheckPlan{Order: testutil.CheckOrder(3)}, nil)
	f.docs.EXPECT().WriteSkeleton(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, sk model.DocumentSkeleton) (bool, error) {
			assert.Equal(t, []string{
				`Added file "A.ttf".`,
				`Skipping duplicate file name "A.ttf".`,
				`Added file "B.ttf".`,
			}, sk.Logs)
			return true, nil
		})
	f.jobs.EXPECT().PublishJob(gomock.Any(), gomock.Any()).Return(nil).Times(3)

	require.NoError(t, f.svc.Handle(context.Background(), env))
	assert.False(t, f.sent[0].Failed())
}

func TestWorkerService_DistributorRedeliveryRepublishesOpenPartitions(t *testing.T) {
	f := newWorkerFixture(t, 1)
	env := testutil.NewOriginEnvelope().WithAttempt(1).Build()
	finished := testutil.TestTime()

	f.blobs.EXPECT().Get(gomock.Any(), env.CacheKey).Return(testutil.FontBundle("A.ttf", "B.ttf"), nil)
	f.engine.EXPECT().Plan(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&model.CheckPlan{Order: testutil.CheckOrder(10)}, nil)
	f.docs.EXPECT().WriteSkeleton(gomock.Any(), gomock.Any()).Return(false, nil)
	f.docs.EXPECT().GetByID(gomock.Any(), env.DocID).Return(&model.FamilyTestDocument{
		ID: env.DocID,
		Jobs: map[string]model.SubJobMeta{
			"0": {ID: "0", FinishedAt: &finished},
			"1": {ID: "1"},
			"2": {ID: "2"},
		},
	}, nil)

	var republished []string
	f.jobs.EXPECT().PublishJob(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, e model.JobEnvelope) error {
			republished = append(republished, e.SubJobID)
			return nil
		}).Times(2)

	require.NoError(t, f.svc.Handle(context.Background(), env))
	assert.Equal(t, []string{"1", "2"}, republished)
}

func TestWorkerService_DistributorUnrecordedFailure(t *testing.T) {
	f := newWorkerFixture(t, 1)
	env := testutil.NewOriginEnvelope().Build()

	f.blobs.EXPECT().Get(gomock.Any(), env.CacheKey).Return(testutil.FontBundle("A.ttf"), nil)
	f.engine.EXPECT().Plan(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("engine missing"))
	f.docs.EXPECT().AppendPreparationLogs(gomock.Any(), env.DocID, gomock.Any()).Return(nil)
	f.docs.EXPECT().RecordDocumentFailure(gomock.Any(), gomock.Any()).Return(errors.New("db down"))

	err := f.svc.Handle(context.Background(), env)

	require.ErrorIs(t, err, ErrUnrecorded)
	require.Len(t, f.sent, 1, "completion is emitted even when recording failed")
	assert.Equal(t, "engine missing", f.sent[0].Failure)
}

func TestWorkerService_CheckerHappyPath(t *testing.T) {
	f := newWorkerFixture(t, 1)
	order := testutil.CheckOrder(4, "A.ttf")
	env := testutil.NewDistributedEnvelope("1").WithOrder(order...).Build()

	gomock.InOrder(
		f.docs.EXPECT().MarkSubJobStarted(gomock.Any(), env.DocID, "1").Return(nil),
		f.blobs.EXPECT().Get(gomock.Any(), env.CacheKey).Return(testutil.FontBundle("A.ttf"), nil),
	)
	f.engine.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(passAll)
	f.docs.EXPECT().MergeCheckResults(gomock.Any(), env.DocID, gomock.Len(1)).Return(nil).Times(4)
	f.docs.EXPECT().FinishSubJob(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, fin model.SubJobFinish) error {
			assert.Equal(t, "1", fin.SubJobID)
			assert.Empty(t, fin.Exception)
			assert.False(t, fin.FinishedAt.IsZero())
			return nil
		})

	require.NoError(t, f.svc.Handle(context.Background(), env))

	require.Len(t, f.sent, 1)
	msg := f.sent[0]
	assert.Equal(t, model.RoleChecker, msg.Role)
	assert.Equal(t, "1", msg.SubJobID)
	require.NotNil(t, msg.Summary)
	assert.Equal(t, 4, msg.Summary.Checks)
	assert.Equal(t, map[model.CheckResultCategory]int{model.ResultPass: 4}, msg.Summary.Results)
	f.assertWorkDirEmpty(t)
}

func TestWorkerService_CheckerEngineFailureStillFinalizes(t *testing.T) {
	f := newWorkerFixture(t, 10)
	order := testutil.CheckOrder(5)
	env := testutil.NewDistributedEnvelope("0").WithOrder(order...).Build()

	f.docs.EXPECT().MarkSubJobStarted(gomock.Any(), env.DocID, "0").Return(nil)
	f.blobs.EXPECT().Get(gomock.Any(), env.CacheKey).Return(testutil.FontBundle("A.ttf"), nil)
	f.engine.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req model.CheckRun, emit func(model.CheckResult) error) error {
			for _, id := range req.Order[:2] {
				require.NoError(t, emit(testutil.PassResult(id)))
			}
			return errors.New("engine exited with status 1")
		})
	// Buffered results are flushed at finalize on failure too.
	f.docs.EXPECT().MergeCheckResults(gomock.Any(), env.DocID, gomock.Len(2)).Return(nil)
	f.docs.EXPECT().FinishSubJob(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, fin model.SubJobFinish) error {
			assert.Equal(t, "engine exited with status 1", fin.Exception)
			return nil
		})

	require.NoError(t, f.svc.Handle(context.Background(), env))
	require.Len(t, f.sent, 1)
	assert.Equal(t, "engine exited with status 1", f.sent[0].Failure)
}

func TestWorkerService_CheckerFlushFailureIsSecondary(t *testing.T) {
	f := newWorkerFixture(t, 10)
	env := testutil.NewDistributedEnvelope("0").WithOrder(testutil.CheckOrder(3)...).Build()

	f.docs.EXPECT().MarkSubJobStarted(gomock.Any(), env.DocID, "0").Return(nil)
	f.blobs.EXPECT().Get(gomock.Any(), env.CacheKey).Return(testutil.FontBundle("A.ttf"), nil)
	f.engine.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(passAll)
	f.docs.EXPECT().MergeCheckResults(gomock.Any(), env.DocID, gomock.Len(3)).Return(errors.New("db down"))
	f.docs.EXPECT().FinishSubJob(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, fin model.SubJobFinish) error {
			assert.Equal(t, "aggregation: merge 3 check results: db down", fin.Exception)
			return nil
		})

	require.NoError(t, f.svc.Handle(context.Background(), env))
	assert.True(t, f.sent[0].Failed())
}

func TestWorkerService_CheckerEmptyPartitionFinalizesImmediately(t *testing.T) {
	f := newWorkerFixture(t, 1)
	env := testutil.NewDistributedEnvelope("4").Build()

	f.docs.EXPECT().MarkSubJobStarted(gomock.Any(), env.DocID, "4").Return(nil)
	f.docs.EXPECT().FinishSubJob(gomock.Any(), gomock.Any()).Return(nil)

	require.NoError(t, f.svc.Handle(context.Background(), env))
	require.NotNil(t, f.sent[0].Summary)
	assert.Zero(t, f.sent[0].Summary.Checks)
}

func TestWorkerService_CheckerUnrecordedOutcome(t *testing.T) {
	f := newWorkerFixture(t, 1)
	env := testutil.NewDistributedEnvelope("0").Build()

	f.docs.EXPECT().MarkSubJobStarted(gomock.Any(), env.DocID, "0").Return(nil)
	f.docs.EXPECT().FinishSubJob(gomock.Any(), gomock.Any()).Return(errors.New("connection reset"))

	err := f.svc.Handle(context.Background(), env)

	require.ErrorIs(t, err, ErrUnrecorded)
	assert.Len(t, f.sent, 1)
}

func TestWorkerService_DiffStoresArtifacts(t *testing.T) {
	f := newWorkerFixture(t, 1)
	env := model.JobEnvelope{Kind: model.JobKindDiff, DocID: "doc-2", SubJobID: "0", CacheKey: "sha256:def"}

	f.docs.EXPECT().MarkSubJobStarted(gomock.Any(), "doc-2", "0").Return(nil)
	f.blobs.EXPECT().Get(gomock.Any(), "sha256:def").
		Return(testutil.FontBundle("notes.txt", "before/A.ttf", "after/A.ttf"), nil)
	f.differ.EXPECT().Diff(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, before, after, out string) error {
			assert.FileExists(t, filepath.Join(before, "A.ttf"))
			assert.FileExists(t, filepath.Join(after, "A.ttf"))
			require.NoError(t, os.WriteFile(filepath.Join(out, "summary.txt"), []byte("2 glyphs"), 0o600))
			require.NoError(t, os.Mkdir(filepath.Join(out, "glyphs"), 0o750))
			require.NoError(t, os.WriteFile(filepath.Join(out, "glyphs", "a.png"), []byte("png"), 0o600))
			return nil
		})
	f.docs.EXPECT().AppendPreparationLogs(gomock.Any(), "doc-2", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, logs []string) error {
			assert.Contains(t, logs[0], `Skipping file name "notes.txt"`)
			return nil
		})
	f.blobs.EXPECT().Put(gomock.Any(), []model.Bundle{
		{{Name: "a.png", Data: []byte("png")}},
		{{Name: "summary.txt", Data: []byte("2 glyphs")}},
	}).Return([]string{"sha256:g", "sha256:r"}, nil)
	f.docs.EXPECT().FinishSubJob(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, fin model.SubJobFinish) error {
			assert.Equal(t, []string{"glyphs=sha256:g", "report=sha256:r"}, fin.ArtifactIDs)
			assert.Empty(t, fin.Exception)
			return nil
		})

	require.NoError(t, f.svc.Handle(context.Background(), env))
	assert.Equal(t, model.RoleDiffer, f.sent[0].Role)
	assert.Equal(t, []string{"glyphs=sha256:g", "report=sha256:r"}, f.sent[0].Summary.Artifacts)
	f.assertWorkDirEmpty(t)
}

func TestWorkerService_DiffRequiresBothDirectories(t *testing.T) {
	f := newWorkerFixture(t, 1)
	env := model.JobEnvelope{Kind: model.JobKindDiff, DocID: "doc-2", SubJobID: "0", CacheKey: "sha256:def"}

	f.docs.EXPECT().MarkSubJobStarted(gomock.Any(), "doc-2", "0").Return(nil)
	f.blobs.EXPECT().Get(gomock.Any(), "sha256:def").Return(testutil.FontBundle("before/A.ttf"), nil)
	f.docs.EXPECT().AppendPreparationLogs(gomock.Any(), "doc-2", gomock.Any()).Return(nil)
	f.docs.EXPECT().FinishSubJob(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, fin model.SubJobFinish) error {
			assert.Equal(t, `preparation: Could not find font files in "after/".`, fin.Exception)
			assert.Empty(t, fin.ArtifactIDs)
			return nil
		})

	require.NoError(t, f.svc.Handle(context.Background(), env))
	assert.True(t, f.sent[0].Failed())
}

func TestWorkerService_UnknownKind(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc, err := NewWorkerService(WorkerServiceOptions{
		Docs:        mocks.NewMockDocumentRepository(ctrl),
		Blobs:       mocks.NewMockBlobStore(ctrl),
		Completions: mocks.NewMockCompletionPublisher(ctrl),
	})
	require.NoError(t, err)

	err = svc.Handle(context.Background(), model.JobEnvelope{Kind: model.JobKind(9), DocID: "doc-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported job kind")
}
