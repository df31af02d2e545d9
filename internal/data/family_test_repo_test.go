package data

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/fbdispatch/internal/domain/model"
	apperrors "github.com/target/fbdispatch/internal/errors"
	"github.com/target/fbdispatch/internal/testutil"
)

// seedSkeleton creates a document and writes a skeleton for order split across jobIDs.
func seedSkeleton(
	t *testing.T,
	repo *FamilyTestRepo,
	id string,
	order []model.CheckIdentity,
	jobIDs ...string,
) {
	t.Helper()
	ctx := context.Background()

	_, err := repo.Create(ctx, model.CreateDocumentRequest{ID: id, CacheKey: "sha256:" + id})
	require.NoError(t, err)

	index := make(map[string]int, len(order))
	for i, c := range order {
		index[c.Key()] = i
	}
	written, err := repo.WriteSkeleton(ctx, model.DocumentSkeleton{
		DocID:      id,
		CheckIndex: index,
		JobIDs:     jobIDs,
		Logs:       []string{`Added file "A-Regular.ttf".`},
	})
	require.NoError(t, err)
	require.True(t, written)
}

func resultsFor(order []model.CheckIdentity, category model.CheckResultCategory) map[string]model.CheckResult {
	out := make(map[string]model.CheckResult, len(order))
	for _, c := range order {
		out[c.Key()] = model.CheckResult{Identity: c, Result: category}
	}
	return out
}

func TestFamilyTestRepo_CreateAndGet(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewFamilyTestRepo(db, RepoConfig{})
		ctx := context.Background()

		doc, err := repo.Create(ctx, model.CreateDocumentRequest{ID: "doc-create", CacheKey: "sha256:x"})
		require.NoError(t, err)
		assert.Equal(t, model.DocumentKindFamilyTest, doc.Kind)
		assert.Empty(t, doc.Jobs)
		assert.False(t, doc.IsFinished)

		_, err = repo.Create(ctx, model.CreateDocumentRequest{ID: "doc-create", CacheKey: "sha256:x"})
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))

		_, err = repo.GetByID(ctx, "missing")
		assert.ErrorIs(t, err, ErrDocumentNotFound)
	})
}

func TestFamilyTestRepo_WriteSkeletonOnce(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewFamilyTestRepo(db, RepoConfig{})
		ctx := context.Background()
		order := testutil.CheckOrder(4, "A-Regular.ttf")
		seedSkeleton(t, repo, "doc-skel", order, "0", "1")

		written, err := repo.WriteSkeleton(ctx, model.DocumentSkeleton{
			DocID:      "doc-skel",
			CheckIndex: map[string]int{"other": 0},
			JobIDs:     []string{"0", "1", "2"},
		})
		require.NoError(t, err)
		assert.False(t, written)

		doc, err := repo.GetByID(ctx, "doc-skel")
		require.NoError(t, err)
		assert.Len(t, doc.Jobs, 2)
		assert.Len(t, doc.CheckIndex, 4)
		assert.NotNil(t, doc.StartedAt)
		assert.Equal(t, []string{`Added file "A-Regular.ttf".`}, doc.PreparationLogs)

		_, err = repo.WriteSkeleton(ctx, model.DocumentSkeleton{DocID: "missing", JobIDs: []string{"0"}})
		assert.ErrorIs(t, err, ErrDocumentNotFound)
	})
}

func TestFamilyTestRepo_MergeCheckResults(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	t.Run("merge is idempotent and rollup matches tests", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewFamilyTestRepo(db, RepoConfig{})
			ctx := context.Background()
			order := testutil.CheckOrder(6, "A-Regular.ttf")
			seedSkeleton(t, repo, "doc-merge", order, "0", "1")

			require.NoError(t, repo.MergeCheckResults(ctx, "doc-merge", resultsFor(order[:3], model.ResultPass)))
			require.NoError(t, repo.MergeCheckResults(ctx, "doc-merge", resultsFor(order[:3], model.ResultPass)))
			require.NoError(t, repo.MergeCheckResults(ctx, "doc-merge", resultsFor(order[3:], model.ResultFail)))

			doc, err := repo.GetByID(ctx, "doc-merge")
			require.NoError(t, err)
			assert.Len(t, doc.Tests, 6)
			assert.Equal(t, map[model.CheckResultCategory]int{model.ResultPass: 3, model.ResultFail: 3}, doc.Results)
			assert.Equal(t, len(doc.Tests), doc.ResultTotal())
			assert.Equal(t, 4, doc.Tests[order[4].Key()].Index)
		})
	})

	t.Run("replacing a result moves it between categories", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewFamilyTestRepo(db, RepoConfig{})
			ctx := context.Background()
			order := testutil.CheckOrder(2)
			seedSkeleton(t, repo, "doc-replace", order, "0")

			require.NoError(t, repo.MergeCheckResults(ctx, "doc-replace", resultsFor(order, model.ResultPass)))
			require.NoError(t, repo.MergeCheckResults(ctx, "doc-replace", resultsFor(order[:1], model.ResultWarn)))

			doc, err := repo.GetByID(ctx, "doc-replace")
			require.NoError(t, err)
			assert.Equal(t, map[model.CheckResultCategory]int{model.ResultPass: 1, model.ResultWarn: 1}, doc.Results)
		})
	})

	t.Run("unknown key rejects the whole merge", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewFamilyTestRepo(db, RepoConfig{})
			ctx := context.Background()
			order := testutil.CheckOrder(2)
			seedSkeleton(t, repo, "doc-unknown", order, "0")

			batch := resultsFor(order, model.ResultPass)
			stray := model.CheckIdentity{Section: "universal", CheckID: "not-planned"}
			batch[stray.Key()] = model.CheckResult{Identity: stray, Result: model.ResultPass}

			err := repo.MergeCheckResults(ctx, "doc-unknown", batch)
			require.Error(t, err)
			assert.True(t, apperrors.IsAggregation(err))

			doc, err := repo.GetByID(ctx, "doc-unknown")
			require.NoError(t, err)
			assert.Empty(t, doc.Tests)
			assert.Empty(t, doc.Results)
		})
	})

	t.Run("concurrent merges from several partitions", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewFamilyTestRepo(db, RepoConfig{})
			ctx := context.Background()
			order := testutil.CheckOrder(40, "A-Regular.ttf", "A-Bold.ttf")
			seedSkeleton(t, repo, "doc-race", order, "0", "1", "2", "3")

			var wg sync.WaitGroup
			errs := make(chan error, len(order))
			for _, c := range order {
				wg.Add(1)
				go func(c model.CheckIdentity) {
					defer wg.Done()
					errs <- repo.MergeCheckResults(ctx, "doc-race", resultsFor([]model.CheckIdentity{c}, model.ResultPass))
				}(c)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			doc, err := repo.GetByID(ctx, "doc-race")
			require.NoError(t, err)
			assert.Len(t, doc.Tests, 40)
			assert.Equal(t, 40, doc.Results[model.ResultPass])
		})
	})
}

func TestFamilyTestRepo_RedeliveredPartitionDoesNotInflateCounts(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewFamilyTestRepo(db, RepoConfig{})
		ctx := context.Background()
		order := testutil.CheckOrder(5)
		seedSkeleton(t, repo, "doc-crash", order, "0")

		// First delivery merged three results before the worker died.
		require.NoError(t, repo.MergeCheckResults(ctx, "doc-crash", resultsFor(order[:3], model.ResultPass)))
		// Redelivery runs the whole partition again.
		require.NoError(t, repo.MergeCheckResults(ctx, "doc-crash", resultsFor(order, model.ResultPass)))
		require.NoError(t, repo.FinishSubJob(ctx, model.SubJobFinish{DocID: "doc-crash", SubJobID: "0"}))

		doc, err := repo.GetByID(ctx, "doc-crash")
		require.NoError(t, err)
		assert.Len(t, doc.Tests, 5)
		assert.Equal(t, 5, doc.ResultTotal())
	})
}

func TestFamilyTestRepo_FinishSubJobAndTryFinish(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		tp := &FixedTimeProvider{}
		tp.SetTime(testutil.TestTime())
		repo := NewFamilyTestRepo(db, RepoConfig{TimeProvider: tp})
		ctx := context.Background()
		seedSkeleton(t, repo, "doc-fin", testutil.CheckOrder(3), "0", "1")

		require.NoError(t, repo.MarkSubJobStarted(ctx, "doc-fin", "0"))
		require.NoError(t, repo.FinishSubJob(ctx, model.SubJobFinish{DocID: "doc-fin", SubJobID: "0"}))

		_, finished, err := repo.TryFinish(ctx, "doc-fin")
		require.NoError(t, err)
		assert.False(t, finished, "sub-job 1 is still open")

		tp.AddTime(time.Minute)
		require.NoError(t, repo.FinishSubJob(ctx, model.SubJobFinish{
			DocID: "doc-fin", SubJobID: "1", Exception: "boom", ArtifactIDs: []string{"sha256:a"},
		}))
		require.NoError(t, repo.FinishSubJob(ctx, model.SubJobFinish{
			DocID: "doc-fin", SubJobID: "1", Exception: "flush failed",
		}))

		cacheKey, finished, err := repo.TryFinish(ctx, "doc-fin")
		require.NoError(t, err)
		assert.True(t, finished)
		assert.Equal(t, "sha256:doc-fin", cacheKey)

		_, again, err := repo.TryFinish(ctx, "doc-fin")
		require.NoError(t, err)
		assert.False(t, again, "only one caller performs the transition")

		doc, err := repo.GetByID(ctx, "doc-fin")
		require.NoError(t, err)
		assert.True(t, doc.IsFinished)
		require.NotNil(t, doc.FinishedAt)
		assert.NotNil(t, doc.Jobs["0"].StartedAt)
		assert.Equal(t, "boom\n\n AND flush failed", doc.Jobs["1"].Exception)
		assert.Equal(t, []string{"sha256:a"}, doc.Jobs["1"].ArtifactIDs)

		err = repo.FinishSubJob(ctx, model.SubJobFinish{DocID: "doc-fin", SubJobID: "9"})
		assert.True(t, errors.Is(err, ErrSubJobNotFound))
	})
}

func TestFamilyTestRepo_CacheKeyInUse(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewFamilyTestRepo(db, RepoConfig{})
		ctx := context.Background()
		const key = "sha256:same-fonts"

		for _, id := range []string{"doc-a", "doc-b"} {
			_, err := repo.Create(ctx, model.CreateDocumentRequest{ID: id, CacheKey: key}, "0")
			require.NoError(t, err)
		}

		inUse, err := repo.CacheKeyInUse(ctx, key, "doc-a")
		require.NoError(t, err)
		assert.True(t, inUse, "doc-b is still open")

		require.NoError(t, repo.FinishSubJob(ctx, model.SubJobFinish{DocID: "doc-b", SubJobID: "0"}))
		_, finished, err := repo.TryFinish(ctx, "doc-b")
		require.NoError(t, err)
		require.True(t, finished)

		inUse, err = repo.CacheKeyInUse(ctx, key, "doc-a")
		require.NoError(t, err)
		assert.False(t, inUse, "doc-b finished")

		inUse, err = repo.CacheKeyInUse(ctx, key, "doc-b")
		require.NoError(t, err)
		assert.True(t, inUse, "doc-a is still open")

		inUse, err = repo.CacheKeyInUse(ctx, "sha256:other", "doc-a")
		require.NoError(t, err)
		assert.False(t, inUse)
	})
}

func TestFamilyTestRepo_RecordDocumentFailure(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewFamilyTestRepo(db, RepoConfig{})
		ctx := context.Background()
		_, err := repo.Create(ctx, model.CreateDocumentRequest{ID: "doc-err", CacheKey: "sha256:e"})
		require.NoError(t, err)

		require.NoError(t, repo.RecordDocumentFailure(ctx, model.DocumentFailure{DocID: "doc-err", Exception: "bad input"}))
		require.NoError(t, repo.RecordDocumentFailure(ctx, model.DocumentFailure{
			DocID: "doc-err", Exception: "cleanup failed", Close: true,
		}))
		require.NoError(t, repo.AppendPreparationLogs(ctx, "doc-err", []string{`Skipping duplicate file name "A-Regular.ttf".`}))

		doc, err := repo.GetByID(ctx, "doc-err")
		require.NoError(t, err)
		require.NotNil(t, doc.Exception)
		assert.Equal(t, "bad input\n\n AND cleanup failed", *doc.Exception)
		assert.True(t, doc.IsFinished)
		assert.Len(t, doc.PreparationLogs, 1)

		err = repo.RecordDocumentFailure(ctx, model.DocumentFailure{DocID: "missing", Exception: "x"})
		assert.ErrorIs(t, err, ErrDocumentNotFound)
	})
}
