package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/fbdispatch/internal/domain/model"
	apperrors "github.com/target/fbdispatch/internal/errors"
	"github.com/target/fbdispatch/internal/testutil"
)

type staticBundles map[string]model.Bundle

func (s staticBundles) Get(_ context.Context, key string) (model.Bundle, error) {
	b, ok := s[key]
	if !ok {
		return nil, apperrors.NotFoundf("bundle %s", key)
	}
	return b, nil
}

func TestValidateBundle_InvalidNames(t *testing.T) {
	for _, name := range []string{"../evil.ttf", "", ".", "..", "dir/A.ttf", `..\evil.ttf`} {
		t.Run(name, func(t *testing.T) {
			bundle := append(testutil.FontBundle("A-Regular.ttf"), model.NamedBlob{Name: name, Data: []byte("x")})

			files, logs, err := ValidateBundle(bundle, CheckerRules(0))

			require.Error(t, err)
			assert.True(t, apperrors.IsPreparation(err))
			assert.Equal(t, name, apperrors.GetField(err))
			assert.Nil(t, files)
			assert.Equal(t, []string{`Added file "A-Regular.ttf".`}, logs)
		})
	}
}

func TestValidateBundle_DuplicateSkipped(t *testing.T) {
	bundle := model.Bundle{
		{Name: "A-Regular.ttf", Data: []byte("first")},
		{Name: "A-Regular.ttf", Data: []byte("second")},
		{Name: "METADATA.pb", Data: []byte("meta")},
	}

	files, logs, err := ValidateBundle(bundle, CheckerRules(0))

	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, []byte("first"), files[0].Data)
	assert.Equal(t, []string{
		`Added file "A-Regular.ttf".`,
		`Skipping duplicate file name "A-Regular.ttf".`,
		`Added file "METADATA.pb".`,
	}, logs)
}

func TestValidateBundle_Ceiling(t *testing.T) {
	_, _, err := ValidateBundle(testutil.FontBundle("a.ttf", "b.otf", "c.TTF"), CheckerRules(2))

	require.Error(t, err)
	assert.True(t, apperrors.IsPreparation(err))
	assert.Contains(t, err.Error(), "Found 3 font files, but maximum is limiting to 2.")
}

func TestValidateBundle_NoFonts(t *testing.T) {
	_, logs, err := ValidateBundle(model.Bundle{{Name: "README.md"}}, CheckerRules(0))

	assert.True(t, apperrors.IsPreparation(err))
	assert.Len(t, logs, 1)
}

func TestValidateBundle_DiffDirs(t *testing.T) {
	bundle := testutil.FontBundle("before/A-Regular.ttf", "after/A-Regular.ttf", "other/B.ttf")

	files, logs, err := ValidateBundle(bundle, DiffRules(0))

	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, AcceptedFile{Dir: "before", Name: "A-Regular.ttf", Data: []byte("font:before/A-Regular.ttf")}, files[0])
	assert.Contains(t, logs, `Skipping file name "other/B.ttf" must be in one of these directories: before/, after/.`)

	_, _, err = ValidateBundle(testutil.FontBundle("before/../x.ttf", "after/A.ttf"), DiffRules(0))
	assert.True(t, apperrors.IsPreparation(err))

	_, _, err = ValidateBundle(testutil.FontBundle("before/A.ttf"), DiffRules(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"after/"`)
}

func TestPrepareWorkspace_WritesAcceptedFiles(t *testing.T) {
	blobs := staticBundles{"k": testutil.FontBundle("B-Bold.ttf", "A-Regular.ttf", "A-Regular.ttf")}

	ws, logs, err := PrepareWorkspace(context.Background(), blobs, "k", t.TempDir(), CheckerRules(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Cleanup() })

	assert.Len(t, logs, 3)
	assert.Equal(t, []string{"A-Regular.ttf", "B-Bold.ttf"}, ws.Fonts(""))
	data, err := os.ReadFile(ws.Path("A-Regular.ttf"))
	require.NoError(t, err)
	assert.Equal(t, []byte("font:A-Regular.ttf"), data)

	require.NoError(t, ws.Cleanup())
	_, err = os.Stat(ws.Dir)
	assert.True(t, os.IsNotExist(err))
}

func TestPrepareWorkspace_InvalidNameWritesNothing(t *testing.T) {
	parent := t.TempDir()
	blobs := staticBundles{"k": testutil.FontBundle("A-Regular.ttf", "../evil.ttf")}

	ws, _, err := PrepareWorkspace(context.Background(), blobs, "k", parent, CheckerRules(0))

	require.Error(t, err)
	assert.Nil(t, ws)
	entries, readErr := os.ReadDir(parent)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
	_, statErr := os.Stat(filepath.Join(filepath.Dir(parent), "evil.ttf"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestPrepareWorkspace_DiffLayout(t *testing.T) {
	blobs := staticBundles{"k": testutil.FontBundle("before/A-Regular.ttf", "after/A-Regular.ttf")}

	ws, _, err := PrepareWorkspace(context.Background(), blobs, "k", t.TempDir(), DiffRules(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Cleanup() })

	assert.Equal(t, []string{filepath.Join("before", "A-Regular.ttf")}, ws.Fonts(DiffBeforeDir))
	assert.FileExists(t, ws.Path(filepath.Join("after", "A-Regular.ttf")))
}
