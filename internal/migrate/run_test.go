package migrate

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingSortsAndFiltersSQLFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/0002_b.sql":   {Data: []byte("SELECT 2")},
		"migrations/0001_a.sql":   {Data: []byte("SELECT 1")},
		"migrations/README.md":    {Data: []byte("docs")},
		"migrations/nested/x.sql": {Data: []byte("SELECT 3")},
	}

	files, err := Pending(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_a.sql", "0002_b.sql"}, files)
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	files, err := Pending(migrationsFS)
	require.NoError(t, err)
	assert.Contains(t, files, "0001_family_tests.sql")
}
