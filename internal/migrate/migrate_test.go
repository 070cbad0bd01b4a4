package migrate

import (
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/pinlock/migrations"
)

func TestDirFor(t *testing.T) {
	d, err := dirFor(goose.DialectPostgres)
	require.NoError(t, err)
	require.Equal(t, "postgres", d)

	d, err = dirFor(goose.DialectSQLite3)
	require.NoError(t, err)
	require.Equal(t, "sqlite", d)

	_, err = dirFor(goose.DialectMySQL)
	require.Error(t, err)
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	for _, dir := range []string{"postgres", "sqlite"} {
		entries, err := migrations.FS.ReadDir(dir)
		require.NoError(t, err)
		require.NotEmpty(t, entries, dir)
	}
}
