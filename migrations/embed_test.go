package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedSource(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	source := NewSource(nil)

	require.NoError(t, source.Validate())

	files, err := source.Files()
	require.NoError(t, err)
	require.NotEmpty(t, files)

	assert.Equal(t, "001_create_file_states.down.sql", files[0].Filename)
	assert.Equal(t, 2, source.LatestVersion())
}

func TestSourceValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	sql := &fstest.MapFile{Data: []byte("SELECT 1;")}

	tests := []struct {
		name    string
		files   fstest.MapFS
		wantErr string
	}{
		{
			name: "paired and contiguous",
			files: fstest.MapFS{
				"001_a.up.sql": sql, "001_a.down.sql": sql,
				"002_b.up.sql": sql, "002_b.down.sql": sql,
			},
		},
		{
			name:    "empty",
			files:   fstest.MapFS{},
			wantErr: "no migration files found",
		},
		{
			name:    "bad filename",
			files:   fstest.MapFS{"1_a.up.sql": sql},
			wantErr: "invalid migration filename",
		},
		{
			name:    "missing down",
			files:   fstest.MapFS{"001_a.up.sql": sql},
			wantErr: "has no down migration",
		},
		{
			name:    "missing up",
			files:   fstest.MapFS{"001_a.down.sql": sql},
			wantErr: "has no up migration",
		},
		{
			name: "sequence gap",
			files: fstest.MapFS{
				"001_a.up.sql": sql, "001_a.down.sql": sql,
				"003_c.up.sql": sql, "003_c.down.sql": sql,
			},
			wantErr: "expected sequence 002, found 003",
		},
		{
			name: "duplicate sequence",
			files: fstest.MapFS{
				"001_a.up.sql": sql, "001_a.down.sql": sql,
				"001_b.up.sql": sql,
			},
			wantErr: "has two up migrations",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewSource(tt.files).Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, ErrInvalidSource)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSourceFilesSkipsNonMigrations(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	sql := &fstest.MapFile{Data: []byte("SELECT 1;")}
	source := NewSource(fstest.MapFS{
		"002_b.up.sql": sql,
		"001_a.up.sql": sql,
		"README.md":    &fstest.MapFile{Data: []byte("notes")},
	})

	files, err := source.Files()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, 1, files[0].Sequence)
	assert.Equal(t, "a", files[0].Name)
	assert.Equal(t, "up", files[0].Direction)
	assert.Equal(t, 2, source.LatestVersion())
}
