package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFilenamePattern(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		name     string
	}{
		{"0001_create_pipeline_runs.sql", true, "create_pipeline_runs"},
		{"001_invalid.sql", false, ""},
		{"0001_test", false, ""},
		{"0001.sql", false, ""},
		{"invalid_0001_test.sql", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			matches := migrationPattern.FindStringSubmatch(tt.filename)
			if !tt.valid {
				assert.Nil(t, matches)
				return
			}
			require.NotNil(t, matches)
			assert.Equal(t, tt.name, matches[2])
		})
	}
}

func writeMigration(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestReadMigrations(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "0002_add_index.sql", "ALTER TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.pipeline_runs` ADD COLUMN x STRING;")
	writeMigration(t, dir, "0001_create.sql", "CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.pipeline_runs` (run_id STRING);")
	writeMigration(t, dir, "README.md", "ignored")

	migrations, err := readMigrations(dir, "acme", "sales_etl")
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "create", migrations[0].Name)
	assert.Contains(t, migrations[0].SQL, "`acme.sales_etl.pipeline_runs`")
	assert.Equal(t, 2, migrations[1].Version)
	assert.Len(t, migrations[0].Checksum, 64)
}

func TestReadMigrations_ChecksumIgnoresPlaceholders(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "0001_create.sql", "CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.t` (id INT64);")

	a, err := readMigrations(dir, "p1", "d1")
	require.NoError(t, err)
	b, err := readMigrations(dir, "p2", "d2")
	require.NoError(t, err)

	assert.Equal(t, a[0].Checksum, b[0].Checksum)
	assert.NotEqual(t, a[0].SQL, b[0].SQL)
}

func TestReadMigrations_DuplicateVersion(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "0001_a.sql", "SELECT 1;")
	writeMigration(t, dir, "0001_b.sql", "SELECT 2;")

	_, err := readMigrations(dir, "p", "d")
	assert.Error(t, err)
}

func TestRepositoryMigrationsParse(t *testing.T) {
	migrations, err := readMigrations(filepath.Join("..", "..", "migrations", "bigquery"), "p", "d")
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	assert.Contains(t, migrations[0].SQL, "`p.d.pipeline_runs`")
}

func TestPendingAndDrift(t *testing.T) {
	all := []Migration{
		{Version: 1, Filename: "0001_a.sql", Checksum: "aaa"},
		{Version: 2, Filename: "0002_b.sql", Checksum: "bbb"},
		{Version: 3, Filename: "0003_c.sql", Checksum: "ccc"},
	}
	applied := []AppliedMigration{
		{Version: 1, Checksum: "aaa"},
		{Version: 2, Checksum: "changed"},
	}

	pending := pendingMigrations(all, applied)
	require.Len(t, pending, 1)
	assert.Equal(t, 3, pending[0].Version)

	assert.Equal(t, []string{"0002_b.sql"}, checksumDrift(all, applied))
}
