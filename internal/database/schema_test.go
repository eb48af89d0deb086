package database

import (
	"io/fs"
	"path"
	"strings"
	"testing"
)

func readMigration(t *testing.T, name string) string {
	t.Helper()
	content, err := fs.ReadFile(embedMigrations, path.Join(MigrationsDir, name))
	if err != nil {
		t.Fatalf("Failed to read migration %s: %v", name, err)
	}
	return string(content)
}

func TestMigrationFilesExist(t *testing.T) {
	expectedMigrations := []string{
		"00001_create_productos_table.sql",
		"00002_create_productos_indexes.sql",
	}

	for _, migration := range expectedMigrations {
		if _, err := fs.Stat(embedMigrations, path.Join(MigrationsDir, migration)); err != nil {
			t.Errorf("Migration file %s is not embedded: %v", migration, err)
		}
	}
}

func TestMigrationFilesHaveUpAndDown(t *testing.T) {
	files, err := fs.ReadDir(embedMigrations, MigrationsDir)
	if err != nil {
		t.Fatalf("Failed to read migrations directory: %v", err)
	}

	sqlFileCount := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".sql") {
			continue
		}

		sqlFileCount++
		contentStr := readMigration(t, file.Name())

		for _, directive := range []string{
			"-- +goose Up",
			"-- +goose Down",
			"-- +goose StatementBegin",
			"-- +goose StatementEnd",
		} {
			if !strings.Contains(contentStr, directive) {
				t.Errorf("Migration file %s missing '%s' directive", file.Name(), directive)
			}
		}
	}

	if sqlFileCount == 0 {
		t.Error("No SQL migration files found")
	}
}

func TestProductosTableHasRequiredColumns(t *testing.T) {
	contentStr := readMigration(t, "00001_create_productos_table.sql")

	requiredColumns := []string{
		"CREATE TABLE IF NOT EXISTS productos",
		"id UUID PRIMARY KEY",
		"nombre VARCHAR",
		"descripcion TEXT",
		"precio NUMERIC(10, 2)",
		"CHECK (precio >= 0)",
		"imagen VARCHAR",
		"categoria VARCHAR",
		"created_at TIMESTAMPTZ",
		"updated_at TIMESTAMPTZ",
		"DROP TABLE IF EXISTS productos",
	}

	for _, column := range requiredColumns {
		if !strings.Contains(contentStr, column) {
			t.Errorf("Productos migration missing definition: %s", column)
		}
	}
}

func TestProductosIndexesExist(t *testing.T) {
	contentStr := readMigration(t, "00002_create_productos_indexes.sql")

	for _, index := range []string{"idx_productos_categoria", "idx_productos_created_at"} {
		if !strings.Contains(contentStr, "CREATE INDEX IF NOT EXISTS "+index) {
			t.Errorf("Index %s is not created", index)
		}
		if !strings.Contains(contentStr, "DROP INDEX IF EXISTS "+index) {
			t.Errorf("Index %s is not dropped in down section", index)
		}
	}
}
