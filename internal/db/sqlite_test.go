package db

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRunMigrationsAppliesPendingFilesOnce(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "002_notes.sql", `INSERT INTO notes (body) VALUES ('second');`)
	writeMigration(t, dir, "001_notes.sql", `CREATE TABLE notes (body TEXT NOT NULL);`)
	writeMigration(t, dir, "README.md", `not sql`)

	database, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer database.Close()

	for i := 0; i < 2; i++ {
		if err := RunMigrations(database, dir); err != nil {
			t.Fatalf("run migrations (pass %d): %v", i+1, err)
		}
	}

	var notes, applied int
	if err := database.QueryRow(`SELECT COUNT(1) FROM notes`).Scan(&notes); err != nil {
		t.Fatalf("count notes: %v", err)
	}
	if err := database.QueryRow(`SELECT COUNT(1) FROM schema_migrations`).Scan(&applied); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if notes != 1 || applied != 2 {
		t.Fatalf("expected 1 note and 2 applied migrations, got %d and %d", notes, applied)
	}
}

func TestRunMigrationsRollsBackFailedFile(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "001_broken.sql", `CREATE TABLE ok (id INTEGER); THIS IS NOT SQL;`)

	database, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer database.Close()

	if err := RunMigrations(database, dir); err == nil {
		t.Fatal("expected broken migration to fail")
	}

	var applied int
	if err := database.QueryRow(`SELECT COUNT(1) FROM schema_migrations`).Scan(&applied); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if applied != 0 {
		t.Fatalf("expected no recorded migrations, got %d", applied)
	}
}

func writeMigration(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}
