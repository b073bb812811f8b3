package db

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// migrator is the driver-specific half of a migration run.
type migrator interface {
	ensureTable() error
	applied(name string) (bool, error)
	apply(name, content string) error
}

// runMigrations applies every pending .sql file in dir in lexical order.
// Each file runs in its own transaction together with its bookkeeping row.
func runMigrations(m migrator, dir string) error {
	if err := m.ensureTable(); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	files, err := migrationFiles(dir)
	if err != nil {
		return err
	}

	for _, name := range files {
		done, err := m.applied(name)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if done {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if err := m.apply(name, string(content)); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return nil
}

func migrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	return files, nil
}
