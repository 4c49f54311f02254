package database

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// migrationLockID keys the transaction-scoped advisory lock held while migrating
const migrationLockID = 6172839405

// Migrate applies pending numbered .sql files from migrations in name order.
// All replicas may call it at startup; the advisory lock serialises them.
func (db *DB) Migrate(ctx context.Context, migrations fs.FS, logger *zap.Logger) error {
	entries, err := fs.ReadDir(migrations, ".")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") || len(name) < 5 {
			continue
		}
		if name[0] >= '0' && name[0] <= '9' {
			files = append(files, name)
		}
	}
	sort.Strings(files)

	return db.WithTx(ctx, func(tx *DB) error {
		if _, err := tx.Pool.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}

		_, err := tx.Pool.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version VARCHAR(255) PRIMARY KEY,
				applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`)
		if err != nil {
			return fmt.Errorf("failed to create schema_migrations table: %w", err)
		}

		applied, err := tx.appliedMigrations(ctx)
		if err != nil {
			return err
		}

		count := 0
		for _, filename := range files {
			if applied[filename] {
				continue
			}

			content, err := fs.ReadFile(migrations, filename)
			if err != nil {
				return fmt.Errorf("failed to read migration %s: %w", filename, err)
			}

			if _, err := tx.Pool.Exec(ctx, string(content)); err != nil {
				return fmt.Errorf("failed to execute migration %s: %w", filename, err)
			}

			if _, err := tx.Pool.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", filename); err != nil {
				return fmt.Errorf("failed to record migration %s: %w", filename, err)
			}

			count++
			logger.Info("Applied migration", zap.String("version", filename))
		}

		if count == 0 {
			logger.Info("No new migrations to apply")
		} else {
			logger.Info("Migrations applied", zap.Int("count", count))
		}
		return nil
	})
}

func (db *DB) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := db.Pool.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
