package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrBackupExists is returned when the backup target is already present.
var ErrBackupExists = errors.New("backup file already exists")

// backupTables are compared between source and copy.
var backupTables = []string{"schema_migrations", "row_tables", "table_rows", "dispatch_ledger"}

// Backup writes a consistent copy of db to backupPath and verifies it.
// The target must not exist.
func Backup(ctx context.Context, db *sql.DB, backupPath string) error {
	if _, err := os.Stat(backupPath); err == nil {
		return fmt.Errorf("%w: %s", ErrBackupExists, backupPath)
	}

	// Ensure backup directory exists
	if err := os.MkdirAll(filepath.Dir(backupPath), 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	if _, err := db.ExecContext(ctx, `VACUUM INTO ?`, backupPath); err != nil {
		return fmt.Errorf("failed to backup database: %w", err)
	}

	if err := verifyBackup(ctx, db, backupPath); err != nil {
		// If verification fails, try to remove the corrupted backup
		os.Remove(backupPath)
		return fmt.Errorf("backup verification failed: %w", err)
	}
	return nil
}

// verifyBackup checks that the copy opens, carries the same schema version
// and holds as many rows as the source in every table.
func verifyBackup(ctx context.Context, db *sql.DB, backupPath string) error {
	backupDB, err := sql.Open("sqlite3", "file:"+backupPath+"?mode=ro")
	if err != nil {
		return fmt.Errorf("failed to open backup database: %w", err)
	}
	defer backupDB.Close()

	srcVersion, _, err := SchemaVersion(db)
	if err != nil {
		return err
	}
	backupVersion, dirty, err := SchemaVersion(backupDB)
	if err != nil {
		return err
	}
	if dirty || srcVersion != backupVersion {
		return fmt.Errorf("schema mismatch: source=%d, backup=%d (dirty=%t)", srcVersion, backupVersion, dirty)
	}

	for _, table := range backupTables {
		var sourceCount, backupCount int64
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
		if err := db.QueryRowContext(ctx, query).Scan(&sourceCount); err != nil {
			return fmt.Errorf("failed to get source count for table %s: %w", table, err)
		}
		if err := backupDB.QueryRowContext(ctx, query).Scan(&backupCount); err != nil {
			return fmt.Errorf("failed to get backup count for table %s: %w", table, err)
		}
		if sourceCount != backupCount {
			return fmt.Errorf("row count mismatch for table %s: source=%d, backup=%d",
				table, sourceCount, backupCount)
		}
	}
	return nil
}
