package rowstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// SQLite is a Store kept in a local SQLite database. The schema is created
// by the storage package's migrations. Each row is stored as a JSON array
// of cells.
type SQLite struct {
	db *sql.DB
}

// NewSQLite returns a Store over a migrated database.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) EnsureTable(ctx context.Context, name string, header Row) (Table, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Table{}, wrapSQLite("begin ensure", err)
	}
	defer tx.Rollback()

	exists, err := tableExists(ctx, tx, name)
	if err != nil {
		return Table{}, err
	}
	if exists {
		return Table{Name: name}, nil
	}
	if header == nil {
		return Table{}, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO row_tables (name) VALUES (?)`, name); err != nil {
		return Table{}, wrapSQLite("create table", err)
	}
	cells, err := json.Marshal([]string(header))
	if err != nil {
		return Table{}, fmt.Errorf("failed to encode header: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO table_rows (table_name, row_pos, cells) VALUES (?, 1, ?)`, name, string(cells)); err != nil {
		return Table{}, wrapSQLite("write header", err)
	}
	if err := tx.Commit(); err != nil {
		return Table{}, wrapSQLite("commit ensure", err)
	}
	return Table{Name: name}, nil
}

func (s *SQLite) ReadAllRows(ctx context.Context, t Table) ([]Row, error) {
	exists, err := tableExists(ctx, s.db, t.Name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, t.Name)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT row_pos, cells FROM table_rows WHERE table_name = ? ORDER BY row_pos`, t.Name)
	if err != nil {
		return nil, wrapSQLite("read rows", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var pos int
		var raw string
		if err := rows.Scan(&pos, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		// Keep positions aligned even if a row is missing.
		for len(out) < pos-1 {
			out = append(out, Row{})
		}
		var cells []string
		if err := json.Unmarshal([]byte(raw), &cells); err != nil {
			return nil, fmt.Errorf("failed to decode %s row %d: %w", t.Name, pos, err)
		}
		out = append(out, Row(cells))
	}
	if err := rows.Err(); err != nil {
		return nil, wrapSQLite("iterate rows", err)
	}
	return out, nil
}

func (s *SQLite) AppendRow(ctx context.Context, t Table, cells Row) error {
	raw, err := json.Marshal([]string(cells))
	if err != nil {
		return fmt.Errorf("failed to encode row: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapSQLite("begin append", err)
	}
	defer tx.Rollback()

	exists, err := tableExists(ctx, tx, t.Name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrTableNotFound, t.Name)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO table_rows (table_name, row_pos, cells)
		SELECT ?, COALESCE(MAX(row_pos), 0) + 1, ? FROM table_rows WHERE table_name = ?
	`, t.Name, string(raw), t.Name); err != nil {
		return wrapSQLite("append row", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapSQLite("commit append", err)
	}
	return nil
}

func (s *SQLite) UpdateCell(ctx context.Context, t Table, row, col int, value string) error {
	if row < 1 || col < 0 {
		return fmt.Errorf("%w: %s row %d col %d", ErrRowOutOfRange, t.Name, row, col)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapSQLite("begin update", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT cells FROM table_rows WHERE table_name = ? AND row_pos = ?`, t.Name, row).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		exists, existsErr := tableExists(ctx, tx, t.Name)
		if existsErr != nil {
			return existsErr
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrTableNotFound, t.Name)
		}
		return fmt.Errorf("%w: %s row %d", ErrRowOutOfRange, t.Name, row)
	}
	if err != nil {
		return wrapSQLite("read cell", err)
	}

	var cells []string
	if err := json.Unmarshal([]byte(raw), &cells); err != nil {
		return fmt.Errorf("failed to decode %s row %d: %w", t.Name, row, err)
	}
	for len(cells) <= col {
		cells = append(cells, "")
	}
	cells[col] = value

	updated, err := json.Marshal(cells)
	if err != nil {
		return fmt.Errorf("failed to encode row: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE table_rows SET cells = ? WHERE table_name = ? AND row_pos = ?`, string(updated), t.Name, row); err != nil {
		return wrapSQLite("update cell", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapSQLite("commit update", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func tableExists(ctx context.Context, q queryer, name string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(1) FROM row_tables WHERE name = ?`, name).Scan(&n); err != nil {
		return false, wrapSQLite("lookup table", err)
	}
	return n > 0, nil
}

// wrapSQLite marks lock contention as transient.
func wrapSQLite(op string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
