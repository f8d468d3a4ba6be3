package rowstore

import (
	"context"
	"fmt"
	"sync"
)

// Op names a store operation for failure injection.
type Op string

const (
	OpEnsure Op = "ensure"
	OpRead   Op = "read"
	OpAppend Op = "append"
	OpUpdate Op = "update"
)

// Memory is an in-process Store. It backs tests and dry runs.
type Memory struct {
	mu     sync.Mutex
	tables map[string][]Row

	// FailOn, when set, is consulted before every call. A non-nil return
	// fails the call without touching the data.
	FailOn func(op Op, table string) error
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{tables: make(map[string][]Row)}
}

// Seed replaces the named table's contents. Rows are copied.
func (m *Memory) Seed(name string, rows ...Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[name] = copyRows(rows)
}

// Rows returns a copy of the named table, or nil if it does not exist.
func (m *Memory) Rows(name string) []Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyRows(m.tables[name])
}

func (m *Memory) fail(op Op, table string) error {
	if m.FailOn == nil {
		return nil
	}
	return m.FailOn(op, table)
}

func (m *Memory) EnsureTable(ctx context.Context, name string, header Row) (Table, error) {
	if err := ctx.Err(); err != nil {
		return Table{}, err
	}
	if err := m.fail(OpEnsure, name); err != nil {
		return Table{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[name]; !ok {
		if header == nil {
			return Table{}, fmt.Errorf("%w: %s", ErrTableNotFound, name)
		}
		m.tables[name] = []Row{append(Row(nil), header...)}
	}
	return Table{Name: name}, nil
}

func (m *Memory) ReadAllRows(ctx context.Context, t Table) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.fail(OpRead, t.Name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.tables[t.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, t.Name)
	}
	return copyRows(rows), nil
}

func (m *Memory) AppendRow(ctx context.Context, t Table, cells Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.fail(OpAppend, t.Name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.tables[t.Name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, t.Name)
	}
	m.tables[t.Name] = append(rows, append(Row(nil), cells...))
	return nil
}

func (m *Memory) UpdateCell(ctx context.Context, t Table, row, col int, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.fail(OpUpdate, t.Name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.tables[t.Name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, t.Name)
	}
	if row < 1 || row > len(rows) || col < 0 {
		return fmt.Errorf("%w: %s row %d col %d", ErrRowOutOfRange, t.Name, row, col)
	}
	r := rows[row-1]
	for len(r) <= col {
		r = append(r, "")
	}
	r[col] = value
	rows[row-1] = r
	return nil
}

func copyRows(rows []Row) []Row {
	if rows == nil {
		return nil
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = append(Row(nil), r...)
	}
	return out
}
