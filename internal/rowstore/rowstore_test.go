package rowstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetbot-go/internal/rowstore"
	"sheetbot-go/internal/storage"
)

func backends(t *testing.T) map[string]rowstore.Store {
	db, err := storage.Open(storage.MemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return map[string]rowstore.Store{
		"memory": rowstore.NewMemory(),
		"sqlite": rowstore.NewSQLite(db),
	}
}

func TestStoreContract(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.EnsureTable(ctx, "Schedule", nil)
			assert.ErrorIs(t, err, rowstore.ErrTableNotFound)

			tbl, err := store.EnsureTable(ctx, "Logs", rowstore.Row{"Timestamp", "Channel"})
			require.NoError(t, err)
			assert.Equal(t, "Logs", tbl.Name)

			// A second ensure keeps the existing header.
			_, err = store.EnsureTable(ctx, "Logs", rowstore.Row{"Other"})
			require.NoError(t, err)

			require.NoError(t, store.AppendRow(ctx, tbl, rowstore.Row{"2025-01-01 08:00:00", "42"}))
			require.NoError(t, store.AppendRow(ctx, tbl, rowstore.Row{"2025-01-01 09:00:00"}))

			rows, err := store.ReadAllRows(ctx, tbl)
			require.NoError(t, err)
			require.Len(t, rows, 3)
			assert.Equal(t, rowstore.Row{"Timestamp", "Channel"}, rows[0])
			assert.Equal(t, "42", rows[1].Cell(1))
			assert.Equal(t, "", rows[2].Cell(1))

			// Updating past the end of a short row extends it.
			require.NoError(t, store.UpdateCell(ctx, tbl, 3, 3, "TRUE"))
			rows, err = store.ReadAllRows(ctx, tbl)
			require.NoError(t, err)
			assert.Equal(t, rowstore.Row{"2025-01-01 09:00:00", "", "", "TRUE"}, rows[2])

			assert.ErrorIs(t, store.UpdateCell(ctx, tbl, 9, 0, "x"), rowstore.ErrRowOutOfRange)
			assert.ErrorIs(t, store.UpdateCell(ctx, tbl, 0, 0, "x"), rowstore.ErrRowOutOfRange)

			_, err = store.ReadAllRows(ctx, rowstore.Table{Name: "Missing"})
			assert.ErrorIs(t, err, rowstore.ErrTableNotFound)
			assert.ErrorIs(t, store.AppendRow(ctx, rowstore.Table{Name: "Missing"}, rowstore.Row{"x"}), rowstore.ErrTableNotFound)
		})
	}
}

func TestStoreConcurrentAppends(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tbl, err := store.EnsureTable(ctx, "Logs", rowstore.Row{"n"})
			require.NoError(t, err)

			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					assert.NoError(t, store.AppendRow(ctx, tbl, rowstore.Row{"x"}))
				}()
			}
			wg.Wait()

			rows, err := store.ReadAllRows(ctx, tbl)
			require.NoError(t, err)
			assert.Len(t, rows, 11)
		})
	}
}

func TestRowHelpers(t *testing.T) {
	r := rowstore.Row{"a", " "}
	assert.Equal(t, "a", r.Cell(0))
	assert.Equal(t, "", r.Cell(5))
	assert.Equal(t, "", r.Cell(-1))
	assert.False(t, r.Empty())
	assert.True(t, rowstore.Row{"", "  "}.Empty())
}

func TestIsTransient(t *testing.T) {
	assert.True(t, rowstore.IsTransient(rowstore.ErrUnavailable))
	assert.True(t, rowstore.IsTransient(context.DeadlineExceeded))
	assert.False(t, rowstore.IsTransient(rowstore.ErrTableNotFound))
	assert.False(t, rowstore.IsTransient(errors.New("boom")))
}

func TestMemoryFailureInjection(t *testing.T) {
	ctx := context.Background()
	store := rowstore.NewMemory()
	store.Seed("Schedule", rowstore.Row{"Content"}, rowstore.Row{"hello"})
	store.FailOn = func(op rowstore.Op, table string) error {
		if op == rowstore.OpUpdate {
			return rowstore.ErrUnavailable
		}
		return nil
	}

	tbl, err := store.EnsureTable(ctx, "Schedule", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, store.UpdateCell(ctx, tbl, 2, 0, "bye"), rowstore.ErrUnavailable)
	assert.Equal(t, "hello", store.Rows("Schedule")[1][0])
}

type slowStore struct {
	rowstore.Store
}

func (s slowStore) ReadAllRows(ctx context.Context, t rowstore.Table) ([]rowstore.Row, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestWithTimeout(t *testing.T) {
	ctx := context.Background()
	guarded := rowstore.WithTimeout(slowStore{rowstore.NewMemory()}, 20*time.Millisecond)

	start := time.Now()
	_, err := guarded.ReadAllRows(ctx, rowstore.Table{Name: "Schedule"})
	assert.ErrorIs(t, err, rowstore.ErrUnavailable)
	assert.Less(t, time.Since(start), time.Second)

	tbl, err := guarded.EnsureTable(ctx, "Logs", rowstore.Row{"a"})
	require.NoError(t, err)
	require.NoError(t, guarded.AppendRow(ctx, tbl, rowstore.Row{"b"}))
	require.NoError(t, guarded.UpdateCell(ctx, tbl, 2, 0, "c"))
}
