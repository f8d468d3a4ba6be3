package sheets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"sheetbot-go/internal/rowstore"
)

type fakeSheets struct {
	mu       sync.Mutex
	tabs     []string
	values   [][]interface{}
	appended [][]interface{}
	updated  []string
	status   int
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	if f.status != 0 {
		w.WriteHeader(f.status)
		io.WriteString(w, `{"error":{"code":401,"message":"invalid credentials"}}`)
		return
	}

	path := r.URL.Path
	switch {
	case strings.HasSuffix(path, ":batchUpdate"):
		var req sheets.BatchUpdateSpreadsheetRequest
		json.NewDecoder(r.Body).Decode(&req)
		for _, rq := range req.Requests {
			if rq.AddSheet != nil {
				f.tabs = append(f.tabs, rq.AddSheet.Properties.Title)
			}
		}
		io.WriteString(w, `{"spreadsheetId":"sheet-1"}`)
	case strings.HasSuffix(path, ":append"):
		var vr sheets.ValueRange
		json.NewDecoder(r.Body).Decode(&vr)
		f.appended = append(f.appended, vr.Values...)
		io.WriteString(w, `{"spreadsheetId":"sheet-1"}`)
	case strings.Contains(path, "/values/") && r.Method == http.MethodPut:
		f.updated = append(f.updated, path[strings.Index(path, "/values/")+len("/values/"):])
		io.WriteString(w, `{"spreadsheetId":"sheet-1"}`)
	case strings.Contains(path, "/values/"):
		json.NewEncoder(w).Encode(map[string]interface{}{"range": "x", "majorDimension": "ROWS", "values": f.values})
	default:
		var sh []map[string]interface{}
		for _, t := range f.tabs {
			sh = append(sh, map[string]interface{}{"properties": map[string]interface{}{"title": t}})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"spreadsheetId": "sheet-1", "sheets": sh})
	}
}

func newTestService(t *testing.T, fake *fakeSheets) *Service {
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)

	srv, err := sheets.NewService(context.Background(),
		option.WithEndpoint(ts.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(ts.Client()),
	)
	require.NoError(t, err)
	return NewService(srv, "sheet-1", log.New(io.Discard))
}

func TestService_EnsureTable(t *testing.T) {
	fake := &fakeSheets{tabs: []string{"Schedule"}}
	svc := newTestService(t, fake)
	ctx := context.Background()

	tbl, err := svc.EnsureTable(ctx, "Schedule", nil)
	require.NoError(t, err)
	assert.Equal(t, "Schedule", tbl.Name)

	_, err = svc.EnsureTable(ctx, "Streaks", nil)
	assert.ErrorIs(t, err, rowstore.ErrTableNotFound)

	_, err = svc.EnsureTable(ctx, "CrashLogs", rowstore.Row{"Timestamp", "Error", "Traceback"})
	require.NoError(t, err)
	assert.Contains(t, fake.tabs, "CrashLogs")
	require.Len(t, fake.appended, 1)
	assert.Equal(t, []interface{}{"Timestamp", "Error", "Traceback"}, fake.appended[0])
}

func TestService_ReadAllRows(t *testing.T) {
	fake := &fakeSheets{values: [][]interface{}{
		{"Content", "Date", "Time", "Sent"},
		{"hello", "2025-01-01", "8:00"},
		{"count", 3.0},
	}}
	svc := newTestService(t, fake)

	rows, err := svc.ReadAllRows(context.Background(), rowstore.Table{Name: "Schedule"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, rowstore.Row{"hello", "2025-01-01", "8:00"}, rows[1])
	assert.Equal(t, "3", rows[2].Cell(1))
}

func TestService_UpdateCell(t *testing.T) {
	fake := &fakeSheets{}
	svc := newTestService(t, fake)

	err := svc.UpdateCell(context.Background(), rowstore.Table{Name: "Schedule"}, 5, 3, "TRUE")
	require.NoError(t, err)
	require.Len(t, fake.updated, 1)
	assert.Equal(t, "'Schedule'!D5", fake.updated[0])

	err = svc.UpdateCell(context.Background(), rowstore.Table{Name: "Schedule"}, 0, 3, "TRUE")
	assert.ErrorIs(t, err, rowstore.ErrRowOutOfRange)
}

func TestService_TransientErrors(t *testing.T) {
	fake := &fakeSheets{status: http.StatusUnauthorized}
	svc := newTestService(t, fake)

	_, err := svc.ReadAllRows(context.Background(), rowstore.Table{Name: "Schedule"})
	assert.ErrorIs(t, err, rowstore.ErrUnavailable)
	assert.True(t, rowstore.IsTransient(err))
}

func TestColumnLetter(t *testing.T) {
	assert.Equal(t, "A", ColumnLetter(0))
	assert.Equal(t, "D", ColumnLetter(3))
	assert.Equal(t, "Z", ColumnLetter(25))
	assert.Equal(t, "AA", ColumnLetter(26))
	assert.Equal(t, "AZ", ColumnLetter(51))
	assert.Equal(t, "BA", ColumnLetter(52))
}

func TestQuoteTitle(t *testing.T) {
	assert.Equal(t, "'Schedule'", quoteTitle("Schedule"))
	assert.Equal(t, "'Bob''s tab'", quoteTitle("Bob's tab"))
}
