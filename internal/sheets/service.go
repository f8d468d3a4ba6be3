// Package sheets implements rowstore.Store on top of a Google Sheets
// spreadsheet. Each table is one tab; the header is the tab's first row.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"sheetbot-go/internal/rowstore"
)

// Service provides row store access to one spreadsheet.
type Service struct {
	logger        *log.Logger
	srv           *sheets.Service
	spreadsheetID string

	mu    sync.Mutex
	known map[string]bool
}

// NewService creates a Service from the given Sheets client.
func NewService(srv *sheets.Service, spreadsheetID string, logger *log.Logger) *Service {
	return &Service{
		logger:        logger,
		srv:           srv,
		spreadsheetID: spreadsheetID,
		known:         make(map[string]bool),
	}
}

// Dial authenticates with service-account credentials JSON and returns a
// Service for the spreadsheet.
func Dial(ctx context.Context, credentialsJSON []byte, spreadsheetID string, logger *log.Logger, opts ...option.ClientOption) (*Service, error) {
	conf, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account credentials: %w", err)
	}
	opts = append([]option.ClientOption{option.WithTokenSource(conf.TokenSource(ctx))}, opts...)
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}
	logger.Info("connected to spreadsheet", "id", spreadsheetID, "account", conf.Email)
	return NewService(srv, spreadsheetID, logger), nil
}

// EnsureTable looks the tab up by title, creating it with header when it
// is missing and header is non-nil.
func (s *Service) EnsureTable(ctx context.Context, name string, header rowstore.Row) (rowstore.Table, error) {
	s.mu.Lock()
	known := s.known[name]
	s.mu.Unlock()
	if known {
		return rowstore.Table{Name: name}, nil
	}

	titles, err := s.titles(ctx)
	if err != nil {
		return rowstore.Table{}, err
	}
	if !titles[name] {
		if header == nil {
			return rowstore.Table{}, fmt.Errorf("%w: %s", rowstore.ErrTableNotFound, name)
		}
		if err := s.addSheet(ctx, name, header); err != nil {
			return rowstore.Table{}, err
		}
		s.logger.Info("created sheet tab", "tab", name)
	}

	s.mu.Lock()
	s.known[name] = true
	s.mu.Unlock()
	return rowstore.Table{Name: name}, nil
}

func (s *Service) titles(ctx context.Context) (map[string]bool, error) {
	ss, err := s.srv.Spreadsheets.Get(s.spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return nil, s.wrap("list tabs", "", err)
	}
	titles := make(map[string]bool, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			titles[sh.Properties.Title] = true
		}
	}
	return titles, nil
}

func (s *Service) addSheet(ctx context.Context, name string, header rowstore.Row) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: name},
			},
		}},
	}
	if _, err := s.srv.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return s.wrap("add tab", name, err)
	}
	if len(header) == 0 {
		return nil
	}
	return s.AppendRow(ctx, rowstore.Table{Name: name}, header)
}

// ReadAllRows returns every populated row of the tab as formatted text.
func (s *Service) ReadAllRows(ctx context.Context, t rowstore.Table) ([]rowstore.Row, error) {
	resp, err := s.srv.Spreadsheets.Values.Get(s.spreadsheetID, quoteTitle(t.Name)).
		ValueRenderOption("FORMATTED_VALUE").
		MajorDimension("ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return nil, s.wrap("read rows", t.Name, err)
	}
	rows := make([]rowstore.Row, len(resp.Values))
	for i, vals := range resp.Values {
		row := make(rowstore.Row, len(vals))
		for j, v := range vals {
			row[j] = cellString(v)
		}
		rows[i] = row
	}
	return rows, nil
}

// AppendRow inserts cells after the last populated row. Values are stored
// as typed so dates and times keep their text form.
func (s *Service) AppendRow(ctx context.Context, t rowstore.Table, cells rowstore.Row) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{toInterfaces(cells)}}
	_, err := s.srv.Spreadsheets.Values.Append(s.spreadsheetID, quoteTitle(t.Name)+"!A1", vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return s.wrap("append row", t.Name, err)
	}
	return nil
}

// UpdateCell writes a single cell in A1 notation.
func (s *Service) UpdateCell(ctx context.Context, t rowstore.Table, row, col int, value string) error {
	if row < 1 || col < 0 {
		return fmt.Errorf("%w: %s row %d col %d", rowstore.ErrRowOutOfRange, t.Name, row, col)
	}
	rng := fmt.Sprintf("%s!%s%d", quoteTitle(t.Name), ColumnLetter(col), row)
	vr := &sheets.ValueRange{Values: [][]interface{}{{value}}}
	_, err := s.srv.Spreadsheets.Values.Update(s.spreadsheetID, rng, vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return s.wrap("update cell", t.Name, err)
	}
	return nil
}

// wrap maps API failures onto rowstore sentinels. A range that cannot be
// parsed means the tab is gone; everything else the API returns is
// treated as transient.
func (s *Service) wrap(op, tab string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusBadRequest && strings.Contains(apiErr.Message, "Unable to parse range") {
			s.mu.Lock()
			delete(s.known, tab)
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", rowstore.ErrTableNotFound, tab)
		}
		if apiErr.Code == http.StatusBadRequest || apiErr.Code == http.StatusNotFound {
			return fmt.Errorf("sheets %s %q: %w", op, tab, err)
		}
	}
	return fmt.Errorf("%w: sheets %s %q: %v", rowstore.ErrUnavailable, op, tab, err)
}

// ColumnLetter converts a 0-based column index to its A1 letters.
func ColumnLetter(col int) string {
	var b []byte
	for n := col + 1; n > 0; n = (n - 1) / 26 {
		b = append([]byte{byte('A' + (n-1)%26)}, b...)
	}
	return string(b)
}

func quoteTitle(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

func cellString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func toInterfaces(cells rowstore.Row) []interface{} {
	out := make([]interface{}, len(cells))
	for i, c := range cells {
		out[i] = c
	}
	return out
}
