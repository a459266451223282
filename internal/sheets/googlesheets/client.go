package googlesheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"rollbook/internal/sheets"
)

const (
	valueInput = "RAW"
	insertRows = "INSERT_ROWS"
	lastColumn = "ZZ"
)

// Connector authenticates against the Google Sheets API for one spreadsheet.
type Connector struct {
	SpreadsheetID string
	opts          []option.ClientOption
}

// New creates a connector. opts usually carry credentials; see CredentialOptions.
func New(spreadsheetID string, opts ...option.ClientOption) (*Connector, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("googlesheets: spreadsheet id required")
	}
	return &Connector{SpreadsheetID: spreadsheetID, opts: opts}, nil
}

// CredentialOptions picks inline service-account JSON over a credentials file.
func CredentialOptions(file, inline string) ([]option.ClientOption, error) {
	switch {
	case strings.TrimSpace(inline) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(inline))}, nil
	case strings.TrimSpace(file) != "":
		return []option.ClientOption{option.WithCredentialsFile(file)}, nil
	default:
		return nil, errors.New("googlesheets: credentials file or json required")
	}
}

// Connect builds an authorized client and fetches spreadsheet metadata.
func (c *Connector) Connect(ctx context.Context) (sheets.Session, error) {
	opts := append([]option.ClientOption{option.WithScopes(gsheets.SpreadsheetsScope)}, c.opts...)
	// The service outlives this call; token refreshes must not inherit its deadline.
	svc, err := gsheets.NewService(context.WithoutCancel(ctx), opts...)
	if err != nil {
		return nil, mapError(fmt.Errorf("googlesheets: new service: %w", err))
	}
	s := &session{svc: svc, id: c.SpreadsheetID}
	if err := s.Probe(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

type session struct {
	svc *gsheets.Service
	id  string
}

func (s *session) Probe(ctx context.Context) error {
	_, err := s.svc.Spreadsheets.Get(s.id).Fields("spreadsheetId").Context(ctx).Do()
	if err != nil {
		return mapError(fmt.Errorf("googlesheets: probe: %w", err))
	}
	return nil
}

func (s *session) ListTables(ctx context.Context) ([]string, error) {
	props, err := s.properties(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(props))
	for _, p := range props {
		out = append(out, p.Title)
	}
	return out, nil
}

func (s *session) CreateTable(ctx context.Context, name string, header sheets.Row) error {
	req := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			AddSheet: &gsheets.AddSheetRequest{Properties: &gsheets.SheetProperties{Title: name}},
		}},
	}
	if _, err := s.svc.Spreadsheets.BatchUpdate(s.id, req).Context(ctx).Do(); err != nil {
		return mapError(fmt.Errorf("googlesheets: add sheet %q: %w", name, err))
	}
	vr := &gsheets.ValueRange{Values: toValues([]sheets.Row{header})}
	if _, err := s.svc.Spreadsheets.Values.Update(s.id, cell(name, "A1"), vr).ValueInputOption(valueInput).Context(ctx).Do(); err != nil {
		return mapError(fmt.Errorf("googlesheets: write header %q: %w", name, err))
	}
	return nil
}

func (s *session) ReadTable(ctx context.Context, name string) (sheets.Table, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.id, quote(name)).Context(ctx).Do()
	if err != nil {
		return sheets.Table{}, mapError(fmt.Errorf("googlesheets: read %q: %w", name, err))
	}
	rows := fromValues(resp.Values)
	if len(rows) == 0 {
		return sheets.Table{}, nil
	}
	return sheets.Table{Header: rows[0], Rows: rows[1:]}, nil
}

func (s *session) AppendRows(ctx context.Context, name string, rows []sheets.Row) error {
	if len(rows) == 0 {
		return nil
	}
	vr := &gsheets.ValueRange{Values: toValues(rows)}
	_, err := s.svc.Spreadsheets.Values.Append(s.id, cell(name, "A1"), vr).
		ValueInputOption(valueInput).
		InsertDataOption(insertRows).
		Context(ctx).Do()
	if err != nil {
		return mapError(fmt.Errorf("googlesheets: append %q: %w", name, err))
	}
	return nil
}

// ReplaceRows writes header and rows from A1 and then clears whatever
// remains below, so a failed write never leaves the table empty.
func (s *session) ReplaceRows(ctx context.Context, name string, header sheets.Row, rows []sheets.Row) error {
	all := append([]sheets.Row{header}, rows...)
	vr := &gsheets.ValueRange{Values: toValues(all)}
	if _, err := s.svc.Spreadsheets.Values.Update(s.id, cell(name, "A1"), vr).ValueInputOption(valueInput).Context(ctx).Do(); err != nil {
		return mapError(fmt.Errorf("googlesheets: replace %q: %w", name, err))
	}
	tail := fmt.Sprintf("A%d:%s", len(all)+1, lastColumn)
	if _, err := s.svc.Spreadsheets.Values.Clear(s.id, cell(name, tail), &gsheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return mapError(fmt.Errorf("googlesheets: clear tail %q: %w", name, err))
	}
	return nil
}

func (s *session) UpdateRow(ctx context.Context, name string, index int, row sheets.Row) error {
	if err := s.checkRow(ctx, name, index); err != nil {
		return err
	}
	vr := &gsheets.ValueRange{Values: toValues([]sheets.Row{row})}
	_, err := s.svc.Spreadsheets.Values.Update(s.id, cell(name, fmt.Sprintf("A%d", index+2)), vr).
		ValueInputOption(valueInput).Context(ctx).Do()
	if err != nil {
		return mapError(fmt.Errorf("googlesheets: update %q row %d: %w", name, index, err))
	}
	return nil
}

func (s *session) DeleteRow(ctx context.Context, name string, index int) error {
	if err := s.checkRow(ctx, name, index); err != nil {
		return err
	}
	props, err := s.properties(ctx)
	if err != nil {
		return err
	}
	var sheetID int64 = -1
	for _, p := range props {
		if p.Title == name {
			sheetID = p.SheetId
		}
	}
	if sheetID < 0 {
		return fmt.Errorf("googlesheets: %q: %w", name, sheets.ErrTableNotFound)
	}
	req := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			DeleteDimension: &gsheets.DeleteDimensionRequest{
				Range: &gsheets.DimensionRange{
					SheetId:         sheetID,
					Dimension:       "ROWS",
					StartIndex:      int64(index + 1),
					EndIndex:        int64(index + 2),
					ForceSendFields: []string{"SheetId"},
				},
			},
		}},
	}
	if _, err := s.svc.Spreadsheets.BatchUpdate(s.id, req).Context(ctx).Do(); err != nil {
		return mapError(fmt.Errorf("googlesheets: delete %q row %d: %w", name, index, err))
	}
	return nil
}

// checkRow verifies a data row exists; the API would otherwise write past the end.
func (s *session) checkRow(ctx context.Context, name string, index int) error {
	if index < 0 {
		return fmt.Errorf("googlesheets: %q row %d: %w", name, index, sheets.ErrRowOutOfRange)
	}
	r := fmt.Sprintf("A%d:%s%d", index+2, lastColumn, index+2)
	resp, err := s.svc.Spreadsheets.Values.Get(s.id, cell(name, r)).Context(ctx).Do()
	if err != nil {
		return mapError(fmt.Errorf("googlesheets: check %q row %d: %w", name, index, err))
	}
	if len(resp.Values) == 0 {
		return fmt.Errorf("googlesheets: %q row %d: %w", name, index, sheets.ErrRowOutOfRange)
	}
	return nil
}

func (s *session) properties(ctx context.Context) ([]*gsheets.SheetProperties, error) {
	ss, err := s.svc.Spreadsheets.Get(s.id).Fields("sheets.properties(sheetId,title)").Context(ctx).Do()
	if err != nil {
		return nil, mapError(fmt.Errorf("googlesheets: metadata: %w", err))
	}
	out := make([]*gsheets.SheetProperties, 0, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			out = append(out, sh.Properties)
		}
	}
	return out, nil
}

func quote(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

func cell(name, a1 string) string {
	return quote(name) + "!" + a1
}

func toValues(rows []sheets.Row) [][]interface{} {
	out := make([][]interface{}, 0, len(rows))
	for _, r := range rows {
		vals := make([]interface{}, len(r))
		for i, v := range r {
			vals[i] = v
		}
		out = append(out, vals)
	}
	return out
}

func fromValues(values [][]interface{}) []sheets.Row {
	out := make([]sheets.Row, 0, len(values))
	for _, vals := range values {
		row := make(sheets.Row, len(vals))
		for i, v := range vals {
			if v != nil {
				row[i] = fmt.Sprint(v)
			}
		}
		out = append(out, row)
	}
	return out
}

// mapError translates API failures into the port's sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return fmt.Errorf("%w: %v", sheets.ErrUnauthenticated, err)
	}
	var ge *googleapi.Error
	if !errors.As(err, &ge) {
		return err
	}
	switch {
	case ge.Code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", sheets.ErrQuotaExceeded, err)
	case ge.Code == http.StatusForbidden && rateLimited(ge):
		return fmt.Errorf("%w: %v", sheets.ErrQuotaExceeded, err)
	case ge.Code == http.StatusUnauthorized, ge.Code == http.StatusForbidden:
		return fmt.Errorf("%w: %v", sheets.ErrUnauthenticated, err)
	case ge.Code == http.StatusBadRequest && strings.Contains(ge.Message, "Unable to parse range"):
		return fmt.Errorf("%w: %v", sheets.ErrTableNotFound, err)
	}
	return err
}

func rateLimited(ge *googleapi.Error) bool {
	for _, item := range ge.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return strings.Contains(strings.ToLower(ge.Message), "quota")
}
