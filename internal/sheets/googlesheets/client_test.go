package googlesheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"rollbook/internal/sheets"
)

type fakeAPI struct {
	mu       sync.Mutex
	appended [][]interface{}
	query    map[string]string
	status   int
	message  string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 && r.URL.Path != "/v4/spreadsheets/sid" {
		w.WriteHeader(f.status)
		_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":%q}}`, f.status, f.message)
		return
	}

	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && path == "/v4/spreadsheets/sid":
		_, _ = io.WriteString(w, `{"spreadsheetId":"sid","sheets":[{"properties":{"sheetId":0,"title":"Members"}},{"properties":{"sheetId":7,"title":"Attendance"}}]}`)
	case r.Method == http.MethodGet && strings.Contains(path, "/values/") && strings.Contains(path, "Members"):
		_, _ = io.WriteString(w, `{"values":[["Full Name","Group"],["Jane Doe","Youth"],["John Roe"]]}`)
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":append"):
		var body struct {
			Values [][]interface{} `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.appended = append(f.appended, body.Values...)
		f.query = map[string]string{
			"valueInputOption": r.URL.Query().Get("valueInputOption"),
			"insertDataOption": r.URL.Query().Get("insertDataOption"),
		}
		_, _ = io.WriteString(w, `{}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":404,"message":"not found"}}`)
	}
}

func connect(t *testing.T, api *fakeAPI) sheets.Session {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	c, err := New("sid", option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	s, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() err=%v", err)
	}
	return s
}

func TestSession_ReadTableSplitsHeader(t *testing.T) {
	t.Parallel()

	s := connect(t, &fakeAPI{})
	got, err := s.ReadTable(context.Background(), "Members")
	if err != nil {
		t.Fatalf("ReadTable() err=%v", err)
	}
	if !reflect.DeepEqual(got.Header, sheets.Row{"Full Name", "Group"}) {
		t.Fatalf("Header=%v", got.Header)
	}
	want := []sheets.Row{{"Jane Doe", "Youth"}, {"John Roe"}}
	if !reflect.DeepEqual(got.Rows, want) {
		t.Fatalf("Rows=%v, want %v", got.Rows, want)
	}
}

func TestSession_AppendRowsSendsRawInsert(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	s := connect(t, api)
	if err := s.AppendRows(context.Background(), "Attendance", []sheets.Row{{"2024-03-01", "Jane Doe"}}); err != nil {
		t.Fatalf("AppendRows() err=%v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.appended) != 1 || api.appended[0][1] != "Jane Doe" {
		t.Fatalf("appended=%v", api.appended)
	}
	if api.query["valueInputOption"] != "RAW" || api.query["insertDataOption"] != "INSERT_ROWS" {
		t.Fatalf("query=%v", api.query)
	}
}

func TestSession_ListTables(t *testing.T) {
	t.Parallel()

	s := connect(t, &fakeAPI{})
	got, err := s.ListTables(context.Background())
	if err != nil {
		t.Fatalf("ListTables() err=%v", err)
	}
	if !reflect.DeepEqual(got, []string{"Members", "Attendance"}) {
		t.Fatalf("ListTables()=%v", got)
	}
}

func TestSession_QuotaResponseMapsToSentinel(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	s := connect(t, api)

	api.mu.Lock()
	api.status = http.StatusTooManyRequests
	api.message = "Quota exceeded for quota metric 'Read requests'"
	api.mu.Unlock()

	_, err := s.ReadTable(context.Background(), "Members")
	if !errors.Is(err, sheets.ErrQuotaExceeded) {
		t.Fatalf("ReadTable() err=%v, want ErrQuotaExceeded", err)
	}
}

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"429", &googleapi.Error{Code: 429}, sheets.ErrQuotaExceeded},
		{"403 rate limit", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}}}, sheets.ErrQuotaExceeded},
		{"403 forbidden", &googleapi.Error{Code: 403, Message: "The caller does not have permission"}, sheets.ErrUnauthenticated},
		{"401", &googleapi.Error{Code: 401}, sheets.ErrUnauthenticated},
		{"bad range", &googleapi.Error{Code: 400, Message: "Unable to parse range: 'Attendance'"}, sheets.ErrTableNotFound},
		{"token", &oauth2.RetrieveError{Response: &http.Response{Status: "401 Unauthorized"}}, sheets.ErrUnauthenticated},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := mapError(tt.err); !errors.Is(got, tt.want) {
				t.Fatalf("mapError()=%v, want %v", got, tt.want)
			}
		})
	}

	other := &googleapi.Error{Code: 500}
	if got := mapError(other); errors.Is(got, sheets.ErrQuotaExceeded) || errors.Is(got, sheets.ErrUnauthenticated) {
		t.Fatalf("mapError(500)=%v, want passthrough", got)
	}
}

func TestCredentialOptions(t *testing.T) {
	t.Parallel()

	if _, err := CredentialOptions("", ""); err == nil {
		t.Fatalf("CredentialOptions(empty) err=nil")
	}
	opts, err := CredentialOptions("/tmp/creds.json", "")
	if err != nil || len(opts) != 1 {
		t.Fatalf("CredentialOptions(file)=%v, %v", opts, err)
	}
	if _, err := New(" "); err == nil {
		t.Fatalf("New(blank) err=nil")
	}
}
