package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/farxc/spm-results/internal/incentive"
	"github.com/farxc/spm-results/internal/incentive/credentials"
	"github.com/farxc/spm-results/internal/incentive/types"
	"github.com/farxc/spm-results/internal/logger"
	"github.com/farxc/spm-results/internal/store"
)

// MockFetcher implements assemble.Fetcher for testing
type MockFetcher struct {
	FetchFunc func(ctx context.Context, resource types.Resource, q types.Query, token credentials.Token) (json.RawMessage, error)
	calls     int32
}

func (m *MockFetcher) Fetch(ctx context.Context, resource types.Resource, q types.Query, token credentials.Token) (json.RawMessage, error) {
	atomic.AddInt32(&m.calls, 1)
	return m.FetchFunc(ctx, resource, q, token)
}

// MockRunStore implements the store.Storage ExtractionRuns interface for testing
type MockRunStore struct {
	GetLatestFunc func(ctx context.Context, limit int) ([]store.ExtractionRun, error)
}

func (m *MockRunStore) EnsureSchema(ctx context.Context) error { return nil }

func (m *MockRunStore) InsertRun(ctx context.Context, run *store.ExtractionRun) error { return nil }

func (m *MockRunStore) FinishRun(ctx context.Context, run *store.ExtractionRun) error { return nil }

func (m *MockRunStore) GetLatest(ctx context.Context, limit int) ([]store.ExtractionRun, error) {
	return m.GetLatestFunc(ctx, limit)
}

func oneRecord(resource types.Resource) json.RawMessage {
	return json.RawMessage(`[{
		"payee": {"displayName": "Alice Smith (P100)"},
		"position": {"displayName": "Account Executive"},
		"period": {"displayName": "January 2024"},
		"pipelineRunDate": "2024-02-03T04:05:06",
		"name": "` + string(resource) + ` line",
		"value": {"value": 1250.75, "unitType": {"name": "USD"}}
	}]`)
}

func succeed(ctx context.Context, resource types.Resource, q types.Query, token credentials.Token) (json.RawMessage, error) {
	return oneRecord(resource), nil
}

func empty(ctx context.Context, resource types.Resource, q types.Query, token credentials.Token) (json.RawMessage, error) {
	return json.RawMessage("[]"), nil
}

func failWith(kind types.ErrorKind, status int) func(context.Context, types.Resource, types.Query, credentials.Token) (json.RawMessage, error) {
	return func(ctx context.Context, resource types.Resource, q types.Query, token credentials.Token) (json.RawMessage, error) {
		return nil, &types.FetchError{Resource: resource, Kind: kind, StatusCode: status, Err: errors.New("upstream said no")}
	}
}

func newTestApp(t *testing.T, fetcher *MockFetcher, storage *store.Storage) http.Handler {
	t.Helper()
	return newTestAppWithLogger(t, fetcher, storage, logger.Discard())
}

func newTestAppWithLogger(t *testing.T, fetcher *MockFetcher, storage *store.Storage, appLogger *logger.Logger) http.Handler {
	t.Helper()
	cfg := config{
		addr:         "127.0.0.1:0",
		batchTimeout: 2 * time.Second,
		pageSize:     10,
	}
	app := &application{
		config:    cfg,
		pipeline:  incentive.NewPipeline(fetcher, nil, appLogger, cfg.batchTimeout),
		store:     storage,
		appLogger: appLogger,
	}
	mux, err := app.mount()
	if err != nil {
		t.Fatalf("mount() error = %v", err)
	}
	return mux
}

func validForm() url.Values {
	return url.Values{
		"tenant_name": {"acme"},
		"username":    {"analyst"},
		"password":    {"s3cret"},
		"payee_id":    {"P100"},
		"month":       {"2024-01"},
	}
}

const validJSON = `{"tenant_name":"acme","username":"analyst","password":"s3cret","payee_id":"P100","month":"2024-01"}`

func postForm(t *testing.T, h http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandleForm(t *testing.T) {
	h := newTestApp(t, &MockFetcher{FetchFunc: succeed}, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{`name="tenant_name"`, `name="password" type="password"`, `name="payee_id"`, `name="month"`, `formaction="/results.csv"`} {
		if !strings.Contains(body, want) {
			t.Errorf("form page missing %s", want)
		}
	}
}

func TestHandleResultsPage(t *testing.T) {
	t.Run("renders rows", func(t *testing.T) {
		fetcher := &MockFetcher{FetchFunc: succeed}
		h := newTestApp(t, fetcher, nil)

		rr := postForm(t, h, "/results", validForm())

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		body := rr.Body.String()
		if strings.Count(body, "Alice Smith (P100)") != 5 {
			t.Errorf("expected 5 rows for the payee, body: %s", body)
		}
		for _, want := range []string{"credits line", "deposits line", "2024-02-03", "1250.75", `data-page-size="10"`} {
			if !strings.Contains(body, want) {
				t.Errorf("results page missing %q", want)
			}
		}
		if strings.Contains(body, "s3cret") {
			t.Error("results page echoes the password")
		}
		if fetcher.calls != 5 {
			t.Errorf("expected 5 fetches, got %d", fetcher.calls)
		}
	})

	t.Run("no matching records", func(t *testing.T) {
		h := newTestApp(t, &MockFetcher{FetchFunc: empty}, nil)

		rr := postForm(t, h, "/results", validForm())

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		body := rr.Body.String()
		if !strings.Contains(body, "No matching records.") {
			t.Error("expected the no matching records notice")
		}
		for _, col := range types.Columns {
			if !strings.Contains(body, "<th>"+col+"</th>") {
				t.Errorf("expected column header %s", col)
			}
		}
	})

	t.Run("missing field notice", func(t *testing.T) {
		h := newTestApp(t, &MockFetcher{FetchFunc: func(ctx context.Context, resource types.Resource, q types.Query, token credentials.Token) (json.RawMessage, error) {
			if resource == types.Credits {
				return json.RawMessage(`[{"name": "no nested objects", "value": {"value": 3}}]`), nil
			}
			return json.RawMessage("[]"), nil
		}}, nil)

		rr := postForm(t, h, "/results", validForm())

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "5 field(s) were missing") {
			t.Errorf("expected missing field notice, body: %s", rr.Body.String())
		}
	})

	t.Run("invalid credentials", func(t *testing.T) {
		h := newTestApp(t, &MockFetcher{FetchFunc: failWith(types.KindUnauthorized, 401)}, nil)

		rr := postForm(t, h, "/results", validForm())

		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected status 401, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "Invalid credentials") {
			t.Error("expected invalid credentials message")
		}
		if strings.Contains(rr.Body.String(), `id="results"`) {
			t.Error("expected no result table on failure")
		}
	})

	t.Run("missing field", func(t *testing.T) {
		fetcher := &MockFetcher{FetchFunc: succeed}
		h := newTestApp(t, fetcher, nil)

		form := validForm()
		form.Del("month")
		rr := postForm(t, h, "/results", form)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "month is empty") {
			t.Errorf("expected field error, body: %s", rr.Body.String())
		}
		if fetcher.calls != 0 {
			t.Errorf("expected no fetches, got %d", fetcher.calls)
		}
	})
}

var exportLink = regexp.MustCompile(`<a id="export-csv" href="data:text/csv;charset=([a-z0-9-]+);base64,([A-Za-z0-9+/=]+)" download="([^"]+)"`)

func TestResultsPageExportsDisplayedTable(t *testing.T) {
	fetcher := &MockFetcher{FetchFunc: func(ctx context.Context, resource types.Resource, q types.Query, token credentials.Token) (json.RawMessage, error) {
		return json.RawMessage(`[{
			"payee": {"displayName": "Zoë (P100)"},
			"position": {"displayName": "Account Executive"},
			"period": {"displayName": "January 2024"},
			"pipelineRunDate": "2024-02-03T04:05:06",
			"name": "` + string(resource) + ` line",
			"value": {"value": 1250.75, "unitType": {"name": "EUR"}}
		}]`), nil
	}}
	h := newTestApp(t, fetcher, nil)

	form := validForm()
	form.Set("encoding", "windows-1252")
	rr := postForm(t, h, "/results", form)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	// html/template entity-escapes some base64 characters inside attributes.
	body := html.UnescapeString(rr.Body.String())

	m := exportLink.FindStringSubmatch(body)
	if m == nil {
		t.Fatalf("results page has no csv export link: %s", body)
	}
	if m[1] != "windows-1252" {
		t.Errorf("expected charset windows-1252, got %s", m[1])
	}
	if !strings.HasPrefix(m[3], "results_") || !strings.HasSuffix(m[3], ".csv") {
		t.Errorf("unexpected download name %q", m[3])
	}
	if !strings.Contains(body, `<option value="windows-1252" selected>`) {
		t.Error("expected the chosen encoding to stay selected")
	}

	exported, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		t.Fatalf("decode export: %v", err)
	}

	// The export must hold the displayed rows in display order, without another fetch.
	want := "PayeeId,Position,Period,pipelineRunDate,name,value,Currency\n"
	last := -1
	for _, resource := range types.Resources {
		name := string(resource) + " line"
		want += "Zo\xeb (P100),Account Executive,January 2024,2024-02-03," + name + ",1250.75,EUR\n"

		idx := strings.Index(body, "<td>"+name+"</td>")
		if idx <= last {
			t.Errorf("row %q not displayed in order", name)
		}
		last = idx
	}
	if string(exported) != want {
		t.Errorf("exported csv = %q, want %q", exported, want)
	}
	if fetcher.calls != 5 {
		t.Errorf("expected 5 fetches for one render, got %d", fetcher.calls)
	}
}

func TestResultsPageExportFallsBackToUTF8(t *testing.T) {
	h := newTestApp(t, &MockFetcher{FetchFunc: empty}, nil)

	form := validForm()
	form.Set("encoding", "ebcdic")
	rr := postForm(t, h, "/results", form)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	m := exportLink.FindStringSubmatch(html.UnescapeString(rr.Body.String()))
	if m == nil {
		t.Fatal("results page has no csv export link")
	}
	exported, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if m[1] != "utf-8" || string(exported) != "PayeeId,Position,Period,pipelineRunDate,name,value,Currency\n" {
		t.Errorf("unexpected export charset=%s body=%q", m[1], exported)
	}
}

func TestHandleResultsCSVForm(t *testing.T) {
	h := newTestApp(t, &MockFetcher{FetchFunc: succeed}, nil)

	form := validForm()
	form.Set("encoding", "windows-1252")
	rr := postForm(t, h, "/results.csv", form)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/csv; charset=windows-1252" {
		t.Errorf("unexpected content type %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, `attachment; filename="results_`) {
		t.Errorf("unexpected content disposition %q", cd)
	}
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if len(lines) != 6 {
		t.Fatalf("expected header plus 5 rows, got %d lines", len(lines))
	}
	if lines[0] != "PayeeId,Position,Period,pipelineRunDate,name,value,Currency" {
		t.Errorf("unexpected header %q", lines[0])
	}
}

func TestHandleGetResults(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		h := newTestApp(t, &MockFetcher{FetchFunc: succeed}, nil)

		rr := postJSON(t, h, "/v1/results", validJSON)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp GetResultsResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if !resp.Success || resp.Data.Total != 5 || len(resp.Data.Rows) != 5 {
			t.Fatalf("unexpected response %+v", resp)
		}
		if resp.Data.RunID == "" {
			t.Error("expected a run id")
		}
		first := resp.Data.Rows[0]
		if first.Name != "credits line" || first.Currency != "USD" || first.Value == nil || *first.Value != 1250.75 {
			t.Errorf("unexpected first row %+v", first)
		}
	})

	tests := []struct {
		name       string
		body       string
		fetch      func(context.Context, types.Resource, types.Query, credentials.Token) (json.RawMessage, error)
		wantStatus int
		wantKind   types.ErrorKind
	}{
		{"unknown field", `{"tenant":"acme"}`, succeed, http.StatusBadRequest, types.KindInvalidInput},
		{"missing field", `{"tenant_name":"acme"}`, succeed, http.StatusBadRequest, types.KindInvalidInput},
		{"invalid tenant", `{"tenant_name":"evil.com/x","username":"u","password":"p","payee_id":"P","month":"2024-01"}`, succeed, http.StatusBadRequest, types.KindInvalidInput},
		{"unauthorized", validJSON, failWith(types.KindUnauthorized, 401), http.StatusUnauthorized, types.KindUnauthorized},
		{"upstream error", validJSON, failWith(types.KindUpstreamStatus, 500), http.StatusBadGateway, types.KindUpstreamStatus},
		{"unavailable", validJSON, failWith(types.KindUnavailable, 0), http.StatusGatewayTimeout, types.KindUnavailable},
		{"malformed", validJSON, func(ctx context.Context, resource types.Resource, q types.Query, token credentials.Token) (json.RawMessage, error) {
			return json.RawMessage(`{"not":"an array"}`), nil
		}, http.StatusBadGateway, types.KindMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestApp(t, &MockFetcher{FetchFunc: tt.fetch}, nil)

			rr := postJSON(t, h, "/v1/results", tt.body)

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
			var resp struct {
				Error string `json:"error"`
				Kind  string `json:"kind"`
			}
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Kind != string(tt.wantKind) || resp.Error == "" {
				t.Errorf("unexpected error response %+v", resp)
			}
			if strings.Contains(resp.Error, "s3cret") {
				t.Error("error response leaks the password")
			}
		})
	}
}

func TestHandleGetResultsCSV(t *testing.T) {
	t.Run("utf-8 by default", func(t *testing.T) {
		h := newTestApp(t, &MockFetcher{FetchFunc: empty}, nil)

		rr := postJSON(t, h, "/v1/results/csv", validJSON)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "text/csv; charset=utf-8" {
			t.Errorf("unexpected content type %q", ct)
		}
		if got := rr.Body.String(); got != "PayeeId,Position,Period,pipelineRunDate,name,value,Currency\n" {
			t.Errorf("unexpected body %q", got)
		}
	})

	t.Run("unknown encoding is rejected before fetching", func(t *testing.T) {
		fetcher := &MockFetcher{FetchFunc: succeed}
		h := newTestApp(t, fetcher, nil)

		body := strings.TrimSuffix(validJSON, "}") + `,"encoding":"ebcdic"}`
		rr := postJSON(t, h, "/v1/results/csv", body)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
		if fetcher.calls != 0 {
			t.Errorf("expected no fetches, got %d", fetcher.calls)
		}
	})
}

func TestHandleGetExtractionHistory(t *testing.T) {
	t.Run("disabled without a database", func(t *testing.T) {
		h := newTestApp(t, &MockFetcher{FetchFunc: empty}, nil)

		req := httptest.NewRequest(http.MethodGet, "/v1/extractions/history", nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d", rr.Code)
		}
	})

	tests := []struct {
		name      string
		query     string
		wantLimit int
	}{
		{"default limit", "", 10},
		{"explicit limit", "?limit=3", 3},
		{"invalid limit", "?limit=abc", 10},
		{"capped limit", "?limit=1000", maxHistoryLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotLimit int
			storage := &store.Storage{ExtractionRuns: &MockRunStore{
				GetLatestFunc: func(ctx context.Context, limit int) ([]store.ExtractionRun, error) {
					gotLimit = limit
					return []store.ExtractionRun{{RunID: "run-1", Status: store.StatusSuccess, RowCount: 5}}, nil
				},
			}}
			h := newTestApp(t, &MockFetcher{FetchFunc: empty}, storage)

			req := httptest.NewRequest(http.MethodGet, "/v1/extractions/history"+tt.query, nil)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rr.Code)
			}
			if gotLimit != tt.wantLimit {
				t.Errorf("expected limit %d, got %d", tt.wantLimit, gotLimit)
			}
			var resp GetExtractionHistoryResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if len(resp.Data) != 1 || resp.Data[0].RunID != "run-1" {
				t.Errorf("unexpected data %+v", resp.Data)
			}
		})
	}

	t.Run("store error", func(t *testing.T) {
		storage := &store.Storage{ExtractionRuns: &MockRunStore{
			GetLatestFunc: func(ctx context.Context, limit int) ([]store.ExtractionRun, error) {
				return nil, errors.New("connection refused")
			},
		}}
		h := newTestApp(t, &MockFetcher{FetchFunc: empty}, storage)

		req := httptest.NewRequest(http.MethodGet, "/v1/extractions/history", nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("expected status 500, got %d", rr.Code)
		}
	})
}

func TestHealthCheckHandler(t *testing.T) {
	h := newTestApp(t, &MockFetcher{FetchFunc: empty}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var data map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&data); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if data["status"] != "available" || data["history"] != "disabled" {
		t.Errorf("unexpected health %+v", data)
	}
}

func TestStatusFor(t *testing.T) {
	tests := map[types.ErrorKind]int{
		types.KindInvalidInput:   http.StatusBadRequest,
		types.KindUnauthorized:   http.StatusUnauthorized,
		types.KindUpstreamStatus: http.StatusBadGateway,
		types.KindUnavailable:    http.StatusGatewayTimeout,
		types.KindMalformed:      http.StatusBadGateway,
		"":                       http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := statusFor(kind); got != want {
			t.Errorf("statusFor(%q) = %d, want %d", kind, got, want)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("development mode without PORT", func(t *testing.T) {
		t.Setenv("PORT", "")
		t.Setenv("LOG_LEVEL", "error")
		cfg := loadConfig()
		if !cfg.devMode || cfg.addr != "127.0.0.1:8050" || cfg.logLevel != "debug" {
			t.Errorf("unexpected config %+v", cfg)
		}
	})

	t.Run("DEV_MODE keeps the PORT binding", func(t *testing.T) {
		t.Setenv("PORT", "9000")
		t.Setenv("DEV_MODE", "true")
		t.Setenv("LOG_LEVEL", "error")
		cfg := loadConfig()
		if !cfg.devMode || cfg.addr != "0.0.0.0:9000" || cfg.logLevel != "debug" {
			t.Errorf("unexpected config %+v", cfg)
		}
	})

	t.Run("PORT binds all interfaces", func(t *testing.T) {
		t.Setenv("PORT", "9000")
		t.Setenv("DEV_MODE", "")
		t.Setenv("PAGE_SIZE", "25")
		cfg := loadConfig()
		if cfg.devMode || cfg.addr != "0.0.0.0:9000" || cfg.pageSize != 25 {
			t.Errorf("unexpected config %+v", cfg)
		}
	})
}

func TestRequestLogsGoThroughAppLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	h := newTestAppWithLogger(t, &MockFetcher{FetchFunc: failWith(types.KindUnauthorized, 401)}, nil, logger.New(buf, logger.LevelInfo))

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	postForm(t, h, "/results", validForm())

	var access []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line is not JSON: %q", line)
		}
		if entry["component"] == "HTTP" {
			access = append(access, entry)
		}
	}

	if len(access) != 2 {
		t.Fatalf("expected 2 access log entries, got %d: %s", len(access), buf.String())
	}
	health, results := access[0], access[1]
	if msg, _ := health["message"].(string); !strings.Contains(msg, "path=/v1/health status=200") {
		t.Errorf("unexpected health entry %v", health)
	}
	if id, _ := health["request_id"].(string); id == "" {
		t.Errorf("expected a request_id on %v", health)
	}
	if results["level"] != "warn" {
		t.Errorf("expected a warn entry for a 401, got %v", results)
	}
	if strings.Contains(buf.String(), "s3cret") {
		t.Error("logs contain the password")
	}
}
