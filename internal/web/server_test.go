package web

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/finimport/internal/config"
	"github.com/JonMunkholm/finimport/internal/core"
	"github.com/JonMunkholm/finimport/internal/schema"
	"github.com/JonMunkholm/finimport/internal/store/memory"
)

const expenseCSV = "Transaction Date,Debit,Category,Memo,Card\n" +
	"2024-01-01,10.00,Food,lunch,Chase\n" +
	"2024-01-02,20.00,Food,dinner,\n" +
	"2024-01-03,30.00,Rent,deposit,\n" +
	"2024-01-04,40.00,Games,console,\n"

func testConfig() *config.Config {
	return &config.Config{
		Import: config.ImportConfig{MaxFileSize: 1 << 20},
	}
}

type testServer struct {
	t     *testing.T
	srv   *Server
	store *memory.Store
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	store := memory.New()
	store.SeedCategories("u1",
		core.Category{Name: "Food", Type: "EXPENSE"},
		core.Category{Name: "Rent", Type: "EXPENSE"},
	)
	store.SeedAccounts("u1", core.Account{Holder: "Jane", Bank: "Chase", Number: "1234"})

	reg, err := schema.Load("")
	require.NoError(t, err)
	svc := core.NewService(store, store, reg, core.Options{BatchSize: 2})

	return &testServer{t: t, srv: NewServer(svc, cfg, http.NotFoundHandler()), store: store}
}

func (ts *testServer) do(method, path, user string, body io.Reader, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) json(method, path, user string, v any) *httptest.ResponseRecorder {
	var body io.Reader = http.NoBody
	if v != nil {
		b, err := json.Marshal(v)
		require.NoError(ts.t, err)
		body = bytes.NewReader(b)
	}
	return ts.do(method, path, user, body, "Content-Type", "application/json")
}

func (ts *testServer) upload(entity, user, filename, content string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(ts.t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(ts.t, err)
	require.NoError(ts.t, mw.Close())
	return ts.do(http.MethodPost, "/api/import/"+entity, user, &buf, "Content-Type", mw.FormDataContentType())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = ts.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "served by the injected handler")
}

func TestSchemasAndTemplates(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/api/schemas", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	schemas := decode[[]schemaView](t, rec)
	entities := make([]string, len(schemas))
	for i, s := range schemas {
		entities[i] = s.Entity
	}
	assert.ElementsMatch(t, []string{"budget", "expense", "debt", "investment", "password"}, entities)

	rec = ts.do(http.MethodGet, "/api/template/expense", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "expense_template.csv")
	assert.NotEmpty(t, rec.Body.String())

	rec = ts.do(http.MethodGet, "/api/template/gift", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "IMP007", decode[ErrorResponse](t, rec).Code)
}

func TestImport_RequiresUser(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.upload("expense", "", "expenses.csv", expenseCSV)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestImport_CorrectionFlow(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.upload("expense", "u1", "expenses.csv", expenseCSV)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[core.ImportResult](t, rec)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.ImportedCount)
	assert.Equal(t, 1, res.SkippedCount)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 5, res.Errors[0].Row)
	require.NotEmpty(t, res.RunID)

	base := "/api/runs/" + res.RunID + "/candidates"

	rec = ts.do(http.MethodGet, base, "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Candidates []core.CandidateView `json:"candidates"`
	}](t, rec)
	require.Len(t, list.Candidates, 1)
	assert.Equal(t, core.StatePending, list.Candidates[0].State)

	// Editing requires an open candidate.
	rec = ts.json(http.MethodPatch, base+"/5", "u1", SetFieldDTO{Field: "category", Value: "Food"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.json(http.MethodPost, base+"/5/open", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.StateEditing, decode[core.CandidateView](t, rec).State)

	rec = ts.do(http.MethodGet, base+"/5/suggestions?field=category", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Food")

	rec = ts.json(http.MethodPatch, base+"/5", "u1", SetFieldDTO{Field: "nope", Value: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.json(http.MethodPatch, base+"/5", "u1", SetFieldDTO{Field: "category", Value: "Food"})
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[core.CandidateView](t, rec)
	assert.Equal(t, "Food", view.Values["category"])
	require.Len(t, view.Edits, 1)

	rec = ts.json(http.MethodPost, base+"/5/submit", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[core.SubmitOutcome](t, rec)
	assert.True(t, out.Imported)
	assert.NotEmpty(t, out.RecordID)

	rec = ts.do(http.MethodGet, "/api/runs/"+res.RunID, "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res = decode[core.ImportResult](t, rec)
	assert.Equal(t, 4, res.ImportedCount)
	assert.Empty(t, res.Errors)
	assert.Len(t, ts.store.Records("u1", core.EntityExpense), 4)

	rec = ts.do(http.MethodDelete, "/api/runs/"+res.RunID, "u1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(http.MethodGet, "/api/runs/"+res.RunID, "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "IMP003", decode[ErrorResponse](t, rec).Code)
}

func TestImport_SubmitCellsAndDiscard(t *testing.T) {
	ts := newTestServer(t, nil)

	res := decode[core.ImportResult](t, ts.upload("expense", "u1", "expenses.csv", expenseCSV))
	base := "/api/runs/" + res.RunID + "/candidates/5"

	require.Equal(t, http.StatusOK, ts.json(http.MethodPost, base+"/open", "u1", nil).Code)
	require.Equal(t, http.StatusOK, ts.json(http.MethodPatch, base, "u1", SetFieldDTO{Field: "category", Value: "Rent"}).Code)

	rec := ts.json(http.MethodPost, base+"/reset", "u1", ResetFieldDTO{Field: "category"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Games", decode[core.CandidateView](t, rec).Values["category"])

	rec = ts.json(http.MethodPost, base+"/discard", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.StatePending, decode[core.CandidateView](t, rec).State)

	rec = ts.json(http.MethodPost, base+"/submit", "u1", SubmitDTO{Cells: []string{"2024-01-04", "40.00", "Food", "console", ""}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[core.SubmitOutcome](t, rec).Imported)

	rec = ts.json(http.MethodPost, base+"/open", "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "resolved rows leave the run")
}

func TestImport_InvalidSubmitKeepsRow(t *testing.T) {
	ts := newTestServer(t, nil)

	res := decode[core.ImportResult](t, ts.upload("expense", "u1", "expenses.csv", expenseCSV))
	base := "/api/runs/" + res.RunID + "/candidates/5"

	require.Equal(t, http.StatusOK, ts.json(http.MethodPost, base+"/open", "u1", nil).Code)
	rec := ts.json(http.MethodPost, base+"/submit", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[core.SubmitOutcome](t, rec)
	assert.False(t, out.Imported)
	assert.NotEmpty(t, out.Errors)

	rec = ts.json(http.MethodPost, base+"/open", "u1", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "row is pending again")
}

func TestImport_OtherUserCannotSeeRun(t *testing.T) {
	ts := newTestServer(t, nil)
	res := decode[core.ImportResult](t, ts.upload("expense", "u1", "expenses.csv", expenseCSV))

	rec := ts.do(http.MethodGet, "/api/runs/"+res.RunID, "u2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.json(http.MethodPost, "/api/runs/"+res.RunID+"/candidates/5/open", "u2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImport_RawBodyAndStructuralErrors(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/api/import/expense?filename=x.csv", "u1", strings.NewReader(expenseCSV), "Content-Type", "text/csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[core.ImportResult](t, rec).ImportedCount)

	rec = ts.do(http.MethodPost, "/api/import/expense", "u1", strings.NewReader("Transaction Date,Debit,Category\n"), "Content-Type", "text/csv")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[core.ImportResult](t, rec)
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Row)

	rec = ts.do(http.MethodPost, "/api/import/expense", "u1", strings.NewReader(""), "Content-Type", "text/csv")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "FILE005", decode[ErrorResponse](t, rec).Code)

	rec = ts.do(http.MethodPost, "/api/import/expense?autoCreateCategories=maybe", "u1", strings.NewReader(expenseCSV))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.upload("gift", "u1", "gifts.csv", expenseCSV)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.upload("expense", "u1", "old.xls", expenseCSV)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, "FILE002", decode[ErrorResponse](t, rec).Code)
}

func TestImport_FileTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Import.MaxFileSize = 64
	ts := newTestServer(t, cfg)

	rec := ts.upload("expense", "u1", "expenses.csv", expenseCSV)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "FILE001", decode[ErrorResponse](t, rec).Code)
}

func TestImport_AutoCreateCategories(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/api/import/expense?autoCreateCategories=true", "u1", strings.NewReader(expenseCSV), "Content-Type", "text/csv")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[core.ImportResult](t, rec)
	assert.Equal(t, 4, res.ImportedCount)
	assert.Zero(t, res.SkippedCount)
}

func TestImportRow(t *testing.T) {
	ts := newTestServer(t, nil)
	headers := []string{"Transaction Date", "Debit", "Category", "Memo"}

	rec := ts.json(http.MethodPost, "/api/import/expense/row", "u1", ImportRowDTO{
		Headers: headers,
		Cells:   []string{"2024-02-01", "12.50", "Food", "snack"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode[map[string]string](t, rec)["recordId"])

	rec = ts.json(http.MethodPost, "/api/import/expense/row", "u1", ImportRowDTO{
		Headers: headers,
		Cells:   []string{"not a date", "12.50", "Food", "snack"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	require.NotEmpty(t, resp.Fields)
	assert.Equal(t, "date", resp.Fields[0].Field)

	rec = ts.json(http.MethodPost, "/api/import/expense/row", "u1", ImportRowDTO{Cells: []string{"x"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "headers is required")

	rec = ts.do(http.MethodPost, "/api/import/expense/row", "u1", strings.NewReader(`{"headers":["a"],"cells":["b"],"extra":1}`), "Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTMXFragments(t *testing.T) {
	ts := newTestServer(t, nil)
	res := decode[core.ImportResult](t, ts.upload("expense", "u1", "expenses.csv", expenseCSV))

	rec := ts.do(http.MethodGet, "/api/runs/"+res.RunID+"/candidates", "u1", nil, "HX-Request", "true")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, `<tr id="candidate-5"`)
	assert.Contains(t, body, "Games")
	assert.Contains(t, body, `class="field-error"`)

	rec = ts.do(http.MethodGet, "/api/runs/missing", "u1", nil, "HX-Request", "true")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Code: IMP003")
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}
	ts := newTestServer(t, cfg)

	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/api/schemas", "", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/schemas", "", nil, "X-API-Key", "secret").Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/healthz", "", nil).Code)
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newRateLimiter(2, time.Minute)
	defer rl.stop()
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("a"))
	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))
	assert.True(t, rl.allow("b"), "limits are per client")

	now = now.Add(61 * time.Second)
	assert.True(t, rl.allow("a"), "window resets")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrRunNotFound, http.StatusNotFound},
		{core.ErrInvalidTransition, http.StatusConflict},
		{core.ErrImportInProgress, http.StatusConflict},
		{core.ErrTooManyImports, http.StatusServiceUnavailable},
		{core.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{core.FieldErrors{{Field: "amount", Message: "Amount is required"}}, http.StatusUnprocessableEntity},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
