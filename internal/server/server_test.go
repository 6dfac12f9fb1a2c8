package server

import (
	"bytes"
	"context"
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

	"github.com/KaramelBytes/cleanloom/internal/ai"
	"github.com/KaramelBytes/cleanloom/internal/cleaning"
	"github.com/KaramelBytes/cleanloom/internal/parser"
	"github.com/KaramelBytes/cleanloom/internal/session"
	"github.com/KaramelBytes/cleanloom/internal/source"
)

const peopleCSV = "name,age,city\nann,30,Oslo\nbob,,Rome\ncid,41,\n"

type stubRuntime struct {
	content string
	err     error
}

func (s stubRuntime) Generate(context.Context, ai.GenerateRequest) (*ai.GenerateResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &ai.GenerateResponse{Choices: []ai.Choice{{Message: ai.Message{Content: s.content}}}}, nil
}

func newServer(t *testing.T, cleaner *cleaning.Service, opt Options) *httptest.Server {
	t.Helper()
	store := session.NewStore(session.Options{})
	fetcher := source.NewFetcher(2*time.Second, 0, parser.Options{}, nil)
	ts := httptest.NewServer(New(store, fetcher, cleaner, opt))
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, contentType string, body io.Reader) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, body := do(t, http.MethodPost, ts.URL+"/api/sessions", "", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out.ID)
	return out.ID
}

func upload(t *testing.T, ts *httptest.Server, id, filename, content string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return do(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/upload", mw.FormDataContentType(), &buf)
}

func errorOf(t *testing.T, body []byte) string {
	t.Helper()
	var e errorBody
	require.NoError(t, json.Unmarshal(body, &e))
	return e.Error
}

func TestHealthz(t *testing.T) {
	ts := newServer(t, nil, Options{})
	resp, body := do(t, http.MethodGet, ts.URL+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestSessionLifecycle(t *testing.T) {
	ts := newServer(t, nil, Options{})
	id := createSession(t, ts)
	base := ts.URL + "/api/sessions/" + id

	resp, body := do(t, http.MethodGet, base+"/schema", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, session.ErrNoDataset.Error(), errorOf(t, body))

	resp, body = upload(t, ts, id, "people.csv", peopleCSV)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var snap snapshotResponse
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, "people.csv", snap.Source)
	assert.Equal(t, 3, snap.Rows)
	assert.Equal(t, []string{"age"}, snap.Schema.NumericColumns)
	assert.Equal(t, []string{"name", "city"}, snap.Schema.CategoricalColumns)
	require.Len(t, snap.EDA.ValueDistributions, 1)
	assert.Equal(t, "age", snap.EDA.ValueDistributions[0].Column)

	resp, body = do(t, http.MethodGet, base+"/eda", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"nullValueAnalysis":[{"name":"age","missing":1},{"name":"city","missing":1}]`)
	assert.Contains(t, string(body), `"stats":`)

	resp, body = do(t, http.MethodGet, base+"/preview?limit=1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var preview struct {
		Columns []string         `json:"columns"`
		Rows    []map[string]any `json:"rows"`
		Total   int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(body, &preview))
	assert.Equal(t, []string{"name", "age", "city"}, preview.Columns)
	require.Len(t, preview.Rows, 1)
	assert.Equal(t, "ann", preview.Rows[0]["name"])
	assert.Equal(t, 3, preview.Total)

	resp, _ = do(t, http.MethodGet, base+"/preview?limit=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodGet, base+"/export.csv", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, peopleCSV, string(body))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `filename="people.csv"`)

	resp, body = do(t, http.MethodGet, base+"/export.xlsx", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ds, err := parser.DecodeBytes("people.xlsx", "", body, parser.Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())

	resp, _ = do(t, http.MethodPost, base+"/reset", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, base+"/schema", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, base, "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, base+"/schema", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = do(t, http.MethodDelete, base, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReportFormats(t *testing.T) {
	ts := newServer(t, nil, Options{})
	id := createSession(t, ts)
	resp, _ := upload(t, ts, id, "people.csv", peopleCSV)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	base := ts.URL + "/api/sessions/" + id + "/report"

	resp, body := do(t, http.MethodGet, base, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "[DATASET SUMMARY]\nFile: people.csv\nRows: 3\n")

	resp, body = do(t, http.MethodGet, base+"?format=html", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), "<p>")

	resp, body = do(t, http.MethodGet, base+"?format=json", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"rows":3`)

	resp, _ = do(t, http.MethodGet, base+"?format=pdf", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPlan(t *testing.T) {
	ts := newServer(t, nil, Options{})
	id := createSession(t, ts)
	upload(t, ts, id, "people.csv", peopleCSV)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/sessions/"+id+"/plan", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Config   cleaning.Config `json:"config"`
		Markdown string          `json:"markdown"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, cleaning.ImputeMean, out.Config.Imputation["age"])
	assert.Equal(t, cleaning.ImputeMode, out.Config.Imputation["city"])
	assert.Contains(t, out.Markdown, "## Cleaning plan")
}

func TestUploadErrors(t *testing.T) {
	ts := newServer(t, nil, Options{MaxUploadBytes: 256})
	id := createSession(t, ts)

	resp, _ := upload(t, ts, id, "big.csv", "v\n"+strings.Repeat("1\n", 500))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp, body := upload(t, ts, id, "notes.docx", "\x00\x01\x02")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, errorOf(t, body), "unsupported")

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/upload", "text/plain", strings.NewReader("x"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = upload(t, ts, "nope", "people.csv", peopleCSV)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFetch(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/people.csv" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(peopleCSV))
	}))
	t.Cleanup(upstream.Close)

	ts := newServer(t, nil, Options{})
	id := createSession(t, ts)
	url := ts.URL + "/api/sessions/" + id + "/fetch"

	resp, body := do(t, http.MethodPost, url, "application/json", strings.NewReader(`{"url":"`+upstream.URL+`/people.csv"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var snap snapshotResponse
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, 3, snap.Rows)

	resp, body = do(t, http.MethodPost, url, "application/json", strings.NewReader(`{"url":"not a url"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, errorOf(t, body), "url: must satisfy http_url")

	resp, _ = do(t, http.MethodPost, url, "application/json", strings.NewReader(`{"link":"x"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, url, "application/json", strings.NewReader(`{"url":"`+upstream.URL+`/gone.csv"}`))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

const cleanedReply = `{"cleanedCsvData": "name_ann,name_bob,name_cid,age\n1,0,0,-1\n0,1,0,0\n0,0,1,1\n", "cleaningReport": "# Report\n\nOne-hot encoded name."}`

func TestClean(t *testing.T) {
	svc := cleaning.NewService(stubRuntime{content: cleanedReply}, cleaning.Options{Model: "test/model"})
	ts := newServer(t, svc, Options{})
	id := createSession(t, ts)
	base := ts.URL + "/api/sessions/" + id

	resp, _ := do(t, http.MethodPost, base+"/clean", "application/json", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	upload(t, ts, id, "people.csv", peopleCSV)
	resp, body := do(t, http.MethodPost, base+"/clean", "application/json", strings.NewReader(`{"mode":"default"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out cleanResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, cleaning.ModeDefault, out.Mode)
	assert.Equal(t, "people_cleaned.csv", out.Source)
	assert.Equal(t, uint64(2), out.Generation)
	assert.Len(t, out.Schema.NumericColumns, 4)
	assert.Contains(t, out.ReportHTML, "Report</h1>")
	assert.Contains(t, out.Comparison, "Missing cells: 2 -> 0")

	// the cleaned dataset is now the active one
	resp, body = do(t, http.MethodGet, base+"/export.csv", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(string(body), "name_ann,name_bob,name_cid,age\n"))
}

// blockingRuntime holds Generate until release is closed.
type blockingRuntime struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingRuntime() *blockingRuntime {
	return &blockingRuntime{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingRuntime) Generate(ctx context.Context, _ ai.GenerateRequest) (*ai.GenerateResponse, error) {
	close(b.started)
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &ai.GenerateResponse{Choices: []ai.Choice{{Message: ai.Message{Content: cleanedReply}}}}, nil
}

// startClean posts a default clean in the background and waits until the
// runtime holds it.
func startClean(t *testing.T, rt *blockingRuntime, url string) <-chan int {
	t.Helper()
	status := make(chan int, 1)
	go func() {
		resp, err := http.Post(url, "application/json", nil)
		if err != nil {
			status <- 0
			return
		}
		resp.Body.Close()
		status <- resp.StatusCode
	}()
	select {
	case <-rt.started:
	case <-time.After(5 * time.Second):
		t.Fatal("clean request never reached the runtime")
	}
	return status
}

func TestCleanSupersededByNewerUpload(t *testing.T) {
	rt := newBlockingRuntime()
	ts := newServer(t, cleaning.NewService(rt, cleaning.Options{Model: "test/model"}), Options{})
	id := createSession(t, ts)
	base := ts.URL + "/api/sessions/" + id
	upload(t, ts, id, "people.csv", peopleCSV)

	status := startClean(t, rt, base+"/clean")
	resp, body := upload(t, ts, id, "scores.csv", "score
1
2
")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	close(rt.release)
	assert.Equal(t, http.StatusConflict, <-status)

	resp, body = do(t, http.MethodGet, base+"/schema", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"allColumns":["score"]`, "the newer upload stays active")
}

func TestCleanSupersededByReset(t *testing.T) {
	rt := newBlockingRuntime()
	ts := newServer(t, cleaning.NewService(rt, cleaning.Options{Model: "test/model"}), Options{})
	id := createSession(t, ts)
	base := ts.URL + "/api/sessions/" + id
	upload(t, ts, id, "people.csv", peopleCSV)

	status := startClean(t, rt, base+"/clean")
	resp, _ := do(t, http.MethodPost, base+"/reset", "", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	close(rt.release)
	assert.Equal(t, http.StatusConflict, <-status)

	resp, body := do(t, http.MethodGet, base+"/schema", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, session.ErrNoDataset.Error(), errorOf(t, body))
}

func TestCleanErrors(t *testing.T) {
	ts := newServer(t, nil, Options{})
	id := createSession(t, ts)
	resp, _ := do(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/clean", "application/json", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	authErr := &ai.AuthError{APIError: &ai.APIError{StatusCode: 401, Message: "bad key"}}
	svc := cleaning.NewService(stubRuntime{err: authErr}, cleaning.Options{Model: "test/model"})
	ts = newServer(t, svc, Options{})
	id = createSession(t, ts)
	upload(t, ts, id, "people.csv", peopleCSV)
	url := ts.URL + "/api/sessions/" + id + "/clean"

	resp, _ = do(t, http.MethodPost, url, "application/json", strings.NewReader(`{"mode":"auto"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, url, "application/json", strings.NewReader(`{"mode":"manual"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := do(t, http.MethodPost, url, "application/json",
		strings.NewReader(`{"mode":"manual","config":{"scaling":{"city":"standard"}}}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, errorOf(t, body), `"city" is not numeric`)

	resp, body = do(t, http.MethodPost, url, "application/json", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, errorOf(t, body), "authentication failed")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(session.ErrNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(session.ErrSuperseded))
	assert.Equal(t, http.StatusRequestEntityTooLarge, statusFor(source.ErrTooLarge))
	assert.Equal(t, http.StatusRequestEntityTooLarge, statusFor(cleaning.ErrPromptTooLarge))
	assert.Equal(t, http.StatusBadRequest, statusFor(parser.ErrUnsupported))
	assert.Equal(t, http.StatusBadGateway, statusFor(&source.StatusError{URL: "u", StatusCode: 500}))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}
