package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServerSequence(t *testing.T, statuses []int, headers []http.Header, bodyOK any) *httptest.Server {
	t.Helper()
	var idx int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		i := int(atomic.AddInt32(&idx, 1)) - 1
		if i >= len(statuses) {
			i = len(statuses) - 1
		}
		if i < len(headers) {
			for k, vals := range headers[i] {
				for _, v := range vals {
					w.Header().Add(k, v)
				}
			}
		}
		w.WriteHeader(statuses[i])
		if statuses[i] >= 200 && statuses[i] < 300 {
			_ = json.NewEncoder(w).Encode(bodyOK)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "rate limited"}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

var okBody = GenerateResponse{Choices: []Choice{{Message: Message{Role: "assistant", Content: "ok"}}}}

func hi(model string) GenerateRequest {
	return GenerateRequest{Model: model, Messages: []Message{{Role: "user", Content: "hi"}}, MaxTokens: 1}
}

func TestGenerateRetriesOn429(t *testing.T) {
	srv := testServerSequence(t, []int{429, 200}, []http.Header{{"Retry-After": {"0"}}, {}}, okBody)
	c := NewClientWithBaseURL("test", 2*time.Second, 3, 10*time.Millisecond, 100*time.Millisecond, srv.URL)

	resp, err := c.Generate(context.Background(), hi("test-model"))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content())
}

func TestRetryAfterHonored(t *testing.T) {
	srv := testServerSequence(t, []int{429, 200}, []http.Header{{"Retry-After": {"1"}}, {}}, okBody)
	c := NewClientWithBaseURL("test", 5*time.Second, 3, 0, 0, srv.URL)

	start := time.Now()
	_, err := c.Generate(context.Background(), hi("test-model"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestGenerateGivesUpWithTypedError(t *testing.T) {
	srv := testServerSequence(t, []int{503}, nil, okBody)
	c := NewClientWithBaseURL("test", time.Second, 2, time.Millisecond, 5*time.Millisecond, srv.URL)

	_, err := c.Generate(context.Background(), hi("test-model"))
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 503, se.StatusCode)
}

func TestGenerateClassifiesAuth(t *testing.T) {
	srv := testServerSequence(t, []int{401}, nil, okBody)
	c := NewClientWithBaseURL("test", time.Second, 3, time.Millisecond, 5*time.Millisecond, srv.URL)
	_, err := c.Generate(context.Background(), hi("m"))
	var ae *AuthError
	assert.ErrorAs(t, err, &ae)
}

func TestErrorIncludesRequestID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Id", "req_test_123")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "bad req", "code": "bad_request"}})
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test", 2*time.Second, 1, 10*time.Millisecond, 50*time.Millisecond, srv.URL)
	_, err := c.Generate(context.Background(), hi("test-model"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "req_test_123")
	var bre *BadRequestError
	require.ErrorAs(t, err, &bre)
	assert.Equal(t, "bad_request", bre.Code)
	assert.Equal(t, "bad req", bre.Message)
}

func TestGenerateRequiresKeyAndModel(t *testing.T) {
	_, err := NewClient("", 0, 0, 0, 0).Generate(context.Background(), hi("m"))
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	_, err = NewClient("k", 0, 0, 0, 0).Generate(context.Background(), hi(""))
	assert.Error(t, err)
}

func TestGenerateSendsJSONMode(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		assert.Equal(t, "CleanLoom", r.Header.Get("X-Title"))
		_ = json.NewEncoder(w).Encode(okBody)
	}))
	defer srv.Close()
	c := NewClientWithBaseURL("k", time.Second, 1, 0, 0, srv.URL)
	req := hi("m")
	req.JSONMode = true
	_, err := c.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"type": "json_object"}, got["response_format"])
	assert.Equal(t, "m", got["model"])
}

func TestRetryStopsOnCancel(t *testing.T) {
	p := retryPolicy{maxAttempts: 5, baseDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := p.run(ctx, func(context.Context) (*time.Duration, error) {
		calls++
		return retryAfter(0), errors.New("boom")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRuntimeRegistry(t *testing.T) {
	rt, err := NewRuntime("", RuntimeConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &Client{}, rt)
	rt, err = NewRuntime("LOCAL", RuntimeConfig{})
	require.NoError(t, err)
	assert.IsType(t, &OllamaClient{}, rt)
	_, err = NewRuntime("nope", RuntimeConfig{})
	assert.ErrorContains(t, err, "openrouter")
}

func TestCatalog(t *testing.T) {
	mi, ok := LookupModel("openai/gpt-4o-mini")
	require.True(t, ok)
	assert.Equal(t, 128000, mi.ContextTokens)

	cost, ok := EstimateCostUSD("openai/gpt-4o-mini", 1000, 1000)
	require.True(t, ok)
	assert.InDelta(t, 0.003, cost, 1e-9)
	_, ok = EstimateCostUSD("unknown", 1, 1)
	assert.False(t, ok)

	for _, m := range ModelsFor(ProviderLocal) {
		assert.Equal(t, ProviderOllama, m.Provider)
	}
	assert.Equal(t, "llama3.1:8b-instruct", DefaultModel("ollama"))

	p := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"acme/tiny":{"provider":"openrouter","context_tokens":2048}}`), 0o644))
	m, err := LoadCatalogFromJSON(p)
	require.NoError(t, err)
	MergeCatalog(m)
	mi, ok = LookupModel("acme/tiny")
	require.True(t, ok)
	assert.Equal(t, "acme/tiny", mi.Name)
	assert.Equal(t, 2048, mi.ContextTokens)
}
