package router

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"chatrelay-backend/internal/config"
	"chatrelay-backend/internal/handlers"
	"chatrelay-backend/internal/services"
)

type upstreamStub struct {
	status int
	body   string

	mu    sync.Mutex
	calls int
	last  []byte
}

func (u *upstreamStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	u.mu.Lock()
	u.calls++
	u.last = body
	u.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(u.status)
	w.Write([]byte(u.body))
}

func (u *upstreamStub) snapshot() (int, []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls, u.last
}

func newTestServer(t *testing.T, stub *upstreamStub, apiKey string) *httptest.Server {
	t.Helper()
	upstream := httptest.NewServer(stub)
	t.Cleanup(upstream.Close)

	cfg := &config.Config{
		CORSAllowOrigin: "*",
		Upstream: config.Upstream{
			BaseURL:        upstream.URL,
			APIKey:         apiKey,
			Model:          "deepseek-chat",
			Temperature:    0.7,
			MaxTokens:      2000,
			TimeoutSeconds: 5,
		},
		SystemPrompt: "You are helpful.",
		HistoryLimit: 10,
		MaxBodyBytes: 1 << 20,
		Chat:         config.Profile{Shape: config.ShapeWrapped, Status: config.StatusNormalize},
		Completions:  config.Profile{Shape: config.ShapePassthrough, Status: config.StatusPassthrough},
	}

	h := handlers.NewChatHandler(services.NewRelayService(cfg), nil, cfg)
	srv := httptest.NewServer(New(h, cfg.CORSAllowOrigin, true))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, string) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

var corsHeaderNames = []string{
	"Access-Control-Allow-Origin",
	"Access-Control-Allow-Methods",
	"Access-Control-Allow-Headers",
	"Access-Control-Max-Age",
}

func TestRouter_PreflightOnAnyPath(t *testing.T) {
	stub := &upstreamStub{status: 200, body: `{}`}
	srv := newTestServer(t, stub, "sk-test")

	var first http.Header
	for _, path := range []string{"/api/chat", "/api/completions", "/health", "/nope", "/"} {
		resp, body := do(t, http.MethodOptions, srv.URL+path, "")

		require.Equal(t, http.StatusNoContent, resp.StatusCode, path)
		assert.Empty(t, body, path)
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET, POST, PUT, DELETE, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "Content-Type, Authorization", resp.Header.Get("Access-Control-Allow-Headers"))
		assert.Equal(t, "86400", resp.Header.Get("Access-Control-Max-Age"))

		if first == nil {
			first = resp.Header
			continue
		}
		for _, name := range corsHeaderNames {
			assert.Equal(t, first.Get(name), resp.Header.Get(name), "%s on %s", name, path)
		}
	}

	calls, _ := stub.snapshot()
	assert.Zero(t, calls)
}

func TestRouter_HealthAnyMethod(t *testing.T) {
	srv := newTestServer(t, &upstreamStub{status: 200}, "sk-test")

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
		resp, body := do(t, method, srv.URL+"/health", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode, method)
		assert.Equal(t, "OK", body)
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	}
}

func TestRouter_NotFound(t *testing.T) {
	stub := &upstreamStub{status: 200, body: `{}`}
	srv := newTestServer(t, stub, "sk-test")

	tests := []struct{ method, path string }{
		{http.MethodGet, "/"},
		{http.MethodGet, "/api"},
		{http.MethodPost, "/api/unknown"},
		{http.MethodGet, "/api/chat"},
		{http.MethodPut, "/api/chat"},
	}
	for _, tc := range tests {
		resp, body := do(t, tc.method, srv.URL+tc.path, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "%s %s", tc.method, tc.path)
		assert.Equal(t, "Not Found", body)
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	}

	calls, _ := stub.snapshot()
	assert.Zero(t, calls)
}

func TestRouter_CompletionsRejectsGet(t *testing.T) {
	srv := newTestServer(t, &upstreamStub{status: 200}, "sk-test")

	resp, body := do(t, http.MethodGet, srv.URL+"/api/completions", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Method Not Allowed. Use POST."}`, body)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRouter_ChatForwardsLastTenHistoryEntries(t *testing.T) {
	stub := &upstreamStub{status: 200, body: `{"choices":[{"message":{"role":"assistant","content":"pong"}}]}`}
	srv := newTestServer(t, stub, "sk-test")

	history := make([]map[string]string, 0, 15)
	for i := 0; i < 15; i++ {
		typ := "bot"
		if i%2 == 0 {
			typ = "user"
		}
		history = append(history, map[string]string{"type": typ, "content": string(rune('a' + i))})
	}
	payload, err := json.Marshal(map[string]interface{}{"message": "ping", "history": history})
	require.NoError(t, err)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/chat", string(payload))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.JSONEq(t, `{"response":"pong"}`, body)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	calls, sent := stub.snapshot()
	require.Equal(t, 1, calls)

	messages := gjson.GetBytes(sent, "messages").Array()
	require.Len(t, messages, 12)
	assert.Equal(t, "system", messages[0].Get("role").String())
	for i, m := range messages[1:11] {
		assert.Equal(t, string(rune('a'+5+i)), m.Get("content").String())
	}
	assert.Equal(t, "user", messages[11].Get("role").String())
	assert.Equal(t, "ping", messages[11].Get("content").String())
	assert.False(t, gjson.GetBytes(sent, "stream").Bool())
	assert.True(t, gjson.GetBytes(sent, "stream").Exists())
}

func TestRouter_ChatMissingMessage(t *testing.T) {
	stub := &upstreamStub{status: 200, body: `{}`}
	srv := newTestServer(t, stub, "sk-test")

	resp, body := do(t, http.MethodPost, srv.URL+"/api/chat", `{"history":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"error":"message required"}`, body)

	calls, _ := stub.snapshot()
	assert.Zero(t, calls)
}

func TestRouter_ChatUpstreamUnauthorized(t *testing.T) {
	stub := &upstreamStub{status: 401, body: `{"error":{"message":"Authentication Fails, Your api key is invalid"}}`}
	srv := newTestServer(t, stub, "sk-bad")

	resp, body := do(t, http.MethodPost, srv.URL+"/api/chat", `{"message":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "failed to process request", gjson.Get(body, "error").String())
	assert.Contains(t, gjson.Get(body, "details").String(), "upstream error: 401")
	assert.Contains(t, gjson.Get(body, "details").String(), "Authentication Fails")
}

func TestRouter_ChatEmptyChoicesIsMalformed(t *testing.T) {
	srv := newTestServer(t, &upstreamStub{status: 200, body: `{"choices":[]}`}, "sk-test")

	resp, body := do(t, http.MethodPost, srv.URL+"/api/chat", `{"message":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "failed to process request", gjson.Get(body, "error").String())
	assert.Contains(t, gjson.Get(body, "details").String(), "malformed upstream response")
}

func TestRouter_ChatMissingCredential(t *testing.T) {
	stub := &upstreamStub{status: 200, body: `{}`}
	srv := newTestServer(t, stub, "")

	resp, body := do(t, http.MethodPost, srv.URL+"/api/chat", `{"message":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, gjson.Get(body, "details").String(), "API key")

	calls, _ := stub.snapshot()
	assert.Zero(t, calls)
}

func TestRouter_CompletionsPassesUpstreamThrough(t *testing.T) {
	raw := `{"error":{"message":"Rate limit reached"}}`
	stub := &upstreamStub{status: 429, body: raw}
	srv := newTestServer(t, stub, "sk-test")

	resp, body := do(t, http.MethodPost, srv.URL+"/api/completions", `{"prompt":"hi","temperature":0.2}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, raw, body)

	_, sent := stub.snapshot()
	assert.InDelta(t, 0.2, gjson.GetBytes(sent, "temperature").Float(), 1e-9)
	assert.Len(t, gjson.GetBytes(sent, "messages").Array(), 2)
}

func TestRouter_CompletionsSuccessIsRaw(t *testing.T) {
	raw := `{"id":"cmpl-1","choices":[{"message":{"content":"ok"}}],"usage":{"prompt_tokens":3,"completion_tokens":1}}`
	srv := newTestServer(t, &upstreamStub{status: 200, body: raw}, "sk-test")

	resp, body := do(t, http.MethodPost, srv.URL+"/api/completions", `{"prompt":"hi"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, raw, body)
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &upstreamStub{status: 200}, "sk-test")

	do(t, http.MethodGet, srv.URL+"/health", "")
	resp, body := do(t, http.MethodGet, srv.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "chatrelay_http_requests_total")
}
