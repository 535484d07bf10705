package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnehpets/mcpgate/auth"
	"github.com/mnehpets/mcpgate/capability"
	"github.com/mnehpets/mcpgate/directory"
)

const testKey = "mcp_test_key"

var fixedNow = time.Date(2024, 5, 1, 12, 30, 0, 0, time.FixedZone("X", 2*60*60))

func newTestServer(t *testing.T, mutate func(*Options)) *Server {
	t.Helper()
	store := directory.NewMemoryStore()
	ctx := context.Background()
	_, err := store.Upsert(ctx, &directory.Client{Name: "Test Client", Email: "test@example.com", Active: true}, testKey)
	require.NoError(t, err)
	_, err = store.Upsert(ctx, &directory.Client{Name: "Retired", Active: false}, "retired-key")
	require.NoError(t, err)

	opts := Options{
		Resolver:      auth.DirectoryResolver{Clients: store},
		Registry:      capability.NewRegistry(),
		Logger:        zerolog.Nop(),
		Version:       "test",
		AllowQueryKey: true,
		Heartbeat:     20 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	s := New(opts)
	s.now = func() time.Time { return fixedNow }
	return s
}

func request(t *testing.T, s *Server, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, r)
	return rec
}

func bearer(key string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + key}
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body["error"]
}

func TestServer_AuthRequiredOnEveryRoute(t *testing.T) {
	s := newTestServer(t, nil)
	routes := []struct {
		method, path, body string
	}{
		{http.MethodGet, "/api/v1/random", ""},
		{http.MethodPost, "/mcp/messages", `{"jsonrpc":"2.0","method":"initialize","id":1}`},
		{http.MethodGet, "/mcp/sse", ""},
	}
	for _, rt := range routes {
		t.Run(rt.path, func(t *testing.T) {
			rec := request(t, s, rt.method, rt.path, rt.body, nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "API key is missing", errorBody(t, rec))
			assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

			for _, key := range []string{"wrong", "retired-key"} {
				rec = request(t, s, rt.method, rt.path, rt.body, bearer(key))
				assert.Equal(t, http.StatusUnauthorized, rec.Code, key)
				assert.Equal(t, "Invalid or inactive API key", errorBody(t, rec), key)
			}
		})
	}
}

func TestServer_Healthz(t *testing.T) {
	s := newTestServer(t, nil)
	rec := request(t, s, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"), "request id is echoed")
}

func TestServer_Random(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"defaults", "", `{"number":100,"min":1,"max":100,"client":"Test Client","timestamp":"2024-05-01T10:30:00Z"}`},
		{"explicit", "?min=-5&max=7", `{"number":7,"min":-5,"max":7,"client":"Test Client","timestamp":"2024-05-01T10:30:00Z"}`},
		{"equal", "?min=3&max=3", `{"number":3,"min":3,"max":3,"client":"Test Client","timestamp":"2024-05-01T10:30:00Z"}`},
		{"blank min", "?min=&max=10", `{"number":10,"min":1,"max":10,"client":"Test Client","timestamp":"2024-05-01T10:30:00Z"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			s.random = func(lo, hi int) (int, error) { return hi, nil }
			rec := request(t, s, http.MethodGet, "/api/v1/random"+tt.query, "", bearer(testKey))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.JSONEq(t, tt.want, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestServer_RandomRealSource(t *testing.T) {
	s := newTestServer(t, nil)
	for i := 0; i < 50; i++ {
		rec := request(t, s, http.MethodGet, "/api/v1/random?min=1&max=6", "", map[string]string{"X-API-Key": testKey})
		require.Equal(t, http.StatusOK, rec.Code)
		var resp RandomResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.GreaterOrEqual(t, resp.Number, 1)
		assert.LessOrEqual(t, resp.Number, 6)
	}
}

func TestServer_RandomBadRequest(t *testing.T) {
	tests := []struct {
		query   string
		message string
	}{
		{"?min=10&max=1", "min must be less than or equal to max"},
		{"?min=abc", "min and max must be integers"},
		{"?max=1.5", "min and max must be integers"},
	}
	s := newTestServer(t, nil)
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := request(t, s, http.MethodGet, "/api/v1/random"+tt.query, "", bearer(testKey))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.message, errorBody(t, rec))
		})
	}
}

func TestServer_RandomSourceFailure(t *testing.T) {
	s := newTestServer(t, nil)
	s.random = func(lo, hi int) (int, error) { return 0, errors.New("entropy gone") }
	rec := request(t, s, http.MethodGet, "/api/v1/random", "", bearer(testKey))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "entropy gone")
}

func TestServer_QueryKey(t *testing.T) {
	s := newTestServer(t, nil)
	rec := request(t, s, http.MethodGet, "/api/v1/random?api_key="+testKey, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	s = newTestServer(t, func(o *Options) { o.AllowQueryKey = false })
	rec = request(t, s, http.MethodGet, "/api/v1/random?api_key="+testKey, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "API key is missing", errorBody(t, rec))
}

func TestServer_Messages(t *testing.T) {
	s := newTestServer(t, nil)

	rec := request(t, s, http.MethodPost, "/mcp/messages", `{"jsonrpc":"2.0","method":"initialize","id":1}`, bearer(testKey))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"jsonrpc": "2.0",
		"id": 1,
		"result": {
			"protocolVersion": "2024-11-05",
			"serverInfo": {"name": "mcpgate", "version": "test"},
			"capabilities": {"tools": {}}
		}
	}`, rec.Body.String())

	rec = request(t, s, http.MethodPost, "/mcp/messages",
		`{"jsonrpc":"2.0","method":"tools/call","params":{"name":"generate_random_number","arguments":{"min":5,"max":5}},"id":"c"}`,
		bearer(testKey))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"jsonrpc": "2.0",
		"id": "c",
		"result": {
			"content": [{"type": "text", "text": "Generated random number: 5 (range: 5-5)"}],
			"isError": false
		}
	}`, rec.Body.String())

	rec = request(t, s, http.MethodPost, "/mcp/messages", `{"jsonrpc":"2.0","method":"prompts/list","id":2}`, bearer(testKey))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":2,"error":{"code":-32601,"message":"Method not found"}}`, rec.Body.String())

	rec = request(t, s, http.MethodPost, "/mcp/messages", `not json`, bearer(testKey))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid JSON", errorBody(t, rec))
}

func TestServer_MessagesMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, nil)
	rec := request(t, s, http.MethodGet, "/mcp/messages", "", bearer(testKey))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_SecurityHeaders(t *testing.T) {
	s := newTestServer(t, nil)
	rec := request(t, s, http.MethodGet, "/api/v1/random", "", bearer(testKey))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "same-origin", rec.Header().Get("Cross-Origin-Resource-Policy"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))

	// Rejections carry the headers too.
	rec = request(t, s, http.MethodGet, "/api/v1/random", "", nil)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	s = newTestServer(t, func(o *Options) { o.HSTSMaxAge = 3600 })
	rec = request(t, s, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, "max-age=3600; includeSubDomains", rec.Header().Get("Strict-Transport-Security"))
}

func TestServer_CORS(t *testing.T) {
	s := newTestServer(t, nil)
	rec := request(t, s, http.MethodGet, "/healthz", "", map[string]string{"Origin": "https://app.example.com"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"), "cors is off by default")

	s = newTestServer(t, func(o *Options) { o.AllowedOrigins = []string{"https://app.example.com"} })
	rec = request(t, s, http.MethodGet, "/healthz", "", map[string]string{"Origin": "https://app.example.com"})
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "cross-origin", rec.Header().Get("Cross-Origin-Resource-Policy"))

	rec = request(t, s, http.MethodGet, "/healthz", "", map[string]string{"Origin": "https://evil.example.com"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_Stream(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/mcp/sse", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", testKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for len(lines) < 6 && sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.Len(t, lines, 6, "stream ended early: %v", sc.Err())
	assert.Equal(t, []string{
		"event: message",
		`data: {"type":"connected","client":"Test Client"}`,
		"",
		"event: ping",
		`data: {"type":"ping"}`,
		"",
	}, lines)
}

func TestServer_ListenAndServeShutdown(t *testing.T) {
	s := newTestServer(t, func(o *Options) { o.Addr = "127.0.0.1:0" })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, time.Second) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
