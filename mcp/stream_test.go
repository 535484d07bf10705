package mcp

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnehpets/mcpgate/endpoint"
)

func streamHandler(heartbeat time.Duration, sessions chan<- *StreamSession) http.HandlerFunc {
	return endpoint.HandleFunc(func(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
		s := NewStreamSession(r.Context(), "Test Client", heartbeat, zerolog.Nop())
		if sessions != nil {
			sessions <- s
		}
		return s, nil
	})
}

type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, sc *bufio.Scanner, n int) []sseEvent {
	t.Helper()
	var out []sseEvent
	var cur sseEvent
	for len(out) < n && sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			out = append(out, cur)
			cur = sseEvent{}
		}
	}
	require.Len(t, out, n, "stream ended early: %v", sc.Err())
	return out
}

func TestStreamSession_ConnectThenPings(t *testing.T) {
	sessions := make(chan *StreamSession, 1)
	srv := httptest.NewServer(streamHandler(20*time.Millisecond, sessions))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	events := readEvents(t, bufio.NewScanner(resp.Body), 3)
	assert.Equal(t, sseEvent{"message", `{"type":"connected","client":"Test Client"}`}, events[0])
	assert.Equal(t, sseEvent{"ping", `{"type":"ping"}`}, events[1])
	assert.Equal(t, sseEvent{"ping", `{"type":"ping"}`}, events[2])

	session := <-sessions
	cancel()
	require.Eventually(t, func() bool { return session.State() == StreamClosed }, 2*time.Second, 5*time.Millisecond)
}

func TestStreamSession_ParentCancelEndsStream(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	s := NewStreamSession(parent, "c", time.Hour, zerolog.Nop())
	defer s.Close()

	rec := httptest.NewRecorder()
	done := make(chan error, 1)
	go func() { done <- s.Render(rec, httptest.NewRequest(http.MethodGet, "/mcp/sse", nil)) }()

	require.Eventually(t, func() bool { return s.State() == StreamOpen }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end on cancellation")
	}
	assert.Equal(t, StreamClosed, s.State())
}

func TestStreamSession_CloseIsIdempotent(t *testing.T) {
	s := NewStreamSession(context.Background(), "c", time.Second, zerolog.Nop())
	assert.Equal(t, StreamConnecting, s.State())
	assert.NotEmpty(t, s.ID())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()

	assert.Equal(t, StreamClosed, s.State())
	assert.Error(t, s.ctx.Err(), "derived context is cancelled")
}

// brokenWriter lets the first body write through to rec and fails the
// rest with err. It wraps rather than embeds the recorder so that
// io.WriteString cannot bypass Write.
type brokenWriter struct {
	rec    *httptest.ResponseRecorder
	err    error
	writes int
}

func newBrokenWriter(err error) *brokenWriter {
	return &brokenWriter{rec: httptest.NewRecorder(), err: err}
}

func (b *brokenWriter) Header() http.Header { return b.rec.Header() }

func (b *brokenWriter) WriteHeader(status int) { b.rec.WriteHeader(status) }

func (b *brokenWriter) Write(p []byte) (int, error) {
	b.writes++
	if b.writes > 1 {
		return 0, b.err
	}
	return b.rec.Write(p)
}

func (b *brokenWriter) Flush() { b.rec.Flush() }

func TestStreamSession_PeerResetIsClosed(t *testing.T) {
	s := NewStreamSession(context.Background(), "c", 5*time.Millisecond, zerolog.Nop())
	w := newBrokenWriter(&net.OpError{Op: "write", Net: "tcp", Err: syscall.ECONNRESET})

	require.NoError(t, s.Render(w, httptest.NewRequest(http.MethodGet, "/mcp/sse", nil)))
	assert.Equal(t, StreamClosed, s.State())
	s.Close()
	assert.Equal(t, StreamClosed, s.State())
}

func TestStreamSession_WriteFailure(t *testing.T) {
	s := NewStreamSession(context.Background(), "c", 5*time.Millisecond, zerolog.Nop())
	w := newBrokenWriter(errors.New("short write"))

	err := s.Render(w, httptest.NewRequest(http.MethodGet, "/mcp/sse", nil))
	assert.NoError(t, err, "failures are logged, not returned")
	assert.Equal(t, StreamFailed, s.State())

	s.Close()
	assert.Equal(t, StreamFailed, s.State(), "Close keeps the terminal state")
	assert.Contains(t, w.rec.Body.String(), `"type":"connected"`)
}

// stateWriter records the session state when the status line is written
// and when the first event reaches the body.
type stateWriter struct {
	rec          *httptest.ResponseRecorder
	session      *StreamSession
	atHeader     atomic.Int32
	atFirstWrite atomic.Int32
	firstWrite   chan struct{}
	once         sync.Once
}

func (w *stateWriter) Header() http.Header { return w.rec.Header() }

func (w *stateWriter) WriteHeader(status int) {
	w.atHeader.Store(int32(w.session.State()))
	w.rec.WriteHeader(status)
}

func (w *stateWriter) Write(p []byte) (int, error) {
	w.once.Do(func() {
		w.atFirstWrite.Store(int32(w.session.State()))
		close(w.firstWrite)
	})
	return len(p), nil
}

func (w *stateWriter) Flush() {}

func TestStreamSession_OpensAfterHeaders(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewStreamSession(parent, "c", time.Hour, zerolog.Nop())
	defer s.Close()
	w := &stateWriter{rec: httptest.NewRecorder(), session: s, firstWrite: make(chan struct{})}
	w.atHeader.Store(-1)

	done := make(chan error, 1)
	go func() { done <- s.Render(w, httptest.NewRequest(http.MethodGet, "/mcp/sse", nil)) }()

	select {
	case <-w.firstWrite:
	case <-time.After(2 * time.Second):
		t.Fatal("connected event was not written")
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, StreamConnecting, StreamState(w.atHeader.Load()))
	assert.Equal(t, StreamOpen, StreamState(w.atFirstWrite.Load()))
	assert.Equal(t, StreamClosed, s.State())
}

func TestStreamSession_ClosedBeforeRender(t *testing.T) {
	s := NewStreamSession(context.Background(), "c", time.Hour, zerolog.Nop())
	s.Close()

	rec := httptest.NewRecorder()
	require.NoError(t, s.Render(rec, httptest.NewRequest(http.MethodGet, "/mcp/sse", nil)))
	assert.Equal(t, StreamClosed, s.State())
	assert.NotContains(t, rec.Body.String(), "connected")
}

func TestStreamSession_DefaultHeartbeat(t *testing.T) {
	s := NewStreamSession(context.Background(), "c", 0, zerolog.Nop())
	defer s.Close()
	assert.Equal(t, DefaultHeartbeat, s.heartbeat)
}
