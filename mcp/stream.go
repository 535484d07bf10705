package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mnehpets/mcpgate/endpoint"
	"github.com/rs/zerolog"
)

// DefaultHeartbeat is the interval between ping events.
const DefaultHeartbeat = 30 * time.Second

// StreamState is the lifecycle position of a StreamSession.
type StreamState int32

const (
	StreamConnecting StreamState = iota
	StreamOpen
	StreamClosed
	StreamFailed
)

func (s StreamState) String() string {
	switch s {
	case StreamConnecting:
		return "connecting"
	case StreamOpen:
		return "open"
	case StreamClosed:
		return "closed"
	case StreamFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type connectedEvent struct {
	Type   string `json:"type"`
	Client string `json:"client"`
}

type pingEvent struct {
	Type string `json:"type"`
}

// StreamSession is one server-to-client event stream. It sends a connected
// event, then a ping every heartbeat until the peer goes away, the parent
// context is cancelled, or a write fails.
//
// A session is an endpoint.Renderer and an io.Closer: the endpoint handler
// renders it and then calls Close, which releases the ticker and the
// derived context exactly once.
type StreamSession struct {
	id        string
	client    string
	heartbeat time.Duration
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	ticker *time.Ticker

	state     atomic.Int32
	closeOnce sync.Once
}

// NewStreamSession creates a session for client bound to ctx. A heartbeat
// of zero or less uses DefaultHeartbeat.
func NewStreamSession(ctx context.Context, client string, heartbeat time.Duration, logger zerolog.Logger) *StreamSession {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(ctx)
	return &StreamSession{
		id:        id,
		client:    client,
		heartbeat: heartbeat,
		logger:    logger.With().Str("session", id).Str("client", client).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		ticker:    time.NewTicker(heartbeat),
	}
}

// ID returns the session id used in logs.
func (s *StreamSession) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *StreamSession) State() StreamState { return StreamState(s.state.Load()) }

// Render implements endpoint.Renderer. The session stays Connecting until
// the event-stream headers are flushed and the connected event is due.
func (s *StreamSession) Render(w http.ResponseWriter, r *http.Request) error {
	sse := &endpoint.SSERenderer{Events: s.events()}
	if err := sse.Render(w, r.WithContext(s.ctx)); err != nil && !peerGone(err) {
		s.state.Store(int32(StreamFailed))
		s.logger.Error().Err(err).Msg("stream write failed")
		return nil
	}
	s.state.CompareAndSwap(int32(StreamConnecting), int32(StreamClosed))
	s.state.CompareAndSwap(int32(StreamOpen), int32(StreamClosed))
	return nil
}

// Close releases the session. It is safe to call more than once.
func (s *StreamSession) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.ticker.Stop()
		s.state.CompareAndSwap(int32(StreamConnecting), int32(StreamClosed))
		s.state.CompareAndSwap(int32(StreamOpen), int32(StreamClosed))
		s.logger.Info().Str("state", s.State().String()).Msg("stream released")
	})
	return nil
}

func (s *StreamSession) events() iter.Seq[endpoint.SSEvent] {
	return func(yield func(endpoint.SSEvent) bool) {
		if !s.state.CompareAndSwap(int32(StreamConnecting), int32(StreamOpen)) {
			return
		}
		s.logger.Info().Msg("stream opened")
		if !yield(jsonEvent("message", connectedEvent{Type: "connected", Client: s.client})) {
			return
		}
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-s.ticker.C:
				if !yield(jsonEvent("ping", pingEvent{Type: "ping"})) {
					return
				}
			}
		}
	}
}

// peerGone reports whether err means the client went away.
func peerGone(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled)
}

func jsonEvent(name string, v any) endpoint.SSEvent {
	data, _ := json.Marshal(v)
	return endpoint.SSEvent{Type: name, Data: string(data)}
}
