// Package bridge relays line-delimited JSON-RPC between a local stdio
// agent and the gateway's HTTP message endpoint.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/mnehpets/mcpgate/jsonrpc"
)

const (
	// MessagesPath is appended to the base URL.
	MessagesPath = "/mcp/messages"

	maxLineBytes     = 10 << 20
	maxResponseBytes = 10 << 20
	maxRetries       = 3
)

// NewClient returns an HTTP client that sends apiKey as a bearer token on
// every request.
func NewClient(ctx context.Context, apiKey string) *http.Client {
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: apiKey,
		TokenType:   "Bearer",
	}))
}

// Relay forwards each input line to the gateway and writes each answer as
// one output line. Lines are handled strictly in order.
type Relay struct {
	// Endpoint is the full URL of the message endpoint.
	Endpoint string
	Client   *http.Client
	In       io.Reader
	Out      io.Writer
	Logger   zerolog.Logger
	// NewBackOff returns the retry policy for connection failures. Nil
	// uses an exponential policy.
	NewBackOff func() backoff.BackOff
}

// New returns a Relay posting to baseURL's message endpoint.
func New(baseURL string, client *http.Client, in io.Reader, out io.Writer, logger zerolog.Logger) *Relay {
	return &Relay{
		Endpoint: strings.TrimRight(baseURL, "/") + MessagesPath,
		Client:   client,
		In:       in,
		Out:      out,
		Logger:   logger.With().Str("component", "bridge").Logger(),
	}
}

// Run relays until the input ends or ctx is cancelled. Blank lines are
// skipped. Per-message failures are answered with a -32603 envelope and do
// not stop the relay.
func (r *Relay) Run(ctx context.Context) error {
	sc := bufio.NewScanner(r.In)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		out := r.Handle(ctx, line)
		if _, err := r.Out.Write(append(out, '\n')); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}

// Handle relays one message and returns the single-line answer.
func (r *Relay) Handle(ctx context.Context, line []byte) []byte {
	var msg json.RawMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return r.failure(fmt.Errorf("invalid JSON input: %w", err))
	}

	body, err := r.post(ctx, msg)
	if err != nil {
		return r.failure(err)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return r.failure(fmt.Errorf("failed to parse response: %w", err))
	}
	return buf.Bytes()
}

func (r *Relay) post(ctx context.Context, msg []byte) ([]byte, error) {
	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(msg))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := r.client().Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("reading response: %w", err))
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		r.Logger.Warn().Err(err).Dur("retry_in", wait).Msg("gateway unreachable")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(r.backOff(), ctx), notify); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Err
		}
		return nil, err
	}
	return body, nil
}

func (r *Relay) backOff() backoff.BackOff {
	if r.NewBackOff != nil {
		return r.NewBackOff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return backoff.WithMaxRetries(b, maxRetries)
}

func (r *Relay) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return http.DefaultClient
}

func (r *Relay) failure(err error) []byte {
	r.Logger.Error().Err(err).Msg("relay failed")
	out, _ := json.Marshal(jsonrpc.NewErrorResponse(nil, jsonrpc.NewError(jsonrpc.CodeInternalError, err.Error())))
	return out
}
