// Package endpoint provides the typed handler pipeline used by every gateway route.
//
// A request moves through three phases:
//
//  1. Processors: middleware-style stages (authentication, security headers)
//     that may annotate the request context or short-circuit with an error.
//  2. Endpoint: an EndpointFunc receives params decoded from the request
//     (query, header, body) and returns a Renderer. It does not write the
//     response itself.
//  3. Render: the Renderer writes status, headers and body.
//
// Errors returned from any phase are written as a JSON object of the form
// {"error": "<message>"}. An *EndpointError selects the status code; any
// other error is treated as an internal server error and its text is not
// exposed to the client.
package endpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// EndpointError is a client-visible error that maps directly to an HTTP status code.
type EndpointError struct {
	Status int
	// Message is returned to the client as the "error" field of the body.
	Message string
	Cause   error
}

func (e *EndpointError) Error() string {
	if e == nil {
		return "endpoint: error: <nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *EndpointError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Error creates a new EndpointError. An err that already is an EndpointError
// is returned unchanged.
func Error(status int, message string, err error) error {
	var ee *EndpointError
	if errors.As(err, &ee) {
		return err
	}
	return &EndpointError{Status: status, Message: message, Cause: err}
}

// Renderer writes a response.
//
// Renderers must call WriteHeader (directly or through Write). A non-nil
// error means the response could not be written; if nothing was written yet
// the handler replaces it with a 500.
type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// RendererFunc adapts a function to a Renderer.
type RendererFunc func(w http.ResponseWriter, r *http.Request) error

func (f RendererFunc) Render(w http.ResponseWriter, r *http.Request) error {
	return f(w, r)
}

// Processor is middleware-style logic that runs before the endpoint.
//
// Processors call next to continue, or return an error to stop the chain.
// They may set response headers but must not write the status or body.
type Processor interface {
	Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error
}

// ProcessorFunc adapts a function to a Processor.
type ProcessorFunc func(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error

func (f ProcessorFunc) Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	return f(w, r, next)
}

// EndpointFunc is the business logic of a route. params is decoded from the
// request by Unmarshal before the call.
type EndpointFunc[P any] func(w http.ResponseWriter, r *http.Request, params P) (Renderer, error)

// EndpointHandler is the http.Handler wrapper for an EndpointFunc.
//
// If the returned Renderer implements io.Closer, Close is called after
// rendering on every path, including panics.
type EndpointHandler[P any] struct {
	Endpoint   EndpointFunc[P]
	Processors []Processor
}

// Handler constructs an EndpointHandler. It exists for type inference of P.
func Handler[P any](fn EndpointFunc[P], processors ...Processor) *EndpointHandler[P] {
	return &EndpointHandler[P]{
		Endpoint:   fn,
		Processors: processors,
	}
}

// HandleFunc adapts an EndpointFunc into an http.HandlerFunc.
func HandleFunc[P any](fn EndpointFunc[P], processors ...Processor) http.HandlerFunc {
	return Handler(fn, processors...).ServeHTTP
}

// ServeHTTP implements http.Handler.
func (h *EndpointHandler[P]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cw := &committedWriter{ResponseWriter: w}
	log := hlog.FromRequest(r)

	err := h.serve(cw, r)
	if err == nil {
		return
	}

	status, message := http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	var ee *EndpointError
	if errors.As(err, &ee) && ee != nil {
		if ee.Status >= 100 {
			status = ee.Status
		}
		message = ee.Message
		if message == "" {
			message = http.StatusText(status)
		}
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("request failed")
		message = "internal server error"
	}

	if cw.committed {
		// Headers are gone; the best we can do is record it.
		log.Warn().Err(err).Msg("error after response was committed")
		return
	}
	writeError(cw, status, message, log)
}

func (h *EndpointHandler[P]) serve(w http.ResponseWriter, r *http.Request) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("endpoint: panic: %v", p)
		}
	}()

	if h.Endpoint == nil {
		return errors.New("endpoint: nil EndpointFunc")
	}

	var run func(i int, w2 http.ResponseWriter, r2 *http.Request) error
	run = func(i int, w2 http.ResponseWriter, r2 *http.Request) error {
		if i < len(h.Processors) {
			if h.Processors[i] == nil {
				return errors.New("endpoint: nil processor")
			}
			return h.Processors[i].Process(w2, r2, func(w3 http.ResponseWriter, r3 *http.Request) error {
				return run(i+1, w3, r3)
			})
		}

		var params P
		if err := Unmarshal(r2, &params); err != nil {
			return err
		}
		renderer, err := h.Endpoint(w2, r2, params)
		if err != nil {
			return err
		}
		if renderer == nil {
			return errors.New("endpoint: nil renderer")
		}
		if c, ok := renderer.(io.Closer); ok {
			defer c.Close()
		}
		return renderer.Render(w2, r2)
	}

	return run(0, w, r)
}

// writeError writes the standard {"error": message} body.
func writeError(w http.ResponseWriter, status int, message string, log *zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if status == http.StatusNoContent || status == http.StatusNotModified {
		return
	}
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		log.Debug().Err(err).Msg("writing error body")
	}
}

// committedWriter records whether the status line has been sent.
type committedWriter struct {
	http.ResponseWriter
	committed bool
}

func (w *committedWriter) WriteHeader(status int) {
	w.committed = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *committedWriter) Write(b []byte) (int, error) {
	w.committed = true
	return w.ResponseWriter.Write(b)
}

// Flush passes through so streaming renderers keep working behind the wrapper.
func (w *committedWriter) Flush() {
	w.committed = true
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *committedWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
