package endpoint

import (
	"context"
	"io"
	"iter"
	"net/http"
	"strings"
)

// SSEvent is one Server-Sent Event.
type SSEvent struct {
	// Type is written as the "event:" field when non-empty.
	Type string
	// Data is the payload. Embedded newlines become separate "data:" lines.
	Data string
}

// WriteTo implements io.WriterTo.
func (e SSEvent) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder
	if e.Type != "" {
		sb.WriteString("event: ")
		sb.WriteString(e.Type)
		sb.WriteString("\n")
	}
	sb.WriteString("data: ")
	sb.WriteString(strings.ReplaceAll(e.Data, "\n", "\ndata: "))
	sb.WriteString("\n\n")

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

// SSERenderer streams events to the client, flushing after each one.
//
// Rendering stops when the iterator finishes, when the request context is
// cancelled (returns nil), or when a write fails (returns the write error).
type SSERenderer struct {
	Events iter.Seq[SSEvent]
}

// Render implements Renderer.
func (r *SSERenderer) Render(w http.ResponseWriter, req *http.Request) error {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	// Disable proxy buffering (nginx).
	h.Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	// The producer runs on its own goroutine so a slow iterator never delays
	// noticing cancellation. The channel is unbuffered, so the producer is
	// never more than one event ahead of the writer.
	events := make(chan SSEvent)
	go func() {
		defer close(events)
		for event := range r.Events {
			select {
			case <-ctx.Done():
				return
			case events <- event:
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if _, err := event.WriteTo(w); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if err := rc.Flush(); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}
