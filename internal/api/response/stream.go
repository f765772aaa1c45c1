package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ErrStreamingUnsupported is returned when the writer cannot flush
var ErrStreamingUnsupported = errors.New("streaming not supported")

// EventWriter writes server-sent events. The status line and SSE headers
// go out with the first event, so callers can still answer with a plain
// JSON error until then.
type EventWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	timeout time.Duration

	mu      sync.Mutex
	started bool
	failed  bool
}

// NewEventWriter wraps w for server-sent events. Each frame must reach the
// client within frameTimeout; zero disables the deadline.
func NewEventWriter(w http.ResponseWriter, frameTimeout time.Duration) (*EventWriter, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, ErrStreamingUnsupported
	}
	return &EventWriter{w: w, rc: http.NewResponseController(w), timeout: frameTimeout}, nil
}

// Started reports whether any event has been written
func (e *EventWriter) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// Send writes one named event with a JSON payload. After the first write
// failure further events are dropped.
func (e *EventWriter) Send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failed {
		return nil
	}
	if !e.started {
		h := e.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		e.w.WriteHeader(http.StatusOK)
		e.started = true
	}

	if err := e.deadline(time.Now().Add(e.timeout)); err != nil {
		e.failed = true
		return err
	}
	defer e.deadline(time.Time{})

	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		e.failed = true
		return err
	}
	if err := e.rc.Flush(); err != nil {
		e.failed = true
		return err
	}
	return nil
}

// deadline sets the connection write deadline. Writers without deadline
// support, such as test recorders, are left alone.
func (e *EventWriter) deadline(t time.Time) error {
	if e.timeout <= 0 {
		return nil
	}
	err := e.rc.SetWriteDeadline(t)
	if errors.Is(err, http.ErrNotSupported) {
		return nil
	}
	return err
}
