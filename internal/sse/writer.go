// Package sse implements the server-sent events framing used between the
// relay and its clients: `event: <name>` (optional) and `data: <json>`
// lines terminated by a blank line.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrStreamingUnsupported = errors.New("streaming unsupported")
	ErrClosed               = errors.New("stream closed")
)

// SetHeaders declares the event-stream headers of the relay wire contract.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
}

// Writer frames events onto an http.ResponseWriter and flushes after every
// frame. The status line is written lazily by the first frame so a failure
// before any output can still be reported with a non-200 status.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
	closed  bool
	once    sync.Once
}

// NewWriter prepares w for streaming. Headers are set immediately.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	SetHeaders(w.Header())
	return &Writer{w: w, flusher: flusher}, nil
}

// Open commits the status line and flushes the headers to the client.
func (s *Writer) Open(status int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.start(status)
	s.flusher.Flush()
	return nil
}

// Started reports whether the status line has been written.
func (s *Writer) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Send writes v as an unnamed (message) event.
func (s *Writer) Send(v interface{}) error {
	return s.SendEvent("", http.StatusOK, v)
}

// SendEvent writes v as JSON under the given event name. status is only
// used if nothing has been written yet.
func (s *Writer) SendEvent(event string, status int, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to encode event")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.start(status)

	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return errors.Wrap(err, "failed to write event name")
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return errors.Wrap(err, "failed to write event data")
	}
	s.flusher.Flush()
	return nil
}

// Close terminates the stream. Only the first call has any effect; it
// reports whether this call closed the stream.
func (s *Writer) Close() bool {
	closed := false
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.start(http.StatusOK)
		s.closed = true
		s.flusher.Flush()
		closed = true
	})
	return closed
}

func (s *Writer) start(status int) {
	if s.started {
		return
	}
	s.started = true
	s.w.WriteHeader(status)
}
