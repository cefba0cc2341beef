package sse

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Event is one decoded frame. Name is "message" for unnamed events.
type Event struct {
	Name string
	Data []byte
}

// Reader decodes an event stream frame by frame.
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next complete event. It returns io.EOF when the stream
// ends cleanly between frames.
func (r *Reader) Next() (Event, error) {
	var (
		name    string
		data    strings.Builder
		hasData bool
	)

	for {
		line, err := r.r.ReadString('\n')
		if err != nil && err != io.EOF {
			return Event{}, errors.Wrap(err, "failed to read event stream")
		}
		eof := err == io.EOF
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if hasData {
				return newEvent(name, data.String()), nil
			}
			name = ""
		case strings.HasPrefix(line, ":"):
			// comment
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			hasData = true
		}

		if eof {
			if hasData {
				return newEvent(name, data.String()), nil
			}
			return Event{}, io.EOF
		}
	}
}

func newEvent(name, data string) Event {
	if name == "" {
		name = "message"
	}
	return Event{Name: name, Data: []byte(data)}
}
