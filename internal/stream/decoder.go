package stream

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/rs/zerolog/log"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
	readSize     = 4096
)

// payload is the JSON record carried by a data line
type payload struct {
	Type     string  `json:"type"`
	Content  *string `json:"content"`
	Model    string  `json:"model"`
	ImageURL string  `json:"image_url"`
	Prompt   string  `json:"prompt"`
	Error    string  `json:"error"`
	Code     string  `json:"code"`
}

// Decoder turns arbitrarily split chunks of an SSE body into events.
// A Decoder owns its buffer and must not be shared between streams.
type Decoder struct {
	buf []byte
}

// NewDecoder creates an empty decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the buffer and returns the events of every line it completes.
// An incomplete trailing line stays buffered until a later chunk terminates it.
func (d *Decoder) Feed(chunk []byte) []Event {
	d.buf = append(d.buf, chunk...)

	var events []Event
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := d.buf[:idx]
		if ev, ok := parseLine(line); ok {
			events = append(events, ev)
		}
		d.buf = d.buf[idx+1:]
	}

	// release the consumed prefix
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return events
}

// Flush processes a final unterminated line once the body is exhausted
func (d *Decoder) Flush() []Event {
	if len(d.buf) == 0 {
		return nil
	}
	line := d.buf
	d.buf = nil
	if ev, ok := parseLine(line); ok {
		return []Event{ev}
	}
	return nil
}

// Buffered returns the number of bytes waiting for a line terminator
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func parseLine(line []byte) (Event, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return Event{}, false
	}

	data := bytes.TrimSpace(line[len(dataPrefix):])
	if len(data) == 0 || string(data) == doneSentinel {
		return Event{}, false
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		// partial or malformed records are skipped, the stream continues
		log.Debug().Err(err).Int("bytes", len(data)).Msg("Skipping undecodable stream record")
		return Event{}, false
	}

	return p.event()
}

func (p payload) event() (Event, bool) {
	if p.Type == "error" || p.Error != "" {
		msg := p.Error
		if msg == "" && p.Content != nil {
			msg = *p.Content
		}
		if msg == "" {
			msg = "The response stream reported an error"
		}
		return Event{Kind: KindError, Text: msg, Code: p.Code}, true
	}

	switch p.Type {
	case "content", "content-delta":
		return Event{Kind: KindContentDelta, Text: p.text(), Model: p.Model}, true
	case "status":
		return Event{Kind: KindStatus, Text: p.text(), Model: p.Model}, true
	case "image":
		return Event{Kind: KindImage, URL: p.ImageURL, Prompt: p.Prompt, Model: p.Model}, true
	case "":
		if p.Content != nil {
			return Event{Kind: KindContentDelta, Text: *p.Content, Model: p.Model}, true
		}
		return Event{}, false
	default:
		log.Debug().Str("type", p.Type).Msg("Ignoring unknown stream event type")
		return Event{}, false
	}
}

func (p payload) text() string {
	if p.Content == nil {
		return ""
	}
	return *p.Content
}

// Reader yields the events of a response body one at a time.
// It is finite and cannot be restarted.
type Reader struct {
	src     io.Reader
	dec     *Decoder
	chunk   []byte
	pending []Event
	eof     bool
}

// NewReader wraps a response body
func NewReader(src io.Reader) *Reader {
	return &Reader{
		src:   src,
		dec:   NewDecoder(),
		chunk: make([]byte, readSize),
	}
}

// Next returns the next event, io.EOF once the body is exhausted,
// or the read error that interrupted the body.
func (r *Reader) Next() (Event, error) {
	for {
		if len(r.pending) > 0 {
			ev := r.pending[0]
			r.pending = r.pending[1:]
			return ev, nil
		}
		if r.eof {
			return Event{}, io.EOF
		}

		n, err := r.src.Read(r.chunk)
		if n > 0 {
			r.pending = append(r.pending, r.dec.Feed(r.chunk[:n])...)
		}
		if err == io.EOF {
			r.eof = true
			r.pending = append(r.pending, r.dec.Flush()...)
			continue
		}
		if err != nil {
			r.eof = true
			r.pending = nil
			return Event{}, err
		}
	}
}
