package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/phuongtg/spark-cloud-go/pkg/errors"
)

// DefaultMaxFrameSize is the default maximum size of one buffered frame (64 KB).
const DefaultMaxFrameSize = 65536

// Decoder turns the streamed feed into Events. It is fed chunks as they
// arrive from the network; chunks may split a frame anywhere.
//
// A Decoder is not safe for concurrent use. Each stream owns one.
type Decoder struct {
	buf          []byte
	maxFrameSize int
	now          func() time.Time

	// Set while dropping an oversized frame up to the next boundary.
	discarding bool
	skipLine   int
	skipCR     bool
}

// NewDecoder creates a decoder. A maxFrameSize <= 0 selects DefaultMaxFrameSize.
func NewDecoder(maxFrameSize int) *Decoder {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Decoder{
		maxFrameSize: maxFrameSize,
		now:          time.Now,
	}
}

// SetClock replaces the clock used for records without published_at.
func (d *Decoder) SetClock(now func() time.Time) {
	d.now = now
}

// Write appends a chunk to the internal buffer. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset discards any partial frame. Call it whenever the underlying
// connection is replaced.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.discarding = false
	d.skipLine = 0
	d.skipCR = false
}

// Feed writes p and returns the records it completes.
func (d *Decoder) Feed(p []byte) iter.Seq2[Event, error] {
	_, _ = d.Write(p)
	return d.Events()
}

// Events lazily yields every complete frame currently buffered, as either an
// Event or a *errors.DecodeError. The sequence ends when no complete frame
// remains; later writes make new frames available to a fresh call.
func (d *Decoder) Events() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			frame, ok, err := d.nextFrame()
			if err != nil {
				if !yield(Event{}, err) {
					return
				}
				continue
			}
			if !ok {
				return
			}

			ev, skip, err := parseFrame(frame, d.now)
			if skip {
				continue
			}
			if !yield(ev, err) {
				return
			}
		}
	}
}

// nextFrame removes and returns the next complete frame from the buffer.
func (d *Decoder) nextFrame() ([]byte, bool, error) {
	if d.discarding && !d.skipToBoundary() {
		return nil, false, nil
	}

	end := frameEnd(d.buf)
	if end < 0 {
		if len(d.buf) > d.maxFrameSize {
			size := len(d.buf)
			d.startDiscard()
			return nil, false, errors.NewDecodeError("", fmt.Sprintf("frame exceeds %d bytes (%d buffered)", d.maxFrameSize, size), nil)
		}
		return nil, false, nil
	}
	if end > d.maxFrameSize {
		d.consume(end)
		return nil, false, errors.NewDecodeError("", fmt.Sprintf("frame exceeds %d bytes (%d received)", d.maxFrameSize, end), nil)
	}

	frame := make([]byte, end)
	copy(frame, d.buf[:end])
	d.consume(end)
	return frame, true, nil
}

// consume drops n bytes from the front of the buffer, compacting it.
func (d *Decoder) consume(n int) {
	rest := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
}

// startDiscard drops the buffered bytes and skips input up to the next blank line.
func (d *Decoder) startDiscard() {
	d.discarding = true
	d.skipCR = false
	d.skipLine = 1
	if n := len(d.buf); n > 0 {
		switch d.buf[n-1] {
		case '\n':
			d.skipLine = 0
		case '\r':
			d.skipLine = 0
			d.skipCR = true
		}
	}
	d.buf = d.buf[:0]
}

// skipToBoundary consumes buffered bytes until a blank line is seen.
// Returns true once the boundary has been passed.
func (d *Decoder) skipToBoundary() bool {
	for i := 0; i < len(d.buf); i++ {
		c := d.buf[i]
		switch c {
		case '\n', '\r':
			if c == '\n' && d.skipCR {
				d.skipCR = false
				continue
			}
			d.skipCR = c == '\r'
			if d.skipLine == 0 {
				d.consume(i + 1)
				d.discarding = false
				d.skipCR = false
				return true
			}
			d.skipLine = 0
		default:
			d.skipCR = false
			d.skipLine++
		}
	}
	d.buf = d.buf[:0]
	return false
}

// frameEnd returns the index just past the blank line that terminates the
// first frame in b, or -1 if b holds no complete frame. LF, CRLF and bare CR
// line endings are accepted; a trailing CR waits for the next byte.
func frameEnd(b []byte) int {
	lineStart := 0
	for i := 0; i < len(b); {
		c := b[i]
		if c != '\n' && c != '\r' {
			i++
			continue
		}
		next := i + 1
		if c == '\r' {
			if next >= len(b) {
				return -1
			}
			if b[next] == '\n' {
				next++
			}
		}
		if i == lineStart {
			return next
		}
		lineStart = next
		i = next
	}
	return -1
}

// record is the JSON object carried on the data lines.
type record struct {
	Data        *string         `json:"data"`
	TTL         json.RawMessage `json:"ttl"`
	PublishedAt string          `json:"published_at"`
	CoreID      string          `json:"coreid"`
}

// parseFrame decodes one frame. skip is true for frames that carry no
// event fields (keep-alive comments, stray blank lines).
func parseFrame(frame []byte, now func() time.Time) (ev Event, skip bool, err error) {
	text := string(bytes.ReplaceAll(frame, []byte("\r\n"), []byte("\n")))
	text = strings.ReplaceAll(text, "\r", "\n")

	var (
		name     string
		hasName  bool
		data     []string
		hasField bool
	)
	for _, line := range strings.Split(text, "\n") {
		if line == "" || line[0] == ':' {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
			hasName = true
			hasField = true
		case "data":
			data = append(data, value)
			hasField = true
		}
	}

	if !hasField {
		return Event{}, true, nil
	}
	if !hasName || name == "" {
		return Event{}, false, errors.NewDecodeError("", "missing event name", nil)
	}
	if len(data) == 0 {
		return Event{}, false, errors.NewDecodeError(name, "missing data", nil)
	}

	var rec record
	if err := json.Unmarshal([]byte(strings.Join(data, "\n")), &rec); err != nil {
		return Event{}, false, errors.NewDecodeError(name, "invalid data payload", err)
	}

	ttl, err := parseTTL(rec.TTL)
	if err != nil {
		return Event{}, false, errors.NewDecodeError(name, "invalid ttl", err)
	}

	publishedAt := now()
	if rec.PublishedAt != "" {
		publishedAt, err = time.Parse(time.RFC3339Nano, rec.PublishedAt)
		if err != nil {
			return Event{}, false, errors.NewDecodeError(name, "invalid published_at", err)
		}
	}

	ev = Event{
		Name:        name,
		TTL:         ttl,
		PublishedAt: publishedAt,
		DeviceID:    rec.CoreID,
	}
	if rec.Data != nil {
		ev.Data = *rec.Data
	}
	return ev, false, nil
}

// parseTTL accepts a JSON number or a numeric string.
func parseTTL(raw json.RawMessage) (uint32, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return DefaultTTL, nil
	}
	if strings.HasPrefix(s, `"`) {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return 0, err
		}
		s = unquoted
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// EncodeFrame renders an event as one feed frame, the inverse of Decoder.
// A zero PublishedAt is omitted.
func EncodeFrame(ev Event) []byte {
	rec := struct {
		Data        string `json:"data"`
		TTL         uint32 `json:"ttl"`
		PublishedAt string `json:"published_at,omitempty"`
		CoreID      string `json:"coreid,omitempty"`
	}{
		Data:   ev.Data,
		TTL:    ev.TTL,
		CoreID: ev.DeviceID,
	}
	if !ev.PublishedAt.IsZero() {
		rec.PublishedAt = ev.PublishedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	payload, _ := json.Marshal(rec)

	var b bytes.Buffer
	b.WriteString("event: ")
	b.WriteString(ev.Name)
	b.WriteString("\ndata: ")
	b.Write(payload)
	b.WriteString("\n\n")
	return b.Bytes()
}
