package log

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// ErrTruncated is returned when a capture ends partway through a record,
// typically because the writing process died mid-write. Every record before
// it decoded cleanly.
var ErrTruncated = errors.New("capture truncated mid-record")

// Capture records are deterministic CBOR maps with integer keys and
// RFC3339Nano timestamps, concatenated without framing.
var (
	captureEncMode = mustEncMode(cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	})

	// Unknown keys are ignored so older tools can read newer captures.
	captureDecMode = mustDecMode(cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
		MaxNestedLevels:   16,
	})
)

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("log: capture encoder options: %v", err))
	}
	return em
}

func mustDecMode(opts cbor.DecOptions) cbor.DecMode {
	dm, err := opts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("log: capture decoder options: %v", err))
	}
	return dm
}

// EncodeEvent returns the capture encoding of one event.
func EncodeEvent(event Event) ([]byte, error) {
	return captureEncMode.Marshal(event)
}

// DecodeEvent decodes a single capture record.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := captureDecMode.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// Encoder appends capture records to a writer.
type Encoder struct {
	enc *cbor.Encoder
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: captureEncMode.NewEncoder(w)}
}

// Encode writes one record.
func (e *Encoder) Encode(event Event) error {
	return e.enc.Encode(event)
}

// Decoder reads consecutive capture records.
type Decoder struct {
	dec *cbor.Decoder
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: captureDecMode.NewDecoder(r)}
}

// Decode returns the next record. It returns io.EOF at a clean end of input
// and ErrTruncated when input stops inside a record.
func (d *Decoder) Decode() (Event, error) {
	var event Event
	if err := d.dec.Decode(&event); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Event{}, fmt.Errorf("%w after %d bytes", ErrTruncated, d.dec.NumBytesRead())
		}
		return Event{}, err
	}
	return event, nil
}
