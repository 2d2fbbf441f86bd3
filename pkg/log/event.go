package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the stream connection (UUID).
	// Empty for publish calls, which are not tied to a stream.
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// Scope is the feed the connection serves ("public", "mine", "device:<id>").
	Scope string `cbor:"6,keyasint,omitempty"`

	// Endpoint is the request URL of the connection or publish call.
	Endpoint string `cbor:"7,keyasint,omitempty"`

	// DeviceID is the publishing device of a record, if known.
	DeviceID string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Record      *RecordEvent      `cbor:"11,keyasint,omitempty"` // Wire layer (decoded)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Connection/session state
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"` // Keep-alive/idle/refresh
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates data received from the cloud.
	DirectionIn Direction = 0
	// DirectionOut indicates data sent to the cloud.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the HTTP stream layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the record decoding layer.
	LayerWire Layer = 1
	// LayerRouter is the subscription routing layer.
	LayerRouter Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerRouter:
		return "ROUTER"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates event data (raw chunk or decoded record).
	CategoryMessage Category = 0
	// CategoryControl indicates a keep-alive, idle timeout or credential refresh.
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw bytes read from or written to the connection.
type FrameEvent struct {
	// Size is the chunk size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the raw bytes (may be truncated for large chunks).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MaxFrameCapture is the number of raw bytes kept in a FrameEvent.
const MaxFrameCapture = 1024

// NewFrameEvent captures p, truncating to MaxFrameCapture bytes.
func NewFrameEvent(p []byte) *FrameEvent {
	fe := &FrameEvent{Size: len(p)}
	n := len(p)
	if n > MaxFrameCapture {
		n = MaxFrameCapture
		fe.Truncated = true
	}
	fe.Data = append([]byte(nil), p[:n]...)
	return fe
}

// RecordEvent captures one decoded or published event record.
type RecordEvent struct {
	// Name is the event name.
	Name string `cbor:"1,keyasint"`

	// Data is the payload string.
	Data string `cbor:"2,keyasint,omitempty"`

	// TTL is the time-to-live in seconds.
	TTL uint32 `cbor:"3,keyasint"`

	// PublishedAt is the cloud timestamp (received records only).
	PublishedAt *time.Time `cbor:"4,keyasint,omitempty"`

	// Private is set for published records.
	Private *bool `cbor:"5,keyasint,omitempty"`

	// Matched is the number of subscriptions the record was routed to.
	Matched *int `cbor:"6,keyasint,omitempty"`
}

// StateChangeEvent captures connection and session lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a stream connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntitySession indicates a credential state change.
	StateEntitySession StateEntity = 1
	// StateEntitySubscription indicates a subscription was added or removed.
	StateEntitySubscription StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySession:
		return "SESSION"
	case StateEntitySubscription:
		return "SUBSCRIPTION"
	default:
		return "UNKNOWN"
	}
}

// ControlMsgEvent captures stream control traffic.
type ControlMsgEvent struct {
	// Type of control message.
	Type ControlMsgType `cbor:"1,keyasint"`

	// Attempt is the reconnect attempt number, if applicable.
	Attempt int `cbor:"2,keyasint,omitempty"`

	// Delay is the reconnect delay, if applicable. Stored as nanoseconds.
	Delay time.Duration `cbor:"3,keyasint,omitempty"`
}

// ControlMsgType indicates the type of control message.
type ControlMsgType uint8

const (
	// ControlMsgKeepAlive indicates a keep-alive comment frame.
	ControlMsgKeepAlive ControlMsgType = 0
	// ControlMsgIdleTimeout indicates the idle watchdog closed the stream.
	ControlMsgIdleTimeout ControlMsgType = 1
	// ControlMsgRefresh indicates a forced credential refresh.
	ControlMsgRefresh ControlMsgType = 2
	// ControlMsgBackoff indicates a reconnect was scheduled.
	ControlMsgBackoff ControlMsgType = 3
)

// String returns the control message type name.
func (c ControlMsgType) String() string {
	switch c {
	case ControlMsgKeepAlive:
		return "KEEPALIVE"
	case ControlMsgIdleTimeout:
		return "IDLE_TIMEOUT"
	case ControlMsgRefresh:
		return "REFRESH"
	case ControlMsgBackoff:
		return "BACKOFF"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the HTTP status code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
