package wire

import (
	"fmt"
	"strings"
	"time"
)

// DefaultTTL is the time-to-live assumed when a record omits ttl.
const DefaultTTL uint32 = 60

// Event is one decoded record from the feed. Values are immutable once decoded.
type Event struct {
	// Name is the event name, matched against subscription prefixes.
	Name string

	// Data is the opaque payload string.
	Data string

	// TTL is the time-to-live in seconds.
	TTL uint32

	// PublishedAt is when the cloud accepted the event, or when it was
	// decoded locally if the record did not carry a timestamp.
	PublishedAt time.Time

	// DeviceID identifies the publishing device. Empty if unknown.
	DeviceID string
}

// HasPrefix reports whether the event name starts with prefix.
// The empty prefix matches every event.
func (e Event) HasPrefix(prefix string) bool {
	return strings.HasPrefix(e.Name, prefix)
}

// String returns a short human-readable form of the event.
func (e Event) String() string {
	if e.DeviceID != "" {
		return fmt.Sprintf("%s=%q (device %s, ttl %d)", e.Name, e.Data, e.DeviceID, e.TTL)
	}
	return fmt.Sprintf("%s=%q (ttl %d)", e.Name, e.Data, e.TTL)
}
