package wire

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/phuongtg/spark-cloud-go/pkg/errors"
)

// ScopeKind selects which feed a subscription targets.
type ScopeKind uint8

const (
	// ScopeAllPublic is the firehose of public events.
	ScopeAllPublic ScopeKind = iota

	// ScopeAllOwnedDevices is every event, public and private, from devices
	// owned by the credential's user.
	ScopeAllOwnedDevices

	// ScopeDevice is the events of one device. Private events are visible
	// only if the credential's user owns it; the cloud decides.
	ScopeDevice
)

// String returns a human-readable scope kind name.
func (k ScopeKind) String() string {
	switch k {
	case ScopeAllPublic:
		return "PUBLIC"
	case ScopeAllOwnedDevices:
		return "OWNED"
	case ScopeDevice:
		return "DEVICE"
	default:
		return "UNKNOWN"
	}
}

// Scope identifies one upstream feed. Scopes are comparable and are used
// as map keys; two subscriptions with equal scopes share one connection.
type Scope struct {
	Kind     ScopeKind
	DeviceID string
}

// AllPublic returns the public firehose scope.
func AllPublic() Scope {
	return Scope{Kind: ScopeAllPublic}
}

// AllOwnedDevices returns the scope of every device the user owns.
func AllOwnedDevices() Scope {
	return Scope{Kind: ScopeAllOwnedDevices}
}

// Device returns the scope of a single device.
func Device(deviceID string) Scope {
	return Scope{Kind: ScopeDevice, DeviceID: deviceID}
}

// Validate checks that the scope is well formed.
func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeAllPublic, ScopeAllOwnedDevices:
		if s.DeviceID != "" {
			return errors.NewValidationError("deviceID", s.DeviceID, "only allowed for device scope")
		}
	case ScopeDevice:
		if s.DeviceID == "" {
			return errors.NewValidationError("deviceID", s.DeviceID, "required for device scope")
		}
	default:
		return errors.NewValidationError("kind", s.Kind, "unknown scope kind")
	}
	return nil
}

// Path returns the endpoint path of the scope's feed.
func (s Scope) Path() string {
	switch s.Kind {
	case ScopeAllOwnedDevices:
		return "/v1/devices/events"
	case ScopeDevice:
		return "/v1/devices/" + url.PathEscape(s.DeviceID) + "/events"
	default:
		return "/v1/events"
	}
}

// String returns the scope in the form accepted by ParseScope.
func (s Scope) String() string {
	switch s.Kind {
	case ScopeAllPublic:
		return "public"
	case ScopeAllOwnedDevices:
		return "mine"
	case ScopeDevice:
		return "device:" + s.DeviceID
	default:
		return fmt.Sprintf("scope(%d)", s.Kind)
	}
}

// ParseScope parses "public", "mine" or "device:<id>" (case-insensitive keyword).
func ParseScope(s string) (Scope, error) {
	keyword, id, hasID := strings.Cut(s, ":")
	switch strings.ToLower(keyword) {
	case "public", "all":
		if hasID {
			break
		}
		return AllPublic(), nil
	case "mine", "devices", "owned":
		if hasID {
			break
		}
		return AllOwnedDevices(), nil
	case "device":
		scope := Device(id)
		if err := scope.Validate(); err != nil {
			return Scope{}, err
		}
		return scope, nil
	}
	return Scope{}, errors.NewValidationError("scope", s, "must be public, mine, or device:<id>")
}
