package wire

import (
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/phuongtg/spark-cloud-go/pkg/errors"
)

// Publish limits enforced before a request is sent.
const (
	// MaxEventNameLength is the maximum event name length in bytes.
	MaxEventNameLength = 64

	// MaxEventDataSize is the maximum payload size in bytes.
	MaxEventDataSize = 1024

	// MaxTTL is the largest ttl the cloud accepts (2^24 - 1 seconds).
	MaxTTL = 16777215
)

// PublishPath is the endpoint path for publishing events.
const PublishPath = "/v1/devices/events"

// PublishRequest is one event to publish.
type PublishRequest struct {
	Name    string
	Data    string
	Private bool
	TTL     uint32
}

// Validate checks the request against the publish limits.
func (r PublishRequest) Validate() error {
	if r.Name == "" {
		return errors.NewValidationError("name", r.Name, "required")
	}
	if len(r.Name) > MaxEventNameLength {
		return errors.NewValidationError("name", r.Name, "exceeds "+strconv.Itoa(MaxEventNameLength)+" bytes")
	}
	if len(r.Data) > MaxEventDataSize {
		return errors.NewValidationError("data", len(r.Data), "exceeds "+strconv.Itoa(MaxEventDataSize)+" bytes")
	}
	if r.TTL > MaxTTL {
		return errors.NewValidationError("ttl", r.TTL, "exceeds "+strconv.Itoa(MaxTTL)+" seconds")
	}
	return nil
}

// Form encodes the request as the publish endpoint's form body.
func (r PublishRequest) Form() url.Values {
	form := url.Values{}
	form.Set("name", r.Name)
	form.Set("data", r.Data)
	form.Set("private", strconv.FormatBool(r.Private))
	form.Set("ttl", strconv.FormatUint(uint64(r.TTL), 10))
	return form
}

// ParsePublishForm is the inverse of Form.
func ParsePublishForm(form url.Values) (PublishRequest, error) {
	req := PublishRequest{
		Name: form.Get("name"),
		Data: form.Get("data"),
		TTL:  DefaultTTL,
	}
	if v := form.Get("private"); v != "" {
		private, err := strconv.ParseBool(v)
		if err != nil {
			return PublishRequest{}, errors.NewValidationError("private", v, "not a boolean")
		}
		req.Private = private
	}
	if v := form.Get("ttl"); v != "" {
		ttl, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return PublishRequest{}, errors.NewValidationError("ttl", v, "not an unsigned integer")
		}
		req.TTL = uint32(ttl)
	}
	return req, req.Validate()
}

// PublishResponse is the body returned by the publish endpoint and by
// error responses in general.
type PublishResponse struct {
	OK          bool   `json:"ok"`
	Error       string `json:"error,omitempty"`
	Description string `json:"error_description,omitempty"`
}

// Message returns the most descriptive failure text in the response.
func (r PublishResponse) Message() string {
	if r.Description != "" {
		return r.Description
	}
	return r.Error
}

// DecodePublishResponse parses a publish response body.
func DecodePublishResponse(data []byte) (PublishResponse, error) {
	var resp PublishResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return PublishResponse{}, err
	}
	return resp, nil
}
