// Package wire defines the event records exchanged with the cloud and the
// codec for the streamed feed.
//
// The feed is delivered as Server-Sent Events. Each frame carries the event
// name on an "event:" line and a JSON object on one or more "data:" lines:
//
//	event: temp/reading
//	data: {"data":"72.5","ttl":60,"published_at":"2024-01-02T03:04:05.000Z","coreid":"0123abcd"}
//
// Frames are separated by a blank line. Lines beginning with ':' are comments;
// the cloud sends them as keep-alives.
//
// # Defaults
//
// Absent ttl defaults to 60 seconds, absent published_at to the time the
// frame was decoded, and absent coreid to the empty string. A frame without
// a name or without a data line is malformed.
//
// # Malformed Frames
//
// A malformed frame produces a *errors.DecodeError in place of an Event.
// Decoding resumes at the next frame boundary; one bad frame never aborts
// the stream.
package wire
