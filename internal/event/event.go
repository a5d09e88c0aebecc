package event

import (
	"time"
)

// Capture layers. Sources identify themselves by layer so downstream
// consumers can tell a browser signal from an OS-level one.
const (
	LayerOS       = "os"
	LayerBrowser  = "browser"
	LayerApp      = "app"
	LayerInternal = "internal"
	LayerSpool    = "spool"
)

// EndMarkerType is the terminal event appended when a session stops.
const EndMarkerType = "session_end"

// RawEvent is an unfiltered capture-source signal, recorded verbatim.
// Timestamp and Sequence are assigned at ingestion; Sequence is the
// ordering key when two events share a timestamp.
type RawEvent struct {
	Timestamp time.Time      `json:"ts"`
	Layer     string         `json:"layer"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	SessionID string         `json:"session_id"`
	Sequence  uint64         `json:"seq"`
}

// payloadString returns a non-empty string payload field, or "".
func (e RawEvent) payloadString(keys ...string) string {
	for _, k := range keys {
		if v, ok := e.Payload[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// App returns the application name carried by the event payload.
func (e RawEvent) App() string {
	return e.payloadString("app", "application", "app_name")
}

// URL returns the URL carried by the event payload.
func (e RawEvent) URL() string {
	return e.payloadString("url", "href")
}

// Title returns the window or page title carried by the event payload.
func (e RawEvent) Title() string {
	return e.payloadString("title", "window_title")
}

// Text returns the textual content carried by the event payload
// (typed text, clipboard contents).
func (e RawEvent) Text() string {
	return e.payloadString("text", "content")
}

// IsEndMarker reports whether the event is the terminal session marker.
func (e RawEvent) IsEndMarker() bool {
	return e.Layer == LayerInternal && e.Type == EndMarkerType
}
