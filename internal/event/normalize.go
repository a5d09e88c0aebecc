package event

import (
	"strconv"
	"time"
)

// Canonical event types produced by Normalize.
const (
	CanonicalKeystroke    = "keystroke"
	CanonicalMouseClick   = "mouse_click"
	CanonicalAppChange    = "application_change"
	CanonicalClipboard    = "clipboard_change"
	CanonicalNavigation   = "navigation"
	CanonicalTextInput    = "text_input"
	CanonicalScroll       = "scroll"
	CanonicalSessionEnd   = "session_end"
	CanonicalTextSnapshot = "text_snapshot"
)

// canonicalTypes maps source-specific raw event types onto the canonical
// vocabulary. Unmapped types pass through unchanged.
var canonicalTypes = map[string]string{
	"key_down":         CanonicalKeystroke,
	"key_up":           CanonicalKeystroke,
	"key_press":        CanonicalKeystroke,
	"mouse_down":       CanonicalMouseClick,
	"mouse_up":         CanonicalMouseClick,
	"click":            CanonicalMouseClick,
	"app_focus":        CanonicalAppChange,
	"app_blur":         CanonicalAppChange,
	"window_focus":     CanonicalAppChange,
	"app_switch":       CanonicalAppChange,
	"clipboard":        CanonicalClipboard,
	"clipboard_change": CanonicalClipboard,
	"navigate":         CanonicalNavigation,
	"navigation":       CanonicalNavigation,
	"page_visit":       CanonicalNavigation,
	"input":            CanonicalTextInput,
	"text_input":       CanonicalTextInput,
	"scroll":           CanonicalScroll,
	"visible_text":     CanonicalTextSnapshot,
	"session_end":      CanonicalSessionEnd,
}

// CanonicalType maps a raw event type onto the canonical vocabulary,
// returning the raw type unchanged when no mapping exists.
func CanonicalType(rawType string) string {
	if canonical, ok := canonicalTypes[rawType]; ok {
		return canonical
	}
	return rawType
}

// NormalizedEvent is a raw event reshaped into a canonical, typed form.
// ID is unique within a session: "{sessionID}-{sequence}".
type NormalizedEvent struct {
	ID            string         `json:"id"`
	CanonicalType string         `json:"canonical_type"`
	OriginalType  string         `json:"original_type"`
	Timestamp     time.Time      `json:"ts"`
	SessionID     string         `json:"session_id"`
	Sequence      uint64         `json:"seq"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Normalize derives the canonical form of a raw event. It is pure and
// deterministic: the same raw event always yields the same result. Events
// whose type has no canonical mapping keep their original type rather than
// being dropped.
func Normalize(raw RawEvent) NormalizedEvent {
	n := NormalizedEvent{
		ID:            raw.SessionID + "-" + strconv.FormatUint(raw.Sequence, 10),
		CanonicalType: CanonicalType(raw.Type),
		OriginalType:  raw.Type,
		Timestamp:     raw.Timestamp,
		SessionID:     raw.SessionID,
		Sequence:      raw.Sequence,
	}

	if len(raw.Payload) > 0 {
		n.Metadata = make(map[string]any, len(raw.Payload)+1)
		for k, v := range raw.Payload {
			n.Metadata[k] = v
		}
		n.Metadata["layer"] = raw.Layer
	} else if raw.Layer != "" {
		n.Metadata = map[string]any{"layer": raw.Layer}
	}

	return n
}

// MetadataString returns a non-empty string metadata field, or "".
func (n NormalizedEvent) MetadataString(keys ...string) string {
	for _, k := range keys {
		if v, ok := n.Metadata[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// App returns the application name carried by the event metadata.
func (n NormalizedEvent) App() string {
	return n.MetadataString("app", "application", "app_name")
}
