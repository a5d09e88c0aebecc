package chunk

import (
	"reflect"
	"testing"
	"time"

	"github.com/johns/actlog/internal/event"
)

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// at builds a raw event n seconds into the test window.
func at(sec int, typ string, payload map[string]any) event.RawEvent {
	return event.RawEvent{
		Timestamp: base.Add(time.Duration(sec) * time.Second),
		Layer:     event.LayerOS,
		Type:      typ,
		Payload:   payload,
		SessionID: "s",
	}
}

func withSeq(events []event.RawEvent) []event.RawEvent {
	for i := range events {
		events[i].Sequence = uint64(i + 1)
	}
	return events
}

func TestChunk_EmptyInput(t *testing.T) {
	if got := DefaultChunker().Chunk(nil); len(got) != 0 {
		t.Errorf("empty input should yield no chunks, got %d", len(got))
	}
}

func TestChunk_SingleEvent(t *testing.T) {
	chunks := DefaultChunker().Chunk(withSeq([]event.RawEvent{
		at(0, "key_down", map[string]any{"app": "Terminal"}),
	}))
	if len(chunks) != 1 {
		t.Fatalf("single event should yield one chunk, got %d", len(chunks))
	}
	if chunks[0].EventCount != 1 || chunks[0].PrimaryApp != "Terminal" {
		t.Errorf("chunk = %+v", chunks[0])
	}
}

func TestChunk_GapRule(t *testing.T) {
	// Events at t=0, t=3, t=15 in the same app split at the 12s gap.
	chunks := DefaultChunker().Chunk(withSeq([]event.RawEvent{
		at(0, "key_down", map[string]any{"app": "A"}),
		at(3, "key_down", map[string]any{"app": "A"}),
		at(15, "key_down", map[string]any{"app": "A"}),
	}))
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].EventCount != 2 || chunks[1].EventCount != 1 {
		t.Errorf("chunk sizes = %d, %d; want 2, 1", chunks[0].EventCount, chunks[1].EventCount)
	}
}

func TestChunk_AppChangeRule(t *testing.T) {
	// An app change splits even under the gap threshold.
	chunks := DefaultChunker().Chunk(withSeq([]event.RawEvent{
		at(0, "key_down", map[string]any{"app": "A"}),
		at(2, "key_down", map[string]any{"app": "B"}),
	}))
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].PrimaryApp != "A" || chunks[1].PrimaryApp != "B" {
		t.Errorf("apps = %q, %q", chunks[0].PrimaryApp, chunks[1].PrimaryApp)
	}
}

func TestChunk_URLChangeRule(t *testing.T) {
	chunks := DefaultChunker().Chunk(withSeq([]event.RawEvent{
		at(0, "click", map[string]any{"app": "Firefox", "url": "https://a.test"}),
		at(1, "click", map[string]any{"app": "Firefox", "url": "https://b.test"}),
	}))
	if len(chunks) != 2 {
		t.Fatalf("url change should split, got %d chunks", len(chunks))
	}
}

func TestChunk_TitleChangeRule(t *testing.T) {
	chunks := DefaultChunker().Chunk(withSeq([]event.RawEvent{
		at(0, "key_down", map[string]any{"app": "Word", "title": "draft.docx"}),
		at(1, "key_down", map[string]any{"app": "Word", "title": "notes.docx"}),
	}))
	if len(chunks) != 2 {
		t.Fatalf("title change should split, got %d chunks", len(chunks))
	}
}

func TestChunk_NavigationToUnseenURL(t *testing.T) {
	// The previous event has no URL, so rules c/d cannot fire; the
	// navigation rule catches the move to a URL unseen in the chunk.
	chunks := DefaultChunker().Chunk(withSeq([]event.RawEvent{
		at(0, "click", map[string]any{"app": "Firefox", "url": "https://a.test"}),
		at(1, "key_down", map[string]any{"app": "Firefox"}),
		at(2, "navigate", map[string]any{"app": "Firefox", "url": "https://b.test"}),
	}))
	if len(chunks) != 2 {
		t.Fatalf("navigation to unseen url should split, got %d chunks", len(chunks))
	}
}

func TestChunk_NavigationToSeenURLStays(t *testing.T) {
	chunks := DefaultChunker().Chunk(withSeq([]event.RawEvent{
		at(0, "click", map[string]any{"app": "Firefox", "url": "https://a.test"}),
		at(1, "key_down", map[string]any{"app": "Firefox"}),
		at(2, "navigate", map[string]any{"app": "Firefox", "url": "https://a.test"}),
	}))
	if len(chunks) != 1 {
		t.Fatalf("navigation to a url already in the chunk should not split, got %d chunks", len(chunks))
	}
}

func TestChunk_PartitionProperty(t *testing.T) {
	events := withSeq([]event.RawEvent{
		at(0, "key_down", map[string]any{"app": "A"}),
		at(1, "key_down", map[string]any{"app": "A"}),
		at(2, "app_focus", map[string]any{"app": "B"}),
		at(20, "click", map[string]any{"app": "B", "url": "https://x.test"}),
		at(21, "navigate", map[string]any{"app": "B", "url": "https://y.test"}),
	})

	chunks := DefaultChunker().Chunk(events)

	var flat []event.RawEvent
	for i, ch := range chunks {
		if ch.EventCount != len(ch.Events) {
			t.Errorf("chunk %d: EventCount %d != len(Events) %d", i, ch.EventCount, len(ch.Events))
		}
		if ch.Start.After(ch.End) {
			t.Errorf("chunk %d: start after end", i)
		}
		if i > 0 && chunks[i-1].End.After(ch.Start) {
			t.Errorf("chunk %d overlaps previous", i)
		}
		flat = append(flat, ch.Events...)
	}

	if len(flat) != len(events) {
		t.Fatalf("partition lost or duplicated events: %d != %d", len(flat), len(events))
	}
	for i := range flat {
		if flat[i].Sequence != events[i].Sequence {
			t.Errorf("event %d out of order: seq %d != %d", i, flat[i].Sequence, events[i].Sequence)
		}
	}
}

func TestChunk_Idempotent(t *testing.T) {
	events := withSeq([]event.RawEvent{
		at(0, "key_down", map[string]any{"app": "A"}),
		at(15, "clipboard_change", map[string]any{"app": "A", "text": "hello"}),
		at(16, "text_input", map[string]any{"app": "A", "text": "ok"}),
	})
	a := DefaultChunker().Chunk(events)
	b := DefaultChunker().Chunk(events)
	if !reflect.DeepEqual(a, b) {
		t.Error("chunking the same input twice produced different output")
	}
}

func TestChunk_InputNotMutated(t *testing.T) {
	events := withSeq([]event.RawEvent{
		at(5, "key_down", map[string]any{"app": "A"}),
		at(0, "key_down", map[string]any{"app": "A"}),
	})
	DefaultChunker().Chunk(events)
	if events[0].Timestamp.After(events[1].Timestamp) == false {
		t.Error("input slice was re-sorted in place")
	}
}

func TestChunk_TimestampTiesBrokenBySequence(t *testing.T) {
	events := []event.RawEvent{
		{Timestamp: base, Type: "key_down", Sequence: 2, Payload: map[string]any{"app": "A"}},
		{Timestamp: base, Type: "key_down", Sequence: 1, Payload: map[string]any{"app": "A"}},
	}
	chunks := DefaultChunker().Chunk(events)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Events[0].Sequence != 1 {
		t.Errorf("tie not broken by sequence: first seq = %d", chunks[0].Events[0].Sequence)
	}
}

func TestChunk_UnknownAppDefault(t *testing.T) {
	chunks := DefaultChunker().Chunk(withSeq([]event.RawEvent{
		at(0, "key_down", nil),
		at(1, "key_down", nil),
	}))
	if len(chunks) != 1 {
		t.Fatalf("events without app context should stay together, got %d chunks", len(chunks))
	}
	if chunks[0].PrimaryApp != UnknownApp {
		t.Errorf("PrimaryApp = %q, want %q", chunks[0].PrimaryApp, UnknownApp)
	}
}

func TestChunk_PrimaryAppMostFrequentFirstSeenTie(t *testing.T) {
	chunks := DefaultChunker().Chunk(withSeq([]event.RawEvent{
		at(0, "key_down", map[string]any{"app": "A"}),
		at(1, "key_down", map[string]any{"app": "A"}),
	}))
	if chunks[0].PrimaryApp != "A" {
		t.Errorf("PrimaryApp = %q", chunks[0].PrimaryApp)
	}
}

func TestChunk_LastContextWins(t *testing.T) {
	chunks := DefaultChunker().Chunk(withSeq([]event.RawEvent{
		at(0, "navigate", map[string]any{"app": "Firefox", "url": "https://a.test", "title": "A"}),
		at(1, "key_down", map[string]any{"app": "Firefox"}),
	}))
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].PrimaryURL != "https://a.test" || chunks[0].WindowTitle != "A" {
		t.Errorf("last non-empty context not kept: %+v", chunks[0])
	}
}

func TestHighlights_ClipboardDeduplicated(t *testing.T) {
	// Duplicate clipboard text appears once.
	chunks := DefaultChunker().Chunk(withSeq([]event.RawEvent{
		at(0, "clipboard_change", map[string]any{"app": "A", "text": "hello"}),
		at(1, "clipboard_change", map[string]any{"app": "A", "text": "hello"}),
	}))
	got := chunks[0].Highlights.ClipboardTexts
	if !reflect.DeepEqual(got, []string{"hello"}) {
		t.Errorf("ClipboardTexts = %v, want [hello]", got)
	}
}

func TestHighlights_ClipboardMaxLength(t *testing.T) {
	long := make([]byte, 501)
	for i := range long {
		long[i] = 'x'
	}
	chunks := DefaultChunker().Chunk(withSeq([]event.RawEvent{
		at(0, "clipboard_change", map[string]any{"app": "A", "text": string(long)}),
		at(1, "clipboard_change", map[string]any{"app": "A", "text": "short"}),
	}))
	got := chunks[0].Highlights.ClipboardTexts
	if !reflect.DeepEqual(got, []string{"short"}) {
		t.Errorf("over-length clipboard text should be excluded, got %v", got)
	}
}

func TestHighlights_InputTextsKeepDuplicates(t *testing.T) {
	// Repeated identical input text is meaningful and kept.
	chunks := DefaultChunker().Chunk(withSeq([]event.RawEvent{
		at(0, "text_input", map[string]any{"app": "A", "text": "ok"}),
		at(1, "text_input", map[string]any{"app": "A", "text": "ok"}),
	}))
	got := chunks[0].Highlights.InputTexts
	if !reflect.DeepEqual(got, []string{"ok", "ok"}) {
		t.Errorf("InputTexts = %v, want [ok ok]", got)
	}
}

func TestHighlights_ClickedURLsDeduplicatedInOrder(t *testing.T) {
	chunks := DefaultChunker().Chunk(withSeq([]event.RawEvent{
		at(0, "click", map[string]any{"app": "A", "url": "https://a.test"}),
		at(1, "click", map[string]any{"app": "A", "url": "https://a.test"}),
	}))
	got := chunks[0].Highlights.ClickedURLs
	if !reflect.DeepEqual(got, []string{"https://a.test"}) {
		t.Errorf("ClickedURLs = %v", got)
	}
}
