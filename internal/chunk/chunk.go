// Package chunk partitions a finite, time-ordered sequence of raw events
// into activity chunks: contiguous runs that plausibly represent one
// discrete user activity. Chunking is pure and restartable; it never
// mutates its input and the same input always yields the same output.
package chunk

import (
	"sort"
	"time"

	"github.com/johns/actlog/internal/event"
)

// UnknownApp is the sentinel used when an event carries no resolvable
// application, window, or URL context.
const UnknownApp = "Unknown"

// Chunk is a heuristically bounded run of raw events inferred to represent
// one user activity.
type Chunk struct {
	Start       time.Time         `json:"start"`
	End         time.Time         `json:"end"`
	PrimaryApp  string            `json:"primary_app"`
	WindowTitle string            `json:"window_title,omitempty"`
	PrimaryURL  string            `json:"primary_url,omitempty"`
	EventCount  int               `json:"event_count"`
	Events      []event.RawEvent  `json:"events"`
	Highlights  Highlights        `json:"highlights"`
	SummaryHint string            `json:"summary_hint"`
}

// Highlights holds the per-chunk extracted user content. Clipboard texts
// and clicked URLs are deduplicated; input texts keep every occurrence in
// order because repeated identical text is meaningful.
type Highlights struct {
	ClipboardTexts []string `json:"clipboard_texts,omitempty"`
	InputTexts     []string `json:"input_texts,omitempty"`
	ClickedURLs    []string `json:"clicked_urls,omitempty"`
}

// Chunker holds the boundary and extraction thresholds.
type Chunker struct {
	GapThreshold    time.Duration
	ClipboardMaxLen int
}

// DefaultChunker returns a chunker with the standard thresholds.
func DefaultChunker() Chunker {
	return Chunker{
		GapThreshold:    10 * time.Second,
		ClipboardMaxLen: 500,
	}
}

// Chunk partitions events into activity chunks. Every input event lands in
// exactly one chunk, in timestamp order (ties broken by sequence), and
// chunk time ranges are non-decreasing and non-overlapping. Empty input
// yields an empty result, not an error.
func (c Chunker) Chunk(events []event.RawEvent) []Chunk {
	if len(events) == 0 {
		return nil
	}

	sorted := make([]event.RawEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].Sequence < sorted[j].Sequence
	})

	var chunks []Chunk
	var current []event.RawEvent
	seenURLs := make(map[string]bool)

	for i, ev := range sorted {
		if i > 0 && c.startsNewChunk(sorted[i-1], ev, seenURLs) {
			chunks = append(chunks, c.finalize(current))
			current = nil
			seenURLs = make(map[string]bool)
		}
		current = append(current, ev)
		if u := ev.URL(); u != "" {
			seenURLs[u] = true
		}
	}
	chunks = append(chunks, c.finalize(current))

	return chunks
}

// startsNewChunk applies the boundary rules in priority order; the first
// matching rule decides.
func (c Chunker) startsNewChunk(prev, ev event.RawEvent, seenURLs map[string]bool) bool {
	// Rule a: silence gap.
	if ev.Timestamp.Sub(prev.Timestamp) > c.GapThreshold {
		return true
	}

	// Rule b: application changed.
	if resolveApp(ev) != resolveApp(prev) {
		return true
	}

	// Rule c: URL changed, when both events carry one.
	prevURL, evURL := prev.URL(), ev.URL()
	if prevURL != "" && evURL != "" && prevURL != evURL {
		return true
	}

	// Rule d: window title changed, when both events carry one.
	prevTitle, evTitle := prev.Title(), ev.Title()
	if prevTitle != "" && evTitle != "" && prevTitle != evTitle {
		return true
	}

	// Rule e: navigation to a URL not yet seen in the current chunk.
	if isNavigation(ev) && evURL != "" && !seenURLs[evURL] {
		return true
	}

	return false
}

// finalize derives the chunk attributes from its (non-empty) event run.
func (c Chunker) finalize(events []event.RawEvent) Chunk {
	ch := Chunk{
		Start:      events[0].Timestamp,
		End:        events[len(events)-1].Timestamp,
		EventCount: len(events),
		Events:     events,
	}

	// Primary app: most frequent, ties broken by first-seen order.
	counts := make(map[string]int)
	var firstSeen []string
	for _, ev := range events {
		app := resolveApp(ev)
		if counts[app] == 0 {
			firstSeen = append(firstSeen, app)
		}
		counts[app]++

		// Most recent context wins for title and URL.
		if t := ev.Title(); t != "" {
			ch.WindowTitle = t
		}
		if u := ev.URL(); u != "" {
			ch.PrimaryURL = u
		}
	}
	best := firstSeen[0]
	for _, app := range firstSeen {
		if counts[app] > counts[best] {
			best = app
		}
	}
	ch.PrimaryApp = best

	ch.Highlights = c.extractHighlights(events)
	ch.SummaryHint = summaryHint(ch)
	return ch
}

// extractHighlights pulls user content out of the chunk, independent of
// boundary logic.
func (c Chunker) extractHighlights(events []event.RawEvent) Highlights {
	var h Highlights
	clipSeen := make(map[string]bool)
	urlSeen := make(map[string]bool)

	for _, ev := range events {
		switch canonical(ev) {
		case event.CanonicalClipboard:
			text := ev.Text()
			if text == "" || len(text) > c.ClipboardMaxLen || clipSeen[text] {
				continue
			}
			clipSeen[text] = true
			h.ClipboardTexts = append(h.ClipboardTexts, text)

		case event.CanonicalTextInput:
			if text := ev.Text(); text != "" {
				h.InputTexts = append(h.InputTexts, text)
			}

		case event.CanonicalMouseClick, event.CanonicalNavigation:
			u := ev.URL()
			if u == "" || urlSeen[u] {
				continue
			}
			urlSeen[u] = true
			h.ClickedURLs = append(h.ClickedURLs, u)
		}
	}

	return h
}

func resolveApp(ev event.RawEvent) string {
	if app := ev.App(); app != "" {
		return app
	}
	return UnknownApp
}

func isNavigation(ev event.RawEvent) bool {
	return canonical(ev) == event.CanonicalNavigation
}

// canonical reuses the normalizer's static type table so chunking and
// batching agree on event categories.
func canonical(ev event.RawEvent) string {
	return event.CanonicalType(ev.Type)
}
