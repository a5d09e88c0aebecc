package rawlog

import (
	"errors"
	"testing"
	"time"

	"github.com/johns/actlog/internal/event"
)

// fakeSink collects appended generations and can fail on demand.
type fakeSink struct {
	batches  [][]event.RawEvent
	failNext int
	closed   bool
}

func (f *fakeSink) Append(events []event.RawEvent) error {
	if f.failNext > 0 {
		f.failNext--
		return errors.New("disk full")
	}
	cp := make([]event.RawEvent, len(events))
	copy(cp, events)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeSink) RotateIfStale() error { return nil }
func (f *fakeSink) Close() error         { f.closed = true; return nil }

func (f *fakeSink) all() []event.RawEvent {
	var out []event.RawEvent
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func TestBuffer_AssignsSequenceAndTimestamp(t *testing.T) {
	sink := &fakeSink{}
	b := NewBuffer("s", sink, 100, time.Second)

	e1 := b.Record(event.LayerOS, "key_down", nil)
	e2 := b.Record(event.LayerOS, "key_up", nil)

	if e1.Sequence != 1 || e2.Sequence != 2 {
		t.Errorf("sequences = %d, %d; want 1, 2", e1.Sequence, e2.Sequence)
	}
	if e1.Timestamp.IsZero() {
		t.Error("timestamp not assigned")
	}
	if e1.SessionID != "s" {
		t.Errorf("session id = %q", e1.SessionID)
	}
}

func TestBuffer_NeverFiltersContent(t *testing.T) {
	sink := &fakeSink{}
	b := NewBuffer("s", sink, 100, time.Second)

	// Malformed or odd payloads are recorded as-is.
	b.Record(event.LayerSpool, "opaque", map[string]any{"raw": "{not json"})
	if b.Len() != 1 {
		t.Errorf("event was filtered, Len = %d", b.Len())
	}
}

func TestBuffer_ForcedFlushBoundsMemory(t *testing.T) {
	sink := &fakeSink{}
	b := NewBuffer("s", sink, 5, time.Second)

	for i := 0; i < 23; i++ {
		b.Record(event.LayerOS, "key_down", nil)
		if b.Len() > 5 {
			t.Fatalf("buffer exceeded max length: %d", b.Len())
		}
	}

	// 4 forced flushes of 5 each; 3 events still buffered.
	if got := len(sink.all()); got != 20 {
		t.Errorf("flushed %d events, want 20", got)
	}
	if b.Len() != 3 {
		t.Errorf("Len = %d, want 3", b.Len())
	}
}

func TestBuffer_FlushPreservesOrder(t *testing.T) {
	sink := &fakeSink{}
	b := NewBuffer("s", sink, 100, time.Second)

	for i := 0; i < 10; i++ {
		b.Record(event.LayerOS, "key_down", nil)
	}
	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 7; i++ {
		b.Record(event.LayerOS, "key_down", nil)
	}
	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}

	all := sink.all()
	if len(all) != 17 {
		t.Fatalf("flushed %d events, want 17", len(all))
	}
	for i, ev := range all {
		if ev.Sequence != uint64(i+1) {
			t.Fatalf("event %d has seq %d, order broken", i, ev.Sequence)
		}
	}
}

func TestBuffer_FlushEmptyIsNoop(t *testing.T) {
	sink := &fakeSink{}
	b := NewBuffer("s", sink, 100, time.Second)
	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}
	if len(sink.batches) != 0 {
		t.Error("empty flush should not hit the appender")
	}
}

func TestBuffer_WriteFailureRetriesNextCycle(t *testing.T) {
	sink := &fakeSink{failNext: 1}
	b := NewBuffer("s", sink, 100, time.Second)

	var failures []error
	b.OnError(func(err error) { failures = append(failures, err) })

	b.Record(event.LayerOS, "key_down", nil)
	b.Record(event.LayerOS, "key_up", nil)

	if err := b.Flush(); err == nil {
		t.Fatal("expected flush error")
	}
	if len(failures) != 1 {
		t.Fatalf("expected 1 observed error, got %d", len(failures))
	}
	if b.Len() != 2 {
		t.Fatalf("failed events must stay buffered, Len = %d", b.Len())
	}

	// Next cycle succeeds with no loss or duplication, in order.
	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}
	all := sink.all()
	if len(all) != 2 || all[0].Sequence != 1 || all[1].Sequence != 2 {
		t.Errorf("retry lost order or events: %+v", all)
	}
}

func TestBuffer_StopDrainsAndAppendsEndMarker(t *testing.T) {
	sink := &fakeSink{}
	b := NewBuffer("s", sink, 100, 10*time.Millisecond)
	b.Start()

	for i := 0; i < 7; i++ {
		b.Record(event.LayerOS, "key_down", nil)
	}
	if err := b.Stop(); err != nil {
		t.Fatal(err)
	}

	all := sink.all()
	if len(all) != 8 {
		t.Fatalf("expected 7 events + end marker, got %d", len(all))
	}
	last := all[len(all)-1]
	if !last.IsEndMarker() {
		t.Errorf("last event is %s/%s, want end marker", last.Layer, last.Type)
	}
	if !sink.closed {
		t.Error("appender not closed")
	}

	// Every event exactly once.
	seen := make(map[uint64]bool)
	for _, ev := range all {
		if seen[ev.Sequence] {
			t.Errorf("sequence %d duplicated", ev.Sequence)
		}
		seen[ev.Sequence] = true
	}
}

func TestBuffer_StopIdempotent(t *testing.T) {
	sink := &fakeSink{}
	b := NewBuffer("s", sink, 100, 10*time.Millisecond)
	b.Start()

	if err := b.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := b.Stop(); err != nil {
		t.Fatal(err)
	}

	markers := 0
	for _, ev := range sink.all() {
		if ev.IsEndMarker() {
			markers++
		}
	}
	if markers != 1 {
		t.Errorf("end marker written %d times", markers)
	}
}

func TestBuffer_PeriodicFlushTimer(t *testing.T) {
	sink := &fakeSink{}
	b := NewBuffer("s", sink, 100, 10*time.Millisecond)
	b.Start()
	defer b.Stop()

	b.Record(event.LayerOS, "key_down", nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.Len() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("flush timer never drained the buffer")
}
