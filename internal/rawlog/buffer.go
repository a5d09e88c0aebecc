package rawlog

import (
	"sync"
	"time"

	"github.com/johns/actlog/internal/event"
)

// Appender is the durable sink the buffer flushes into. *Writer is the
// production implementation.
type Appender interface {
	Append([]event.RawEvent) error
	RotateIfStale() error
	Close() error
}

// Buffer accepts raw events at unlimited rate, assigns ingestion timestamps
// and per-session sequence numbers, and periodically drains to an Appender.
// Record never filters an event and never blocks on I/O unless the buffer
// has reached its maximum length, in which case a forced flush happens
// before more events are accepted.
type Buffer struct {
	sessionID  string
	maxEvents  int
	flushEvery time.Duration
	now        func() time.Time

	mu      sync.Mutex
	pending []event.RawEvent
	seq     uint64

	// flushMu serializes flushes so generations reach the appender in
	// swap order.
	flushMu sync.Mutex
	sink    Appender

	onError []func(error)
	done    chan struct{}
	wg      sync.WaitGroup
	stopped bool
}

// NewBuffer creates a buffer draining into sink every flushEvery.
func NewBuffer(sessionID string, sink Appender, maxEvents int, flushEvery time.Duration) *Buffer {
	return &Buffer{
		sessionID:  sessionID,
		maxEvents:  maxEvents,
		flushEvery: flushEvery,
		now:        time.Now,
		sink:       sink,
		done:       make(chan struct{}),
	}
}

// OnError registers a callback invoked when a flush fails. The failed
// events are retried on the next flush cycle, not dropped.
func (b *Buffer) OnError(fn func(error)) {
	b.onError = append(b.onError, fn)
}

// Start arms the periodic flush and rotation timers.
func (b *Buffer) Start() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		flush := time.NewTicker(b.flushEvery)
		defer flush.Stop()
		for {
			select {
			case <-flush.C:
				b.Flush()
				if err := b.rotateStale(); err != nil {
					b.emitError(err)
				}
			case <-b.done:
				return
			}
		}
	}()
}

// Record accepts one raw event. It assigns the timestamp and the next
// sequence number, appends to the in-memory buffer, and returns the stored
// event. Content is never validated or filtered.
func (b *Buffer) Record(layer, eventType string, payload map[string]any) event.RawEvent {
	b.mu.Lock()
	b.seq++
	ev := event.RawEvent{
		Timestamp: b.now(),
		Layer:     layer,
		Type:      eventType,
		Payload:   payload,
		SessionID: b.sessionID,
		Sequence:  b.seq,
	}
	b.pending = append(b.pending, ev)
	full := len(b.pending) >= b.maxEvents
	b.mu.Unlock()

	if full {
		b.Flush()
	}
	return ev
}

// Seq returns the last assigned sequence number, which is also the total
// number of events recorded this session.
func (b *Buffer) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Len returns the number of buffered, not yet flushed events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush drains the buffer into the appender, preserving arrival order.
// Events arriving while a flush is writing go to the next generation. On
// write failure the drained events are put back at the front of the buffer
// and retried on the next cycle.
func (b *Buffer) Flush() error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	gen := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(gen) == 0 {
		return nil
	}

	if err := b.sink.Append(gen); err != nil {
		b.mu.Lock()
		b.pending = append(gen, b.pending...)
		b.mu.Unlock()
		b.emitError(err)
		return err
	}
	return nil
}

func (b *Buffer) rotateStale() error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	return b.sink.RotateIfStale()
}

// Stop cancels the timers, records the terminal session-end marker, drains
// everything synchronously, and closes the appender. No timer fires after
// Stop returns.
func (b *Buffer) Stop() error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	b.mu.Unlock()

	close(b.done)
	b.wg.Wait()

	b.Record(event.LayerInternal, event.EndMarkerType, nil)
	if err := b.Flush(); err != nil {
		return err
	}
	return b.sink.Close()
}

func (b *Buffer) emitError(err error) {
	for _, fn := range b.onError {
		fn(err)
	}
}
