// Package batch groups normalized events into bounded, size/time-flushed
// batches for downstream consumers. The batching path is independent of the
// raw log: delay or loss here never affects durable capture.
package batch

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/johns/actlog/internal/event"
)

// Flush trigger reasons.
const (
	TriggerSize   = "size"
	TriggerAge    = "age"
	TriggerIdle   = "idle"
	TriggerForced = "forced"
)

// Batch is an immutable, ordered group of normalized events.
type Batch struct {
	ID          string                  `json:"id"`
	Events      []event.NormalizedEvent `json:"events"`
	WindowStart time.Time               `json:"window_start"`
	WindowEnd   time.Time               `json:"window_end"`
	Trigger     string                  `json:"trigger"`
}

// Former accumulates normalized events into the single open batch and
// flushes on whichever threshold fires first: size, age, or the shorter
// idle timeout. Under sustained trickle traffic the idle timeout is the
// authoritative (smaller) threshold and fires before the age limit.
// Empty batches are never emitted.
type Former struct {
	maxEvents int
	maxAge    time.Duration
	idle      time.Duration
	now       func() time.Time

	mu       sync.Mutex
	open     []event.NormalizedEvent
	openedAt time.Time
	lastAdd  time.Time

	subs []func(Batch)
	done chan struct{}
	wg   sync.WaitGroup
}

// NewFormer creates a batch former with the given thresholds.
func NewFormer(maxEvents int, maxAge, idle time.Duration) *Former {
	return &Former{
		maxEvents: maxEvents,
		maxAge:    maxAge,
		idle:      idle,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// OnBatch registers a subscriber for completed batches.
func (f *Former) OnBatch(fn func(Batch)) {
	f.subs = append(f.subs, fn)
}

// Start arms the age/idle sweep timer.
func (f *Former) Start() {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				f.sweep()
			case <-f.done:
				return
			}
		}
	}()
}

// Add appends an event to the open batch, flushing first by size when the
// batch is full.
func (f *Former) Add(ev event.NormalizedEvent) {
	f.mu.Lock()
	if len(f.open) == 0 {
		f.openedAt = f.now()
	}
	f.open = append(f.open, ev)
	f.lastAdd = f.now()

	var flushed *Batch
	if len(f.open) >= f.maxEvents {
		flushed = f.flushLocked(TriggerSize)
	}
	f.mu.Unlock()

	f.emit(flushed)
}

// Len returns the number of events in the open batch.
func (f *Former) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.open)
}

// sweep flushes the open batch when it has aged out or traffic has gone
// idle. Called from the timer loop; exported behavior is tested by calling
// it directly with an injected clock.
func (f *Former) sweep() {
	f.mu.Lock()
	var flushed *Batch
	if len(f.open) > 0 {
		now := f.now()
		switch {
		case now.Sub(f.openedAt) >= f.maxAge:
			flushed = f.flushLocked(TriggerAge)
		case now.Sub(f.lastAdd) >= f.idle:
			flushed = f.flushLocked(TriggerIdle)
		}
	}
	f.mu.Unlock()

	f.emit(flushed)
}

// ForceFlush flushes the open batch on demand, used at session stop.
func (f *Former) ForceFlush() {
	f.mu.Lock()
	var flushed *Batch
	if len(f.open) > 0 {
		flushed = f.flushLocked(TriggerForced)
	}
	f.mu.Unlock()

	f.emit(flushed)
}

// Stop cancels the sweep timer. It does not flush; callers that need the
// trailing batch call ForceFlush first.
func (f *Former) Stop() {
	select {
	case <-f.done:
	default:
		close(f.done)
	}
	f.wg.Wait()
}

func (f *Former) flushLocked(trigger string) *Batch {
	b := Batch{
		ID:          uuid.New().String(),
		Events:      f.open,
		WindowStart: f.openedAt,
		WindowEnd:   f.now(),
		Trigger:     trigger,
	}
	f.open = nil
	return &b
}

// emit delivers a flushed batch to subscribers outside the lock so a
// subscriber can call back into the former without deadlocking.
func (f *Former) emit(b *Batch) {
	if b == nil {
		return
	}
	for _, fn := range f.subs {
		fn(*b)
	}
}
