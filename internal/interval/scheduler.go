// Package interval drains accumulated activity into periodic summary
// requests: one per elapsed interval while a session is active, plus a
// trailing partial request at session end.
package interval

import (
	"log"
	"sync"
	"time"

	"github.com/johns/actlog/internal/event"
)

// SummaryRequest is a snapshot of accumulated activity for external
// summarization. ChunkNumber increases monotonically within a session.
type SummaryRequest struct {
	SessionID   string                   `json:"session_id"`
	ChunkNumber int                      `json:"chunk_number"`
	WindowStart time.Time                `json:"window_start"`
	WindowEnd   time.Time                `json:"window_end"`
	Events      []event.NormalizedEvent  `json:"events"`
	AppUsage    map[string]time.Duration `json:"app_usage"`
	Partial     bool                     `json:"partial"`
}

// Scheduler accumulates normalized events and per-app usage durations while
// a session is active and emits a SummaryRequest once per period. App usage
// totals persist across ticks for the whole session; the event accumulator
// resets after each tick.
type Scheduler struct {
	now func() time.Time

	mu          sync.Mutex
	active      bool
	sessionID   string
	period      time.Duration
	windowStart time.Time
	accumulated []event.NormalizedEvent
	appUsage    map[string]time.Duration
	currentApp  string
	lastFocus   time.Time
	chunkNumber int

	subs   []func(SummaryRequest)
	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates an inactive scheduler with the given period.
func NewScheduler(period time.Duration) *Scheduler {
	return &Scheduler{
		now:    time.Now,
		period: period,
	}
}

// OnSummary registers a subscriber for emitted summary requests.
func (s *Scheduler) OnSummary(fn func(SummaryRequest)) {
	s.subs = append(s.subs, fn)
}

// StartSession transitions to active: resets the accumulator, app-usage
// map, and chunk number, and arms the repeating timer.
func (s *Scheduler) StartSession(sessionID string) {
	s.mu.Lock()
	s.active = true
	s.sessionID = sessionID
	s.windowStart = s.now()
	s.accumulated = nil
	s.appUsage = make(map[string]time.Duration)
	s.currentApp = ""
	s.lastFocus = time.Time{}
	s.chunkNumber = 0
	s.mu.Unlock()

	s.arm()
}

func (s *Scheduler) arm() {
	s.done = make(chan struct{})
	s.ticker = time.NewTicker(s.period)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.ticker.C:
				s.Tick()
			case <-s.done:
				return
			}
		}
	}()
}

func (s *Scheduler) disarm() {
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.done)
	s.wg.Wait()
	s.ticker = nil
}

// Observe accumulates one normalized event. Application-change events
// credit the elapsed focus time to the previous application before the
// current-application pointer moves.
func (s *Scheduler) Observe(ev event.NormalizedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}

	s.accumulated = append(s.accumulated, ev)

	if ev.CanonicalType != event.CanonicalAppChange {
		return
	}
	if s.currentApp != "" && !s.lastFocus.IsZero() {
		s.appUsage[s.currentApp] += ev.Timestamp.Sub(s.lastFocus)
	}
	s.currentApp = ev.App()
	s.lastFocus = ev.Timestamp
}

// Tick snapshots the accumulated window and emits a summary request, then
// resets the window start to now. Running app-usage totals are preserved.
func (s *Scheduler) Tick() {
	s.emit(false)
}

// FlushPartial emits the trailing partial-interval summary. Callers invoke
// it before EndSession when tearing a session down.
func (s *Scheduler) FlushPartial() {
	s.emit(true)
}

func (s *Scheduler) emit(partial bool) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}

	s.chunkNumber++
	req := SummaryRequest{
		SessionID:   s.sessionID,
		ChunkNumber: s.chunkNumber,
		WindowStart: s.windowStart,
		WindowEnd:   s.now(),
		Events:      s.accumulated,
		AppUsage:    copyUsage(s.appUsage),
		Partial:     partial,
	}
	s.accumulated = nil
	s.windowStart = req.WindowEnd
	subs := s.subs
	s.mu.Unlock()

	for _, fn := range subs {
		deliver(fn, req)
	}
}

// deliver isolates subscriber failures so one bad summary consumer cannot
// stop the timer from firing at the next interval.
func deliver(fn func(SummaryRequest), req SummaryRequest) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("warning: interval summary subscriber failed: %v", r)
		}
	}()
	fn(req)
}

// SetPeriod re-arms the timer with a new period mid-session. Accumulated,
// not-yet-summarized data is preserved.
func (s *Scheduler) SetPeriod(period time.Duration) {
	s.mu.Lock()
	s.period = period
	active := s.active
	s.mu.Unlock()

	if active {
		s.disarm()
		s.arm()
	}
}

// EndSession disarms the timer and marks the session inactive. The trailing
// partial summary is the caller's responsibility (FlushPartial), requested
// before this call.
func (s *Scheduler) EndSession() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.mu.Unlock()

	s.disarm()
}

// Usage returns a copy of the running per-app usage totals.
func (s *Scheduler) Usage() map[string]time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyUsage(s.appUsage)
}

func copyUsage(m map[string]time.Duration) map[string]time.Duration {
	out := make(map[string]time.Duration, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
