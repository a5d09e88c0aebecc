// Package pipeline wires the capture core for one session: the raw event
// buffer and durable log, the normalize-and-batch path, the interval
// summary scheduler, and the segment catalog. All state is session-scoped;
// a new session starts from empty accumulators.
package pipeline

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/johns/actlog/internal/batch"
	"github.com/johns/actlog/internal/catalog"
	"github.com/johns/actlog/internal/chunk"
	"github.com/johns/actlog/internal/config"
	"github.com/johns/actlog/internal/event"
	"github.com/johns/actlog/internal/interval"
	"github.com/johns/actlog/internal/rawlog"
)

// Session owns one capture session end to end. The raw path (buffer →
// segments) is unconditional; the derived path (normalize → batch →
// interval accumulator) is independent, so loss or delay in one never
// affects the other.
type Session struct {
	ID string

	cfg     config.Config
	buf     *rawlog.Buffer
	writer  *rawlog.Writer
	former  *batch.Former
	sched   *interval.Scheduler
	cat     *catalog.Catalog
	chunker chunk.Chunker

	onChunks []func([]chunk.Chunk)
	stopped  bool
}

// New creates and starts a session: opens the first segment, arms the
// flush, batch, and interval timers, and registers the session in the
// catalog.
func New(cfg config.Config) (*Session, error) {
	id := uuid.New().String()

	writer, err := rawlog.NewWriter(
		cfg.SegmentsDir(), id,
		cfg.RawLog.SegmentMaxBytes, cfg.RawLog.SegmentMaxAge(), cfg.RawLog.Compress,
	)
	if err != nil {
		return nil, fmt.Errorf("open raw log: %w", err)
	}

	cat, err := catalog.Open(cfg.CatalogPath())
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	s := &Session{
		ID:      id,
		cfg:     cfg,
		writer:  writer,
		cat:     cat,
		chunker: chunk.Chunker{
			GapThreshold:    cfg.Chunker.GapThreshold(),
			ClipboardMaxLen: cfg.Chunker.ClipboardMaxLen,
		},
	}

	writer.OnSegmentClosed(func(info rawlog.SegmentInfo) {
		if err := cat.AddSegment(info); err != nil {
			log.Printf("warning: catalog segment record: %v", err)
		}
	})

	s.buf = rawlog.NewBuffer(id, writer, cfg.RawLog.MaxBufferEvents, cfg.RawLog.FlushInterval())
	s.former = batch.NewFormer(cfg.Batch.MaxEvents, cfg.Batch.MaxAge(), cfg.Batch.IdleTimeout())
	s.sched = interval.NewScheduler(cfg.Interval.Period())

	if err := cat.BeginSession(id, time.Now()); err != nil {
		log.Printf("warning: catalog session record: %v", err)
	}

	s.buf.Start()
	s.former.Start()
	s.sched.StartSession(id)

	return s, nil
}

// OnBatch registers a subscriber for completed batches.
func (s *Session) OnBatch(fn func(batch.Batch)) {
	s.former.OnBatch(fn)
}

// OnIntervalSummary registers a subscriber for interval summary requests.
func (s *Session) OnIntervalSummary(fn func(interval.SummaryRequest)) {
	s.sched.OnSummary(fn)
}

// OnChunks registers a subscriber for on-demand chunk sets.
func (s *Session) OnChunks(fn func([]chunk.Chunk)) {
	s.onChunks = append(s.onChunks, fn)
}

// OnError registers a subscriber for persistence errors. Failed flushes
// are retried; the callback is informational.
func (s *Session) OnError(fn func(error)) {
	s.buf.OnError(fn)
}

// RecordRawEvent is the only ingestion call capture sources need. The
// event is buffered for the durable log unconditionally, then fed to the
// derived batching and accumulation path.
func (s *Session) RecordRawEvent(layer, eventType string, payload map[string]any) {
	raw := s.buf.Record(layer, eventType, payload)

	n := event.Normalize(raw)
	s.former.Add(n)
	s.sched.Observe(n)
}

// ChunkSegment reads a finished segment and partitions it into activity
// chunks, excluding the terminal session marker. Chunk sets are produced
// on demand, not continuously.
func (s *Session) ChunkSegment(path string) ([]chunk.Chunk, error) {
	chunks, err := ChunkSegmentFile(path, s.chunker)
	if err != nil {
		return nil, err
	}
	for _, fn := range s.onChunks {
		fn(chunks)
	}
	return chunks, nil
}

// SetSummaryPeriod changes the interval summary period mid-session,
// preserving accumulated data.
func (s *Session) SetSummaryPeriod(period time.Duration) {
	s.sched.SetPeriod(period)
}

// Stop tears the session down synchronously: trailing partial summary,
// forced batch flush, raw buffer drain with end marker, catalog close.
// No timer fires after Stop returns.
func (s *Session) Stop() error {
	if s.stopped {
		return nil
	}
	s.stopped = true

	s.sched.FlushPartial()
	s.sched.EndSession()

	s.former.ForceFlush()
	s.former.Stop()

	flushErr := s.buf.Stop()

	if err := s.cat.EndSession(s.ID, time.Now(), int(s.buf.Seq())); err != nil {
		log.Printf("warning: catalog session end: %v", err)
	}
	if err := s.cat.Close(); err != nil {
		log.Printf("warning: catalog close: %v", err)
	}

	return flushErr
}

// ChunkSegmentFile chunks one segment file with the given chunker. The
// terminal session marker is bookkeeping, not user activity, so it is
// excluded from the input.
func ChunkSegmentFile(path string, chunker chunk.Chunker) ([]chunk.Chunk, error) {
	_, events, err := rawlog.ReadSegment(path)
	if err != nil {
		return nil, err
	}

	activity := events[:0:0]
	for _, ev := range events {
		if ev.IsEndMarker() {
			continue
		}
		activity = append(activity, ev)
	}

	return chunker.Chunk(activity), nil
}
