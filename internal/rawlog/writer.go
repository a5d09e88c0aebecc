package rawlog

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/johns/actlog/internal/event"
)

// FormatVersion is the segment file format version written into headers.
const FormatVersion = 1

// Header is the first line of every segment file.
type Header struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	Version   int       `json:"version"`
}

// SegmentInfo describes a closed (rotated or final) segment.
type SegmentInfo struct {
	Path       string
	SessionID  string
	Events     int
	Bytes      int64
	Compressed bool
	First      time.Time
	Last       time.Time
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// Writer appends raw events to the current segment of a session, rotating
// to a new segment when the size or age limit is reached. Exactly one
// segment is writable at a time.
type Writer struct {
	dir       string
	sessionID string
	maxBytes  int64
	maxAge    time.Duration
	compress  bool
	now       func() time.Time

	file    *os.File
	path    string
	size    int64
	events  int
	first   time.Time
	last    time.Time
	opened  time.Time
	index   int
	onClose []func(SegmentInfo)
}

// NewWriter opens the first segment for a session under dir.
func NewWriter(dir, sessionID string, maxBytes int64, maxAge time.Duration, compress bool) (*Writer, error) {
	w := &Writer{
		dir:       dir,
		sessionID: sessionID,
		maxBytes:  maxBytes,
		maxAge:    maxAge,
		compress:  compress,
		now:       time.Now,
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create segments dir: %w", err)
	}
	if err := w.openSegment(); err != nil {
		return nil, err
	}
	return w, nil
}

// OnSegmentClosed registers a callback invoked for every closed segment.
func (w *Writer) OnSegmentClosed(fn func(SegmentInfo)) {
	w.onClose = append(w.onClose, fn)
}

// Path returns the path of the current segment.
func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) openSegment() error {
	w.index++
	path := filepath.Join(w.dir, fmt.Sprintf("%s-%04d.jsonl", w.sessionID, w.index))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open segment: %w", err)
	}

	header, err := json.Marshal(Header{
		SessionID: w.sessionID,
		StartedAt: w.now(),
		Version:   FormatVersion,
	})
	if err != nil {
		file.Close()
		return fmt.Errorf("marshal segment header: %w", err)
	}
	n, err := file.Write(append(header, '\n'))
	if err != nil {
		file.Close()
		return fmt.Errorf("write segment header: %w", err)
	}

	w.file = file
	w.path = path
	w.size = int64(n)
	w.events = 0
	w.first = time.Time{}
	w.last = time.Time{}
	w.opened = w.now()
	return nil
}

// Append writes events to the current segment in order, rotating first if
// the write would push the segment past its size limit. A batch larger than
// the limit still goes into a single (oversized) segment rather than being
// split mid-flush.
func (w *Writer) Append(events []event.RawEvent) error {
	if len(events) == 0 {
		return nil
	}

	lines := make([]byte, 0, 256*len(events))
	for _, ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event seq %d: %w", ev.Sequence, err)
		}
		lines = append(lines, line...)
		lines = append(lines, '\n')
	}

	if w.events > 0 && w.size+int64(len(lines)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	if _, err := w.file.Write(lines); err != nil {
		return fmt.Errorf("append to segment: %w", err)
	}

	w.size += int64(len(lines))
	if w.events == 0 {
		w.first = events[0].Timestamp
	}
	w.events += len(events)
	w.last = events[len(events)-1].Timestamp
	return nil
}

// RotateIfStale closes the current segment and opens a new one when the
// segment has been open longer than the configured maximum age. Empty
// segments are never rotated.
func (w *Writer) RotateIfStale() error {
	if w.events == 0 || w.now().Sub(w.opened) < w.maxAge {
		return nil
	}
	return w.rotate()
}

func (w *Writer) rotate() error {
	info, err := w.closeCurrent()
	if err != nil {
		return err
	}
	if err := w.openSegment(); err != nil {
		return err
	}
	w.emit(info)
	return nil
}

// Close finalizes the current segment and stops the writer. The segment is
// left closed-but-readable.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	info, err := w.closeCurrent()
	w.file = nil
	if err != nil {
		return err
	}
	w.emit(info)
	return nil
}

func (w *Writer) closeCurrent() (SegmentInfo, error) {
	info := SegmentInfo{
		Path:      w.path,
		SessionID: w.sessionID,
		Events:    w.events,
		Bytes:     w.size,
		First:     w.first,
		Last:      w.last,
		OpenedAt:  w.opened,
		ClosedAt:  w.now(),
	}

	if err := w.file.Close(); err != nil {
		return info, fmt.Errorf("close segment: %w", err)
	}

	if w.compress {
		path, size, err := compressSegment(w.path)
		if err != nil {
			// The uncompressed segment is still intact and readable.
			log.Printf("warning: compress segment %s: %v", w.path, err)
			return info, nil
		}
		info.Path = path
		info.Bytes = size
		info.Compressed = true
	}

	return info, nil
}

func (w *Writer) emit(info SegmentInfo) {
	for _, fn := range w.onClose {
		fn(info)
	}
}

// compressSegment compresses path to path+".zst" and removes the original.
func compressSegment(path string) (string, int64, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open segment: %w", err)
	}
	defer src.Close()

	destPath := path + ".zst"
	dest, err := os.Create(destPath)
	if err != nil {
		return "", 0, fmt.Errorf("create archive: %w", err)
	}
	defer dest.Close()

	encoder, err := zstd.NewWriter(dest)
	if err != nil {
		return "", 0, fmt.Errorf("create zstd encoder: %w", err)
	}

	if _, err := io.Copy(encoder, src); err != nil {
		encoder.Close()
		os.Remove(destPath)
		return "", 0, fmt.Errorf("compress: %w", err)
	}

	if err := encoder.Close(); err != nil {
		os.Remove(destPath)
		return "", 0, fmt.Errorf("finalize compression: %w", err)
	}

	stat, err := dest.Stat()
	if err != nil {
		return "", 0, fmt.Errorf("stat archive: %w", err)
	}

	os.Remove(path)
	return destPath, stat.Size(), nil
}
