// Package spool is a built-in capture source adapter: out-of-process
// capture agents drop one-JSON-object event files into a spool directory,
// and the watcher feeds them to the pipeline and removes them. It is a
// convenience for agents that cannot link the core directly; the only
// contract between a source and the core remains RecordRawEvent.
package spool

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/johns/actlog/internal/event"
)

// Recorder is the ingestion boundary the spool feeds. *pipeline.Session is
// the production implementation.
type Recorder interface {
	RecordRawEvent(layer, eventType string, payload map[string]any)
}

// fileEvent is the JSON shape agents write, one object per file.
type fileEvent struct {
	Layer   string         `json:"layer"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Watcher tails a spool directory and ingests dropped event files.
type Watcher struct {
	dir     string
	rec     Recorder
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher over dir, creating the directory if needed.
func NewWatcher(dir string, rec Recorder) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &Watcher{
		dir:  dir,
		rec:  rec,
		done: make(chan struct{}),
	}, nil
}

// Start drains files already present, then watches for new ones.
func (w *Watcher) Start() error {
	if err := w.Drain(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch spool dir: %w", err)
	}
	w.watcher = watcher

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					w.ingestFile(ev.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("warning: spool watcher: %v", err)
			case <-w.done:
				return
			}
		}
	}()

	return nil
}

// Drain ingests every event file currently in the spool directory, in name
// order. Safe to call before Start or on its own for one-shot processing.
func (w *Watcher) Drain() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read spool dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.ingestFile(filepath.Join(w.dir, entry.Name()))
	}
	return nil
}

// ingestFile records one dropped file and removes it. Malformed files are
// still recorded verbatim: raw capture never validates data away.
func (w *Watcher) ingestFile(path string) {
	if !strings.HasSuffix(path, ".json") {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		// Create events often fire before the agent finishes writing;
		// the follow-up Write event retries.
		return
	}
	if len(data) == 0 {
		return
	}

	var fe fileEvent
	if err := json.Unmarshal(data, &fe); err != nil || fe.Type == "" {
		w.rec.RecordRawEvent(event.LayerSpool, "opaque", map[string]any{
			"file": filepath.Base(path),
			"raw":  string(data),
		})
	} else {
		layer := fe.Layer
		if layer == "" {
			layer = event.LayerSpool
		}
		w.rec.RecordRawEvent(layer, fe.Type, fe.Payload)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: remove spool file %s: %v", path, err)
	}
}

// Stop stops watching. Files dropped after Stop stay in the directory for
// the next session's Drain.
func (w *Watcher) Stop() {
	close(w.done)
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.wg.Wait()
}
