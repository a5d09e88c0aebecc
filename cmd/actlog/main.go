package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/johns/actlog/internal/batch"
	"github.com/johns/actlog/internal/catalog"
	"github.com/johns/actlog/internal/chunk"
	"github.com/johns/actlog/internal/config"
	"github.com/johns/actlog/internal/interval"
	"github.com/johns/actlog/internal/pipeline"
	"github.com/johns/actlog/internal/spool"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal("load config: %v", err)
	}

	switch os.Args[1] {
	case "run":
		if dir := flagValue(os.Args[2:], "--spool"); dir != "" {
			cfg.SpoolDir = dir
		}
		if err := run(cfg); err != nil {
			fatal("run: %v", err)
		}

	case "chunk":
		if len(os.Args) < 3 {
			fatal("usage: actlog chunk <segment.jsonl[.zst]>")
		}
		chunker := chunk.Chunker{
			GapThreshold:    cfg.Chunker.GapThreshold(),
			ClipboardMaxLen: cfg.Chunker.ClipboardMaxLen,
		}
		chunks, err := pipeline.ChunkSegmentFile(os.Args[2], chunker)
		if err != nil {
			fatal("chunk: %v", err)
		}
		out, err := json.MarshalIndent(chunks, "", "  ")
		if err != nil {
			fatal("chunk: %v", err)
		}
		fmt.Println(string(out))

	case "sessions":
		if err := listSessions(cfg); err != nil {
			fatal("sessions: %v", err)
		}

	case "version":
		fmt.Printf("actlog v%s\n", version)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

// run starts a capture session fed by the spool directory and keeps it
// alive until SIGINT/SIGTERM.
func run(cfg config.Config) error {
	session, err := pipeline.New(cfg)
	if err != nil {
		return err
	}

	session.OnError(func(err error) {
		fmt.Fprintf(os.Stderr, "actlog: flush error (will retry): %v\n", err)
	})
	session.OnBatch(func(b batch.Batch) {
		fmt.Fprintf(os.Stderr, "actlog: batch %s (%d events, %s)\n", b.ID, len(b.Events), b.Trigger)
	})
	session.OnIntervalSummary(func(req interval.SummaryRequest) {
		fmt.Fprintf(os.Stderr, "actlog: interval summary #%d (%d events, %d apps)\n",
			req.ChunkNumber, len(req.Events), len(req.AppUsage))
	})

	watcher, err := spool.NewWatcher(cfg.SpoolDir, session)
	if err != nil {
		session.Stop()
		return err
	}
	if err := watcher.Start(); err != nil {
		session.Stop()
		return err
	}

	fmt.Fprintf(os.Stderr, "actlog: session %s capturing from %s\n", session.ID, cfg.SpoolDir)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	watcher.Stop()
	return session.Stop()
}

func listSessions(cfg config.Config) error {
	cat, err := catalog.Open(cfg.CatalogPath())
	if err != nil {
		return err
	}
	defer cat.Close()

	sessions, err := cat.Sessions()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("no sessions captured")
		return nil
	}

	for _, s := range sessions {
		ended := "active"
		if s.EndedAt != nil {
			ended = s.EndedAt.Format("2006-01-02 15:04")
		}
		fmt.Printf("%s  started %s  ended %s  %d events\n",
			s.ID, s.StartedAt.Format("2006-01-02 15:04"), ended, s.Events)

		segments, err := cat.Segments(s.ID)
		if err != nil {
			return err
		}
		for _, seg := range segments {
			fmt.Printf("  %s  %d events  %d bytes\n", seg.Path, seg.Events, seg.Bytes)
		}
	}
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `actlog v%s - local activity capture core

Usage:
  actlog run [--spool <dir>]      Capture a session from the spool directory
  actlog chunk <segment>          Partition a captured segment into activity chunks
  actlog sessions                 List captured sessions and their segments
  actlog version                  Print version
  actlog help                     Show this help

Configuration: ~/.config/actlog/config.toml
`, version)
}

func flagValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "actlog: "+format+"\n", args...)
	os.Exit(1)
}
