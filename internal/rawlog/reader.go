package rawlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/johns/actlog/internal/event"
)

// ReadSegment reads a segment file back into memory, transparently handling
// zstd-compressed segments. Lines that fail to parse are skipped rather
// than aborting the read; the rest of the segment is still returned.
func ReadSegment(path string) (Header, []event.RawEvent, error) {
	var header Header

	file, err := os.Open(path)
	if err != nil {
		return header, nil, fmt.Errorf("open segment: %w", err)
	}
	defer file.Close()

	var r io.Reader = file
	if strings.HasSuffix(path, ".zst") {
		decoder, err := zstd.NewReader(file)
		if err != nil {
			return header, nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		defer decoder.Close()
		r = decoder
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return header, nil, fmt.Errorf("read segment header: %w", err)
		}
		return header, nil, fmt.Errorf("segment %s is empty", path)
	}
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		return header, nil, fmt.Errorf("parse segment header: %w", err)
	}

	var events []event.RawEvent
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev event.RawEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return header, events, fmt.Errorf("scan segment: %w", err)
	}

	return header, events, nil
}
