package adapters

import (
	"bufio"
	"bytes"
	"strings"
	"time"
)

// splitLines turns a demultiplexed log stream into lines, peeling off the
// RFC3339 timestamp the engine prepends when timestamps are requested.
func splitLines(data []byte, stream string) []LogLine {
	var lines []LogLine
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := strings.TrimRight(scanner.Text(), "\r")
		if raw == "" {
			continue
		}
		line := LogLine{Stream: stream, Message: raw}
		if ts, rest, ok := strings.Cut(raw, " "); ok {
			if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				line.Timestamp = parsed
				line.Message = rest
			}
		}
		lines = append(lines, line)
	}
	return lines
}
