package transcript

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultMaxLines bounds how many lines one Read consumes.
const DefaultMaxLines = 2000

// ReadResult is the outcome of one incremental read.
type ReadResult struct {
	Records []Record
	// NewOffset is where the next Read should start.
	NewOffset int64
	// LinesRead counts complete lines consumed, including dropped ones.
	LinesRead int
	// Malformed counts lines that were not valid JSON.
	Malformed int
	// Truncated is set when the line cap stopped the read early.
	Truncated bool
}

// Read consumes complete lines of the transcript at path starting at
// offset and returns the user and assistant records among them.
//
// When offset is non-zero the first line is discarded: it is the tail of a
// line a previous read already processed. An unterminated final line is left
// for the next read. NewOffset points at the newline of the last consumed
// line, so the next read's discarded line is exactly that newline.
func Read(path string, offset int64, maxLines int) (*ReadResult, error) {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	if offset < 0 {
		offset = 0
	}

	f, err := os.Open(path) //nolint:gosec // transcript path comes from the agent's project directory
	if err != nil {
		return nil, fmt.Errorf("opening transcript: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking transcript: %w", err)
	}

	reader := bufio.NewReader(f)
	result := &ReadResult{NewOffset: offset}
	var consumed int64

	if offset > 0 {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return result, nil
			}
			return nil, fmt.Errorf("reading transcript: %w", err)
		}
		consumed += int64(len(line))
	}

	for {
		if result.LinesRead >= maxLines {
			result.Truncated = true
			break
		}
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("reading transcript: %w", err)
		}
		consumed += int64(len(line))
		result.LinesRead++

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			result.Malformed++
			continue
		}
		if keep(rec) {
			result.Records = append(result.Records, rec)
		}
	}

	if consumed > 0 {
		result.NewOffset = offset + consumed - 1
	}
	return result, nil
}

func keep(rec Record) bool {
	return (rec.Type == TypeUser || rec.Type == TypeAssistant) && !rec.IsSidechain
}
