package transcript

import (
	"fmt"

	"github.com/contox/cli/cmd/contox/cli/ingest"
	"github.com/contox/cli/cmd/contox/cli/redact"
)

// Batch is one prepared read of a transcript. Its cursor is persisted by
// Collector.Commit once the caller has delivered the event.
type Batch struct {
	Transcript Located
	Offset     int64
	NewOffset  int64
	Facts      SessionFacts
	Event      ingest.SaveEvent
	Truncated  bool
}

// Collector turns newly appended transcript lines into a save event.
type Collector struct {
	// Cwd is the working directory whose transcripts Locate searches.
	Cwd      string
	Cursors  *CursorStore
	Redactor redact.Redactor
	MaxLines int
	// HeadSHA returns the commit to pin the event to; may be nil.
	HeadSHA func() string
}

// Locate returns the newest transcript for Cwd.
func (c *Collector) Locate() (Located, error) {
	return Locate(c.Cwd)
}

// Prepare reads from the saved cursor and extracts facts. Nothing is
// persisted.
func (c *Collector) Prepare(loc Located) (*Batch, error) {
	offset, err := c.Cursors.OffsetFor(loc.SessionID, loc.Path)
	if err != nil {
		return nil, err
	}
	res, err := Read(loc.Path, offset, c.MaxLines)
	if err != nil {
		return nil, err
	}
	facts := ExtractFacts(res.Records)

	var head string
	if c.HeadSHA != nil {
		head = c.HeadSHA()
	}
	return &Batch{
		Transcript: loc,
		Offset:     offset,
		NewOffset:  res.NewOffset,
		Facts:      facts,
		Event:      facts.SaveEvent(c.Redactor, head),
		Truncated:  res.Truncated,
	}, nil
}

// Commit persists the batch's cursor.
func (c *Collector) Commit(b *Batch) error {
	if err := c.Cursors.Save(b.Transcript.SessionID, b.NewOffset); err != nil {
		return fmt.Errorf("saving transcript cursor: %w", err)
	}
	return nil
}
