package listing

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
)

// Cursor yields the records of one opened directory listing. A cursor is owned by a
// single goroutine and must be closed exactly once.
type Cursor interface {
	// Next returns the next record; ok is false at the end of the listing.
	Next() (rec ingest.Record, ok bool, err error)
	// DeclaredTotal returns the header entry count, or -1 when the listing has none.
	DeclaredTotal() int
	Close() error
}

// LineCursor reads an `ls -l` style listing from a stream.
type LineCursor struct {
	rc       io.ReadCloser
	scanner  *bufio.Scanner
	declared int
	pending  *string
	skipped  int
	logger   *zap.Logger
	closed   bool
}

// NewLineCursor wraps rc and consumes the optional `total <N>` header line.
func NewLineCursor(rc io.ReadCloser, logger *zap.Logger) *LineCursor {
	if logger == nil {
		logger = zap.NewNop()
	}
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	c := &LineCursor{
		rc:       rc,
		scanner:  scanner,
		declared: -1,
		logger:   logger,
	}
	if scanner.Scan() {
		line := scanner.Text()
		if total, ok := ParseHeader(line); ok {
			c.declared = total
		} else {
			c.pending = &line
		}
	}
	return c
}

// Next returns the next directory or file record. Synthetic "." and ".." entries are
// skipped; malformed lines are logged and skipped rather than ending the listing.
func (c *LineCursor) Next() (ingest.Record, bool, error) {
	for {
		line, ok := c.nextLine()
		if !ok {
			if err := c.scanner.Err(); err != nil {
				return ingest.Record{}, false, fmt.Errorf("read listing: %w", err)
			}
			return ingest.Record{}, false, nil
		}
		if line == "" {
			continue
		}
		rec, err := ParseRecord(line)
		if err != nil {
			if errors.Is(err, ingest.ErrListingFormat) {
				c.skipped++
				c.logger.Warn("skipping malformed listing line", zap.String("line", line))
				continue
			}
			return ingest.Record{}, false, err
		}
		if IsSelfOrParent(rec.Name) {
			continue
		}
		return rec, true, nil
	}
}

func (c *LineCursor) nextLine() (string, bool) {
	if c.pending != nil {
		line := *c.pending
		c.pending = nil
		return line, true
	}
	if !c.scanner.Scan() {
		return "", false
	}
	return c.scanner.Text(), true
}

// DeclaredTotal returns the header count or -1.
func (c *LineCursor) DeclaredTotal() int {
	return c.declared
}

// Close releases the underlying stream and reports how many malformed lines were
// skipped. Closing twice is a no-op.
func (c *LineCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.skipped > 0 {
		c.logger.Warn("listing closed with malformed lines", zap.Int("skipped", c.skipped))
	}
	if err := c.rc.Close(); err != nil {
		return fmt.Errorf("close listing: %w", err)
	}
	return nil
}

// RecordCursor serves records that a transport already parsed (for example FTP LIST
// entries decoded by the client library).
type RecordCursor struct {
	records []ingest.Record
	pos     int
	closeFn func() error
	closed  bool
}

// NewRecordCursor builds a cursor over records; closeFn may be nil.
func NewRecordCursor(records []ingest.Record, closeFn func() error) *RecordCursor {
	return &RecordCursor{records: records, closeFn: closeFn}
}

// Next returns the next record, skipping "." and "..".
func (c *RecordCursor) Next() (ingest.Record, bool, error) {
	for c.pos < len(c.records) {
		rec := c.records[c.pos]
		c.pos++
		if IsSelfOrParent(rec.Name) || rec.Name == "" {
			continue
		}
		return rec, true, nil
	}
	return ingest.Record{}, false, nil
}

// DeclaredTotal returns the number of entries the transport reported.
func (c *RecordCursor) DeclaredTotal() int {
	return len(c.records)
}

// Close runs the transport release hook once.
func (c *RecordCursor) Close() error {
	if c.closed || c.closeFn == nil {
		c.closed = true
		return nil
	}
	c.closed = true
	return c.closeFn()
}
