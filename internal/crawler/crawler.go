package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
	"github.com/JakeFAU/archive-ingest/internal/listing"
)

// FrameStatus is the position of a frame in its directory listing.
type FrameStatus int

// Frame states.
const (
	FrameStart FrameStatus = iota
	FrameListing
	FrameDone
)

func (s FrameStatus) String() string {
	switch s {
	case FrameStart:
		return "start"
	case FrameListing:
		return "listing"
	case FrameDone:
		return "done"
	default:
		return fmt.Sprintf("FrameStatus(%d)", int(s))
	}
}

type frame struct {
	depth       int
	status      FrameStatus
	cursor      listing.Cursor
	path        string
	currentName string
}

// Crawler enumerates the files below a root directory. It is not safe for concurrent
// use; the producer goroutine owns it.
type Crawler struct {
	source    listing.Opener
	root      string
	stack     []*frame
	exhausted bool
	logger    *zap.Logger
}

// New builds a Crawler over source starting at root. Directory paths always end in "/".
func New(source listing.Opener, root string, logger *zap.Logger) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}
	return &Crawler{
		source: source,
		root:   root,
		stack:  []*frame{{depth: 0, status: FrameStart, path: root}},
		logger: logger,
	}
}

// Depth returns the index of the deepest live frame, or -1 when nothing is open.
func (c *Crawler) Depth() int {
	return len(c.stack) - 1
}

// Exhausted reports whether the tree has been fully walked or the walk was aborted.
func (c *Crawler) Exhausted() bool {
	return c.exhausted
}

// NextLeaf returns the next file location in depth-first listing order. ok is false once
// the tree is exhausted, and stays false on every later call. A listing that cannot be
// opened, or a canceled context, aborts the walk and is returned as an error.
func (c *Crawler) NextLeaf(ctx context.Context) (loc ingest.Location, ok bool, err error) {
	if c.exhausted {
		return "", false, nil
	}
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", false, errors.Join(fmt.Errorf("crawl canceled: %w", ctxErr), c.Close())
		}
		if len(c.stack) == 0 {
			c.exhausted = true
			return "", false, nil
		}
		top := c.stack[len(c.stack)-1]
		switch top.status {
		case FrameStart:
			cursor, openErr := c.source.Open(ctx, top.path)
			if openErr != nil {
				return "", false, errors.Join(fmt.Errorf("open listing %s: %w", top.path, openErr), c.Close())
			}
			top.cursor = cursor
			top.status = FrameListing
			c.logger.Debug("listing opened",
				zap.String("path", top.path),
				zap.Int("depth", top.depth),
				zap.Int("declared", cursor.DeclaredTotal()),
			)
		case FrameListing:
			rec, more, nextErr := top.cursor.Next()
			if nextErr != nil {
				c.logger.Warn("listing read failed; treating directory as exhausted",
					zap.String("path", top.path),
					zap.Error(nextErr),
				)
				top.status = FrameDone
				continue
			}
			if !more {
				top.status = FrameDone
				continue
			}
			top.currentName = rec.Name
			if rec.IsDirectory {
				c.stack = append(c.stack, &frame{
					depth:  top.depth + 1,
					status: FrameStart,
					path:   top.path + rec.Name + "/",
				})
				continue
			}
			return ingest.Location(top.path + rec.Name), true, nil
		case FrameDone:
			c.pop()
		}
	}
}

func (c *Crawler) pop() {
	top := c.stack[len(c.stack)-1]
	if top.cursor != nil {
		if err := top.cursor.Close(); err != nil {
			c.logger.Warn("listing close failed", zap.String("path", top.path), zap.Error(err))
		}
		top.cursor = nil
	}
	c.stack[len(c.stack)-1] = nil
	c.stack = c.stack[:len(c.stack)-1]
}

// Close releases every open cursor and marks the crawler exhausted.
func (c *Crawler) Close() error {
	var errs []error
	for i := len(c.stack) - 1; i >= 0; i-- {
		if cursor := c.stack[i].cursor; cursor != nil {
			if err := cursor.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close listing %s: %w", c.stack[i].path, err))
			}
			c.stack[i].cursor = nil
		}
	}
	c.stack = nil
	c.exhausted = true
	return errors.Join(errs...)
}
