// Package memory provides an in-memory archive tree that serves `ls -l` listings and file
// payloads for local development and tests.
package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
	"github.com/JakeFAU/archive-ingest/internal/listing"
)

// ErrNotFound is returned for paths missing from the tree.
var ErrNotFound = errors.New("path not found")

// Tree is a thread-safe archive. Directory paths end with "/".
type Tree struct {
	mu       sync.Mutex
	root     string
	dirs     map[string][]string
	files    map[string][]byte
	failures map[string]int
	opens    map[string]int
	closes   map[string]int
	header   bool
}

// NewTree creates an empty tree rooted at root.
func NewTree(root string) *Tree {
	root = dirPath(root)
	return &Tree{
		root:     root,
		dirs:     map[string][]string{root: nil},
		files:    make(map[string][]byte),
		failures: make(map[string]int),
		opens:    make(map[string]int),
		closes:   make(map[string]int),
		header:   true,
	}
}

// Root returns the root directory path.
func (t *Tree) Root() string {
	return t.root
}

// WithoutHeader makes listings omit the `total <N>` line.
func (t *Tree) WithoutHeader() *Tree {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.header = false
	return t
}

// AddDir registers a directory relative to the root, creating missing parents.
func (t *Tree) AddDir(rel string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addDirLocked(rel)
}

// AddFile registers a file relative to the root with the given payload.
func (t *Tree) AddFile(rel string, payload []byte) ingest.Location {
	t.mu.Lock()
	defer t.mu.Unlock()
	rel = strings.Trim(rel, "/")
	parentRel, name := "", rel
	if idx := strings.LastIndex(rel, "/"); idx >= 0 {
		parentRel, name = rel[:idx], rel[idx+1:]
	}
	parent := t.addDirLocked(parentRel)
	full := parent + name
	if _, exists := t.files[full]; !exists {
		t.dirs[parent] = append(t.dirs[parent], name)
	}
	t.files[full] = append([]byte(nil), payload...)
	return ingest.Location(full)
}

func (t *Tree) addDirLocked(rel string) string {
	current := t.root
	for _, part := range strings.Split(strings.Trim(rel, "/"), "/") {
		if part == "" {
			continue
		}
		next := current + part + "/"
		if _, exists := t.dirs[next]; !exists {
			t.dirs[next] = nil
			t.dirs[current] = append(t.dirs[current], part+"/")
		}
		current = next
	}
	return current
}

// FailOpens makes the next n opens of the directory rel fail.
func (t *Tree) FailOpens(rel string, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[t.resolve(rel)] = n
}

// Opens returns how many successful opens the directory rel served.
func (t *Tree) Opens(rel string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens[t.resolve(rel)]
}

// OpenCursors returns the number of listings opened but not yet closed.
func (t *Tree) OpenCursors() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	open := 0
	for path, n := range t.opens {
		open += n - t.closes[path]
	}
	return open
}

// Files returns every file location in lexical order.
func (t *Tree) Files() []ingest.Location {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ingest.Location, 0, len(t.files))
	for path := range t.files {
		out = append(out, ingest.Location(path))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (t *Tree) resolve(rel string) string {
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return t.root
	}
	return t.root + rel + "/"
}

// Open renders the listing of path in `ls -l` form, including "." and "..".
func (t *Tree) Open(ctx context.Context, path string) (listing.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("open listing: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	path = dirPath(path)
	if n := t.failures[path]; n > 0 {
		t.failures[path] = n - 1
		return nil, fmt.Errorf("open %s: simulated connection failure", path)
	}
	entries, ok := t.dirs[path]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, ErrNotFound)
	}
	t.opens[path]++

	var buf bytes.Buffer
	if t.header {
		fmt.Fprintf(&buf, "total %d\n", len(entries)+2)
	}
	writeLine(&buf, true, 0, ".")
	writeLine(&buf, true, 0, "..")
	for _, entry := range entries {
		if strings.HasSuffix(entry, "/") {
			writeLine(&buf, true, 4096, strings.TrimSuffix(entry, "/"))
			continue
		}
		writeLine(&buf, false, len(t.files[path+entry]), entry)
	}
	rc := &trackedBody{Reader: bytes.NewReader(buf.Bytes()), onClose: func() {
		t.mu.Lock()
		t.closes[path]++
		t.mu.Unlock()
	}}
	return listing.NewLineCursor(rc, nil), nil
}

// Fetch returns the payload stored at loc.
func (t *Tree) Fetch(ctx context.Context, loc ingest.Location) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetch payload: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	payload, ok := t.files[loc.String()]
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", loc, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

func writeLine(buf *bytes.Buffer, dir bool, size int, name string) {
	perms := "-rw-r--r--"
	links := 1
	if dir {
		perms = "drwxr-xr-x"
		links = 2
	}
	fmt.Fprintf(buf, "%s %4d ftp ftp %12d Jan 01  2012 %s\n", perms, links, size, name)
}

func dirPath(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

type trackedBody struct {
	io.Reader
	once    sync.Once
	onClose func()
}

func (b *trackedBody) Close() error {
	b.once.Do(b.onClose)
	return nil
}
