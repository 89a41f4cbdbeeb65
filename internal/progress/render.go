package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
)

const barCells = 10

// Renderer draws discovery and conversion progress on a terminal line.
type Renderer struct {
	mu      sync.Mutex
	out     io.Writer
	enabled bool
}

// NewRenderer writes to out. A disabled renderer drops every call.
func NewRenderer(out io.Writer, enabled bool) *Renderer {
	return &Renderer{out: out, enabled: enabled && out != nil}
}

// Discovery prints the running discovered count.
func (r *Renderer) Discovery(count int) {
	r.print("\r Indexing " + humanize.Comma(int64(count)) + " files")
}

// DiscoveryDone terminates the discovery line.
func (r *Renderer) DiscoveryDone(total int) {
	r.print("\r Indexed " + humanize.Comma(int64(total)) + " files\n")
}

// Conversion prints the bar for snap. Nothing is drawn before discovery completes.
func (r *Renderer) Conversion(snap Snapshot) {
	line, ok := FormatBar(snap)
	if !ok {
		return
	}
	if snap.Processed >= snap.Discovered {
		line += "\n"
	}
	r.print("\r" + line)
}

func (r *Renderer) print(s string) {
	if r == nil || !r.enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = io.WriteString(r.out, s)
}

// FormatBar renders "[***-------] 30%(3/10)  - Still 1.50 mn". ok is false when no
// percentage is defined yet.
func FormatBar(snap Snapshot) (string, bool) {
	pct, ok := snap.Percent()
	if !ok {
		return "", false
	}
	filled := pct / barCells
	if filled > barCells {
		filled = barCells
	}
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(strings.Repeat("*", filled))
	b.WriteString(strings.Repeat("-", barCells-filled))
	fmt.Fprintf(&b, "] %d%%(%d/%d)", pct, snap.Processed, snap.Discovered)
	if eta, ok := snap.ETA(); ok {
		fmt.Fprintf(&b, "  - Still %.2f mn", eta.Minutes())
	}
	return b.String(), true
}
