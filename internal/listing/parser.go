package listing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
)

// recordPattern captures permissions, link count, the three date tokens and the name of an
// `ls -l` style line. Owner, group and size are matched but not captured.
var recordPattern = regexp.MustCompile(`^(\S+)\s+(\S+)\s+\S+\s+\S+\s+\S+\s+(\S+\s+\S+\s+\S+)\s+(\S+)$`)

const directoryMarker = "d"

// ParseHeader reads the declared entry count from a `total <N>` line.
// ok is false when the line is not a header.
func ParseHeader(line string) (total int, ok bool) {
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != "total" {
		return -1, false
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 0 {
		return -1, false
	}
	return n, true
}

// ParseRecord parses one listing line into a Record. Lines that do not match the
// column grammar return an error wrapping ingest.ErrListingFormat.
func ParseRecord(line string) (ingest.Record, error) {
	m := recordPattern.FindStringSubmatch(strings.TrimRight(line, "\r\n \t"))
	if m == nil {
		return ingest.Record{}, fmt.Errorf("%w: %q", ingest.ErrListingFormat, line)
	}
	return ingest.Record{
		Name:        m[4],
		IsDirectory: strings.HasPrefix(m[1], directoryMarker),
		Permissions: m[1],
	}, nil
}

// IsSelfOrParent reports whether name is one of the synthetic "." or ".." entries.
func IsSelfOrParent(name string) bool {
	return name == "." || name == ".."
}
