// Package mounttable parses /proc/self/mountinfo into the "parsed
// /proc/self/mountinfo view" design notes §9 calls out as process-wide
// state, and the on-disk mount table the orchestrator's unmount resolution
// (§4.5) and the "known to system mount table" fast path (§4.5) both
// consult.
//
// Standard-library only, justified: none of the example repos or
// other_examples/ files carry a /proc/self/mountinfo parser to adapt
// (apptainer shells out to `findmnt`/the mount utility directly rather
// than parsing mountinfo itself), and the format is a fixed,
// whitespace-delimited kernel ABI with no benefit from a parsing library.
package mounttable

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"go-udevil/internal/mnterr"
)

// Entry is one row of /proc/self/mountinfo.
type Entry struct {
	MountID      int
	ParentID     int
	Major, Minor int
	Root         string
	MountPoint   string
	Options      string
	FilesystemType string
	Source       string
	SuperOptions string
}

// Table is an immutable snapshot of the system mount table at the moment
// it was read.
type Table struct {
	entries []Entry
}

// Read parses path (conventionally "/proc/self/mountinfo") into a Table.
func Read(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, mnterr.Wrap(mnterr.ResourceError, err, "opening %s", path)
	}
	defer f.Close()
	return parse(f)
}

func parse(r io.Reader) (*Table, error) {
	var t Table
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		e, ok, err := parseLine(scanner.Text())
		if err != nil {
			return nil, err
		}
		if ok {
			t.entries = append(t.entries, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, mnterr.Wrap(mnterr.ResourceError, err, "reading mountinfo")
	}
	return &t, nil
}

// parseLine parses one mountinfo line:
//
//	36 35 98:0 /mnt1 /mnt2 rw,noatime master:1 - ext3 /dev/root rw,errors=continue
//
// fields up to the first "-" are a fixed prefix; after it comes filesystem
// type, source, and super options.
func parseLine(line string) (Entry, bool, error) {
	fields := strings.Fields(line)
	sep := -1
	for i, f := range fields {
		if f == "-" {
			sep = i
			break
		}
	}
	if sep < 0 || sep+3 >= len(fields) || sep < 6 {
		return Entry{}, false, nil
	}

	mountID, err1 := strconv.Atoi(fields[0])
	parentID, err2 := strconv.Atoi(fields[1])
	majMin := strings.SplitN(fields[2], ":", 2)
	if err1 != nil || err2 != nil || len(majMin) != 2 {
		return Entry{}, false, mnterr.New(mnterr.ResourceError, "malformed mountinfo line: %q", line)
	}
	major, err3 := strconv.Atoi(majMin[0])
	minor, err4 := strconv.Atoi(majMin[1])
	if err3 != nil || err4 != nil {
		return Entry{}, false, mnterr.New(mnterr.ResourceError, "malformed major:minor in mountinfo line: %q", line)
	}

	e := Entry{
		MountID:        mountID,
		ParentID:       parentID,
		Major:          major,
		Minor:          minor,
		Root:           fields[3],
		MountPoint:     fields[4],
		Options:        fields[5],
		FilesystemType: fields[sep+1],
		Source:         fields[sep+2],
		SuperOptions:   fields[sep+3],
	}
	return e, true, nil
}

// MountPointsForDevice returns every current mount point of the device
// identified by major:minor, used to populate a device-info Snapshot's
// "current mount point list" (§6).
func (t *Table) MountPointsForDevice(major, minor int) []string {
	var points []string
	for _, e := range t.entries {
		if e.Major == major && e.Minor == minor {
			points = append(points, e.MountPoint)
		}
	}
	return points
}

// DeviceForMountPoint reverse-resolves a mount point directory to its
// backing device's major:minor, used by §4.5's unmount resolution ("look
// up the backing device [...] via the in-memory device/major-minor list").
func (t *Table) DeviceForMountPoint(mountPoint string) (major, minor int, ok bool) {
	for _, e := range t.entries {
		if e.MountPoint == mountPoint {
			return e.Major, e.Minor, true
		}
	}
	return 0, 0, false
}

// DeviceForSource reverse-resolves a source path (e.g. a loop device) to
// its mount point, used when unmounting a loop device directly (§4.5).
func (t *Table) MountPointForSource(source string) (string, bool) {
	for _, e := range t.entries {
		if e.Source == source {
			return e.MountPoint, true
		}
	}
	return "", false
}

// IsMounted reports whether path is the mount point of any entry, used by
// the mount-point manager to reject choosing an already-mounted directory
// (§4.4) and by unmount resolution to detect "already unmounted."
func (t *Table) IsMounted(path string) bool {
	for _, e := range t.entries {
		if e.MountPoint == path {
			return true
		}
	}
	return false
}

// Entries returns every parsed row, for callers needing the full snapshot
// (e.g. the orchestrator's round-trip testable property).
func (t *Table) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}
