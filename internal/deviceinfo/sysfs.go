package deviceinfo

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"go-udevil/internal/mnterr"
	"go-udevil/internal/mounttable"
)

// SysfsLookup is a minimal Linux sysfs-backed Lookup: it reads major/minor
// from the device node itself and a handful of attributes from
// /sys/class/block/<name>, without attempting to replicate udev's full
// database (that database is explicitly out of scope, §1 "the device-
// information reader that extracts attributes from the kernel's device
// database").
type SysfsLookup struct {
	// SysBlockDir defaults to /sys/class/block; overridable for tests.
	SysBlockDir string
	// ByIDDir defaults to /dev/disk/by-id; overridable for tests.
	ByIDDir string
	// Table supplies the current mount-point list for a device.
	Table *mounttable.Table
}

func (l *SysfsLookup) sysBlockDir() string {
	if l.SysBlockDir != "" {
		return l.SysBlockDir
	}
	return "/sys/class/block"
}

func (l *SysfsLookup) byIDDir() string {
	if l.ByIDDir != "" {
		return l.ByIDDir
	}
	return "/dev/disk/by-id"
}

func (l *SysfsLookup) ByDevicePath(ctx context.Context, canonicalPath string) (*Snapshot, error) {
	var st unix.Stat_t
	if err := unix.Stat(canonicalPath, &st); err != nil {
		return nil, mnterr.Wrap(mnterr.ResourceError, err, "stat %q", canonicalPath)
	}
	major, minor := int(unix.Major(st.Rdev)), int(unix.Minor(st.Rdev))
	return l.build(ctx, canonicalPath, major, minor)
}

func (l *SysfsLookup) ByMajorMinor(ctx context.Context, major, minor int) (*Snapshot, error) {
	return l.build(ctx, "", major, minor)
}

func (l *SysfsLookup) build(ctx context.Context, canonicalPath string, major, minor int) (*Snapshot, error) {
	name, err := l.nameForMajorMinor(major, minor)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(l.sysBlockDir(), name)

	s := &Snapshot{
		CanonicalPath:       canonicalPath,
		Major:               major,
		Minor:               minor,
		ConnectionInterface: l.connectionInterface(name),
		Removable:           readBoolAttr(filepath.Join(dir, "removable")),
		MediaAvailable:      true,
	}
	if canonicalPath == "" {
		s.CanonicalPath = filepath.Join("/dev", name)
	}

	if partitionAttr := filepath.Join(dir, "partition"); fileExists(partitionAttr) {
		s.IsPartition = true
		s.PartitionNumber = readIntAttr(partitionAttr)
	}

	s.ByIDLink = l.resolveByID(s.CanonicalPath)

	if l.Table != nil {
		s.MountPoints = l.Table.MountPointsForDevice(major, minor)
	}

	return s, nil
}

// nameForMajorMinor scans /sys/class/block for the entry whose dev file
// matches major:minor, since sysfs names devices by kernel name, not by
// device number.
func (l *SysfsLookup) nameForMajorMinor(major, minor int) (string, error) {
	entries, err := os.ReadDir(l.sysBlockDir())
	if err != nil {
		return "", mnterr.Wrap(mnterr.ResourceError, err, "reading %s", l.sysBlockDir())
	}
	want := fmt.Sprintf("%d:%d", major, minor)
	for _, e := range entries {
		devFile := filepath.Join(l.sysBlockDir(), e.Name(), "dev")
		got, err := os.ReadFile(devFile)
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(got)) == want {
			return e.Name(), nil
		}
	}
	return "", mnterr.New(mnterr.ResourceError, "no sysfs block device found for %s", want)
}

func (l *SysfsLookup) connectionInterface(name string) Interface {
	link, err := os.Readlink(filepath.Join(l.sysBlockDir(), name))
	if err != nil {
		return Unknown
	}
	switch {
	case strings.Contains(link, "/usb"):
		return USB
	case strings.Contains(link, "/ata"):
		return ATA
	case strings.Contains(link, "/scsi"):
		return SCSI
	case strings.Contains(link, "/firewire"):
		return Firewire
	case strings.Contains(link, "/mmc") || strings.Contains(link, "/sdio"):
		return SDIO
	case strings.Contains(link, "/platform"):
		return Platform
	default:
		return Unknown
	}
}

func (l *SysfsLookup) resolveByID(canonicalPath string) string {
	entries, err := os.ReadDir(l.byIDDir())
	if err != nil {
		return ""
	}
	for _, e := range entries {
		linkPath := filepath.Join(l.byIDDir(), e.Name())
		target, err := filepath.EvalSymlinks(linkPath)
		if err == nil && target == canonicalPath {
			return e.Name()
		}
	}
	return ""
}

func readBoolAttr(path string) bool {
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(b)) == "1"
}

func readIntAttr(path string) int {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(strings.TrimSpace(string(b)))
	return n
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// knownFilesystems reads /proc/filesystems, used by the policy loader to
// expand $KNOWN_FILESYSTEMS (§3).
func knownFilesystems(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		// a leading "nodev" column marks pseudo-filesystems; the name is
		// always the last field.
		names = append(names, fields[len(fields)-1])
	}
	return names, scanner.Err()
}

// KnownFilesystems merges the built-in filesystem list with whatever
// /proc/filesystems and /etc/filesystems report, for $KNOWN_FILESYSTEMS
// expansion (§3).
func KnownFilesystems() []string {
	builtin := []string{"vfat", "ntfs", "ext2", "ext3", "ext4", "iso9660", "udf", "exfat", "btrfs", "xfs"}
	seen := make(map[string]bool, len(builtin))
	out := make([]string, 0, len(builtin))
	for _, n := range builtin {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for _, path := range []string{"/proc/filesystems", "/etc/filesystems"} {
		names, err := knownFilesystems(path)
		if err != nil {
			continue
		}
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}
