package mounttable

import (
	"strings"
	"testing"
)

const sampleMountinfo = `36 35 98:0 / / rw,noatime master:1 - ext3 /dev/root rw,errors=continue
60 36 0:3 / /proc rw,nosuid,nodev,noexec,relatime - proc proc rw
78 36 7:3 / /media/USB rw,nosuid,nodev,relatime - vfat /dev/sdb1 rw,uid=1000
90 36 7:7 / /media/cd rw,relatime - iso9660 /dev/loop3 rw
`

func parseSample(t *testing.T) *Table {
	t.Helper()
	table, err := parse(strings.NewReader(sampleMountinfo))
	if err != nil {
		t.Fatalf("parse() error: %v", err)
	}
	return table
}

func TestParseExtractsFilesystemAndSource(t *testing.T) {
	table := parseSample(t)
	entries := table.Entries()
	if len(entries) != 4 {
		t.Fatalf("len(entries) = %d, want 4", len(entries))
	}
	if entries[0].FilesystemType != "ext3" || entries[0].Source != "/dev/root" {
		t.Errorf("entries[0] = %+v", entries[0])
	}
}

func TestMountPointsForDevice(t *testing.T) {
	table := parseSample(t)
	points := table.MountPointsForDevice(7, 3)
	if len(points) != 1 || points[0] != "/media/USB" {
		t.Errorf("MountPointsForDevice(7,3) = %v, want [/media/USB]", points)
	}
}

func TestDeviceForMountPoint(t *testing.T) {
	table := parseSample(t)
	major, minor, ok := table.DeviceForMountPoint("/media/USB")
	if !ok || major != 7 || minor != 3 {
		t.Errorf("DeviceForMountPoint(/media/USB) = (%d,%d,%v), want (7,3,true)", major, minor, ok)
	}
	if _, _, ok := table.DeviceForMountPoint("/nonexistent"); ok {
		t.Errorf("expected /nonexistent to not resolve")
	}
}

func TestMountPointForSource(t *testing.T) {
	table := parseSample(t)
	mp, ok := table.MountPointForSource("/dev/loop3")
	if !ok || mp != "/media/cd" {
		t.Errorf("MountPointForSource(/dev/loop3) = (%q,%v), want (/media/cd,true)", mp, ok)
	}
}

func TestIsMounted(t *testing.T) {
	table := parseSample(t)
	if !table.IsMounted("/media/USB") {
		t.Errorf("expected /media/USB to be reported mounted")
	}
	if table.IsMounted("/media/not-mounted") {
		t.Errorf("expected /media/not-mounted to not be reported mounted")
	}
}

func TestParseIgnoresMalformedLines(t *testing.T) {
	table, err := parse(strings.NewReader("not a mountinfo line\n" + sampleMountinfo))
	if err != nil {
		t.Fatalf("parse() error: %v", err)
	}
	if len(table.Entries()) != 4 {
		t.Errorf("len(entries) = %d, want 4 (malformed line skipped)", len(table.Entries()))
	}
}
