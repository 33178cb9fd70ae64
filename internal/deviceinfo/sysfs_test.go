package deviceinfo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll(%q) error: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%q) error: %v", path, err)
	}
}

func TestByMajorMinorReadsSysfsAttributes(t *testing.T) {
	sysBlock := t.TempDir()
	devDir := filepath.Join(sysBlock, "sdb1")
	writeFile(t, filepath.Join(devDir, "dev"), "8:17\n")
	writeFile(t, filepath.Join(devDir, "removable"), "1\n")
	writeFile(t, filepath.Join(devDir, "partition"), "1\n")

	l := &SysfsLookup{SysBlockDir: sysBlock, ByIDDir: t.TempDir()}
	snap, err := l.ByMajorMinor(context.Background(), 8, 17)
	if err != nil {
		t.Fatalf("ByMajorMinor() error: %v", err)
	}
	if snap.Major != 8 || snap.Minor != 17 {
		t.Errorf("Major/Minor = %d/%d, want 8/17", snap.Major, snap.Minor)
	}
	if !snap.Removable {
		t.Errorf("Removable = false, want true")
	}
	if !snap.IsPartition {
		t.Errorf("IsPartition = false, want true")
	}
	if snap.PartitionNumber != 1 {
		t.Errorf("PartitionNumber = %d, want 1", snap.PartitionNumber)
	}
	if snap.CanonicalPath != filepath.Join("/dev", "sdb1") {
		t.Errorf("CanonicalPath = %q, want /dev/sdb1", snap.CanonicalPath)
	}
}

func TestByMajorMinorErrorsWhenNoMatchingDevice(t *testing.T) {
	l := &SysfsLookup{SysBlockDir: t.TempDir(), ByIDDir: t.TempDir()}
	if _, err := l.ByMajorMinor(context.Background(), 8, 99); err == nil {
		t.Errorf("expected an error when no sysfs entry matches major:minor")
	}
}

func TestConnectionInterfaceDetectsUSB(t *testing.T) {
	sysBlock := t.TempDir()
	target := filepath.Join(sysBlock, "devices", "usb1", "block", "sdb")
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatalf("MkdirAll() error: %v", err)
	}
	link := filepath.Join(sysBlock, "sdb")
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("Symlink() error: %v", err)
	}

	l := &SysfsLookup{SysBlockDir: sysBlock}
	if got := l.connectionInterface("sdb"); got != USB {
		t.Errorf("connectionInterface() = %v, want USB", got)
	}
}

func TestConnectionInterfaceUnknownWithoutLink(t *testing.T) {
	l := &SysfsLookup{SysBlockDir: t.TempDir()}
	if got := l.connectionInterface("missing"); got != Unknown {
		t.Errorf("connectionInterface() = %v, want Unknown", got)
	}
}

func TestResolveByIDMatchesSymlinkTarget(t *testing.T) {
	devDir := t.TempDir()
	devNode := filepath.Join(devDir, "sdb1")
	writeFile(t, devNode, "")

	byID := t.TempDir()
	link := filepath.Join(byID, "usb-Kingston_DataTraveler-part1")
	if err := os.Symlink(devNode, link); err != nil {
		t.Fatalf("Symlink() error: %v", err)
	}

	l := &SysfsLookup{ByIDDir: byID}
	if got := l.resolveByID(devNode); got != "usb-Kingston_DataTraveler-part1" {
		t.Errorf("resolveByID() = %q, want usb-Kingston_DataTraveler-part1", got)
	}
}

func TestKnownFilesystemsParsesLastField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filesystems")
	writeFile(t, path, "nodev\tsysfs\nnodev\ttmpfs\n\text4\n")

	names, err := knownFilesystems(path)
	if err != nil {
		t.Fatalf("knownFilesystems() error: %v", err)
	}
	want := []string{"sysfs", "tmpfs", "ext4"}
	if len(names) != len(want) {
		t.Fatalf("knownFilesystems() = %v, want %v", names, want)
	}
	for i, n := range want {
		if names[i] != n {
			t.Errorf("names[%d] = %q, want %q", i, names[i], n)
		}
	}
}

func TestEffectiveFstypePrefersExplicitFstype(t *testing.T) {
	s := &Snapshot{Fstype: "ext4", MediaAvailable: true, MediaCompatibilityList: []string{"vfat", "exfat"}}
	if got := s.EffectiveFstype(); got != "ext4" {
		t.Errorf("EffectiveFstype() = %q, want ext4", got)
	}
}

func TestEffectiveFstypeFallsBackToCompatibilityListWhenMediaUnavailable(t *testing.T) {
	s := &Snapshot{Fstype: "", MediaAvailable: false, MediaCompatibilityList: []string{"vfat", "exfat"}}
	if got := s.EffectiveFstype(); got != "vfat" {
		t.Errorf("EffectiveFstype() = %q, want vfat", got)
	}
}

func TestEffectiveFstypeEmptyWhenMediaAvailableButNoFstype(t *testing.T) {
	s := &Snapshot{Fstype: "", MediaAvailable: true, MediaCompatibilityList: []string{"vfat"}}
	if got := s.EffectiveFstype(); got != "" {
		t.Errorf("EffectiveFstype() = %q, want empty", got)
	}
}
