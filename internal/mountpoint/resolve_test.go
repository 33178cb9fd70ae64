package mountpoint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go-udevil/internal/mounttable"
	"go-udevil/internal/policy"
)

func TestSelectMediaDirReturnsFirstExisting(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	present := t.TempDir()

	kv := map[string]string{
		policy.CategoryAllowedMediaDirs: missing + "," + present,
	}
	snap, err := policy.Load(kv, policy.ExpandContext{User: "alice", UID: 1000, GID: 1000})
	if err != nil {
		t.Fatalf("policy.Load() error: %v", err)
	}

	dir, err := SelectMediaDir(snap, "vfat")
	if err != nil {
		t.Fatalf("SelectMediaDir() error: %v", err)
	}
	if dir != present {
		t.Errorf("SelectMediaDir() = %q, want %q", dir, present)
	}
}

func TestSelectMediaDirErrorsWhenNoneAccessible(t *testing.T) {
	kv := map[string]string{
		policy.CategoryAllowedMediaDirs: filepath.Join(t.TempDir(), "nope"),
	}
	snap, err := policy.Load(kv, policy.ExpandContext{User: "alice", UID: 1000, GID: 1000})
	if err != nil {
		t.Fatalf("policy.Load() error: %v", err)
	}
	if _, err := SelectMediaDir(snap, "vfat"); err == nil {
		t.Errorf("expected an error when no allowed_media_dirs entry exists")
	}
}

func TestValidateExplicitRejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real")
	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatalf("Mkdir() error: %v", err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("Symlink() error: %v", err)
	}

	if err := ValidateExplicit(nil, link, os.Getuid()); err == nil {
		t.Errorf("expected ValidateExplicit() to reject a symbolic link")
	}
}

func TestValidateExplicitRejectsNonDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	if err := ValidateExplicit(nil, file, os.Getuid()); err == nil {
		t.Errorf("expected ValidateExplicit() to reject a non-directory")
	}
}

func TestValidateExplicitRejectsAlreadyMounted(t *testing.T) {
	dir := t.TempDir()
	table := sampleMountTableFor(t, dir)
	if err := ValidateExplicit(table, dir, os.Getuid()); err == nil {
		t.Errorf("expected ValidateExplicit() to reject an already-mounted point")
	}
}

func TestValidateExplicitAcceptsCallerOwnedDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := ValidateExplicit(nil, dir, os.Getuid()); err != nil {
		t.Errorf("ValidateExplicit() error: %v, want nil for a caller-owned plain directory", err)
	}
}

func TestResolveCollisionReturnsNameWhenFree(t *testing.T) {
	base := t.TempDir()
	name, err := ResolveCollision(nil, base, "usb-key", os.Getuid())
	if err != nil {
		t.Fatalf("ResolveCollision() error: %v", err)
	}
	if name != "usb-key" {
		t.Errorf("ResolveCollision() = %q, want usb-key when unused", name)
	}
}

func TestResolveCollisionAppendsSuffixOnConflict(t *testing.T) {
	base := t.TempDir()
	if err := os.Mkdir(filepath.Join(base, "usb-key"), 0o755); err != nil {
		t.Fatalf("Mkdir() error: %v", err)
	}

	name, err := ResolveCollision(nil, base, "usb-key", os.Getuid())
	if err != nil {
		t.Fatalf("ResolveCollision() error: %v", err)
	}
	if name != "usb-key-2" {
		t.Errorf("ResolveCollision() = %q, want usb-key-2 on first collision", name)
	}
}

func TestResolveCollisionSkipsMultipleTakenNames(t *testing.T) {
	base := t.TempDir()
	for _, n := range []string{"usb-key", "usb-key-2", "usb-key-3"} {
		if err := os.Mkdir(filepath.Join(base, n), 0o755); err != nil {
			t.Fatalf("Mkdir(%q) error: %v", n, err)
		}
	}

	name, err := ResolveCollision(nil, base, "usb-key", os.Getuid())
	if err != nil {
		t.Fatalf("ResolveCollision() error: %v", err)
	}
	if name != "usb-key-4" {
		t.Errorf("ResolveCollision() = %q, want usb-key-4 after three collisions", name)
	}
}

// sampleMountTableFor builds a *mounttable.Table whose only entry reports
// dir as mounted, by writing a synthetic mountinfo line to a temp file and
// round-tripping it through mounttable.Read.
func sampleMountTableFor(t *testing.T, dir string) *mounttable.Table {
	t.Helper()
	line := "36 35 98:0 / " + dir + " rw,relatime shared:1 - ext4 /dev/root rw,errors=remount-ro\n"
	path := filepath.Join(t.TempDir(), "mountinfo")
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	table, err := mounttable.Read(path)
	if err != nil {
		t.Fatalf("mounttable.Read() error: %v", err)
	}
	return table
}

func TestResolveCollisionIgnoresUnrelatedDirNames(t *testing.T) {
	base := t.TempDir()
	if err := os.Mkdir(filepath.Join(base, "other"), 0o755); err != nil {
		t.Fatalf("Mkdir() error: %v", err)
	}
	name, err := ResolveCollision(nil, base, "usb-key", os.Getuid())
	if err != nil {
		t.Fatalf("ResolveCollision() error: %v", err)
	}
	if strings.Contains(name, "other") {
		t.Errorf("ResolveCollision() = %q, unrelated directory should not affect naming", name)
	}
}
