package mountpoint

import (
	"os"
	"path/filepath"
	"testing"
)

// Create, Rollback, and ApplyFinalMode all run under gate.WithElevated,
// which requires CAP_SETUID and a setuid-root-installed process; they are
// exercised by integration tests rather than here. HasMarker has no
// privilege requirement and is covered directly.

func TestHasMarkerFalseWithoutMarkerFile(t *testing.T) {
	dir := t.TempDir()
	if HasMarker(dir) {
		t.Errorf("HasMarker() = true for a directory with no marker file")
	}
}

func TestHasMarkerTrueWhenRootOwned(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("requires running as root to create a root-owned marker")
	}
	dir := t.TempDir()
	marker := filepath.Join(dir, MarkerName)
	f, err := os.Create(marker)
	if err != nil {
		t.Fatalf("creating marker: %v", err)
	}
	f.Close()

	if !HasMarker(dir) {
		t.Errorf("HasMarker() = false for a root-owned marker file")
	}
}

func TestHasMarkerFalseWhenNotRootOwned(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root, marker would actually be root-owned")
	}
	dir := t.TempDir()
	marker := filepath.Join(dir, MarkerName)
	f, err := os.Create(marker)
	if err != nil {
		t.Fatalf("creating marker: %v", err)
	}
	f.Close()

	if HasMarker(dir) {
		t.Errorf("HasMarker() = true for a marker not owned by root")
	}
}
