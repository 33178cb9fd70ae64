package mountpoint

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"go-udevil/internal/mnterr"
	"go-udevil/internal/privilege"
)

// MarkerName is the data model's ownership marker: a zero-byte root-owned
// file whose presence inside a directory is the sole evidence the core
// created that directory and may later remove it (§3, §6).
const MarkerName = ".udevil-mount-point"

// Create makes path with mode 0700 while elevated, then creates the
// ownership marker file inside it (§4.4 "Directory creation").
func Create(ctx context.Context, gate *privilege.Gate, path string) error {
	return gate.WithElevated(func() error {
		if err := os.Mkdir(path, 0o700); err != nil {
			return mnterr.Wrap(mnterr.ResourceError, err, "creating mount point %q", path)
		}
		marker := filepath.Join(path, MarkerName)
		f, err := os.OpenFile(marker, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			os.Remove(path)
			return mnterr.Wrap(mnterr.ResourceError, err, "creating marker %q", marker)
		}
		return f.Close()
	})
}

// Rollback removes a core-created directory and its marker after a mount
// syscall failure (§4.5 Cleanup, testable property 3).
func Rollback(ctx context.Context, gate *privilege.Gate, path string) error {
	return gate.WithElevated(func() error {
		marker := filepath.Join(path, MarkerName)
		if err := os.Remove(marker); err != nil && !os.IsNotExist(err) {
			return mnterr.Wrap(mnterr.ResourceError, err, "removing marker %q", marker)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return mnterr.Wrap(mnterr.ResourceError, err, "removing mount point %q", path)
		}
		return nil
	})
}

// ApplyFinalMode sets path's mode to the configured mount_point_mode on a
// successful mount (§4.4 "On success, the mode is set to the configured
// mount_point_mode").
func ApplyFinalMode(ctx context.Context, gate *privilege.Gate, path string, mode uint32) error {
	return gate.WithElevated(func() error {
		if err := os.Chmod(path, os.FileMode(mode)); err != nil {
			return mnterr.Wrap(mnterr.ResourceError, err, "setting mode on %q", path)
		}
		return nil
	})
}

// HasMarker reports whether dir contains a root-owned marker file,
// implementing the ownership-marker contract with the out-of-scope
// cleanup collaborator.
func HasMarker(dir string) bool {
	marker := filepath.Join(dir, MarkerName)
	var st unix.Stat_t
	if err := unix.Stat(marker, &st); err != nil {
		return false
	}
	return st.Uid == 0
}

