package mountpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"go-udevil/internal/mnterr"
	"go-udevil/internal/mounttable"
	"go-udevil/internal/policy"
	"go-udevil/internal/sysutil"
)

// Execer is the narrow slice of *sysutil.Runner EnsureUserMediaDir needs,
// matching the same pattern loopdevice.Execer uses so the orchestrator's
// Execer can be passed straight through and tests can fake it.
type Execer interface {
	Privileged(ctx context.Context, path string, args ...string) (sysutil.Result, error)
}

// SelectMediaDir chooses the first entry of allowed_media_dirs (scoped by
// fstype) that exists and is accessible (§4.4 "If the user did not supply
// a mount point").
func SelectMediaDir(snap *policy.Snapshot, fstype string) (string, error) {
	for _, dir := range snap.List(policy.CategoryAllowedMediaDirs, fstype) {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return dir, nil
		}
	}
	return "", mnterr.New(mnterr.InvalidArgument, "no configured allowed_media_dirs entry exists and is accessible")
}

// ValidateExplicit enforces §4.4's rules on a caller-supplied mount point:
// it must be a directory, not a symlink, not already mounted, and either
// root-owned or owned by the caller.
func ValidateExplicit(table *mounttable.Table, mountPoint string, callerUID int) error {
	lst, err := os.Lstat(mountPoint)
	if err != nil {
		return mnterr.Wrap(mnterr.InvalidArgument, err, "stat mount point %q", mountPoint)
	}
	if lst.Mode()&os.ModeSymlink != 0 {
		return mnterr.New(mnterr.InvalidArgument, "mount point %q must not be a symbolic link", mountPoint)
	}
	if !lst.IsDir() {
		return mnterr.New(mnterr.InvalidArgument, "mount point %q must be a directory", mountPoint)
	}
	if table != nil && table.IsMounted(mountPoint) {
		return mnterr.New(mnterr.AlreadyMounted, "mount point %q is already mounted", mountPoint)
	}
	owner, err := ownerUID(mountPoint)
	if err != nil {
		return err
	}
	if owner != 0 && owner != callerUID {
		return mnterr.New(mnterr.InvalidArgument, "mount point %q is owned by neither root nor the caller", mountPoint)
	}
	return nil
}

// EnsureUserMediaDir creates the conventional per-user directory
// /run/media/<username> on demand, with ACL u:<username>:rx, falling back
// to mode 0755 if ACL setup fails (§4.4). Parent directories are created
// with mode 0755, owned by root.
func EnsureUserMediaDir(ctx context.Context, run Execer, setfaclPath, username string) (string, error) {
	dir := filepath.Join("/run/media", username)
	if _, err := os.Stat(dir); err == nil {
		return dir, nil
	}

	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", mnterr.Wrap(mnterr.ResourceError, err, "creating %q", parent)
	}
	if err := os.Mkdir(dir, 0o755); err != nil && !os.IsExist(err) {
		return "", mnterr.Wrap(mnterr.ResourceError, err, "creating %q", dir)
	}

	if setfaclPath != "" {
		acl := fmt.Sprintf("u:%s:rx", username)
		if _, err := run.Privileged(ctx, setfaclPath, "-m", acl, dir); err != nil {
			os.Chmod(dir, 0o755)
		}
	}
	return dir, nil
}

// ResolveCollision appends "-2", "-3", ... to name until it finds an entry
// under baseDir that either does not exist or is reusable (a core-created,
// currently-unmounted directory owned by the caller), per §4.4.
func ResolveCollision(table *mounttable.Table, baseDir, name string, callerUID int) (string, error) {
	candidate := name
	for i := 2; i <= 1000; i++ {
		full := filepath.Join(baseDir, candidate)
		st, err := os.Lstat(full)
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err == nil && st.IsDir() && isReusable(table, full, callerUID) {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", name, i)
	}
	return "", mnterr.New(mnterr.ResourceError, "could not find an unused mount-point name derived from %q", name)
}

// isReusable reports whether an existing directory at path is a stale,
// core-created mount point: it carries the marker file and is not
// currently mounted.
func isReusable(table *mounttable.Table, path string, callerUID int) bool {
	if table != nil && table.IsMounted(path) {
		return false
	}
	owner, err := ownerUID(path)
	if err != nil {
		return false
	}
	if owner != callerUID && owner != 0 {
		return false
	}
	return HasMarker(path)
}

func ownerUID(path string) (int, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, mnterr.Wrap(mnterr.ResourceError, err, "stat %q", path)
	}
	return int(st.Uid), nil
}
