package loopdevice

import (
	"os"

	"golang.org/x/sys/unix"
)

// defaultLockFile serializes concurrent "losetup -f" races the way the
// original implementation locks around loop setup: two invocations
// racing for a free slot can otherwise both observe the same device name
// before either attaches to it.
//
// Adapted from pkg/util/fs/lock's Exclusive/Release flock pair, trimmed to
// the single whole-file exclusive lock this package needs (the byte-range
// variant that pair also offered has no caller here).
const defaultLockFile = "/run/lock/udevil-loop-setup"

// withFreeDeviceLock runs fn while holding an exclusive flock on path,
// creating path if necessary. If the lock cannot be acquired (missing
// directory, read-only filesystem, unsupported filesystem), it logs
// nothing and simply runs fn unlocked: serialization narrows a race
// window that losetup itself does not close atomically either, so a
// best-effort lock is strictly better than none but never required for
// correctness.
func withFreeDeviceLock(path string, fn func() (string, error)) (string, error) {
	fd, err := exclusiveLock(path)
	if err != nil {
		return fn()
	}
	defer releaseLock(fd)
	return fn()
}

func exclusiveLock(path string) (int, error) {
	fd, err := unix.Open(path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return -1, err
	}
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func releaseLock(fd int) {
	unix.Flock(fd, unix.LOCK_UN)
	unix.Close(fd)
}
