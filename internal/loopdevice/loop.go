// Package loopdevice implements the loop-attachment lifecycle of the data
// model: a (backing-file canonical path, loop device path, held file
// descriptor) triple, attached via /dev/fd/<N> uniformly so the kernel sees
// the exact inode the core authorized (§4.6, and the design notes' explicit
// correction of the original's partial /proc/self/fd binding).
//
// Unlike the source this is grounded on — which drives CmdSetFd and friends
// through direct ioctl(2) calls — loop setup here goes entirely through the
// losetup(8) utility, per the core's non-goal of no in-process mount
// syscalls. The Attachment type and its attach/detach/query shape are
// adapted from that ioctl-based Device, not its implementation.
package loopdevice

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"go-udevil/internal/mnterr"
	"go-udevil/internal/pathutil"
	"go-udevil/internal/sysutil"
)

// Attachment is the data model's "Loop attachment" triple.
type Attachment struct {
	BackingFile string   // canonical path of the file backing the loop device
	Device      string   // e.g. "/dev/loop3"
	fd          *os.File // held open until Close/unmount completes
}

// Entry is one row of `losetup -a`.
type Entry struct {
	Device      string
	BackingFile string
}

// Paths configures the losetup binary location; the core's external
// utility paths are administrator-configurable (§6). LockFile overrides
// the flock path FreeDevice uses to serialize concurrent free-slot
// searches; empty uses defaultLockFile.
type Paths struct {
	Losetup  string
	LockFile string
}

func (p Paths) lockFile() string {
	if p.LockFile == "" {
		return defaultLockFile
	}
	return p.LockFile
}

// Execer is the narrow slice of *sysutil.Runner this package depends on,
// so the orchestrator's own Execer interface can be passed straight
// through without an adapter, and tests can supply a fake that never
// forks a process.
type Execer interface {
	Privileged(ctx context.Context, path string, args ...string) (sysutil.Result, error)
}

func (p Paths) losetup() string {
	if p.Losetup == "" {
		return "/sbin/losetup"
	}
	return p.Losetup
}

// FreeDevice asks the loop utility for an unused loop device name
// (§4.6 step 1: "losetup -f").
func FreeDevice(ctx context.Context, run Execer, p Paths) (string, error) {
	return withFreeDeviceLock(p.lockFile(), func() (string, error) {
		res, err := run.Privileged(ctx, p.losetup(), "-f")
		if err != nil {
			return "", err
		}
		dev := strings.TrimSpace(res.Stdout)
		if dev == "" {
			return "", mnterr.New(mnterr.ExternalFailure, "losetup -f returned no device name")
		}
		return dev, nil
	})
}

// Attach implements §4.6 steps 1-3: it obtains a free loop device, re-
// canonicalizes /dev/fd/<held-fd> and requires it to match backingFile (the
// path authorized by the policy gate before this call), then attaches the
// loop device against that /dev/fd/ path only — never against the
// filesystem path a second time, closing the rename race the data model's
// Loop attachment invariant exists to prevent.
func Attach(ctx context.Context, run Execer, p Paths, fd *os.File, backingFile string) (*Attachment, error) {
	devFdPath := fmt.Sprintf("/dev/fd/%d", fd.Fd())

	if err := pathutil.Recheck(devFdPath, backingFile); err != nil {
		return nil, err
	}

	dev, err := FreeDevice(ctx, run, p)
	if err != nil {
		return nil, err
	}

	if _, err := run.Privileged(ctx, p.losetup(), dev, devFdPath); err != nil {
		return nil, mnterr.Wrap(mnterr.ExternalFailure, err, "attaching %s to %s", devFdPath, dev)
	}

	return &Attachment{BackingFile: backingFile, Device: dev, fd: fd}, nil
}

// Detach releases a, invoked on any failure downstream of Attach (§4.6 "if
// any step after step 3 fails, the loop device is detached") and on a
// successful unmount of a file-backed mount.
func Detach(ctx context.Context, run Execer, p Paths, a *Attachment) error {
	if a == nil {
		return nil
	}
	_, err := run.Privileged(ctx, p.losetup(), "-d", a.Device)
	if err != nil {
		return mnterr.Wrap(mnterr.ExternalFailure, err, "detaching %s", a.Device)
	}
	return nil
}

// QueryByBackingFile asks losetup which loop device, if any, is currently
// bound to backingFile ("losetup -j <path>"), used both by the unmount-of-a-
// file resolution path and by testable property 4 ("on failure after
// attachment, losetup -j does not list L").
func QueryByBackingFile(ctx context.Context, run Execer, p Paths, backingFile string) (string, bool, error) {
	res, err := run.Privileged(ctx, p.losetup(), "-j", backingFile)
	if err != nil {
		return "", false, err
	}
	entries, err := parseLosetupList(res.Stdout)
	if err != nil {
		return "", false, err
	}
	if len(entries) == 0 {
		return "", false, nil
	}
	return entries[0].Device, true, nil
}

// Enumerate lists every attached loop device ("losetup -a"), used to
// reverse-resolve a loop device target to its backing file when the caller
// asks to unmount the loop device directly (§4.5 "Unmount resolution").
func Enumerate(ctx context.Context, run Execer, p Paths) ([]Entry, error) {
	res, err := run.Privileged(ctx, p.losetup(), "-a")
	if err != nil {
		return nil, err
	}
	return parseLosetupList(res.Stdout)
}

// parseLosetupList parses losetup's traditional line format:
//
//	/dev/loop3: [0045]:1234567 (/home/alice/cd.iso)
func parseLosetupList(out string) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		colon := strings.Index(line, ":")
		if colon < 0 {
			continue
		}
		dev := strings.TrimSpace(line[:colon])
		open := strings.Index(line, "(")
		close := strings.LastIndex(line, ")")
		if open < 0 || close < 0 || close < open {
			continue
		}
		backing := strings.TrimSpace(line[open+1 : close])
		// losetup appends " (deleted)" when the backing file has been
		// unlinked; strip it so callers compare against a live path.
		backing = strings.TrimSuffix(backing, " (deleted)")
		entries = append(entries, Entry{Device: dev, BackingFile: backing})
	}
	if err := scanner.Err(); err != nil {
		return nil, mnterr.Wrap(mnterr.ExternalFailure, err, "parsing losetup output")
	}
	return entries, nil
}
