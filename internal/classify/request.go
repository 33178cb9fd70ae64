// Package classify implements the data model's Request and Classified
// target types and the target classifier of §4.3: it inspects the first
// positional argument and produces exactly one of {block device, regular
// file, directory, network URL, tmpfs/ramfs sentinel, missing path}.
package classify

import (
	"os"

	"github.com/google/uuid"

	"go-udevil/internal/deviceinfo"
	"go-udevil/internal/mnterr"
	"go-udevil/internal/netshare"
)

// Operation is one of the two operations the core performs.
type Operation string

const (
	Mount   Operation = "mount"
	Unmount Operation = "unmount"
)

// Request is the data model's "Request": one mount or unmount operation.
type Request struct {
	Operation      Operation
	Target         string // device path, file path, directory, or URL
	MountPoint     string // optional explicit mount point
	FstypeOverride string // optional filesystem-type override
	Options        string // optional mount-option string
	Label          string // optional, reserved
	UUID           string // optional, reserved, not required by the core
	Force          bool   // unmount only
	Lazy           bool   // unmount only
}

// Validate enforces the Request invariants: at least one of Target or
// MountPoint is present; Force/Lazy are meaningful only for Unmount.
func (r Request) Validate() error {
	if r.Target == "" && r.MountPoint == "" {
		return mnterr.New(mnterr.InvalidArgument, "at least one of target or mount point is required")
	}
	if r.Operation != Mount && r.Operation != Unmount {
		return mnterr.New(mnterr.InvalidArgument, "operation must be mount or unmount, got %q", r.Operation)
	}
	if r.UUID != "" {
		if _, err := uuid.Parse(r.UUID); err != nil {
			return mnterr.New(mnterr.InvalidArgument, "UUID %q is not well-formed", r.UUID)
		}
	}
	return nil
}

// EffectiveForceLazy returns (Force, Lazy) but forces both false on a
// Mount request, since §3 says "force/lazy ignored on mount" rather than
// rejecting a caller who set them by habit.
func (r Request) EffectiveForceLazy() (force, lazy bool) {
	if r.Operation != Unmount {
		return false, false
	}
	return r.Force, r.Lazy
}

// Kind tags the variant a Target holds.
type Kind int

const (
	KindBlockDevice Kind = iota
	KindRegularFile
	KindDirectory
	KindNetworkShare
	KindTmpfsSentinel
	KindMissing
)

func (k Kind) String() string {
	switch k {
	case KindBlockDevice:
		return "block-device"
	case KindRegularFile:
		return "regular-file"
	case KindDirectory:
		return "directory"
	case KindNetworkShare:
		return "network-share"
	case KindTmpfsSentinel:
		return "tmpfs-sentinel"
	case KindMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// Target is the data model's "Classified target" tagged variant.
type Target struct {
	Kind Kind

	CanonicalPath string // BlockDevice, RegularFile, Directory, Missing

	DeviceInfo *deviceinfo.Snapshot // BlockDevice
	File       *os.File             // RegularFile; held open until the mount syscall completes
	Network    *netshare.URL        // NetworkShare
	TmpfsName  string               // TmpfsSentinel: "tmpfs" or "ramfs"
}

// Close releases any resource the Target holds (the RegularFile's open
// descriptor). Safe to call on every variant and more than once.
func (t *Target) Close() error {
	if t == nil || t.File == nil {
		return nil
	}
	err := t.File.Close()
	t.File = nil
	return err
}
