// Package deviceinfo defines the small interface the classifier and
// orchestrator consume from the out-of-scope device-information reader
// (§6 "Device-info collaborator") and a minimal sysfs/blkid-backed
// implementation of it.
//
// spec.md places the full device-database reader out of scope; this
// package only needs to expose the fixed snapshot shape §6 specifies and a
// reasonable Linux sysfs-backed default so the orchestrator is runnable
// end to end.
package deviceinfo

import "context"

// Interface family, used by ConnectionInterface.
type Interface string

const (
	ATA      Interface = "ata"
	SCSI     Interface = "scsi"
	USB      Interface = "usb"
	Firewire Interface = "firewire"
	SDIO     Interface = "sdio"
	Platform Interface = "platform"
	Unknown  Interface = "unknown"
)

// Snapshot is the fixed record shape §6 specifies: "canonical device path;
// major/minor; label; UUID; filesystem type; current mount point list;
// 'system internal' boolean; 'media available' boolean; by-id link; for
// partitions, scheme and number; for drives, connection interface family;
// removable flag."
type Snapshot struct {
	CanonicalPath string
	Major, Minor  int
	Label         string
	UUID          string
	Fstype        string
	MountPoints   []string
	SystemInternal bool
	MediaAvailable bool
	ByIDLink       string

	IsPartition    bool
	PartitionScheme string
	PartitionNumber int

	ConnectionInterface Interface
	Removable           bool

	// MediaCompatibilityList is consulted when MediaAvailable is false and
	// unset, per spec.md §9's open question: the original falls back to
	// the first entry of this list, preserved as-is rather than resolved
	// with a "best match" heuristic.
	MediaCompatibilityList []string
}

// Lookup resolves a device-info Snapshot given either a device path or a
// sysfs path, matching §6's "given either a device number or a sysfs
// path."
type Lookup interface {
	ByDevicePath(ctx context.Context, canonicalPath string) (*Snapshot, error)
	ByMajorMinor(ctx context.Context, major, minor int) (*Snapshot, error)
}

// EffectiveFstype returns the snapshot's reported filesystem type, or, if
// that is empty, the first entry of a fallback media-compatibility list,
// reproducing the original's ambiguous-but-preserved behavior (§9).
func (s *Snapshot) EffectiveFstype() string {
	if s.Fstype != "" {
		return s.Fstype
	}
	if !s.MediaAvailable && len(s.MediaCompatibilityList) > 0 {
		return s.MediaCompatibilityList[0]
	}
	return ""
}
