package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go-udevil/internal/classify"
	"go-udevil/internal/loopdevice"
	"go-udevil/internal/mnterr"
	"go-udevil/internal/policy"
)

// policyGate implements §4.5's "Policy gate, in order" checks 1-6; check 7
// (option string) is applied separately once options have been assembled,
// since assembly itself depends on fstype and the target already having
// passed this gate.
func (o *Orchestrator) policyGate(ctx context.Context, req classify.Request, target *classify.Target, fstype, mountPoint string) error {
	if !policy.ListMatch(o.Policy, policy.CategoryAllowedTypes, "", fstype) {
		return mnterr.Denied(policy.CategoryAllowedTypes, "filesystem type %q is not permitted", fstype)
	}

	if o.Policy.HasCategory(policy.CategoryAllowedUsers, fstype) {
		uidForm := fmt.Sprintf("UID=%d", o.UID)
		if !policy.ListMatch(o.Policy, policy.CategoryAllowedUsers, fstype, o.Username) &&
			!policy.ListMatch(o.Policy, policy.CategoryAllowedUsers, fstype, uidForm) {
			return mnterr.Denied(policy.CategoryAllowedUsers, "user %q is not permitted to mount filesystem type %q", o.Username, fstype)
		}
	}

	if o.Policy.HasCategory(policy.CategoryAllowedGroups, fstype) {
		ok, err := policy.GroupMatch(o.Policy, policy.CategoryAllowedGroups, fstype, o.Username, o.UID, o.Groups)
		if err != nil {
			return err
		}
		if !ok {
			return mnterr.Denied(policy.CategoryAllowedGroups, "user %q is not a member of any group permitted to mount filesystem type %q", o.Username, fstype)
		}
	}

	if err := o.checkDeviceLists(target, fstype); err != nil {
		return err
	}

	if err := o.checkSystemInternal(ctx, target); err != nil {
		return err
	}

	if req.MountPoint != "" {
		parent := filepath.Dir(mountPoint)
		if !policy.ListMatch(o.Policy, policy.CategoryAllowedMediaDirs, fstype, parent) {
			return mnterr.Denied(policy.CategoryAllowedMediaDirs, "%q is not under an allowed media directory", mountPoint)
		}
	}

	return nil
}

// checkDeviceLists implements policy-gate check 4: the device, network
// host, or file must appear in its positive list (if one is configured)
// and must not appear in the matching negative list.
func (o *Orchestrator) checkDeviceLists(target *classify.Target, fstype string) error {
	var positive, negative, candidate string
	switch target.Kind {
	case classify.KindBlockDevice:
		positive, negative, candidate = policy.CategoryAllowedDevices, policy.CategoryForbiddenDevices, target.CanonicalPath
	case classify.KindNetworkShare:
		positive, negative, candidate = policy.CategoryAllowedNetworks, policy.CategoryForbiddenNetworks, target.Network.Host
	case classify.KindRegularFile:
		positive, negative, candidate = policy.CategoryAllowedFiles, policy.CategoryForbiddenFiles, target.CanonicalPath
	default:
		return nil
	}

	if policy.ListMatch(o.Policy, negative, fstype, candidate) {
		return mnterr.Denied(negative, "%q is on the %s list", candidate, negative)
	}
	if o.Policy.HasCategory(positive, fstype) && !policy.ListMatch(o.Policy, positive, fstype, candidate) {
		return mnterr.Denied(positive, "%q is not on the %s list", candidate, positive)
	}
	return nil
}

// checkSystemInternal implements policy-gate check 5: a block device the
// device-info service marks "system internal" additionally requires
// listing in allowed_internal_devices or allowed_internal_uuids for a
// non-root caller, except that an attached loop device backed by a file on
// allowed_files is accepted regardless (spec's explicit carve-out).
func (o *Orchestrator) checkSystemInternal(ctx context.Context, target *classify.Target) error {
	if target.Kind != classify.KindBlockDevice || o.UID == 0 {
		return nil
	}
	info := target.DeviceInfo
	if info == nil || !info.SystemInternal {
		return nil
	}
	if backing, ok := o.loopBackingFile(ctx, target.CanonicalPath); ok {
		if policy.ListMatch(o.Policy, policy.CategoryAllowedFiles, "", backing) {
			return nil
		}
	}
	byDevice := policy.ListMatch(o.Policy, policy.CategoryAllowedInternalDevices, "", target.CanonicalPath)
	byUUID := info.UUID != "" && policy.ListMatch(o.Policy, policy.CategoryAllowedInternalUUIDs, "", info.UUID)
	if !byDevice && !byUUID {
		return mnterr.Denied(policy.CategoryAllowedInternalDevices, "%q is a system-internal device not on allowed_internal_devices or allowed_internal_uuids", target.CanonicalPath)
	}
	return nil
}

// loopBackingFile resolves devicePath's backing file via losetup -a, if it
// is an attached loop device at all.
func (o *Orchestrator) loopBackingFile(ctx context.Context, devicePath string) (string, bool) {
	if !strings.HasPrefix(devicePath, "/dev/loop") || o.Exec == nil {
		return "", false
	}
	entries, err := loopdevice.Enumerate(ctx, o.Exec, o.Paths.Loop)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.Device == devicePath {
			return e.BackingFile, true
		}
	}
	return "", false
}
