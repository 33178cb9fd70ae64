// Package orchestrator implements the mount orchestrator state machine
// (component E, §4.5): it combines the target classifier, policy
// evaluator, and path & point manager to perform one mount or unmount,
// including loop-device attachment for file-backed mounts and the
// unprivileged fast path.
//
// Grounded on the single-invocation, no-retry control flow of §4.5's state
// diagram; styled after the teacher's CLI command handlers, which thread a
// single *testing-friendly* dependency struct through one linear
// operation rather than a long-lived service object.
package orchestrator

import (
	"context"
	"path/filepath"
	"strings"

	"go-udevil/internal/classify"
	"go-udevil/internal/deviceinfo"
	"go-udevil/internal/loopdevice"
	"go-udevil/internal/mnterr"
	"go-udevil/internal/mountpoint"
	"go-udevil/internal/mounttable"
	"go-udevil/internal/netshare"
	"go-udevil/internal/pathutil"
	"go-udevil/internal/policy"
	"go-udevil/internal/privilege"
	"go-udevil/internal/ulog"
)

// Paths configures the external utilities driven directly by the
// orchestrator (the loop utility is configured separately through
// loopdevice.Paths, reused verbatim here).
type Paths struct {
	Mount   string
	Umount  string
	Setfacl string
	Loop    loopdevice.Paths
}

func (p Paths) mount() string {
	if p.Mount == "" {
		return "/bin/mount"
	}
	return p.Mount
}

func (p Paths) umount() string {
	if p.Umount == "" {
		return "/bin/umount"
	}
	return p.Umount
}

func (p Paths) setfacl() string {
	if p.Setfacl == "" {
		return "/usr/bin/setfacl"
	}
	return p.Setfacl
}

// Orchestrator holds every collaborator §4.5's state machine drives. One
// value is built per invocation; nothing here is safe to share across
// concurrent requests without serialization upstream (§5 "single-threaded,
// single-process per invocation").
type Orchestrator struct {
	Exec       Execer
	Gate       *privilege.Gate
	Policy     *policy.Snapshot
	DeviceInfo deviceinfo.Lookup
	Table      *mounttable.Table
	Groups     policy.GroupLookup

	HasCurlftpfs netshare.HasCurlftpfs
	Paths        Paths

	Username string
	UID, GID int

	// CommandLine is the original invocation, passed verbatim to every
	// hook program (§6 "<original-command-line>").
	CommandLine string
}

// Result reports what was mounted or unmounted.
type Result struct {
	Source     string
	MountPoint string
}

func (o *Orchestrator) expandContext() policy.ExpandContext {
	return policy.ExpandContext{User: o.Username, UID: o.UID, GID: o.GID}
}

// Run executes one request end to end per §4.5's state diagram.
func (o *Orchestrator) Run(ctx context.Context, req classify.Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		target *classify.Target
		err    error
	)
	if req.Operation == classify.Unmount {
		target, err = classify.Classify(ctx, req, o.DeviceInfo, o.HasCurlftpfs, true)
		if err != nil {
			return nil, err
		}
		defer target.Close()
	}

	if res, ok := o.tryUnprivileged(ctx, req); ok {
		return res, nil
	}

	if target == nil {
		target, err = classify.Classify(ctx, req, o.DeviceInfo, o.HasCurlftpfs, false)
		if err != nil {
			return nil, err
		}
		defer target.Close()
	}

	if req.Operation == classify.Mount {
		return o.mount(ctx, req, target)
	}
	return o.unmount(ctx, req, target)
}

// tryUnprivileged implements the "Unprivileged fast path" (§4.5): before
// elevating, attempt the operation as the caller, relying on an existing
// administrator-authored fstab/mtab entry. Any failure here is silently
// not "known" rather than a hard error; the caller falls through to the
// fully-classified path.
func (o *Orchestrator) tryUnprivileged(ctx context.Context, req classify.Request) (*Result, bool) {
	target := req.Target
	if target == "" {
		target = req.MountPoint
	}

	if req.Operation == classify.Mount {
		if _, err := o.Exec.AsCaller(ctx, o.Paths.mount(), "-f", target); err != nil {
			return nil, false
		}
		if _, err := o.Exec.AsCaller(ctx, o.Paths.mount(), target); err != nil {
			return nil, false
		}
		res := o.resolveFastPathResult(target)
		o.runSuccessHooks(ctx, mountMessage(res.Source, res.MountPoint))
		return res, true
	}

	force, lazy := req.EffectiveForceLazy()
	args := unmountArgs(target, force, lazy)
	if _, err := o.Exec.AsCaller(ctx, o.Paths.umount(), args...); err != nil {
		return nil, false
	}
	o.runSuccessHooks(ctx, unmountMessage(target))
	return &Result{Source: target}, true
}

// resolveFastPathResult reports the (source, mount point) pair for a
// target string that succeeded via fstab, by consulting the in-memory
// mount table for whichever side (source or mount point) target did not
// name directly.
func (o *Orchestrator) resolveFastPathResult(target string) *Result {
	if o.Table == nil {
		return &Result{Source: target, MountPoint: target}
	}
	if mp, ok := o.Table.MountPointForSource(target); ok {
		return &Result{Source: target, MountPoint: mp}
	}
	if _, _, ok := o.Table.DeviceForMountPoint(target); ok {
		return &Result{Source: target, MountPoint: target}
	}
	return &Result{Source: target, MountPoint: target}
}

func unmountArgs(target string, force, lazy bool) []string {
	args := []string{}
	if force {
		args = append(args, "-f")
	}
	if lazy {
		args = append(args, "-l")
	}
	args = append(args, target)
	return args
}

// mount drives the full privileged path: ResolveFstype, ResolveMountPoint,
// PolicyGate, RunValidateHooks, MountSyscall (with AttachLoop for
// RegularFile), RunSuccessHooks, Cleanup.
func (o *Orchestrator) mount(ctx context.Context, req classify.Request, target *classify.Target) (*Result, error) {
	if target.Kind == classify.KindDirectory || target.Kind == classify.KindMissing {
		return nil, mnterr.New(mnterr.InvalidArgument, "a directory or missing path cannot be the source of a mount")
	}

	fstype, err := o.resolveFstype(req, target)
	if err != nil {
		return nil, err
	}

	isRemount := hasOption(req.Options, "remount")

	var mountPoint string
	var created bool
	if isRemount {
		if err := o.validateRemount(target, fstype); err != nil {
			return nil, err
		}
		mountPoint, err = o.resolveExistingMountPoint(req, target)
		if err != nil {
			return nil, err
		}
	} else {
		mountPoint, created, err = o.resolveMountPoint(ctx, req, target, fstype)
		if err != nil {
			return nil, err
		}
	}

	rollback := func() {
		if created {
			mountpoint.Rollback(ctx, o.Gate, mountPoint)
		}
	}

	if err := o.policyGate(ctx, req, target, fstype, mountPoint); err != nil {
		rollback()
		return nil, err
	}

	options := assembleOptions(o.Policy, target, fstype, req.Options, o.expandContext())
	if err := validateOptionString(o.Policy, fstype, options); err != nil {
		rollback()
		return nil, err
	}

	if err := o.runValidateHooks(ctx, mountMessage(sourceOf(target), mountPoint)); err != nil {
		rollback()
		return nil, err
	}

	var attachment *loopdevice.Attachment
	source := sourceOf(target)
	if target.Kind == classify.KindRegularFile {
		attachment, err = loopdevice.Attach(ctx, o.Exec, o.Paths.Loop, target.File, target.CanonicalPath)
		if err != nil {
			rollback()
			return nil, err
		}
		source = attachment.Device
		if target.ReadOnly() && !hasOption(options, "ro") {
			options = appendOption(options, "ro")
		}
	}

	if err := o.mountSyscall(ctx, target, fstype, options, source, mountPoint); err != nil {
		if attachment != nil {
			loopdevice.Detach(ctx, o.Exec, o.Paths.Loop, attachment)
		}
		rollback()
		return nil, err
	}

	if created {
		mountpoint.ApplyFinalMode(ctx, o.Gate, mountPoint, o.Policy.MountPointMode())
	}

	o.runSuccessHooks(ctx, mountMessage(source, mountPoint))
	return &Result{Source: source, MountPoint: mountPoint}, nil
}

// mountSyscall performs the actual privileged mount(8) invocation. For a
// cifs/smbfs network share carrying no credentials, it implements §4.5's
// credential-fallback retry: each candidate option from
// cifsCredentialFallbacks is appended and tried in order until one succeeds
// or the list is exhausted, surfacing the last failure.
func (o *Orchestrator) mountSyscall(ctx context.Context, target *classify.Target, fstype, options, source, mountPoint string) error {
	if target.Kind == classify.KindNetworkShare && target.Network.User == "" {
		switch netshare.Type(fstype) {
		case netshare.CIFS, netshare.SMBFS:
			fallbacks := cifsCredentialFallbacks(o.Policy, fstype, o.Username)
			if len(fallbacks) > 0 {
				var lastErr error
				for _, fb := range fallbacks {
					_, lastErr = o.Exec.Privileged(ctx, o.Paths.mount(), "-t", fstype, "-o", appendOption(options, fb), source, mountPoint)
					if lastErr == nil {
						return nil
					}
				}
				return lastErr
			}
		}
	}

	_, err := o.Exec.Privileged(ctx, o.Paths.mount(), "-t", fstype, "-o", options, source, mountPoint)
	return err
}

// unmount implements §4.5 "Unmount resolution": directory targets resolve
// to their backing device via the in-memory table, file targets resolve to
// any loop device bound to them (re-checking file policy), and a loop
// device named directly reverse-resolves to its backing file.
func (o *Orchestrator) unmount(ctx context.Context, req classify.Request, target *classify.Target) (*Result, error) {
	source := target.CanonicalPath
	var attachment *loopdevice.Attachment

	switch target.Kind {
	case classify.KindRegularFile:
		if err := o.recheckFilePolicy(target.CanonicalPath); err != nil {
			return nil, err
		}
		dev, ok, err := loopdevice.QueryByBackingFile(ctx, o.Exec, o.Paths.Loop, target.CanonicalPath)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, mnterr.New(mnterr.NotMounted, "%q is not attached to any loop device", target.CanonicalPath)
		}
		source = dev
		attachment = &loopdevice.Attachment{BackingFile: target.CanonicalPath, Device: dev}

	case classify.KindBlockDevice:
		if strings.HasPrefix(target.CanonicalPath, "/dev/loop") {
			if backing, ok := o.reverseResolveLoop(ctx, target.CanonicalPath); ok {
				if err := o.recheckFilePolicy(backing); err != nil {
					return nil, err
				}
				attachment = &loopdevice.Attachment{BackingFile: backing, Device: target.CanonicalPath}
			}
		}

	case classify.KindDirectory:
		if o.Table != nil {
			if major, minor, ok := o.Table.DeviceForMountPoint(target.CanonicalPath); ok {
				if info, err := o.DeviceInfo.ByMajorMinor(ctx, major, minor); err == nil {
					source = info.CanonicalPath
				}
			}
		}

	case classify.KindNetworkShare:
		source = target.Network.Canonical

	case classify.KindMissing:
		// no backing device to resolve; pass the canonical path through
		// and let umount report "not mounted" if the table agrees.
	}

	if err := o.runValidateHooks(ctx, unmountMessage(source)); err != nil {
		return nil, err
	}

	force, lazy := req.EffectiveForceLazy()
	umountTarget := source
	if target.Kind == classify.KindDirectory {
		umountTarget = target.CanonicalPath
	}
	args := unmountArgs(umountTarget, force, lazy)
	if _, err := o.Exec.Privileged(ctx, o.Paths.umount(), args...); err != nil {
		return nil, err
	}

	if attachment != nil {
		if err := loopdevice.Detach(ctx, o.Exec, o.Paths.Loop, attachment); err != nil {
			return nil, err
		}
	}

	o.runSuccessHooks(ctx, unmountMessage(source))
	return &Result{Source: source}, nil
}

// reverseResolveLoop looks up loopPath in `losetup -a` to find its
// backing file, for unmounting a loop device named directly.
func (o *Orchestrator) reverseResolveLoop(ctx context.Context, loopPath string) (string, bool) {
	entries, err := loopdevice.Enumerate(ctx, o.Exec, o.Paths.Loop)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.Device == loopPath {
			return e.BackingFile, true
		}
	}
	return "", false
}

// recheckFilePolicy re-applies allowed_files/forbidden_files to a file
// being unmounted via its loop device (§4.5 "the file's allowed_files /
// forbidden_files policy is re-checked").
func (o *Orchestrator) recheckFilePolicy(canonicalPath string) error {
	if policy.ListMatch(o.Policy, policy.CategoryForbiddenFiles, "", canonicalPath) {
		return mnterr.Denied(policy.CategoryForbiddenFiles, "%q is on the forbidden-files list", canonicalPath)
	}
	if o.Policy.HasCategory(policy.CategoryAllowedFiles, "") &&
		!policy.ListMatch(o.Policy, policy.CategoryAllowedFiles, "", canonicalPath) {
		return mnterr.Denied(policy.CategoryAllowedFiles, "%q is not on the allowed-files list", canonicalPath)
	}
	return nil
}

// resolveFstype implements "ResolveFstype (explicit, or from device info,
// or from mount table for a stale CD)".
func (o *Orchestrator) resolveFstype(req classify.Request, target *classify.Target) (string, error) {
	if req.FstypeOverride != "" {
		return req.FstypeOverride, nil
	}
	switch target.Kind {
	case classify.KindBlockDevice:
		fstype := target.DeviceInfo.EffectiveFstype()
		if fstype != "" {
			return fstype, nil
		}
		if o.Table != nil {
			for _, e := range o.Table.Entries() {
				if e.Source == target.CanonicalPath {
					return e.FilesystemType, nil
				}
			}
		}
		return "", mnterr.New(mnterr.Classification, "no filesystem type reported for %q and no override given", target.CanonicalPath)
	case classify.KindNetworkShare:
		return string(target.Network.Type), nil
	case classify.KindTmpfsSentinel:
		return target.TmpfsName, nil
	case classify.KindRegularFile:
		return "", mnterr.New(mnterr.Classification, "a filesystem-type override is required to mount a regular file")
	default:
		return "", mnterr.New(mnterr.Classification, "cannot resolve a filesystem type for %v", target.Kind)
	}
}

// resolveMountPoint implements §4.4's "Mount-point selection" and
// "Mount-point naming", returning whether the directory was freshly
// created (and so must be rolled back on failure).
func (o *Orchestrator) resolveMountPoint(ctx context.Context, req classify.Request, target *classify.Target, fstype string) (path string, created bool, err error) {
	if req.MountPoint != "" {
		canonical, err := pathutil.Canonicalize(req.MountPoint)
		if err != nil {
			return "", false, err
		}
		if err := mountpoint.ValidateExplicit(o.Table, canonical, o.UID); err != nil {
			return "", false, err
		}
		return canonical, false, nil
	}

	baseDir, err := mountpoint.SelectMediaDir(o.Policy, fstype)
	if err != nil {
		baseDir, err = mountpoint.EnsureUserMediaDir(ctx, o.Exec, o.Paths.setfacl(), o.Username)
		if err != nil {
			return "", false, err
		}
	}

	name, err := o.deriveName(target)
	if err != nil {
		return "", false, err
	}

	name, err = mountpoint.ResolveCollision(o.Table, baseDir, name, o.UID)
	if err != nil {
		return "", false, err
	}

	full := filepath.Join(baseDir, name)
	if !pathutil.Exists(full) {
		if err := mountpoint.Create(ctx, o.Gate, full); err != nil {
			return "", false, err
		}
		return full, true, nil
	}
	return full, false, nil
}

// resolveExistingMountPoint implements the remount restriction's mount-point
// half: the existing mount point of the device or network share is looked
// up in the in-memory table by source identity; no directory is ever
// created or honored here. A caller-supplied req.MountPoint is logged and
// ignored, matching the original's "specified mount point with remount
// ignored".
func (o *Orchestrator) resolveExistingMountPoint(req classify.Request, target *classify.Target) (string, error) {
	if req.MountPoint != "" {
		ulog.Warningf("specified mount point with remount ignored")
	}
	if o.Table == nil {
		return "", mnterr.New(mnterr.NotMounted, "%q is not currently mounted", sourceOf(target))
	}
	mp, ok := o.Table.MountPointForSource(sourceOf(target))
	if !ok {
		return "", mnterr.New(mnterr.NotMounted, "%q is not currently mounted", sourceOf(target))
	}
	return mp, nil
}

func (o *Orchestrator) deriveName(target *classify.Target) (string, error) {
	switch target.Kind {
	case classify.KindBlockDevice:
		info := target.DeviceInfo
		return mountpoint.DeviceName(info.Label, info.ByIDLink, filepath.Base(info.CanonicalPath), info.UUID)
	case classify.KindNetworkShare:
		return mountpoint.NetworkName(string(target.Network.Type), target.Network.Host, target.Network.Path)
	case classify.KindRegularFile:
		return mountpoint.DeviceName("", "", filepath.Base(target.CanonicalPath), "")
	case classify.KindTmpfsSentinel:
		return mountpoint.DeviceName("", "", target.TmpfsName, "")
	default:
		return "", mnterr.New(mnterr.InvalidArgument, "cannot derive a mount-point name for %v", target.Kind)
	}
}

// validateRemount implements the "Remount restriction": rejected for
// ftpfs/curlftpfs/sshfs and for files; requires an existing mount named by
// device or network URL; any caller-supplied mount point is ignored.
func (o *Orchestrator) validateRemount(target *classify.Target, fstype string) error {
	switch netshare.Type(fstype) {
	case netshare.FTPFS, netshare.CURLFTPFS, netshare.SSHFS:
		return mnterr.New(mnterr.InvalidArgument, "remount is not supported for filesystem type %q", fstype)
	}
	if target.Kind == classify.KindRegularFile {
		return mnterr.New(mnterr.InvalidArgument, "remount is not supported for file-backed mounts")
	}
	if target.Kind != classify.KindBlockDevice && target.Kind != classify.KindNetworkShare {
		return mnterr.New(mnterr.InvalidArgument, "remount requires an existing mount named by device or network URL")
	}
	return nil
}

func sourceOf(target *classify.Target) string {
	switch target.Kind {
	case classify.KindBlockDevice, classify.KindRegularFile:
		return target.CanonicalPath
	case classify.KindNetworkShare:
		return target.Network.Canonical
	case classify.KindTmpfsSentinel:
		return target.TmpfsName
	default:
		return target.CanonicalPath
	}
}

func appendOption(options, opt string) string {
	if options == "" {
		return opt
	}
	return options + "," + opt
}
