package classify

import (
	"context"
	"os"

	"golang.org/x/sys/unix"

	"go-udevil/internal/deviceinfo"
	"go-udevil/internal/mnterr"
	"go-udevil/internal/netshare"
	"go-udevil/internal/pathutil"
)

// Classify implements §4.3: network URL, then tmpfs/ramfs sentinel, then
// path-based classification by inode type. allowDirectory gates whether a
// Directory result is legal (true only for unmount, per the data model).
func Classify(ctx context.Context, req Request, devinfo deviceinfo.Lookup, hasCurlftpfs netshare.HasCurlftpfs, allowDirectory bool) (*Target, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	target := req.Target
	if target == "" {
		// Unmount by mount point only: classify the mount point itself
		// as the path to resolve (§4.5 "Unmount resolution" operates on
		// whichever of target/mount point was supplied).
		target = req.MountPoint
	}

	if netshare.LooksLikeNetworkTarget(target, req.FstypeOverride) {
		u, err := netshare.Parse(target, req.FstypeOverride, hasCurlftpfs)
		if err != nil {
			return nil, err
		}
		return &Target{Kind: KindNetworkShare, Network: u}, nil
	}

	if (target == "tmpfs" || target == "ramfs") && !pathutil.Exists(target) {
		return &Target{Kind: KindTmpfsSentinel, TmpfsName: target}, nil
	}

	return classifyPath(ctx, target, devinfo, allowDirectory)
}

func classifyPath(ctx context.Context, target string, devinfo deviceinfo.Lookup, allowDirectory bool) (*Target, error) {
	canonical, err := pathutil.Canonicalize(target)
	if err != nil {
		return nil, err
	}

	var st unix.Stat_t
	statErr := unix.Stat(canonical, &st)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			// Missing is legal only for unmount: a device that no longer
			// exists but may still have a mount-table entry.
			return &Target{Kind: KindMissing, CanonicalPath: canonical}, nil
		}
		return nil, mnterr.Wrap(mnterr.ResourceError, statErr, "stat %q", canonical)
	}

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFBLK:
		info, err := devinfo.ByDevicePath(ctx, canonical)
		if err != nil {
			return nil, err
		}
		return &Target{Kind: KindBlockDevice, CanonicalPath: canonical, DeviceInfo: info}, nil

	case unix.S_IFDIR:
		if !allowDirectory {
			return nil, mnterr.New(mnterr.InvalidArgument, "%q is a directory; only a device, file, or network target may be mounted", canonical)
		}
		return &Target{Kind: KindDirectory, CanonicalPath: canonical}, nil

	case unix.S_IFREG:
		return openRegularFile(canonical)

	default:
		return nil, mnterr.New(mnterr.Classification, "%q is neither a block device, directory, nor regular file", canonical)
	}
}

// openRegularFile opens canonical for loop-mounting, holding the
// descriptor open until the mount syscall completes, then re-stats both
// the path and the descriptor and compares (st_dev, st_ino) to detect a
// rename/swap race (§4.3's RegularFile handling).
func openRegularFile(canonical string) (*Target, error) {
	f, err := os.OpenFile(canonical, os.O_RDWR, 0)
	if err != nil {
		f, err = os.OpenFile(canonical, os.O_RDONLY, 0)
	}
	if err != nil {
		return nil, mnterr.Wrap(mnterr.ResourceError, err, "opening %q", canonical)
	}

	var pathStat, fdStat unix.Stat_t
	if err := unix.Stat(canonical, &pathStat); err != nil {
		f.Close()
		return nil, mnterr.Wrap(mnterr.ResourceError, err, "re-stat %q", canonical)
	}
	if err := unix.Fstat(int(f.Fd()), &fdStat); err != nil {
		f.Close()
		return nil, mnterr.Wrap(mnterr.ResourceError, err, "fstat %q", canonical)
	}
	if pathStat.Dev != fdStat.Dev || pathStat.Ino != fdStat.Ino {
		f.Close()
		return nil, mnterr.New(mnterr.InvalidPath, "%q was replaced between open and stat (rename race)", canonical)
	}

	return &Target{Kind: KindRegularFile, CanonicalPath: canonical, File: f}, nil
}

// ReadOnly reports whether the held file descriptor was opened read-only,
// used by the orchestrator to append "ro" to the mount options (§4.6 step
// 4).
func (t *Target) ReadOnly() bool {
	if t.File == nil {
		return false
	}
	flags, err := unix.FcntlInt(t.File.Fd(), unix.F_GETFL, 0)
	if err != nil {
		return false
	}
	return flags&unix.O_ACCMODE == unix.O_RDONLY
}
