// Package privilege implements the setuid-root privilege gate: it records
// the identity the binary was invoked under, toggles effective (and, for
// external mount utilities, real) UID/GID between caller and root around
// narrow regions, and sanitizes the process environment once at startup.
//
// Grounded on the escalate/drop pair of a setuid-root container runtime
// (Setresuid around a locked OS thread); generalized here to also toggle
// GID, to save supplementary groups, and to narrate every region through a
// scoped helper so an early return can never leave the process elevated.
package privilege

import (
	"os"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"go-udevil/internal/mnterr"
)

// sanitizedPassthrough lists the environment variables preserved verbatim
// from the caller's environment; everything else is dropped.
var sanitizedPassthrough = []string{"TZ", "LANG", "LC_ALL", "LC_COLLATE", "LC_CTYPE"}

const defaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// Gate is the process-wide handle for the real/effective identity pair. The
// underlying UIDs are a process-wide kernel resource, so unlike the rest of
// the core's state, a single Gate is shared by the whole invocation.
type Gate struct {
	mu sync.Mutex

	realUID, realGID int
	rootGID          int // original effective GID, restored on Elevate
	groups           []int
	setuidRoot       bool
	elevated         bool
}

// Open captures the process's original identity, sanitizes the environment,
// and drops effective privilege to the caller's real UID/GID. It must be
// called exactly once, at process start, before any other package touches
// the environment or the effective identity.
func Open() (*Gate, error) {
	runtime.LockOSThread()

	g := &Gate{
		realUID:    os.Getuid(),
		realGID:    os.Getgid(),
		rootGID:    os.Getegid(),
		setuidRoot: os.Geteuid() == 0,
	}

	groups, err := os.Getgroups()
	if err != nil {
		return nil, mnterr.Wrap(mnterr.InvariantBroken, err, "reading supplementary groups")
	}
	g.groups = groups

	sanitizeEnviron()

	if g.setuidRoot {
		if err := g.dropLocked(); err != nil {
			return nil, err
		}
	}

	return g, nil
}

// IsSetuidRoot reports whether the process was started with effective UID 0
// while its real UID was non-zero. Every privileged operation requires this.
func (g *Gate) IsSetuidRoot() bool { return g.setuidRoot }

// RealUID returns the caller's real UID, captured at Open time.
func (g *Gate) RealUID() int { return g.realUID }

// RealGID returns the caller's real GID, captured at Open time.
func (g *Gate) RealGID() int { return g.realGID }

// Groups returns the caller's supplementary group IDs, captured at Open time.
func (g *Gate) Groups() []int { return append([]int(nil), g.groups...) }

// Elevate restores effective UID 0 and the original effective GID. Every
// call must be paired with a Drop on every exit path; prefer WithElevated.
func (g *Gate) Elevate() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.elevateLocked()
}

func (g *Gate) elevateLocked() error {
	if !g.setuidRoot {
		return mnterr.New(mnterr.InvariantBroken, "process is not installed setuid-root")
	}
	if err := unix.Setresgid(g.realGID, g.rootGID, g.realGID); err != nil {
		return mnterr.Wrap(mnterr.InvariantBroken, err, "setresgid to elevate")
	}
	if err := unix.Setresuid(g.realUID, 0, g.realUID); err != nil {
		return mnterr.Wrap(mnterr.InvariantBroken, err, "setresuid to elevate")
	}
	g.elevated = true
	return nil
}

// Drop returns to the caller's real UID/GID.
func (g *Gate) Drop() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dropLocked()
}

func (g *Gate) dropLocked() error {
	if err := unix.Setresuid(g.realUID, g.realUID, 0); err != nil {
		return mnterr.Wrap(mnterr.InvariantBroken, err, "setresuid to drop")
	}
	if err := unix.Setresgid(g.realGID, g.realGID, g.rootGID); err != nil {
		return mnterr.Wrap(mnterr.InvariantBroken, err, "setresgid to drop")
	}
	g.elevated = false
	return nil
}

// WithElevated runs fn with effective UID/GID 0, guaranteeing Drop runs on
// every exit path including a panic recovered higher up the stack.
func (g *Gate) WithElevated(fn func() error) (err error) {
	if err := g.Elevate(); err != nil {
		return err
	}
	defer func() {
		if dropErr := g.Drop(); dropErr != nil && err == nil {
			err = dropErr
		}
	}()
	return fn()
}

// RealUIDElevated reports whether real UID is currently 0, which external
// mount/umount/losetup utilities require because they inspect real UID
// rather than effective UID to decide whether they were invoked by root.
func (g *Gate) RealUIDElevated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return os.Getuid() == 0
}

// WithRealUIDElevated additionally sets real UID to 0 for the duration of
// fn, for invoking the mount/umount/losetup utilities, then restores both
// real and effective identity to the caller's.
func (g *Gate) WithRealUIDElevated(fn func() error) (err error) {
	g.mu.Lock()
	if !g.setuidRoot {
		g.mu.Unlock()
		return mnterr.New(mnterr.InvariantBroken, "process is not installed setuid-root")
	}
	if rgErr := unix.Setresgid(g.rootGID, g.rootGID, g.realGID); rgErr != nil {
		g.mu.Unlock()
		return mnterr.Wrap(mnterr.InvariantBroken, rgErr, "setresgid for external utility")
	}
	if ruErr := unix.Setresuid(0, 0, g.realUID); ruErr != nil {
		g.mu.Unlock()
		return mnterr.Wrap(mnterr.InvariantBroken, ruErr, "setresuid for external utility")
	}
	g.elevated = true
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if ruErr := unix.Setresuid(g.realUID, g.realUID, 0); ruErr != nil && err == nil {
			err = mnterr.Wrap(mnterr.InvariantBroken, ruErr, "setresuid to drop after external utility")
		}
		if rgErr := unix.Setresgid(g.realGID, g.realGID, g.rootGID); rgErr != nil && err == nil {
			err = mnterr.Wrap(mnterr.InvariantBroken, rgErr, "setresgid to drop after external utility")
		}
		g.elevated = false
	}()
	return fn()
}

// sanitizeEnviron resets PATH and IFS to fixed, safe values and drops every
// environment variable except the locale set, closing the classic setuid
// "import a hostile PATH or IFS" hole.
func sanitizeEnviron() {
	preserved := make(map[string]string, len(sanitizedPassthrough))
	for _, key := range sanitizedPassthrough {
		if v, ok := os.LookupEnv(key); ok {
			preserved[key] = v
		}
	}

	os.Clearenv()

	os.Setenv("PATH", defaultPath)
	os.Setenv("IFS", " \t\n")
	for key, value := range preserved {
		os.Setenv(key, value)
	}
}

// Environ returns the exact environment that should be passed to an external
// utility invocation: the sanitized set, nothing inherited beyond it.
func Environ() []string {
	return os.Environ()
}

// SplitOptions is a small helper shared by callers that need to verify the
// sanitized PATH never contains an empty (i.e. cwd-implying) entry.
func SplitOptions(path string) []string {
	return strings.Split(path, ":")
}
