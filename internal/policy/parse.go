package policy

import (
	"fmt"
	"strconv"
	"strings"

	"go-udevil/internal/mnterr"
	"go-udevil/internal/ulog"
)

// scalarKeys lists every category that holds a single value rather than a
// comma-separated list.
var scalarKeys = map[string]bool{
	KeyMountProgram:     true,
	KeyUmountProgram:    true,
	KeyLosetupProgram:   true,
	KeySetfaclProgram:   true,
	KeyValidateExec:     true,
	KeyValidateRootExec: true,
	KeySuccessExec:      true,
	KeySuccessRootExec:  true,
	KeyLogKeepDays:      true,
	KeyMountPointMode:   true,
}

// ExpandContext supplies the values substituted into every configuration
// value exactly once, at load time (§3: "Variable substitution is
// performed once at parse time").
type ExpandContext struct {
	User             string
	UID              int
	GID              int
	KnownFilesystems []string // built-in list merged with /proc/filesystems and /etc/filesystems
}

func (c ExpandContext) expand(value string) string {
	if strings.Contains(value, "$KNOWN_FILESYSTEMS") {
		value = strings.ReplaceAll(value, "$KNOWN_FILESYSTEMS", strings.Join(c.KnownFilesystems, ","))
	}
	value = strings.ReplaceAll(value, "$USER", c.User)
	value = strings.ReplaceAll(value, "$UID", strconv.Itoa(c.UID))
	value = strings.ReplaceAll(value, "$GID", strconv.Itoa(c.GID))
	return value
}

// builtinAllowedOptions and builtinAllowedTypes are the original
// implementation's compiled-in defaults, preserved verbatim (SPEC_FULL.md
// "Supplemented features" #1) for use when the administrator leaves the
// corresponding category unconfigured.
const (
	builtinAllowedOptions = "nosuid,noexec,nodev,user=$USER,uid=$UID,gid=$GID"
	builtinAllowedTypesFmt = "$KNOWN_FILESYSTEMS,smbfs,cifs,nfs,ftpfs,curlftpfs,sshfs,file,tmpfs,ramfs"
)

// defaultMountPointMode is used both when mount_point_mode is unconfigured
// and when it is configured but fails to parse (SPEC_FULL.md supplemented
// feature #3).
const defaultMountPointMode = 0o755

// Load builds an immutable Snapshot from an already-parsed key/value table
// (keys are exactly the on-disk directive names, e.g. "allowed_types" or
// "allowed_types_vfat"; list-valued entries are comma-separated strings).
// Every value is variable-expanded exactly once here.
func Load(kv map[string]string, ctx ExpandContext) (*Snapshot, error) {
	s := &Snapshot{
		lists:   make(map[string][]string),
		scalars: make(map[string]string),
	}

	for key, raw := range kv {
		value := ctx.expand(raw)
		if scalarKeys[key] {
			s.scalars[key] = value
			continue
		}
		s.lists[key] = splitPatterns(value)
	}

	if _, ok := s.lists[CategoryAllowedOptions]; !ok {
		s.lists[CategoryAllowedOptions] = splitPatterns(ctx.expand(builtinAllowedOptions))
	}
	if _, ok := s.lists[CategoryAllowedTypes]; !ok {
		s.lists[CategoryAllowedTypes] = splitPatterns(ctx.expand(builtinAllowedTypesFmt))
	}

	return s, nil
}

// MountPointMode returns the configured mount_point_mode, falling back to
// 0755 both when unconfigured and when the configured value fails to parse
// as an octal mode — the original logs a warning and continues rather than
// aborting the mount over a cosmetic directive (SPEC_FULL.md supplemented
// feature #3).
func (s *Snapshot) MountPointMode() uint32 {
	raw := s.scalars[KeyMountPointMode]
	if raw == "" {
		return defaultMountPointMode
	}
	v, err := strconv.ParseUint(raw, 8, 32)
	if err != nil {
		ulog.Warningf("invalid mount_point_mode %q in configuration, using 0755", raw)
		return defaultMountPointMode
	}
	return uint32(v)
}

// LogKeepDays returns the configured log retention in days, used only by
// the out-of-scope log writer; the core surfaces it unparsed so that
// collaborator can apply its own validation.
func (s *Snapshot) LogKeepDays() string {
	return s.scalars[KeyLogKeepDays]
}

func (c ExpandContext) String() string {
	return fmt.Sprintf("user=%s uid=%d gid=%d", c.User, c.UID, c.GID)
}
