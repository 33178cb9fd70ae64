// Package policy implements the policy snapshot data model and the three
// match primitives of §4.2: list-match, group-match, and option-check. The
// snapshot is built once from an already-parsed key/value table (the
// argument/config-file parser that produces that table is out of scope,
// per spec.md §1), is immutable for the lifetime of the process, and is
// destroyed on exit.
//
// Grounded loosely on apptainerconf's directive-tagged File struct for the
// idea of a typed configuration surface, but implemented as a map rather
// than a flat struct: policy categories are type-scoped
// (allowed_types_vfat falling back to allowed_types), which a fixed set of
// struct fields cannot express without one field per filesystem type.
package policy

import "strings"

// Snapshot is the immutable, parsed policy configuration.
type Snapshot struct {
	// lists holds every comma-separated category, already split and
	// trimmed, keyed by its exact on-disk key (e.g. "allowed_types" or
	// "allowed_types_vfat").
	lists map[string][]string
	// scalars holds every category that is a single value rather than a
	// list: external-program paths, the five hook/log directives, and
	// mount_point_mode.
	scalars map[string]string
}

// Scalar categories, named exactly as they appear in the configuration.
const (
	KeyMountProgram     = "mount_program"
	KeyUmountProgram    = "umount_program"
	KeyLosetupProgram   = "losetup_program"
	KeySetfaclProgram   = "setfacl_program"
	KeyValidateExec     = "validate_exec"
	KeyValidateRootExec = "validate_rootexec"
	KeySuccessExec      = "success_exec"
	KeySuccessRootExec  = "success_rootexec"
	KeyLogKeepDays      = "log_keep_days"
	KeyMountPointMode   = "mount_point_mode"
)

// List categories, named exactly as they appear in the configuration
// (type-scoped variants append "_<fstype>").
const (
	CategoryAllowedTypes           = "allowed_types"
	CategoryAllowedUsers           = "allowed_users"
	CategoryAllowedGroups          = "allowed_groups"
	CategoryAllowedMediaDirs       = "allowed_media_dirs"
	CategoryAllowedOptions         = "allowed_options"
	CategoryDefaultOptions         = "default_options"
	CategoryAllowedDevices         = "allowed_devices"
	CategoryForbiddenDevices       = "forbidden_devices"
	CategoryAllowedInternalDevices = "allowed_internal_devices"
	CategoryAllowedInternalUUIDs   = "allowed_internal_uuids"
	CategoryAllowedNetworks        = "allowed_networks"
	CategoryForbiddenNetworks      = "forbidden_networks"
	CategoryAllowedFiles           = "allowed_files"
	CategoryForbiddenFiles         = "forbidden_files"
)

// list returns the patterns for category, preferring the type-scoped key
// (category_typeScope) and falling back to the bare category, per §4.2
// list-match's lookup order.
func (s *Snapshot) list(category, typeScope string) []string {
	if typeScope != "" {
		if v, ok := s.lists[category+"_"+typeScope]; ok {
			return v
		}
	}
	return s.lists[category]
}

// List returns the patterns for category, preferring the type-scoped key
// and falling back to the bare category — the exported form of list, for
// callers outside the package (e.g. the mount-point manager's
// allowed_media_dirs lookup) that need the raw pattern list rather than a
// yes/no match.
func (s *Snapshot) List(category, typeScope string) []string {
	return s.list(category, typeScope)
}

// Scalar returns a single-value category (a hook program, an external
// utility path, or mount_point_mode), or "" if unconfigured.
func (s *Snapshot) Scalar(key string) string {
	return s.scalars[key]
}

// HasCategory reports whether category (bare or type-scoped) was set at
// all, distinguishing "configured empty" from "never mentioned" for
// defaulting decisions in the orchestrator.
func (s *Snapshot) HasCategory(category, typeScope string) bool {
	if typeScope != "" {
		if _, ok := s.lists[category+"_"+typeScope]; ok {
			return true
		}
	}
	_, ok := s.lists[category]
	return ok
}

func splitPatterns(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
