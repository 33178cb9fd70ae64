// Package mountpoint implements the path & point manager (component D):
// mount-point selection, naming, directory creation with the ownership
// marker, and removal on failure (§3 "Mount-point directory", §4.4).
package mountpoint

import (
	"strings"
	"unicode/utf8"

	"github.com/gosimple/slug"
	"golang.org/x/text/unicode/norm"

	"go-udevil/internal/mnterr"
)

const maxNameComponentLength = 30

// sanitize turns a candidate name component into one that is safe to use
// as a path element: characters invalid in mount-point names are rejected
// rather than escaped (§4.4), which this implements as slugification
// rather than a bespoke blacklist, matching the library the teacher's
// pack depends on for exactly this kind of "turn arbitrary text into a
// safe path component" transform. The component is first required to be
// well-formed UTF-8 and normalized to NFC so visually-identical label
// strings with different combining-character sequences slugify the same
// way (§4.4 "requiring valid text encoding").
func sanitize(component string) (string, error) {
	if !utf8.ValidString(component) {
		return "", mnterr.New(mnterr.InvalidPath, "mount-point name component %q is not valid text", component)
	}
	s := slug.Make(norm.NFC.String(component))
	if s == "" {
		return "", mnterr.New(mnterr.InvalidPath, "mount-point name component %q contains no valid characters", component)
	}
	if len(s) > maxNameComponentLength {
		s = s[:maxNameComponentLength]
		s = strings.TrimRight(s, "-")
	}
	return s, nil
}

// DeviceName derives a block-device mount-point name in the priority
// order of §4.4: label, by-id basename, basename+UUID, bare basename.
func DeviceName(label, byIDLink, basename, uuid string) (string, error) {
	if label != "" {
		return sanitize(label)
	}
	if byIDLink != "" {
		return sanitize(byIDLink)
	}
	if uuid != "" {
		return sanitize(basename + "-" + uuid)
	}
	return sanitize(basename)
}

// NetworkName derives a network-share mount-point name of the form
// "<scheme>-<host>[-<path-derived>]", the remote path's slashes replaced
// with dashes and the whole trimmed to maxNameComponentLength (§4.4).
func NetworkName(scheme, host, remotePath string) (string, error) {
	base, err := sanitize(string(scheme) + "-" + host)
	if err != nil {
		return "", err
	}
	trimmedPath := strings.Trim(remotePath, "/")
	if trimmedPath == "" {
		return base, nil
	}
	pathComponent := strings.ReplaceAll(trimmedPath, "/", "-")
	full, err := sanitize(base + "-" + pathComponent)
	if err != nil {
		return base, nil
	}
	return full, nil
}
