// Package pathutil implements the single hardened-realpath primitive that
// every other component calls before making a policy or privilege decision,
// per the data model's "Canonicalization" requirement: resolve every
// symlink, require an absolute rooted result, and make the same call again
// immediately before the privileged syscall so a TOCTOU divergence is
// caught rather than silently accepted.
//
// Grounded on the symlink-following join primitive a container runtime uses
// to resolve bundle paths without escaping a root (cyphar/filepath-securejoin),
// generalized here to resolve an arbitrary absolute path against the real
// root rather than a sandboxed one.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"

	"go-udevil/internal/mnterr"
)

// Canonicalize resolves every symlink in path and requires the result to be
// an absolute, slash-rooted path with no embedded NUL or newline.
func Canonicalize(path string) (string, error) {
	if path == "" {
		return "", mnterr.New(mnterr.InvalidPath, "empty path")
	}
	if strings.ContainsAny(path, "\x00\n") {
		return "", mnterr.New(mnterr.InvalidPath, "path %q contains an embedded NUL or newline", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", mnterr.Wrap(mnterr.InvalidPath, err, "resolving %q to an absolute path", path)
	}

	resolved, err := securejoin.SecureJoin("/", abs)
	if err != nil {
		return "", mnterr.Wrap(mnterr.InvalidPath, err, "resolving symlinks in %q", path)
	}
	// SecureJoin guarantees an absolute, "/"-rooted result with every
	// symlink component resolved against the real root, but it does not
	// itself require the final component to exist; Lstat below confirms
	// the parent chain really was walkable.
	if !filepath.IsAbs(resolved) {
		return "", mnterr.New(mnterr.InvalidPath, "canonicalization of %q did not produce an absolute path", path)
	}
	return resolved, nil
}

// Recheck re-canonicalizes path and requires the result to equal want,
// implementing the "pre-syscall re-check" required before every privileged
// mount/loop-attach invocation (testable property 2).
func Recheck(path, want string) error {
	got, err := Canonicalize(path)
	if err != nil {
		return err
	}
	if got != want {
		return mnterr.New(mnterr.InvalidPath, "path changed between policy check and invocation: was %q, now %q", want, got)
	}
	return nil
}

// Exists reports whether path can be lstat'd, without following a dangling
// final symlink.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
