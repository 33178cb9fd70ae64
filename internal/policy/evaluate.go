package policy

import (
	"path/filepath"
	"strings"
)

// GroupLookup resolves which groups a username belongs to; the core treats
// group membership as an out-of-scope lookup supplied by the caller
// (backed by the standard library's os/user on the real binary).
type GroupLookup func(username string) ([]string, error)

// ListMatch implements §4.2 primitive 1: look up category_typeScope
// falling back to category, then test candidate against each pattern with
// path-style glob matching (wildcards do not cross "/"), except that the
// literal pattern "*" matches anything regardless of slashes.
func ListMatch(s *Snapshot, category, typeScope, candidate string) bool {
	for _, pattern := range s.list(category, typeScope) {
		if matchPattern(pattern, candidate) {
			return true
		}
	}
	return false
}

// matchPattern applies the literal "*" special case before falling back to
// filepath.Match, which already refuses to let "*" or "?" cross a "/".
func matchPattern(pattern, candidate string) bool {
	if pattern == "*" {
		return true
	}
	ok, err := filepath.Match(pattern, candidate)
	return err == nil && ok
}

// GroupMatch implements §4.2 primitive 2: like ListMatch, but each pattern
// names a group, and group "root" matches exactly when the caller's
// effective UID is 0 rather than through actual group membership.
func GroupMatch(s *Snapshot, category, typeScope, username string, effectiveUID int, groups GroupLookup) (bool, error) {
	patterns := s.list(category, typeScope)
	if len(patterns) == 0 {
		return false, nil
	}

	var memberOf map[string]bool
	needsLookup := false
	for _, p := range patterns {
		if p != "root" {
			needsLookup = true
			break
		}
	}
	if needsLookup {
		names, err := groups(username)
		if err != nil {
			return false, err
		}
		memberOf = make(map[string]bool, len(names))
		for _, n := range names {
			memberOf[n] = true
		}
	}

	for _, pattern := range patterns {
		if pattern == "root" {
			if effectiveUID == 0 {
				return true, nil
			}
			continue
		}
		if memberOf[pattern] {
			return true, nil
		}
	}
	return false, nil
}

// OptionCheck implements §4.2 primitive 3: split options on commas and
// require each to be allowed by ListMatch against category/typeScope;
// returns the first option that fails the check, or "" if every option is
// allowed.
func OptionCheck(s *Snapshot, category, typeScope, options string) (failed string, ok bool) {
	if options == "" {
		return "", true
	}
	for _, opt := range strings.Split(options, ",") {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			continue
		}
		if !ListMatch(s, category, typeScope, opt) {
			return opt, false
		}
	}
	return "", true
}
