// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2020, Control Command Inc. All rights reserved.
// Copyright (c) 2018-2021, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package main

import (
	"os/user"

	"go-udevil/internal/mnterr"
)

// lookupGroups implements policy.GroupLookup by asking the standard
// library's os/user for username's supplementary group names, the
// out-of-scope lookup evaluate.go documents as "backed by the standard
// library's os/user on the real binary".
func lookupGroups(username string) ([]string, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return nil, mnterr.Wrap(mnterr.ResourceError, err, "looking up user %q", username)
	}
	gids, err := u.GroupIds()
	if err != nil {
		return nil, mnterr.Wrap(mnterr.ResourceError, err, "looking up groups for %q", username)
	}
	names := make([]string, 0, len(gids))
	for _, gid := range gids {
		g, err := user.LookupGroupId(gid)
		if err != nil {
			continue
		}
		names = append(names, g.Name)
	}
	return names, nil
}
