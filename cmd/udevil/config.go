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
	"bufio"
	"os"
	"strings"

	"go-udevil/internal/ulog"
)

// defaultConfigFile is the path consulted when -c/--config is not given.
const defaultConfigFile = "/etc/udevil/udevil.conf"

// loadDirectives reads a minimal "key = value" directive file into the
// already-parsed key/value table the policy snapshot builder expects
// (spec.md §1 places the config-file parser itself out of scope for the
// core; this is glue, not policy, so it stays in cmd/udevil rather than
// internal/policy). Blank lines and lines starting with '#' are ignored.
// A missing file yields an empty table rather than an error, since every
// category has a built-in default.
func loadDirectives(path string) (map[string]string, error) {
	kv := make(map[string]string)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return kv, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			ulog.Warningf("ignoring unparsable configuration line: %q", line)
			continue
		}
		kv[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return kv, nil
}
