// Copyright 2025 PGFleet Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied
// See the License for the specific language governing permissions and
// limitations under the License.

package postgresql

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// version numbers as printed by the tools, e.g. "14.5" or "9.6.24"
	versionNumberRegexp = regexp.MustCompile(`\d+(?:\.\d+)*`)

	validReplSlotName = regexp.MustCompile("^[a-z0-9_]+$")
)

// parseVersionNumber extracts the numeric version from a tool's --version
// output like "pg_ctl (PostgreSQL) 14.5", dropping beta/rc decorations. It
// returns "" when no version number is present.
func parseVersionNumber(out string) string {
	return versionNumberRegexp.FindString(out)
}

// ParseVersion splits a version string into major and minor numbers. A
// missing minor part parses as 0.
func ParseVersion(v string) (int, int, error) {
	parts := strings.Split(v, ".")
	if len(parts) < 1 || parts[0] == "" {
		return 0, 0, fmt.Errorf("bad version: %q", v)
	}
	maj, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse major %q: %v", parts[0], err)
	}
	min := 0
	if len(parts) > 1 {
		min, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, fmt.Errorf("failed to parse minor %q: %v", parts[1], err)
		}
	}

	return maj, min, nil
}

// IsValidReplSlotName reports whether name is usable as a replication slot
// name: lower-case letters, numbers and underscores only.
func IsValidReplSlotName(name string) bool {
	return validReplSlotName.MatchString(name)
}
