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

package flagutil

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

// SetFlagsFromEnv sets, for every flag not already set on the command line,
// the value of the environment variable obtained by upper-casing the flag
// name, replacing dashes with underscores and prepending the given prefix.
// For example with prefix "PGFLEET" the flag --data-dir is populated from
// PGFLEET_DATA_DIR.
func SetFlagsFromEnv(fs *pflag.FlagSet, prefix string) error {
	var err error
	alreadySet := make(map[string]bool)
	fs.Visit(func(f *pflag.Flag) {
		alreadySet[f.Name] = true
	})
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil || alreadySet[f.Name] {
			return
		}
		key := prefix + "_" + strings.ToUpper(strings.Replace(f.Name, "-", "_", -1))
		val := os.Getenv(key)
		if val == "" {
			return
		}
		if serr := fs.Set(f.Name, val); serr != nil {
			err = fmt.Errorf("invalid value %q for %s: %v", val, key, serr)
		}
	})
	return err
}
