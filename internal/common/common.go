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

package common

import (
	"fmt"

	uuid "github.com/satori/go.uuid"
)

// UID returns a short random identifier, used to name per-operation
// artifacts like backup staging directories.
func UID() string {
	return fmt.Sprintf("%x", uuid.NewV4().String()[:4])
}

// Parameters is a map of server configuration parameter names to values.
type Parameters map[string]string

func (s Parameters) Copy() Parameters {
	parameters := Parameters{}
	for k, v := range s {
		parameters[k] = v
	}
	return parameters
}

// Diff returns the names of the parameters changed, added or removed in n
// with respect to s.
func (s Parameters) Diff(n Parameters) []string {
	diff := []string{}

	for k, v := range n {
		if cv, ok := s[k]; !ok || cv != v {
			diff = append(diff, k)
		}
	}

	for k := range s {
		if _, ok := n[k]; !ok {
			diff = append(diff, k)
		}
	}
	return diff
}

func (s Parameters) Equals(n Parameters) bool {
	return len(s.Diff(n)) == 0
}
