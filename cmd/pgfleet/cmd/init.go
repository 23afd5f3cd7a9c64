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

package cmd

import (
	"github.com/spf13/cobra"

	pg "github.com/pgfleet/pgfleet/internal/postgresql"
)

var cmdInit = &cobra.Command{
	Use:   "init",
	Run:   initCommand,
	Short: "Initialize a new postgres data directory and write the managed settings",
}

func init() {
	CmdPgfleet.AddCommand(cmdInit)
}

func initCommand(c *cobra.Command, args []string) {
	pgm := newManager()

	initialized, err := pgm.Setup().IsInitialized()
	if err != nil {
		die("cannot check the data directory: %v", err)
	}
	if initialized {
		stdout("data directory already initialized")
	} else {
		if err := pgm.InitDB(); err != nil {
			die("failed to initialize the data directory: %v", err)
		}
		stdout("data directory initialized")
	}

	wrote, err := pgm.EnsureDefaultSettings(pg.DefaultSettings)
	if err != nil {
		die("failed to write managed settings: %v", err)
	}
	if wrote {
		stdout("managed settings written")
	}
}
