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

var cmdFindPgCtl = &cobra.Command{
	Use:   "find-pg-ctl",
	Run:   findPgCtlCommand,
	Short: "List the pg_ctl binaries found in the search path with their versions",
}

func init() {
	CmdPgfleet.AddCommand(cmdFindPgCtl)
}

func findPgCtlCommand(c *cobra.Command, args []string) {
	infos, err := pg.FindPgCtl(runner, cfg.searchPath)
	if err != nil {
		die("cannot look for pg_ctl: %v", err)
	}
	if len(infos) == 0 {
		die("no pg_ctl found in search path %q", cfg.searchPath)
	}
	for _, info := range infos {
		stdout("%s\t%s", info.Path, info.Version)
	}
}

var cmdControlData = &cobra.Command{
	Use:   "control-data",
	Run:   controlDataCommand,
	Short: "Print the control data of the local data directory",
}

func init() {
	CmdPgfleet.AddCommand(cmdControlData)
}

func controlDataCommand(c *cobra.Command, args []string) {
	setup := newSetup()
	cd, err := pg.ReadControlData(runner, setup, false)
	if err != nil {
		die("cannot read control data: %v", err)
	}
	stdout("pg_control version number:            %d", cd.ControlVersion)
	stdout("Catalog version number:               %d", cd.CatalogVersion)
	stdout("Database system identifier:           %s", cd.SystemIdentifier)
	stdout("Database cluster state:               %s", cd.ClusterState)
	stdout("Latest checkpoint's TimeLineID:       %d", cd.TimelineID)
}
