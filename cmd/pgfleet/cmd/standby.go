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
	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	pg "github.com/pgfleet/pgfleet/internal/postgresql"
)

var cmdSetupStandby = &cobra.Command{
	Use:   "setup-standby",
	Run:   setupStandbyCommand,
	Short: "Write the recovery configuration turning the local instance into a standby",
}

var standbyOpts struct {
	repl replFlags
}

func init() {
	addReplFlags(cmdSetupStandby, &standbyOpts.repl, true)

	CmdPgfleet.AddCommand(cmdSetupStandby)
}

func setupStandbyCommand(c *cobra.Command, args []string) {
	src := standbyOpts.repl.replicationSource(true)

	pgm := newManager()

	cd, err := pg.ReadControlData(runner, pgm.Setup(), false)
	if err != nil {
		die("cannot read control data: %v", err)
	}
	log.Debugf("controldata dump: %s", spew.Sdump(cd))

	if err := pgm.SetupStandbyMode(cd.ControlVersion, src); err != nil {
		die("cannot setup standby mode: %v", err)
	}
	stdout("standby configuration written, replicating from %s:%d", src.Primary.Host, src.Primary.Port)
}
