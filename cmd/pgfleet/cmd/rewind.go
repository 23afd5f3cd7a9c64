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
)

var cmdRewind = &cobra.Command{
	Use:   "rewind",
	Run:   rewindCommand,
	Short: "Resynchronize the local data directory with a primary using pg_rewind",
}

var rewindOpts struct {
	repl   replFlags
	dbName string
}

func init() {
	addReplFlags(cmdRewind, &rewindOpts.repl, false)
	cmdRewind.PersistentFlags().StringVar(&rewindOpts.dbName, "dbname", "postgres", "database pg_rewind connects to on the source instance")

	CmdPgfleet.AddCommand(cmdRewind)
}

func rewindCommand(c *cobra.Command, args []string) {
	src := rewindOpts.repl.replicationSource(false)

	pgm := newManager()
	if err := pgm.Rewind(src, rewindOpts.dbName); err != nil {
		die("rewind failed: %v", err)
	}
	stdout("rewind from %s:%d completed", src.Primary.Host, src.Primary.Port)
}
