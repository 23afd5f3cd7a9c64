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
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pgfleet/pgfleet/internal/common"
)

var cmdBackup = &cobra.Command{
	Use:   "backup",
	Run:   backupCommand,
	Short: "Clone a primary into the local data directory with pg_basebackup",
}

var backupOpts struct {
	repl       replFlags
	stagingDir string
	maxRate    string
}

func init() {
	addReplFlags(cmdBackup, &backupOpts.repl, true)
	cmdBackup.PersistentFlags().StringVar(&backupOpts.stagingDir, "staging-dir", "", "directory the base backup is streamed into before being moved over the data directory. Defaults to a sibling of the data directory.")
	cmdBackup.PersistentFlags().StringVar(&backupOpts.maxRate, "max-rate", "", "maximum transfer rate accepted by pg_basebackup (ex: 32M)")

	CmdPgfleet.AddCommand(cmdBackup)
}

func backupCommand(c *cobra.Command, args []string) {
	src := backupOpts.repl.replicationSource(true)

	if backupOpts.maxRate != "" {
		if _, err := common.ParseBytesize(backupOpts.maxRate); err != nil {
			die("bad max rate %q: %v", backupOpts.maxRate, err)
		}
	}

	pgm := newManager()

	stagingDir := backupOpts.stagingDir
	if stagingDir == "" {
		dataDir := pgm.Setup().DataDir
		stagingDir = filepath.Join(filepath.Dir(dataDir), fmt.Sprintf("%s.backup-%s", filepath.Base(dataDir), common.UID()))
	}

	if err := pgm.Backup(stagingDir, backupOpts.maxRate, src); err != nil {
		die("backup failed: %v", err)
	}
	stdout("backup from %s:%d completed", src.Primary.Host, src.Primary.Port)
}
