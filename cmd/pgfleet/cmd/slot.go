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

// slot management runs against the local instance: a primary creates the
// physical slots its standbys stream from.

var cmdCreateSlot = &cobra.Command{
	Use:   "create-slot",
	Run:   createSlotCommand,
	Short: "Create a physical replication slot on the local instance",
}

var cmdDropSlot = &cobra.Command{
	Use:   "drop-slot",
	Run:   dropSlotCommand,
	Short: "Drop a physical replication slot from the local instance",
}

var slotOpts struct {
	name string
}

func init() {
	for _, c := range []*cobra.Command{cmdCreateSlot, cmdDropSlot} {
		c.PersistentFlags().StringVar(&slotOpts.name, "slot", "", "replication slot name. Required. Can contain only lower-case letters, numbers and the underscore character.")
		CmdPgfleet.AddCommand(c)
	}
}

func checkSlotName() {
	if slotOpts.name == "" {
		die("replication slot name required")
	}
	if !pg.IsValidReplSlotName(slotOpts.name) {
		die("replication slot name %q not valid. It can contain only lower-case letters, numbers and the underscore character", slotOpts.name)
	}
}

func createSlotCommand(c *cobra.Command, args []string) {
	checkSlotName()
	pgm := newManager()
	if err := pgm.CreateReplicationSlot(slotOpts.name); err != nil {
		die("cannot create replication slot %q: %v", slotOpts.name, err)
	}
	stdout("replication slot %q created", slotOpts.name)
}

func dropSlotCommand(c *cobra.Command, args []string) {
	checkSlotName()
	pgm := newManager()
	if err := pgm.DropReplicationSlot(slotOpts.name); err != nil {
		die("cannot drop replication slot %q: %v", slotOpts.name, err)
	}
	stdout("replication slot %q dropped", slotOpts.name)
}
