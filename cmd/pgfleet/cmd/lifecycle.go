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

var cmdStart = &cobra.Command{
	Use:   "start",
	Run:   startCommand,
	Short: "Start the postgres instance",
}

var cmdStop = &cobra.Command{
	Use:   "stop",
	Run:   stopCommand,
	Short: "Stop the postgres instance",
}

var cmdRestart = &cobra.Command{
	Use:   "restart",
	Run:   restartCommand,
	Short: "Restart the postgres instance with a fast shutdown",
}

var cmdPromote = &cobra.Command{
	Use:   "promote",
	Run:   promoteCommand,
	Short: "Promote a standby instance to primary",
}

var cmdReload = &cobra.Command{
	Use:   "reload",
	Run:   reloadCommand,
	Short: "Reload the postgres instance configuration",
}

var cmdStatus = &cobra.Command{
	Use:   "status",
	Run:   statusCommand,
	Short: "Report whether the postgres instance is running",
}

func init() {
	CmdPgfleet.AddCommand(cmdStart)
	CmdPgfleet.AddCommand(cmdStop)
	CmdPgfleet.AddCommand(cmdRestart)
	CmdPgfleet.AddCommand(cmdPromote)
	CmdPgfleet.AddCommand(cmdReload)
	CmdPgfleet.AddCommand(cmdStatus)
}

func startCommand(c *cobra.Command, args []string) {
	pgm := newManager()
	if err := pgm.Start(); err != nil {
		die("failed to start postgres: %v", err)
	}
	// pg_ctl --wait already waited for the postmaster, this confirms the
	// instance answers sql connections too
	if err := pgm.WaitReady(cfg.requestTimeout); err != nil {
		log.Warnw("postgres started but does not accept connections yet", "err", err)
	}
	stdout("postgres started")
}

func stopCommand(c *cobra.Command, args []string) {
	pgm := newManager()
	if err := pgm.Stop(); err != nil {
		die("failed to stop postgres: %v", err)
	}
	stdout("postgres stopped")
}

func restartCommand(c *cobra.Command, args []string) {
	pgm := newManager()
	if err := pgm.Restart(); err != nil {
		die("failed to restart postgres: %v", err)
	}
	stdout("postgres restarted")
}

func promoteCommand(c *cobra.Command, args []string) {
	pgm := newManager()
	if err := pgm.Promote(); err != nil {
		die("failed to promote postgres: %v", err)
	}
	if err := pgm.WaitRecoveryDone(cfg.requestTimeout); err != nil {
		die("promotion requested but the instance is still in recovery: %v", err)
	}
	stdout("postgres promoted")
}

func reloadCommand(c *cobra.Command, args []string) {
	pgm := newManager()
	if err := pgm.Reload(); err != nil {
		die("failed to reload postgres configuration: %v", err)
	}
	stdout("postgres configuration reloaded")
}

func statusCommand(c *cobra.Command, args []string) {
	pgm := newManager()
	running, err := pgm.IsRunning()
	if err != nil {
		die("cannot get instance status: %v", err)
	}
	if !running {
		stdout("postgres is not running")
		return
	}
	if err := pgm.Ping(); err != nil {
		stdout("postgres is running but not accepting connections: %v", err)
		return
	}
	inRecovery, err := pgm.IsInRecovery()
	if err != nil {
		die("cannot get recovery status: %v", err)
	}
	if inRecovery {
		stdout("postgres is running as a standby")
	} else {
		stdout("postgres is running as a primary")
	}
}
