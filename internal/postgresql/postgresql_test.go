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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pgfleet/pgfleet/internal/execute"
	"github.com/pgfleet/pgfleet/internal/fileutil"
)

// fakeRunner hands out canned results in order and records every command it
// was asked to run.
type fakeRunner struct {
	results []execute.Result
	cmds    []execute.Cmd
}

func (r *fakeRunner) Run(c execute.Cmd) execute.Result {
	r.cmds = append(r.cmds, c)
	if len(r.results) == 0 {
		return execute.Result{}
	}
	res := r.results[0]
	r.results = r.results[1:]
	return res
}

func TestStart(t *testing.T) {
	tests := []struct {
		name    string
		results []execute.Result
		err     bool
		// the status probe only runs when pg_ctl start fails
		wantCmds int
	}{
		{
			name:     "clean start",
			results:  []execute.Result{{ExitCode: 0, Stdout: "waiting for server to start.... done\n"}},
			wantCmds: 1,
		},
		{
			name: "start fails but server already running",
			results: []execute.Result{
				{ExitCode: 1, Stdout: "pg_ctl: another server might be running\n"},
				{ExitCode: 0, Stdout: "pg_ctl: server is running\n"},
			},
			wantCmds: 2,
		},
		{
			name: "start fails and server not running",
			results: []execute.Result{
				{ExitCode: 1, Stdout: "could not start server\n"},
				{ExitCode: pgCtlStatusNotRunning},
			},
			err:      true,
			wantCmds: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pgm, dataDir := newTestManager(t)
			runner := &fakeRunner{results: tt.results}
			pgm.runner = runner

			err := pgm.Start()
			if tt.err {
				if err == nil {
					t.Fatalf("got no error, wanted an error")
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if len(runner.cmds) != tt.wantCmds {
				t.Fatalf("got %d commands, wanted %d", len(runner.cmds), tt.wantCmds)
			}

			// the start output is kept around whatever the outcome
			logContent, err := os.ReadFile(filepath.Join(dataDir, startupLogFilename))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(logContent) != tt.results[0].Stdout {
				t.Errorf("wrong startup log content: got %q, want %q", logContent, tt.results[0].Stdout)
			}
		})
	}
}

func TestStartArgs(t *testing.T) {
	pgm, _ := newTestManager(t)
	runner := &fakeRunner{results: []execute.Result{{ExitCode: 0}}}
	pgm.runner = runner

	if err := pgm.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := runner.cmds[0]
	if c.Path != pgm.setup.PgCtlPath {
		t.Errorf("got path %q, wanted %q", c.Path, pgm.setup.PgCtlPath)
	}
	if !c.NewSession {
		t.Errorf("the server must be started in its own session")
	}
	args := strings.Join(c.Args, " ")
	if !strings.Contains(args, `--options "-p 5432"`) {
		t.Errorf("port option missing from args: %q", args)
	}
	if !strings.Contains(args, `--options "-h *"`) {
		t.Errorf("listen addresses option missing from args: %q", args)
	}
	if !strings.HasSuffix(args, "--wait start") {
		t.Errorf("args must end with --wait start: %q", args)
	}
}

func TestStop(t *testing.T) {
	t.Run("clean stop", func(t *testing.T) {
		pgm, _ := newTestManager(t)
		runner := &fakeRunner{results: []execute.Result{{ExitCode: 0}}}
		pgm.runner = runner

		if err := pgm.Stop(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(runner.cmds) != 1 {
			t.Fatalf("got %d commands, wanted 1", len(runner.cmds))
		}
	})

	t.Run("stop fails with missing data directory", func(t *testing.T) {
		pgm, dataDir := newTestManager(t)
		if err := os.RemoveAll(dataDir); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		runner := &fakeRunner{results: []execute.Result{{ExitCode: 1}}}
		pgm.runner = runner

		if err := pgm.Stop(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// no status probe without a data directory
		if len(runner.cmds) != 1 {
			t.Fatalf("got %d commands, wanted 1", len(runner.cmds))
		}
	})

	t.Run("stop fails but server not running", func(t *testing.T) {
		pgm, _ := newTestManager(t)
		runner := &fakeRunner{results: []execute.Result{
			{ExitCode: 1},
			{ExitCode: pgCtlStatusNotRunning},
		}}
		pgm.runner = runner

		if err := pgm.Stop(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(runner.cmds) != 2 {
			t.Fatalf("got %d commands, wanted 2", len(runner.cmds))
		}
	})

	t.Run("stop fails with server still running", func(t *testing.T) {
		pgm, _ := newTestManager(t)
		runner := &fakeRunner{results: []execute.Result{
			{ExitCode: 1},
			{ExitCode: 0, Stdout: "pg_ctl: server is running\n"},
		}}
		pgm.runner = runner

		if err := pgm.Stop(); err == nil {
			t.Fatalf("got no error, wanted an error")
		}
	})
}

func TestStatus(t *testing.T) {
	pgm, _ := newTestManager(t)
	runner := &fakeRunner{results: []execute.Result{
		{ExitCode: 0},
		{ExitCode: pgCtlStatusNotRunning},
	}}
	pgm.runner = runner

	running, err := pgm.IsRunning()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !running {
		t.Errorf("got running false, wanted true")
	}

	running, err = pgm.IsRunning()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if running {
		t.Errorf("got running true, wanted false")
	}
}

func TestPromote(t *testing.T) {
	pgm, _ := newTestManager(t)
	runner := &fakeRunner{results: []execute.Result{{ExitCode: 1, Stderr: "pg_ctl: cannot promote server\n"}}}
	pgm.runner = runner

	if err := pgm.Promote(); err == nil {
		t.Fatalf("got no error, wanted an error")
	}

	runner.results = []execute.Result{{ExitCode: 0}}
	if err := pgm.Promote(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBackup(t *testing.T) {
	src := &ReplicationSource{
		Primary:  NodeAddress{Host: "host1", Port: 5432},
		Username: "repluser",
		Password: "secret",
		SlotName: "pgfleet_1",
	}

	t.Run("success replaces the data directory", func(t *testing.T) {
		pgm, dataDir := newTestManager(t)
		runner := &fakeRunner{results: []execute.Result{{ExitCode: 0}}}
		pgm.runner = runner

		backupDir := filepath.Join(filepath.Dir(dataDir), "postgres.backup")
		if err := pgm.Backup(backupDir, "32M", src); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		// the staging directory was renamed over the data directory, so
		// the old content is gone
		exists, err := fileutil.Exists(filepath.Join(dataDir, postgresConf))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if exists {
			t.Errorf("old data directory content still present after backup")
		}
		exists, err = fileutil.DirExists(backupDir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if exists {
			t.Errorf("staging directory still present after backup")
		}

		c := runner.cmds[0]
		if filepath.Base(c.Path) != "pg_basebackup" {
			t.Errorf("got path %q, wanted a pg_basebackup invocation", c.Path)
		}
		args := strings.Join(c.Args, " ")
		if !strings.Contains(args, "--slot pgfleet_1") {
			t.Errorf("slot missing from args: %q", args)
		}
		if !strings.Contains(args, "--max-rate 32M") {
			t.Errorf("max rate missing from args: %q", args)
		}
		env := strings.Join(c.Env, " ")
		if !strings.Contains(env, "PGPASSWORD=secret") {
			t.Errorf("password missing from the child environment: %q", env)
		}
		if !strings.Contains(env, "PGCONNECT_TIMEOUT="+postgresConnectTimeout) {
			t.Errorf("connect timeout missing from the child environment: %q", env)
		}
	})

	t.Run("failure leaves the data directory alone", func(t *testing.T) {
		pgm, dataDir := newTestManager(t)
		runner := &fakeRunner{results: []execute.Result{{ExitCode: 1, Stderr: "pg_basebackup: connection refused\n"}}}
		pgm.runner = runner

		backupDir := filepath.Join(filepath.Dir(dataDir), "postgres.backup")
		if err := pgm.Backup(backupDir, "", src); err == nil {
			t.Fatalf("got no error, wanted an error")
		}

		exists, err := fileutil.Exists(filepath.Join(dataDir, postgresConf))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !exists {
			t.Errorf("data directory content lost on a failed backup")
		}
		// the staging directory sticks around for inspection
		exists, err = fileutil.DirExists(backupDir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !exists {
			t.Errorf("staging directory removed on a failed backup")
		}

		args := strings.Join(runner.cmds[0].Args, " ")
		if strings.Contains(args, "--max-rate") {
			t.Errorf("max rate passed without a configured value: %q", args)
		}
	})
}

func TestRewind(t *testing.T) {
	pgm, _ := newTestManager(t)
	runner := &fakeRunner{results: []execute.Result{{ExitCode: 0}}}
	pgm.runner = runner

	src := &ReplicationSource{
		Primary:  NodeAddress{Host: "host1", Port: 5432},
		Username: "repluser",
		Password: "secret",
	}
	if err := pgm.Rewind(src, "postgres"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := runner.cmds[0]
	if filepath.Base(c.Path) != "pg_rewind" {
		t.Errorf("got path %q, wanted a pg_rewind invocation", c.Path)
	}
	wantSource := "host=host1 port=5432 user=repluser dbname=postgres"
	found := false
	for i, arg := range c.Args {
		if arg == "--source-server" && i+1 < len(c.Args) && c.Args[i+1] == wantSource {
			found = true
		}
	}
	if !found {
		t.Errorf("source server %q missing from args: %v", wantSource, c.Args)
	}
	env := strings.Join(c.Env, " ")
	if !strings.Contains(env, "PGPASSWORD=secret") {
		t.Errorf("password missing from the child environment: %q", env)
	}
}

func TestInitDB(t *testing.T) {
	pgm, dataDir := newTestManager(t)
	runner := &fakeRunner{results: []execute.Result{{ExitCode: 0}}}
	pgm.runner = runner

	if err := pgm.InitDB(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := runner.cmds[0]
	wantArgs := []string{"initdb", "-s", "-D", dataDir}
	if strings.Join(c.Args, " ") != strings.Join(wantArgs, " ") {
		t.Errorf("got args %v, wanted %v", c.Args, wantArgs)
	}

	runner.results = []execute.Result{{ExitCode: 1, Stderr: "initdb: directory not empty\n"}}
	if err := pgm.InitDB(); err == nil {
		t.Fatalf("got no error, wanted an error")
	}
}
