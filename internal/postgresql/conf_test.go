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
	"time"

	"github.com/pgfleet/pgfleet/internal/fileutil"
)

func newTestManager(t *testing.T) (*Manager, string) {
	dir, err := os.MkdirTemp("", "pgfleet")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	dataDir := filepath.Join(dir, "postgres")
	if err := os.Mkdir(dataDir, 0700); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, postgresConf), []byte("shared_buffers = '128MB'\n"), 0600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	setup := &Setup{
		PgCtlPath:       "/usr/lib/postgresql/14/bin/pg_ctl",
		DataDir:         dataDir,
		ListenAddresses: "*",
		Port:            5432,
	}
	return NewManager(setup, &fakeRunner{}, time.Second), dataDir
}

func TestEnsureDefaultSettings(t *testing.T) {
	pgm, dataDir := newTestManager(t)

	wrote, err := pgm.EnsureDefaultSettings(DefaultSettings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !wrote {
		t.Errorf("got wrote false on first call, wanted true")
	}

	settings, err := os.ReadFile(filepath.Join(dataDir, defaultsConfFilename))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantSettings := `# Settings by pgfleet
listen_addresses = '*'
port = 5432
max_wal_senders = 4
max_replication_slots = 4
wal_level = 'replica'
wal_log_hints = on
wal_sender_timeout = '30s'
hot_standby_feedback = on
hot_standby = on
`
	if string(settings) != wantSettings {
		t.Errorf("wrong settings file content: got:\n%s\nwant:\n%s", settings, wantSettings)
	}

	conf, err := os.ReadFile(filepath.Join(dataDir, postgresConf))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(string(conf), "include 'postgresql-pgfleet.conf' # Auto-generated by pgfleet, do not remove\n") {
		t.Errorf("configuration file does not start with the include line: got:\n%s", conf)
	}
	if !strings.Contains(string(conf), "shared_buffers = '128MB'") {
		t.Errorf("configuration file lost its previous content: got:\n%s", conf)
	}

	// a second call must not touch anything
	wrote, err = pgm.EnsureDefaultSettings(DefaultSettings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wrote {
		t.Errorf("got wrote true on second call, wanted false")
	}
	conf, err = os.ReadFile(filepath.Join(dataDir, postgresConf))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := strings.Count(string(conf), "include 'postgresql-pgfleet.conf'"); n != 1 {
		t.Errorf("got %d include lines, wanted 1:\n%s", n, conf)
	}

	// changing the setup must rewrite the settings file
	pgm.setup.Port = 5433
	wrote, err = pgm.EnsureDefaultSettings(DefaultSettings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !wrote {
		t.Errorf("got wrote false after a port change, wanted true")
	}
	settings, err = os.ReadFile(filepath.Join(dataDir, defaultsConfFilename))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(settings), "port = 5433\n") {
		t.Errorf("settings file not rewritten after a port change: got:\n%s", settings)
	}
}

func TestEnsureSettingsFileNoValue(t *testing.T) {
	pgm, dataDir := newTestManager(t)

	_, err := ensureSettingsFile(filepath.Join(dataDir, defaultsConfFilename), []Setting{{"max_wal_senders", ""}}, pgm.setup)
	if err == nil {
		t.Fatalf("got no error, wanted an error for a setting without a value")
	}
}

func TestEnsureConfIncludesMention(t *testing.T) {
	pgm, dataDir := newTestManager(t)

	// a mention of the file name inside a comment must not count as an
	// include line
	confPath := filepath.Join(dataDir, postgresConf)
	if err := os.WriteFile(confPath, []byte("# see postgresql-pgfleet.conf\nshared_buffers = '128MB'\n"), 0600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := pgm.EnsureDefaultSettings(DefaultSettings); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conf, err := os.ReadFile(confPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(string(conf), "include 'postgresql-pgfleet.conf'") {
		t.Errorf("include line not added: got:\n%s", conf)
	}
}

func TestSetupStandbyModeRecoveryConf(t *testing.T) {
	pgm, dataDir := newTestManager(t)

	src := &ReplicationSource{
		Primary:  NodeAddress{Host: "host1", Port: 5432},
		Username: "repluser",
		Password: "secret",
		SlotName: "pgfleet_1",
	}

	// one short of the version that switched to signal files
	if err := pgm.SetupStandbyMode(controlVersionStandbySignal-1, src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recovery, err := os.ReadFile(filepath.Join(dataDir, postgresRecoveryConf))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `standby_mode = 'on'
primary_conninfo = 'host=host1 port=5432 user=repluser password=secret'
primary_slot_name = 'pgfleet_1'
recovery_target_timeline = 'latest'
`
	if string(recovery) != want {
		t.Errorf("wrong recovery.conf content: got:\n%s\nwant:\n%s", recovery, want)
	}

	exists, err := fileutil.Exists(filepath.Join(dataDir, postgresStandbySignal))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Errorf("standby.signal written for a pre-12 server")
	}
}

func TestSetupStandbyModeStandbySignal(t *testing.T) {
	pgm, dataDir := newTestManager(t)

	src := &ReplicationSource{
		Primary:  NodeAddress{Host: "host1", Port: 5432},
		Username: "repluser",
		Password: "secret",
		SlotName: "pgfleet_1",
	}

	if err := pgm.SetupStandbyMode(controlVersionStandbySignal, src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	exists, err := fileutil.Exists(filepath.Join(dataDir, postgresStandbySignal))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists {
		t.Fatalf("standby.signal not written")
	}

	standby, err := os.ReadFile(filepath.Join(dataDir, standbyConfFilename))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `# Settings by pgfleet
primary_conninfo = 'host=host1 port=5432 user=repluser password=secret'
primary_slot_name = 'pgfleet_1'
recovery_target_timeline = 'latest'
`
	if string(standby) != want {
		t.Errorf("wrong standby settings content: got:\n%s\nwant:\n%s", standby, want)
	}

	// the include goes into the main configuration file, not into the
	// generated one
	conf, err := os.ReadFile(filepath.Join(dataDir, postgresConf))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(string(conf), "include 'postgresql-pgfleet-standby.conf'") {
		t.Errorf("standby include line not added to the main configuration file: got:\n%s", conf)
	}

	exists, err = fileutil.Exists(filepath.Join(dataDir, postgresRecoveryConf))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Errorf("recovery.conf written for a post-12 server")
	}

	// repeating the whole operation must stay idempotent
	if err := pgm.SetupStandbyMode(controlVersionStandbySignal, src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conf, err = os.ReadFile(filepath.Join(dataDir, postgresConf))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := strings.Count(string(conf), "include 'postgresql-pgfleet-standby.conf'"); n != 1 {
		t.Errorf("got %d standby include lines, wanted 1:\n%s", n, conf)
	}
}
