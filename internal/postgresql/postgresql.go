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

// Package postgresql drives the lifecycle of a single managed PostgreSQL
// instance through its binary tooling (pg_ctl, pg_controldata,
// pg_basebackup, pg_rewind) and maintains the generated configuration
// needed for standby operation.
//
// All operations are synchronous and assume a single writer per data
// directory. Callers needing timeouts or cancellation must enforce them
// above this layer.
package postgresql

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mitchellh/copystructure"
	"go.uber.org/zap"

	"github.com/pgfleet/pgfleet/internal/execute"
	"github.com/pgfleet/pgfleet/internal/fileutil"
	slog "github.com/pgfleet/pgfleet/internal/log"
)

const (
	postgresConf          = "postgresql.conf"
	postgresRecoveryConf  = "recovery.conf"
	postgresStandbySignal = "standby.signal"
	postgresVersionFile   = "PG_VERSION"
	startupLogFilename    = "startup.log"

	// pg_ctl status exit code meaning "no server running". Stable since
	// PostgreSQL 9.4, per pg_ctl's adoption of the LSB init script codes.
	pgCtlStatusNotRunning = 3

	// connect timeout, in seconds, passed to the backup and rewind tools
	// through their environment
	postgresConnectTimeout = "5"

	// environment variable forcing the unix socket directory, used by
	// regression test harnesses
	regressSockDirEnv = "PG_REGRESS_SOCK_DIR"
)

var log = slog.S()

// SetLogger replaces the package level logger.
func SetLogger(l *zap.SugaredLogger) {
	log = l
}

// Setup identifies a managed instance: where its control binary lives,
// where its data and main configuration file are, and how it listens. It is
// owned by the caller and never mutated by the operations in this package.
type Setup struct {
	PgCtlPath       string
	PgVersion       string
	DataDir         string
	ConfigFile      string
	ListenAddresses string
	Port            int
}

// ConfigFilePath returns the main configuration file path, defaulting to
// postgresql.conf inside the data directory.
func (s *Setup) ConfigFilePath() string {
	if s.ConfigFile != "" {
		return s.ConfigFile
	}
	return filepath.Join(s.DataDir, postgresConf)
}

// IsInitialized reports whether the data directory holds an initialized
// cluster.
func (s *Setup) IsInitialized() (bool, error) {
	return fileutil.Exists(filepath.Join(s.DataDir, postgresVersionFile))
}

// NodeAddress locates a postgres node on the network.
type NodeAddress struct {
	Host string
	Port int
}

// ReplicationSource describes the primary a standby replicates from. It is
// supplied by the caller and read-only to this package.
type ReplicationSource struct {
	Primary  NodeAddress
	Username string
	Password string
	SlotName string
}

func (r *ReplicationSource) DeepCopy() *ReplicationSource {
	nr, err := copystructure.Copy(r)
	if err != nil {
		panic(err)
	}
	return nr.(*ReplicationSource)
}

// Manager issues lifecycle operations against one managed instance.
// Operations are not safe for concurrent use against the same instance.
type Manager struct {
	setup           *Setup
	runner          execute.Runner
	localConnParams ConnParams
	requestTimeout  time.Duration
	curSettings     []Setting
}

func NewManager(setup *Setup, runner execute.Runner, requestTimeout time.Duration) *Manager {
	return &Manager{
		setup:  setup,
		runner: runner,
		localConnParams: ConnParams{
			"host":    "localhost",
			"port":    strconv.Itoa(setup.Port),
			"dbname":  "postgres",
			"sslmode": "disable",
		},
		requestTimeout: requestTimeout,
	}
}

func (p *Manager) Setup() *Setup {
	return p.setup
}

// SetLocalConnParams overrides the connection parameters used by the SQL
// level probes (Ping, WaitReady, IsInRecovery, replication slots).
func (p *Manager) SetLocalConnParams(cp ConnParams) {
	p.localConnParams = cp.Copy()
}

// CurSettings returns the last settings list successfully persisted via
// EnsureDefaultSettings.
func (p *Manager) CurSettings() []Setting {
	return p.curSettings
}

func (p *Manager) updateCurSettings(settings []Setting) {
	n, err := copystructure.Copy(settings)
	if err != nil {
		panic(err)
	}
	p.curSettings = n.([]Setting)
}

// logProgramOutput surfaces the captured output of an external tool, error
// output at error level when the tool failed.
func logProgramOutput(res execute.Result) {
	if res.Stdout != "" {
		log.Infof("%s", res.Stdout)
	}
	if res.Stderr != "" {
		if res.ExitCode == 0 {
			log.Infof("%s", res.Stderr)
		} else {
			log.Errorf("%s", res.Stderr)
		}
	}
}

// InitDB initialises the data directory by running "pg_ctl initdb". The
// child inherits locale related variables from our environment.
func (p *Manager) InitDB() error {
	log.Infow("Initialising a PostgreSQL cluster", "dataDir", p.setup.DataDir)

	res := p.runner.Run(execute.Cmd{
		Path: p.setup.PgCtlPath,
		Args: []string{"initdb", "-s", "-D", p.setup.DataDir},
	})
	if res.Err != nil {
		return res.Err
	}
	if res.ExitCode != 0 {
		logProgramOutput(res)
		return fmt.Errorf("pg_ctl initdb failed: exit code %d", res.ExitCode)
	}
	return nil
}

// Start starts the instance with "pg_ctl start --wait", forcing the
// configured port and, when set, the listen addresses. A non-zero exit is
// disambiguated with a status probe: pg_ctl start fails when the server is
// already running, typically after a previous orchestrator run crashed
// leaving the instance up, and that counts as success here. The start
// output is appended to <datadir>/startup.log either way for audit.
func (p *Manager) Start() error {
	logfile := filepath.Join(p.setup.DataDir, startupLogFilename)

	// pg_ctl --options values are handed to a shell when pg_ctl execs the
	// postmaster, hence the embedded double quotes.
	args := []string{
		"--pgdata", p.setup.DataDir,
		"--options", fmt.Sprintf(`"-p %d"`, p.setup.Port),
	}
	if p.setup.ListenAddresses != "" {
		args = append(args, "--options", fmt.Sprintf(`"-h %s"`, p.setup.ListenAddresses))
	}
	if sockDir := os.Getenv(regressSockDirEnv); sockDir != "" {
		args = append(args, "--options", fmt.Sprintf(`"-k %s"`, sockDir))
	}
	args = append(args, "--wait", "start")

	log.Infow("starting database", "dataDir", p.setup.DataDir, "port", p.setup.Port)

	// start in its own session so the postmaster survives us
	res := p.runner.Run(execute.Cmd{Path: p.setup.PgCtlPath, Args: args, NewSession: true})
	if res.Err != nil {
		return res.Err
	}

	var startErr error
	if res.ExitCode != 0 {
		statusRes := p.runner.Run(execute.Cmd{
			Path: p.setup.PgCtlPath,
			Args: []string{"status", "-D", p.setup.DataDir},
		})
		if statusRes.Err == nil && statusRes.ExitCode == 0 {
			log.Warnw("failed to start postgres but it is already running", "exitCode", res.ExitCode)
			// pg_ctl start output is known to be all on stdout
			if res.Stdout != "" {
				log.Warnf("%s", res.Stdout)
			}
			logProgramOutput(statusRes)
		} else {
			log.Errorw("failed to start postgres", "exitCode", res.ExitCode)
			if res.Stdout != "" {
				log.Errorf("%s", res.Stdout)
			}
			startErr = fmt.Errorf("pg_ctl start failed: exit code %d", res.ExitCode)
		}
	}

	// mirror pg_ctl --log by keeping the startup output around
	if res.Stdout != "" {
		if err := fileutil.AppendFile(logfile, []byte(res.Stdout), 0600); err != nil {
			log.Errorw("cannot append startup output", "logfile", logfile, zap.Error(err))
		}
	}

	return startErr
}

// Stop stops the instance with a fast shutdown and waits for completion.
// Stopping an instance that is not running, or whose data directory does
// not exist at all, is success: stop is idempotent.
func (p *Manager) Stop() error {
	log.Infow("stopping database", "dataDir", p.setup.DataDir)

	res := p.runner.Run(execute.Cmd{
		Path: p.setup.PgCtlPath,
		Args: []string{"--pgdata", p.setup.DataDir, "--wait", "stop", "--mode", "fast"},
	})
	if res.Err != nil {
		return res.Err
	}
	if res.ExitCode == 0 {
		return nil
	}

	exists, err := fileutil.DirExists(p.setup.DataDir)
	if err != nil {
		return err
	}
	if !exists {
		log.Infow("data directory does not exist, considering postgres not running", "dataDir", p.setup.DataDir)
		return nil
	}

	status, err := p.Status(true)
	if err != nil {
		return err
	}
	if status == pgCtlStatusNotRunning {
		log.Infow("pg_ctl stop failed, but postgres is not running anyway")
		return nil
	}

	logProgramOutput(res)
	return fmt.Errorf("pg_ctl stop failed: exit code %d, status exit code %d", res.ExitCode, status)
}

// Restart restarts the instance in fast mode. Unlike start and stop there
// is no known spurious failure mode, so a non-zero exit is always an error.
func (p *Manager) Restart() error {
	log.Infow("restarting database", "dataDir", p.setup.DataDir)

	res := p.runner.Run(execute.Cmd{
		Path: p.setup.PgCtlPath,
		Args: []string{"restart", "--pgdata", p.setup.DataDir, "--silent", "--wait", "--mode", "fast"},
	})
	if res.Err != nil {
		return res.Err
	}
	if res.ExitCode != 0 {
		logProgramOutput(res)
		return fmt.Errorf("pg_ctl restart failed: exit code %d", res.ExitCode)
	}
	return nil
}

// Reload signals the instance to re-read its configuration files.
func (p *Manager) Reload() error {
	log.Infow("reloading database configuration", "dataDir", p.setup.DataDir)

	res := p.runner.Run(execute.Cmd{
		Path: p.setup.PgCtlPath,
		Args: []string{"reload", "-D", p.setup.DataDir},
	})
	if res.Err != nil {
		return res.Err
	}
	if res.ExitCode != 0 {
		logProgramOutput(res)
		return fmt.Errorf("pg_ctl reload failed: exit code %d", res.ExitCode)
	}
	return nil
}

// Status runs "pg_ctl status" and returns its raw exit code. 0 means
// running and pgCtlStatusNotRunning means no server; any other code is an
// unknown state callers must treat conservatively.
func (p *Manager) Status(logOutput bool) (int, error) {
	res := p.runner.Run(execute.Cmd{
		Path: p.setup.PgCtlPath,
		Args: []string{"status", "-D", p.setup.DataDir},
	})
	if res.Err != nil {
		return -1, res.Err
	}
	if logOutput {
		logProgramOutput(res)
	}
	return res.ExitCode, nil
}

// IsRunning is a status probe interpreted as a boolean, with output
// logging suppressed.
func (p *Manager) IsRunning() (bool, error) {
	status, err := p.Status(false)
	if err != nil {
		return false, err
	}
	return status == 0, nil
}

// Promote promotes a standby with "pg_ctl promote --wait". Any error output
// from the tool is surfaced regardless of its exit code.
func (p *Manager) Promote() error {
	log.Infow("promoting database", "dataDir", p.setup.DataDir)

	res := p.runner.Run(execute.Cmd{
		Path: p.setup.PgCtlPath,
		Args: []string{"promote", "-D", p.setup.DataDir, "-w"},
	})
	if res.Err != nil {
		return res.Err
	}
	if res.Stderr != "" {
		log.Errorf("%s", res.Stderr)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("pg_ctl promote failed: exit code %d", res.ExitCode)
	}
	return nil
}

// Backup takes a full base backup of the given primary into backupDir and
// then substitutes it for the live data directory: the old data directory
// is removed and the staged copy renamed into its place, relying on
// same-filesystem rename semantics. On failure the staging directory is
// left in place for inspection.
func (p *Manager) Backup(backupDir, maxRate string, src *ReplicationSource) error {
	if err := fileutil.EnsureEmptyDir(backupDir, 0700); err != nil {
		return fmt.Errorf("cannot prepare backup staging directory: %v", err)
	}

	pgBasebackup := fileutil.InSameDirectory(p.setup.PgCtlPath, "pg_basebackup")

	// password and timeout travel via the child's environment so they
	// never show up in process listings
	env := []string{"PGCONNECT_TIMEOUT=" + postgresConnectTimeout}
	if src.Password != "" {
		env = append(env, "PGPASSWORD="+src.Password)
	}

	log.Infow("running pg_basebackup",
		"primaryHost", src.Primary.Host,
		"primaryPort", src.Primary.Port,
		"backupDir", backupDir,
		"username", src.Username,
		"maxRate", maxRate,
		"slot", src.SlotName)

	args := []string{
		"-w",
		"-h", src.Primary.Host,
		"-p", strconv.Itoa(src.Primary.Port),
		"--pgdata", backupDir,
		"-U", src.Username,
		"--verbose",
		"--progress",
		"--write-recovery-conf",
		"--wal-method=stream",
		"--slot", src.SlotName,
	}
	if maxRate != "" {
		args = append(args, "--max-rate", maxRate)
	}

	res := p.runner.Run(execute.Cmd{Path: pgBasebackup, Args: args, Env: env})
	if res.Err != nil {
		return res.Err
	}
	logProgramOutput(res)
	if res.ExitCode != 0 {
		return fmt.Errorf("pg_basebackup failed: exit code %d", res.ExitCode)
	}

	exists, err := fileutil.DirExists(p.setup.DataDir)
	if err != nil {
		return err
	}
	if exists {
		if err := os.RemoveAll(p.setup.DataDir); err != nil {
			return fmt.Errorf("cannot remove data directory %q: %v", p.setup.DataDir, err)
		}
	}

	log.Debugw("installing base backup", "backupDir", backupDir, "dataDir", p.setup.DataDir)
	if err := os.Rename(backupDir, p.setup.DataDir); err != nil {
		return fmt.Errorf("cannot install base backup %q in %q: %v", backupDir, p.setup.DataDir, err)
	}
	return nil
}

// Rewind rewinds the data directory to a point where it can follow the
// given primary, by running pg_rewind against it. The tool rewrites the
// data directory in place.
func (p *Manager) Rewind(src *ReplicationSource, databaseName string) error {
	// simple host/user/db tokens, no escaping needed here
	connInfo := fmt.Sprintf("host=%s port=%d user=%s dbname=%s",
		src.Primary.Host, src.Primary.Port, src.Username, databaseName)

	pgRewind := fileutil.InSameDirectory(p.setup.PgCtlPath, "pg_rewind")

	env := []string{"PGCONNECT_TIMEOUT=" + postgresConnectTimeout}
	if src.Password != "" {
		env = append(env, "PGPASSWORD="+src.Password)
	}

	log.Infow("running pg_rewind", "dataDir", p.setup.DataDir, "source", connInfo)

	res := p.runner.Run(execute.Cmd{
		Path: pgRewind,
		Args: []string{
			"--target-pgdata", p.setup.DataDir,
			"--source-server", connInfo,
			"--progress",
		},
		Env: env,
	})
	if res.Err != nil {
		return res.Err
	}
	logProgramOutput(res)
	if res.ExitCode != 0 {
		return fmt.Errorf("pg_rewind failed: exit code %d", res.ExitCode)
	}
	return nil
}
