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
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/pgfleet/pgfleet/cmd"
	"github.com/pgfleet/pgfleet/internal/execute"
	"github.com/pgfleet/pgfleet/internal/flagutil"
	slog "github.com/pgfleet/pgfleet/internal/log"
	pg "github.com/pgfleet/pgfleet/internal/postgresql"
)

var log = slog.S()

var CmdPgfleet = &cobra.Command{
	Use:     "pgfleet",
	Short:   "manage the lifecycle of a PostgreSQL instance",
	Version: cmd.Version,
	PersistentPreRun: func(c *cobra.Command, args []string) {
		if err := cmd.CheckCommonConfig(&cfg.CommonConfig); err != nil {
			die("%v", err)
		}
		setupLog(c)
	},
	// just defined to make --version work
	Run: func(c *cobra.Command, args []string) { _ = c.Help() },
}

type config struct {
	cmd.CommonConfig

	dataDir        string
	configFile     string
	pgCtlPath      string
	searchPath     string
	listenAddress  string
	port           int
	requestTimeout time.Duration
}

var cfg config

var runner execute.Runner = execute.NewLocalRunner()

func init() {
	cmd.AddCommonFlags(CmdPgfleet, &cfg.CommonConfig)

	CmdPgfleet.PersistentFlags().StringVar(&cfg.dataDir, "data-dir", "", "postgres data directory")
	CmdPgfleet.PersistentFlags().StringVar(&cfg.configFile, "config-file", "", "main postgres configuration file (defaults to postgresql.conf inside the data directory)")
	CmdPgfleet.PersistentFlags().StringVar(&cfg.pgCtlPath, "pg-ctl-path", "", "absolute path to the pg_ctl binary. If empty it will be searched in the search path")
	CmdPgfleet.PersistentFlags().StringVar(&cfg.searchPath, "search-path", os.Getenv("PATH"), "PATH-style list of directories searched for pg_ctl")
	CmdPgfleet.PersistentFlags().StringVar(&cfg.listenAddress, "pg-listen-address", "", "postgres instance listening address(es)")
	CmdPgfleet.PersistentFlags().IntVar(&cfg.port, "pg-port", 5432, "postgres instance listening port")
	CmdPgfleet.PersistentFlags().DurationVar(&cfg.requestTimeout, "request-timeout", 10*time.Second, "timeout applied to sql level probes against the instance")

	CmdPgfleet.PersistentFlags().BoolVar(&cfg.Debug, "debug", false, "enable debug logging (deprecated, use log-level instead)")
	if err := CmdPgfleet.PersistentFlags().MarkDeprecated("debug", "use --log-level=debug instead"); err != nil {
		panic(err)
	}
}

func setupLog(c *cobra.Command) {
	switch cfg.LogLevel {
	case "error":
		slog.SetLevel(zapcore.ErrorLevel)
	case "warn":
		slog.SetLevel(zapcore.WarnLevel)
	case "info":
		slog.SetLevel(zapcore.InfoLevel)
	case "debug":
		slog.SetLevel(zapcore.DebugLevel)
	}
	if cfg.Debug {
		slog.SetDebug()
	}
	if cmd.IsColorLoggerEnable(c, &cfg.CommonConfig) {
		log = slog.SColor()
		pg.SetLogger(log)
	}
}

// newSetup builds the instance description from the flags, resolving the
// pg_ctl path from the search path when not given explicitly.
func newSetup() *pg.Setup {
	if cfg.dataDir == "" {
		die("data directory required")
	}

	setup := &pg.Setup{
		PgCtlPath:       cfg.pgCtlPath,
		DataDir:         cfg.dataDir,
		ConfigFile:      cfg.configFile,
		ListenAddresses: cfg.listenAddress,
		Port:            cfg.port,
	}

	if setup.PgCtlPath == "" {
		n, err := setup.FindPgCtl(runner, cfg.searchPath)
		if err != nil {
			die("cannot look for pg_ctl: %v", err)
		}
		switch {
		case n == 0:
			die("no pg_ctl found in search path, use --pg-ctl-path")
		case n > 1:
			die("%d pg_ctl binaries found in search path, disambiguate with --pg-ctl-path", n)
		}
	}
	return setup
}

func newManager() *pg.Manager {
	return pg.NewManager(newSetup(), runner, cfg.requestTimeout)
}

// replFlags holds the flags describing the primary a standby operation
// replicates from.
type replFlags struct {
	primaryHost  string
	primaryPort  int
	username     string
	password     string
	passwordFile string
	slotName     string
}

func addReplFlags(c *cobra.Command, f *replFlags, withSlot bool) {
	c.PersistentFlags().StringVar(&f.primaryHost, "primary-host", "", "hostname of the primary to replicate from. Required.")
	c.PersistentFlags().IntVar(&f.primaryPort, "primary-port", 5432, "port of the primary to replicate from")
	c.PersistentFlags().StringVar(&f.username, "repl-username", "", "replication user name. Required.")
	c.PersistentFlags().StringVar(&f.password, "repl-password", "", "replication user password. Only one of --repl-password or --repl-passwordfile must be provided.")
	c.PersistentFlags().StringVar(&f.passwordFile, "repl-passwordfile", "", "replication user password file. Only one of --repl-password or --repl-passwordfile must be provided.")
	if withSlot {
		c.PersistentFlags().StringVar(&f.slotName, "slot", "", "replication slot name. Required. Can contain only lower-case letters, numbers and the underscore character.")
	}
}

func (f *replFlags) replicationSource(withSlot bool) *pg.ReplicationSource {
	if f.primaryHost == "" {
		die("primary host required")
	}
	if f.username == "" {
		die("replication username required")
	}
	if f.password != "" && f.passwordFile != "" {
		die("only one of --repl-password or --repl-passwordfile must be provided")
	}

	password := f.password
	if f.passwordFile != "" {
		var err error
		password, err = readPasswordFromFile(f.passwordFile)
		if err != nil {
			die("cannot read replication password: %v", err)
		}
	}

	if withSlot {
		if f.slotName == "" {
			die("replication slot name required")
		}
		if !pg.IsValidReplSlotName(f.slotName) {
			die("replication slot name %q not valid. It can contain only lower-case letters, numbers and the underscore character", f.slotName)
		}
	}

	return &pg.ReplicationSource{
		Primary:  pg.NodeAddress{Host: f.primaryHost, Port: f.primaryPort},
		Username: f.username,
		Password: password,
		SlotName: f.slotName,
	}
}

func readPasswordFromFile(filepath string) (string, error) {
	fi, err := os.Lstat(filepath)
	if err != nil {
		return "", fmt.Errorf("unable to read password from file %s: %v", filepath, err)
	}
	if fi.Mode() > 0600 {
		// TODO: enforce this by exiting with an error
		log.Warnw("password file permissions are too open. This file should only be readable to the user executing pgfleet! Continuing...", "file", filepath, "mode", fmt.Sprintf("%#o", fi.Mode()))
	}

	pwBytes, err := os.ReadFile(filepath)
	if err != nil {
		return "", fmt.Errorf("unable to read password from file %s: %v", filepath, err)
	}
	return strings.TrimSpace(string(pwBytes)), nil
}

var cmdVersion = &cobra.Command{
	Use:   "version",
	Run:   versionCommand,
	Short: "Display the version",
}

func init() {
	CmdPgfleet.AddCommand(cmdVersion)
}

func versionCommand(c *cobra.Command, args []string) {
	stdout("pgfleet version %s", cmd.Version)
}

func Execute() {
	if err := flagutil.SetFlagsFromEnv(CmdPgfleet.PersistentFlags(), "PGFLEET"); err != nil {
		die("%v", err)
	}
	if err := CmdPgfleet.Execute(); err != nil {
		os.Exit(1)
	}
}

func stdout(format string, a ...interface{}) {
	out := fmt.Sprintf(format, a...)
	fmt.Println(strings.TrimSuffix(out, "\n"))
}

func stderr(format string, a ...interface{}) {
	out := fmt.Sprintf(format, a...)
	fmt.Fprintln(os.Stderr, strings.TrimSuffix(out, "\n"))
}

func die(format string, a ...interface{}) {
	stderr(format, a...)
	os.Exit(1)
}
