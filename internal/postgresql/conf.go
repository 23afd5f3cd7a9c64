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
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/pgfleet/pgfleet/internal/common"
	"github.com/pgfleet/pgfleet/internal/fileutil"
)

const (
	defaultsConfFilename = "postgresql-pgfleet.conf"
	standbyConfFilename  = "postgresql-pgfleet-standby.conf"

	confIncludeComment = " # Auto-generated by pgfleet, do not remove\n"
	settingsBanner     = "# Settings by pgfleet\n"

	// pg_control version of the PostgreSQL 12 release, where recovery.conf
	// was replaced by signal files plus regular configuration settings.
	controlVersionStandbySignal = 1200
)

var (
	defaultsConfIncludeLine   = fmt.Sprintf("include '%s'", defaultsConfFilename)
	defaultsConfIncludeRegexp = regexp.MustCompile(`(?m)^include 'postgresql-pgfleet\.conf'.*`)

	standbyConfIncludeLine   = fmt.Sprintf("include '%s'", standbyConfFilename)
	standbyConfIncludeRegexp = regexp.MustCompile(`(?m)^include 'postgresql-pgfleet-standby\.conf'.*`)
)

// Setting is one name/value configuration entry of a generated settings
// file. Values are rendered verbatim, so they carry their own quoting. The
// reserved names "listen_addresses" and "port" take their value from the
// Setup instead of the Value field, letting a single static template serve
// dynamic deployments.
type Setting struct {
	Name  string
	Value string
}

// DefaultSettings is the template of settings every managed instance gets,
// materialized into postgresql-pgfleet.conf next to the main configuration
// file.
var DefaultSettings = []Setting{
	{"listen_addresses", ""},
	{"port", ""},
	{"max_wal_senders", "4"},
	{"max_replication_slots", "4"},
	{"wal_level", "'replica'"},
	{"wal_log_hints", "on"},
	{"wal_sender_timeout", "'30s'"},
	{"hot_standby_feedback", "on"},
	{"hot_standby", "on"},
}

// SettingsParameters resolves a settings list into a plain name/value map,
// substituting the reserved names from the Setup. Used to diff desired
// configuration against what was last written.
func SettingsParameters(settings []Setting, setup *Setup) common.Parameters {
	params := make(common.Parameters, len(settings))
	for _, s := range settings {
		switch s.Name {
		case "listen_addresses":
			params[s.Name] = setup.ListenAddresses
		case "port":
			params[s.Name] = fmt.Sprintf("%d", setup.Port)
		default:
			params[s.Name] = s.Value
		}
	}
	return params
}

// ensureConfIncludes makes sure the configuration file at path contains
// includeLine. Detection matches includeRegexp against the start of a line,
// not a bare substring, so a mention inside a comment elsewhere in the file
// does not count. When missing, the include is prepended to the existing
// content so it cannot be overridden by later assignments in the file.
func ensureConfIncludes(path, includeLine string, includeRegexp *regexp.Regexp, comment string) error {
	cur, err := fileutil.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read configuration file %q: %v", path, err)
	}

	if includeRegexp.Match(cur) {
		log.Debugw("include line already present", "include", includeLine, "path", path)
		return nil
	}

	log.Debugw("adding include line", "include", includeLine, "path", path)

	var b bytes.Buffer
	b.WriteString(includeLine)
	b.WriteString(comment)
	b.Write(cur)

	if err := fileutil.WriteFile(path, b.Bytes(), 0600); err != nil {
		return fmt.Errorf("cannot write configuration file %q: %v", path, err)
	}
	return nil
}

// ensureSettingsFile renders settings into a generated configuration file
// at path, one "name = value" line per setting after a banner comment. The
// write is skipped when the file already holds byte-identical content,
// preserving timestamps and avoiding spurious reload signals to a running
// server. It reports whether the file was written.
func ensureSettingsFile(path string, settings []Setting, setup *Setup) (bool, error) {
	var b bytes.Buffer
	b.WriteString(settingsBanner)
	for _, s := range settings {
		switch s.Name {
		case "listen_addresses":
			fmt.Fprintf(&b, "%s = '%s'\n", s.Name, setup.ListenAddresses)
		case "port":
			fmt.Fprintf(&b, "%s = %d\n", s.Name, setup.Port)
		default:
			if s.Value == "" {
				// a hardcoded setting without a value is a programming
				// defect, not a runtime condition
				return false, fmt.Errorf("setting %q has no value", s.Name)
			}
			fmt.Fprintf(&b, "%s = %s\n", s.Name, s.Value)
		}
	}

	exists, err := fileutil.Exists(path)
	if err != nil {
		return false, err
	}
	if exists {
		cur, err := fileutil.ReadFile(path)
		if err != nil {
			return false, fmt.Errorf("cannot read settings file %q: %v", path, err)
		}
		if bytes.Equal(cur, b.Bytes()) {
			log.Debugw("settings file up to date", "path", path)
			return false, nil
		}
		log.Warnw("settings file content has changed, overwriting", "path", path)
	} else {
		log.Debugw("creating settings file", "path", path)
	}

	if err := fileutil.WriteFile(path, b.Bytes(), 0600); err != nil {
		return false, fmt.Errorf("cannot write settings file %q: %v", path, err)
	}
	return true, nil
}

// EnsureDefaultSettings materializes the given settings template next to
// the main configuration file and makes sure the main configuration file
// includes it. It reports whether the settings file was (re)written, in
// which case the caller should reload a running server.
func (p *Manager) EnsureDefaultSettings(settings []Setting) (bool, error) {
	configFilePath := p.setup.ConfigFilePath()
	// the generated file must live alongside the main configuration file
	// for a relative include to resolve
	settingsPath := fileutil.InSameDirectory(configFilePath, defaultsConfFilename)

	wrote, err := ensureSettingsFile(settingsPath, settings, p.setup)
	if err != nil {
		return false, err
	}
	if err := ensureConfIncludes(configFilePath, defaultsConfIncludeLine, defaultsConfIncludeRegexp, confIncludeComment); err != nil {
		return false, err
	}

	p.updateCurSettings(settings)
	return wrote, nil
}

// SetupStandbyMode switches the instance into standby mode, replicating
// from the given source. The shape of the generated configuration depends
// on the managed server's control version: before PostgreSQL 12 a dedicated
// recovery.conf file inside the data directory, from 12 on a standby.signal
// trigger file plus a generated settings file included from the main
// configuration file.
func (p *Manager) SetupStandbyMode(controlVersion uint32, src *ReplicationSource) error {
	primaryConnInfo, err := preparePrimaryConnInfo(src.Primary.Host, src.Primary.Port, src.Username, src.Password)
	if err != nil {
		return err
	}

	if controlVersion < controlVersionStandbySignal {
		return p.writeRecoveryConf(primaryConnInfo, src.SlotName)
	}
	return p.writeStandbySignal(primaryConnInfo, src.SlotName)
}

// writeRecoveryConf writes the pre-12 recovery.conf file into the data
// directory.
func (p *Manager) writeRecoveryConf(primaryConnInfo, slotName string) error {
	var b bytes.Buffer
	b.WriteString("standby_mode = 'on'\n")
	fmt.Fprintf(&b, "primary_conninfo = %s\n", primaryConnInfo)
	fmt.Fprintf(&b, "primary_slot_name = '%s'\n", slotName)
	b.WriteString("recovery_target_timeline = 'latest'\n")

	recoveryConfPath := filepath.Join(p.setup.DataDir, postgresRecoveryConf)
	log.Infow("writing recovery configuration", "path", recoveryConfPath)

	if err := fileutil.WriteFile(recoveryConfPath, b.Bytes(), 0600); err != nil {
		return fmt.Errorf("cannot write %q: %v", recoveryConfPath, err)
	}
	return nil
}

// writeStandbySignal sets up post-12 standby mode. The zero-byte
// standby.signal file is written first: if installing the replication
// settings fails afterwards, the server still refuses to start as a
// writable primary and the caller can retry.
func (p *Manager) writeStandbySignal(primaryConnInfo, slotName string) error {
	signalFilePath := filepath.Join(p.setup.DataDir, postgresStandbySignal)
	log.Infow("writing standby signal file", "path", signalFilePath)

	if err := fileutil.WriteFile(signalFilePath, nil, 0600); err != nil {
		return fmt.Errorf("cannot write %q: %v", signalFilePath, err)
	}

	standbySettings := []Setting{
		{"primary_conninfo", primaryConnInfo},
		{"primary_slot_name", fmt.Sprintf("'%s'", slotName)},
		{"recovery_target_timeline", "'latest'"},
	}

	configFilePath := p.setup.ConfigFilePath()
	standbyConfPath := fileutil.InSameDirectory(configFilePath, standbyConfFilename)

	if _, err := ensureSettingsFile(standbyConfPath, standbySettings, p.setup); err != nil {
		return fmt.Errorf("cannot prepare standby settings %q: %v", standbyConfPath, err)
	}
	if err := ensureConfIncludes(configFilePath, standbyConfIncludeLine, standbyConfIncludeRegexp, confIncludeComment); err != nil {
		return fmt.Errorf("cannot include standby settings from %q: %v", configFilePath, err)
	}
	return nil
}
