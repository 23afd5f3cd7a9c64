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
	"fmt"
	"os"
	"path/filepath"

	"github.com/pgfleet/pgfleet/internal/execute"
)

const pgCtlName = "pg_ctl"

// PgCtlInfo is one pg_ctl binary found on the search path, with the server
// version it belongs to.
type PgCtlInfo struct {
	Path    string
	Version string
}

// PgCtlVersion runs "pg_ctl --version" and extracts the version number from
// its output.
func PgCtlVersion(runner execute.Runner, path string) (string, error) {
	res := runner.Run(execute.Cmd{Path: path, Args: []string{"--version"}})
	if res.Err != nil {
		return "", res.Err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("failed to run %q --version: exit code %d", path, res.ExitCode)
	}
	version := parseVersionNumber(res.Stdout)
	if version == "" {
		return "", fmt.Errorf("failed to parse pg_ctl version from %q", res.Stdout)
	}
	return version, nil
}

// FindPgCtl searches every directory of searchPath, a PATH-style list, for
// a pg_ctl executable and probes each candidate for its version.
func FindPgCtl(runner execute.Runner, searchPath string) ([]PgCtlInfo, error) {
	infos := []PgCtlInfo{}
	for _, dir := range filepath.SplitList(searchPath) {
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, pgCtlName)
		fi, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		if fi.IsDir() || fi.Mode()&0111 == 0 {
			continue
		}
		version, err := PgCtlVersion(runner, path)
		if err != nil {
			return nil, err
		}
		infos = append(infos, PgCtlInfo{Path: path, Version: version})
	}
	return infos, nil
}

// FindPgCtl resolves the pg_ctl path and version of the setup from the
// search path. Exactly one match selects it; zero matches is reported but
// not fatal; with several installed major versions nothing is selected,
// each candidate is listed and the operator has to disambiguate. It returns
// how many candidates were found.
func (s *Setup) FindPgCtl(runner execute.Runner, searchPath string) (int, error) {
	infos, err := FindPgCtl(runner, searchPath)
	if err != nil {
		return 0, err
	}

	s.PgCtlPath = ""
	s.PgVersion = ""

	switch len(infos) {
	case 0:
		log.Warnf("failed to find pg_ctl in search path")
	case 1:
		log.Infow("found pg_ctl", "version", infos[0].Version, "path", infos[0].Path)
		s.PgCtlPath = infos[0].Path
		s.PgVersion = infos[0].Version
	default:
		for _, info := range infos {
			log.Infow("found pg_ctl", "version", info.Version, "path", info.Path)
		}
	}
	return len(infos), nil
}
