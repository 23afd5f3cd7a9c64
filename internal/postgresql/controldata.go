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
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pgfleet/pgfleet/internal/execute"
	"github.com/pgfleet/pgfleet/internal/fileutil"
)

// pg_controldata sometimes returns an empty output with a zero exit code.
// One extra attempt after a short delay is enough in practice; a second
// empty output is surfaced as a parse failure.
const (
	controlDataAttempts   = 2
	controlDataRetryDelay = 1 * time.Second
)

// ControlData holds the fields parsed from pg_controldata output. It is
// read fresh on every probe and never cached by this package.
type ControlData struct {
	ControlVersion   uint32
	CatalogVersion   uint32
	SystemIdentifier string
	ClusterState     string
	TimelineID       uint32
}

// ReadControlData runs pg_controldata, found alongside pg_ctl, on the data
// directory and parses its output. The tool runs under LANG=C so the output
// format is locale independent. With missingOk, a tool failure is treated
// as the directory legitimately holding no control data yet and reported as
// (nil, nil).
func ReadControlData(runner execute.Runner, setup *Setup, missingOk bool) (*ControlData, error) {
	if setup.PgCtlPath == "" || setup.DataDir == "" {
		return nil, fmt.Errorf("both the pg_ctl path and the data directory are required to read control data")
	}

	pgControlData := fileutil.InSameDirectory(setup.PgCtlPath, "pg_controldata")
	log.Debugw("reading control data", "path", pgControlData, "dataDir", setup.DataDir)

	var res execute.Result
	for attempt := 0; attempt < controlDataAttempts; attempt++ {
		if attempt > 0 {
			log.Warnw("got empty output from pg_controldata, trying again",
				"dataDir", setup.DataDir, "delay", controlDataRetryDelay)
			time.Sleep(controlDataRetryDelay)
		}

		res = runner.Run(execute.Cmd{
			Path: pgControlData,
			Args: []string{setup.DataDir},
			Env:  []string{"LANG=C"},
		})
		if res.Err != nil {
			return nil, res.Err
		}
		if res.ExitCode != 0 || res.Stdout != "" {
			break
		}
	}

	if res.ExitCode != 0 {
		if missingOk {
			return nil, nil
		}
		// pg_controldata errors out single lines prefixed with the binary name
		for _, line := range strings.Split(strings.TrimRight(res.Stderr, "\n"), "\n") {
			if line != "" {
				log.Errorf("%s", line)
			}
		}
		return nil, fmt.Errorf("failed to run %q on %q: exit code %d", pgControlData, setup.DataDir, res.ExitCode)
	}

	cd, err := parseControlData(res.Stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pg_controldata output: %v, output:\n%s", err, res.Stdout)
	}
	return cd, nil
}

// parseControlData parses the "key: value" lines emitted by pg_controldata.
// Only the fields this package branches on are retained; unknown lines are
// skipped.
func parseControlData(out string) (*ControlData, error) {
	cd := &ControlData{}
	haveControlVersion := false

	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Split(bufio.ScanLines)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "pg_control version number":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("bad pg_control version number %q: %v", value, err)
			}
			cd.ControlVersion = uint32(v)
			haveControlVersion = true
		case "Catalog version number":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("bad catalog version number %q: %v", value, err)
			}
			cd.CatalogVersion = uint32(v)
		case "Database system identifier":
			cd.SystemIdentifier = value
		case "Database cluster state":
			cd.ClusterState = value
		case "Latest checkpoint's TimeLineID":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("bad timeline id %q: %v", value, err)
			}
			cd.TimelineID = uint32(v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if !haveControlVersion {
		return nil, fmt.Errorf("no pg_control version number found")
	}
	return cd, nil
}
