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

// Package execute runs external programs capturing their whole output.
//
// Environment overrides are scoped to the spawned child: they are passed on
// the child's environment and never set in the calling process, so two
// concurrent invocations cannot leak a credential into each other's child.
package execute

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	slog "github.com/pgfleet/pgfleet/internal/log"
)

var log = slog.S()

// Cmd describes a single program invocation.
type Cmd struct {
	Path string
	Args []string
	// Env entries are appended to the current process environment for the
	// child only, each in "KEY=value" form.
	Env []string
	// NewSession runs the child in its own session (setsid), detaching it
	// from our controlling terminal. Used when starting long-lived servers.
	NewSession bool
}

// Result holds the outcome of a finished invocation. ExitCode is -1 when
// the program could not be run at all, with Err carrying the spawn error.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

// Runner runs commands synchronously. The production implementation is
// LocalRunner; tests substitute fakes.
type Runner interface {
	Run(c Cmd) Result
}

// LocalRunner executes commands on the local host via os/exec.
type LocalRunner struct{}

func NewLocalRunner() *LocalRunner {
	return &LocalRunner{}
}

func (r *LocalRunner) Run(c Cmd) Result {
	cmd := exec.Command(c.Path, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if c.NewSession {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debugw("execing cmd", "cmd", cmd)

	err := cmd.Run()
	res := Result{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			res.ExitCode = cmd.ProcessState.ExitCode()
		} else {
			res.ExitCode = -1
			res.Err = fmt.Errorf("error running %q: %v", c.Path, err)
		}
	}
	return res
}
