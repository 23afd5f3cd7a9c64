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

// Package fileutil provides the file primitives used when maintaining a
// postgres data directory and its configuration files.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// Exists reports whether path exists, whatever its type.
func Exists(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DirExists reports whether path exists and is a directory.
func DirExists(path string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return fi.IsDir(), nil
}

func ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile fully replaces the content of path. The write goes through a
// temporary file in the same directory renamed over the destination, so a
// concurrent reader never observes a partially written file.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}

// AppendFile appends data to path, creating it if needed.
func AppendFile(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// EnsureEmptyDir makes sure path is an empty directory with the given
// permissions, removing any previous content.
func EnsureEmptyDir(path string, perm os.FileMode) error {
	exists, err := Exists(path)
	if err != nil {
		return err
	}
	if exists {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("cannot remove %q: %v", path, err)
		}
	}
	return os.MkdirAll(path, perm)
}

// InSameDirectory returns the path of name placed in the directory
// containing ref.
func InSameDirectory(ref, name string) string {
	return filepath.Join(filepath.Dir(ref), name)
}
