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
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// SQL level probes against the managed instance. These complement the
// pg_ctl status probe: pg_ctl only knows whether a postmaster is alive,
// while an instance may be up but still not accepting connections.

func (p *Manager) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.requestTimeout)
	defer cancel()

	db, err := sql.Open("postgres", p.localConnParams.ConnString())
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, "select 1")
	return err
}

// WaitReady polls until the instance accepts connections or the timeout
// expires. A zero timeout waits forever.
func (p *Manager) WaitReady(timeout time.Duration) error {
	start := time.Now()
	for timeout == 0 || time.Since(start) < timeout {
		if err := p.Ping(); err == nil {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for db ready")
}

// IsInRecovery reports whether the instance is currently replaying WAL,
// i.e. running as a standby.
func (p *Manager) IsInRecovery() (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.requestTimeout)
	defer cancel()

	db, err := sql.Open("postgres", p.localConnParams.ConnString())
	if err != nil {
		return false, err
	}
	defer db.Close()

	inRecovery := false
	rows, err := db.QueryContext(ctx, "select pg_is_in_recovery()")
	if err != nil {
		return false, err
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&inRecovery); err != nil {
			return false, err
		}
	}
	return inRecovery, rows.Err()
}

// WaitRecoveryDone polls until the instance has left recovery or the
// timeout expires. Used after a promote.
func (p *Manager) WaitRecoveryDone(timeout time.Duration) error {
	start := time.Now()
	for timeout == 0 || time.Since(start) < timeout {
		inRecovery, err := p.IsInRecovery()
		if err == nil && !inRecovery {
			return nil
		}
		time.Sleep(1 * time.Second)
	}
	return fmt.Errorf("timeout waiting for recovery done")
}

func (p *Manager) CreateReplicationSlot(name string) error {
	if !IsValidReplSlotName(name) {
		return fmt.Errorf("invalid replication slot name: %q", name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.requestTimeout)
	defer cancel()

	db, err := sql.Open("postgres", p.localConnParams.ConnString())
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, fmt.Sprintf("select pg_create_physical_replication_slot('%s')", name))
	return err
}

func (p *Manager) DropReplicationSlot(name string) error {
	if !IsValidReplSlotName(name) {
		return fmt.Errorf("invalid replication slot name: %q", name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.requestTimeout)
	defer cancel()

	db, err := sql.Open("postgres", p.localConnParams.ConnString())
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, fmt.Sprintf("select pg_drop_replication_slot('%s')", name))
	return err
}
