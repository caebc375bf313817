// Copyright (C) 2024 lcsm contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package process

import (
	"errors"
	"fmt"
	"sync"
	"syscall"

	"github.com/containerd/log"
	"github.com/lcsm/slave/instance"
)

// ErrConflict is returned by StartOrConflict when an Alive record already
// exists for the requested id.
var ErrConflict = errors.New("process: instance already running")

// Manager is the registry mapping an instance identity to its Process
// Record. It creates new records by spawning a configured command,
// looks up existing ones, and guarantees at-most-one live record per
// instance identity.
type Manager struct {
	mu      sync.Mutex
	records map[uint64]*Record
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{records: make(map[uint64]*Record)}
}

// Get returns the record for id if present, regardless of liveness.
// Callers deciding whether to start a new instance must treat a Dead
// record as "not present" themselves, or use StartOrConflict, which does
// this atomically.
func (m *Manager) Get(id uint64) (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	return r, ok
}

// Spawn constructs a Process Record around a freshly spawned command for
// spec and installs it under id, unconditionally overwriting any prior
// entry. Most callers should prefer StartOrConflict, which closes the
// check-then-spawn race this method alone leaves open; Spawn exists for
// callers (tests, or a caller that has already serialized access to id by
// some other means) that need to bypass the liveness check.
func (m *Manager) Spawn(id uint64, spec instance.Instance) (*Record, error) {
	rec, err := spawn(id, spec)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.records[id] = rec
	m.mu.Unlock()
	return rec, nil
}

// StartOrConflict is the atomic "insert if absent or dead" primitive the
// HTTP boundary's PUT /processes/{id} uses: it holds the registry lock
// across the liveness check and the insert, closing the TOCTOU window that
// a separate Get-then-Spawn call pair would leave open (see spec §4.3 and
// §9's per-id atomic state transition design note).
func (m *Manager) StartOrConflict(id uint64, spec instance.Instance) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.records[id]; ok && existing.State() == Alive {
		return nil, ErrConflict
	}

	rec, err := spawn(id, spec)
	if err != nil {
		return nil, err
	}
	m.records[id] = rec
	return rec, nil
}

// spawn constructs the OS command for spec, starts it with its own process
// group, attaches piped stdio, and wraps the result in a Record.
func spawn(id uint64, spec instance.Instance) (*Record, error) {
	cmd := BuildCommand(spec)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("process: stdout pipe for instance %d: %w", id, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("process: stderr pipe for instance %d: %w", id, err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("process: stdin pipe for instance %d: %w", id, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("process: spawn instance %d: %w", id, err)
	}

	log.L.WithField("instance", id).
		WithField("mode", spec.StartupMode.String()).
		WithField("pid", cmd.Process.Pid).
		Info("spawned instance")

	return New(id, cmd, stdout, stderr, stdin), nil
}
