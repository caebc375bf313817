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

// Package logrecorder implements the per-instance background writer that
// tails a Process Record's stdout and stderr into a combined, append-only
// log file.
package logrecorder

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/containerd/log"
	"github.com/lcsm/slave/chunk"
	"github.com/lcsm/slave/process"
)

// Recorder owns no lock of its own; each instance's tailer goroutine holds
// its file state locally and communicates solely via the channels it
// subscribed to at Begin time.
type Recorder struct {
	dir string
}

// New returns a Recorder that writes logs under dir, creating dir if it
// does not already exist.
func New(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logrecorder: create log dir: %w", err)
	}
	return &Recorder{dir: dir}, nil
}

// Path returns the on-disk path of the combined log file for id.
func (r *Recorder) Path(id uint64) string {
	return filepath.Join(r.dir, fmt.Sprintf("%d.log", id))
}

// Begin subscribes to rec's stdout and stderr and starts a background task
// that appends every chunk it observes, in the order it observes them, to
// a fresh log file for id. Any previous log file for id is deleted first;
// there is no rotation. Begin must be called once per Record, synchronously
// with its creation, so no output is missed.
func (r *Recorder) Begin(id uint64, rec *process.Record) error {
	path := r.Path(id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("logrecorder: remove stale log for instance %d: %w", id, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logrecorder: create log for instance %d: %w", id, err)
	}

	stdout := rec.SubscribeStdout(false)
	stderr := rec.SubscribeStderr(false)

	go r.run(id, f, stdout, stderr)
	return nil
}

// run is the tailer task: it fairly selects a chunk from whichever of
// stdout/stderr is ready, with no merging or reordering guarantee across
// the two, and appends it to the log file. Begin subscribes with
// markLoss=false, so output the Hub drops while this task lags is lost
// silently and no lag event is logged — log fidelity is best-effort.
// The task exits cleanly once both sources have closed, or logs and exits
// on the first write error without propagating failure back to the
// Process Record.
func (r *Recorder) run(id uint64, f *os.File, stdout, stderr <-chan chunk.Chunk) {
	defer f.Close()

	fields := log.L.WithField("instance", id)
	fields.Debug("log recorder started")

	for stdout != nil || stderr != nil {
		var c chunk.Chunk
		var ok bool
		select {
		case c, ok = <-stdout:
			if !ok {
				stdout = nil
				continue
			}
		case c, ok = <-stderr:
			if !ok {
				stderr = nil
				continue
			}
		}

		if c.Lost {
			fields.WithField("bytes", c.LostBytes).Warn("log recorder lagged, some output was dropped")
			continue
		}
		if _, err := f.Write(c.Data); err != nil {
			fields.WithError(err).Error("log recorder write failed, stopping")
			return
		}
	}

	fields.Debug("log recorder exited")
}

// Size returns the current byte length of id's log file, for clients
// resuming a tail from a known offset.
func (r *Recorder) Size(id uint64) (uint64, error) {
	fi, err := os.Stat(r.Path(id))
	if err != nil {
		return 0, fmt.Errorf("logrecorder: stat log for instance %d: %w", id, err)
	}
	return uint64(fi.Size()), nil
}
