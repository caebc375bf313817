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

package logrecorder

import (
	"os"
	"testing"
	"time"

	"github.com/lcsm/slave/instance"
	"github.com/lcsm/slave/process"
	"github.com/stretchr/testify/require"
)

func waitSize(t *testing.T, r *Recorder, id uint64, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if size, err := r.Size(id); err == nil && size >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("log for instance %d never reached %d bytes", id, want)
}

func spawnEcho(t *testing.T, m *process.Manager, id uint64, text string) *process.Record {
	t.Helper()
	rec, err := m.StartOrConflict(id, instance.Instance{
		ID:            id,
		LaunchCommand: "/bin/echo",
		Arguments:     []string{text},
	})
	require.NoError(t, err)
	return rec
}

func TestRecorderWritesCombinedOutputToDisk(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir)
	require.NoError(t, err)

	m := process.NewManager()
	rec := spawnEcho(t, m, 1, "recorded line")

	require.NoError(t, r.Begin(1, rec))
	waitSize(t, r, 1, uint64(len("recorded line\n")))

	data, err := os.ReadFile(r.Path(1))
	require.NoError(t, err)
	require.Equal(t, "recorded line\n", string(data))
}

func TestRecorderBeginRemovesStaleLogFirst(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(r.Path(2), []byte("stale content from a prior run"), 0o644))

	m := process.NewManager()
	rec := spawnEcho(t, m, 2, "fresh")

	require.NoError(t, r.Begin(2, rec))
	waitSize(t, r, 2, uint64(len("fresh\n")))

	data, err := os.ReadFile(r.Path(2))
	require.NoError(t, err)
	require.Equal(t, "fresh\n", string(data))
}

func TestRecorderSizeSupportsResumableTailing(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir)
	require.NoError(t, err)

	_, err = r.Size(3)
	require.Error(t, err, "Size on a non-existent log should error so callers can distinguish 'no log yet'")

	m := process.NewManager()
	rec := spawnEcho(t, m, 3, "abc")
	require.NoError(t, r.Begin(3, rec))
	waitSize(t, r, 3, 4)

	size, err := r.Size(3)
	require.NoError(t, err)
	require.EqualValues(t, 4, size)
}
