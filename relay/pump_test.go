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

package relay

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/lcsm/slave/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboundPumpPublishesEveryRead(t *testing.T) {
	src := bytes.NewReader([]byte("hello world"))
	hub := NewHub()
	ch := hub.Subscribe(false)

	done := make(chan error, 1)
	go func() { done <- OutboundPump("stdout", src, hub, func() bool { return true }) }()

	var got []byte
	for c := range ch {
		got = append(got, c.Data...)
	}
	require.NoError(t, <-done)
	assert.Equal(t, "hello world", string(got))
}

func TestOutboundPumpTerminatesOnEOFRegardlessOfLiveness(t *testing.T) {
	src := bytes.NewReader(nil)
	hub := NewHub()
	ch := hub.Subscribe(false)

	done := make(chan error, 1)
	// alive always reports true: EOF must still terminate the pump, per
	// the documented "EOF always terminates" behavior.
	go func() { done <- OutboundPump("stdout", src, hub, func() bool { return true }) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("OutboundPump should terminate unconditionally at EOF")
	}
	_, ok := <-ch
	assert.False(t, ok, "hub should be closed once the pump terminates")
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestOutboundPumpReturnsWrappedErrorOnReadFailure(t *testing.T) {
	boom := errors.New("boom")
	hub := NewHub()
	hub.Subscribe(false)

	err := OutboundPump("stderr", errReader{err: boom}, hub, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	var relayErr *RelayIOError
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, "stderr", relayErr.Stream)
}

// writeCloseBuffer wraps a bytes.Buffer with a Close that records whether
// it was called, so tests can assert InboundPump always closes its sink.
type writeCloseBuffer struct {
	bytes.Buffer
	closed bool
}

func (w *writeCloseBuffer) Close() error {
	w.closed = true
	return nil
}

func TestInboundPumpWritesEveryChunkInOrderThenClosesSink(t *testing.T) {
	buf := &writeCloseBuffer{}
	queue := make(chan chunk.Chunk, 4)
	queue <- chunk.Chunk{Data: []byte("ab")}
	queue <- chunk.Chunk{Data: []byte("cd")}
	close(queue)

	require.NoError(t, InboundPump(buf, queue))
	assert.Equal(t, "abcd", buf.String())
	assert.True(t, buf.closed, "InboundPump must close its sink once the queue drains, to deliver EOF to the child")
}

type failWriter struct{ closed bool }

func (*failWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func (w *failWriter) Close() error {
	w.closed = true
	return nil
}

func TestInboundPumpClosesSinkOnWriteFailure(t *testing.T) {
	queue := make(chan chunk.Chunk, 1)
	queue <- chunk.Chunk{Data: []byte("x")}

	w := &failWriter{}
	err := InboundPump(w, queue)
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrClosedPipe))
	assert.True(t, w.closed, "InboundPump must close its sink even when it returns early on a write error")
}
