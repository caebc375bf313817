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
	"errors"
	"fmt"
	"io"

	"github.com/containerd/log"
	"github.com/lcsm/slave/chunk"
)

// LivenessProbe reports whether the owning child process is still running.
// The outbound pump consults it only to decide how to log a premature EOF;
// it never changes whether the pump terminates (see the documented "EOF
// always terminates" behavior below).
type LivenessProbe func() (alive bool)

// RelayIOError wraps a failure from the underlying pipe read or hub publish
// that caused a pump to terminate early.
type RelayIOError struct {
	Stream string
	Err    error
}

func (e *RelayIOError) Error() string {
	return fmt.Sprintf("%s relay: %s", e.Stream, e.Err)
}

func (e *RelayIOError) Unwrap() error { return e.Err }

// OutboundPump repeatedly reads from source into a fresh chunk.ReadSize
// buffer and publishes each non-empty read to hub. It terminates
// unconditionally on read EOF (n == 0, err == nil or err == io.EOF) or on a
// read error, regardless of whether the child is still alive — see
// spec §9: a child that closes stdout while remaining alive will appear to
// its stdout subscribers as a closed stream, which is a documented
// limitation, not a bug. alive is consulted only to choose the log level
// for a premature EOF.
//
// OutboundPump always closes hub before returning, which cascades stream
// closure to every current and future subscriber.
func OutboundPump(stream string, source io.Reader, hub *Hub, alive LivenessProbe) error {
	defer hub.Close()

	buf := make([]byte, chunk.ReadSize)
	for {
		n, err := source.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			hub.Publish(chunk.Chunk{Data: data})
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if alive != nil && alive() {
					log.L.WithField("stream", stream).Warn("stream closed while child still alive")
				} else {
					log.L.WithField("stream", stream).Debug("stream closed at child exit")
				}
				return nil
			}
			return &RelayIOError{Stream: stream, Err: err}
		}
		if n == 0 {
			return nil
		}
	}
}

// InboundPump awaits chunks from queue and writes each one to sink with a
// single Write call; partial writes are acceptable; the OS pipe provides
// whatever framing the child expects. It terminates when queue is closed
// (all senders dropped) or on a write error, and in both cases closes sink
// before returning: the reference implementation owns its input writer by
// value, so returning from its pump drops the handle and closes the pipe,
// delivering EOF to the child. Go has no equivalent implicit drop, so the
// close has to happen here explicitly, or a child reading stdin to EOF
// (e.g. cat) would never see one.
func InboundPump(sink io.WriteCloser, queue <-chan chunk.Chunk) error {
	defer sink.Close()

	for c := range queue {
		if len(c.Data) == 0 {
			continue
		}
		if _, err := sink.Write(c.Data); err != nil {
			return &RelayIOError{Stream: "stdin", Err: err}
		}
	}
	return nil
}
