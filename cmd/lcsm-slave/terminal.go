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

package main

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/containerd/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lcsm/slave/chunk"
	"github.com/lcsm/slave/process"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// the terminal is reached through the same bearer-token boundary as
	// every other route, so any origin that got this far is trusted.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// terminal implements ANY /processes/{id}/terminal: it upgrades to a
// WebSocket, attaches X-Log-Begin so the client can prefetch the on-disk
// backlog via GET .../logs before the live stream starts, then pumps
// binary frames both ways until either side disconnects. Disconnecting
// releases this session's stdin sender clone; it never kills the child.
func (s *server) terminal(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	rec, ok := s.liveRecord(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	logBegin, _ := s.recorder.Size(id)
	header := http.Header{}
	header.Set("X-Log-Begin", strconv.FormatUint(logBegin, 10))

	conn, err := upgrader.Upgrade(w, r, header)
	if err != nil {
		return
	}
	defer conn.Close()

	session := uuid.New().String()
	fields := log.L.WithField("instance", id).WithField("session", session)
	fields.Info("terminal session opened")
	defer fields.Info("terminal session closed")

	runTerminalSession(conn, rec)
}

// runTerminalSession fans stdout/stderr chunks out to the websocket and
// relays inbound binary frames to stdin. It returns once the output side
// closes (child exit cascading through both hubs) or the websocket itself
// is gone; whichever happens first tears down the other.
func runTerminalSession(conn *websocket.Conn, rec *process.Record) {
	stdout := rec.SubscribeStdout(true)
	stderr := rec.SubscribeStderr(true)
	defer rec.UnsubscribeStdout(stdout)
	defer rec.UnsubscribeStderr(stderr)

	var closeOnce sync.Once
	done := make(chan struct{})
	closeConn := func() {
		closeOnce.Do(func() { close(done) })
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer closeConn()
		pumpOutputToSocket(conn, stdout, stderr, done)
	}()

	if sender := rec.StdinSender(); sender != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer closeConn()
			pumpSocketToStdin(conn, sender, done)
		}()
	}

	<-done
	conn.Close()
	wg.Wait()
}

// pumpOutputToSocket writes every stdout/stderr chunk as a binary frame,
// with no merging guarantee across the two sources beyond the order this
// select observes them in. It exits once both hubs have closed (child
// exit) or done is closed by the inbound side.
func pumpOutputToSocket(conn *websocket.Conn, stdout, stderr <-chan chunk.Chunk, done <-chan struct{}) {
	for stdout != nil || stderr != nil {
		var c chunk.Chunk
		var ok bool
		select {
		case <-done:
			return
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
			marker := []byte("[... " + strconv.Itoa(c.LostBytes) + " bytes dropped ...]")
			if err := conn.WriteMessage(websocket.BinaryMessage, marker); err != nil {
				return
			}
			continue
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, c.Data); err != nil {
			return
		}
	}
}

// pumpSocketToStdin relays every binary frame read from the client
// verbatim to the child's stdin queue, until the connection closes or
// done is closed by the outbound side.
func pumpSocketToStdin(conn *websocket.Conn, sender chan<- chunk.Chunk, done <-chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case sender <- chunk.Chunk{Data: data}:
		case <-done:
			return
		}
	}
}
