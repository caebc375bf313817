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
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lcsm/slave/instance"
	"github.com/stretchr/testify/require"
)

func TestTerminalRoundTripsStdinToStdout(t *testing.T) {
	s, store := newTestServer(t)
	store.byID[20] = &instance.Instance{ID: 20, LaunchCommand: "/bin/cat"}

	handler := requireBearerToken(s.token, s.router())
	httpServer := httptest.NewServer(handler)
	defer httpServer.Close()

	start := authed(httptest.NewRequest(http.MethodPut, "/processes/20", nil), s.token)
	startRec := httptest.NewRecorder()
	handler.ServeHTTP(startRec, start)
	require.Equal(t, http.StatusOK, startRec.Code)

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/processes/20/terminal"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.token)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()
	require.NotEmpty(t, resp.Header.Get("X-Log-Begin"), "terminal upgrade response must carry X-Log-Begin")
	begin, err := strconv.ParseUint(resp.Header.Get("X-Log-Begin"), 10, 64)
	require.NoError(t, err)
	require.Equal(t, uint64(0), begin, "no log has been written before the terminal connects")

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("echo through cat")))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "echo through cat", string(data))
}

func TestTerminalReturnsNotFoundForUnstartedInstance(t *testing.T) {
	s, _ := newTestServer(t)
	handler := requireBearerToken(s.token, s.router())
	httpServer := httptest.NewServer(handler)
	defer httpServer.Close()

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/processes/21/terminal"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.token)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
