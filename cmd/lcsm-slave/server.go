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
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/containerd/log"
	"github.com/gorilla/mux"
	"github.com/lcsm/slave/instance"
	"github.com/lcsm/slave/logrecorder"
	"github.com/lcsm/slave/process"
)

// server is the HTTP boundary fixed by spec §6: it forwards each route to
// the process supervision core and maps the core's errors to status codes.
// It owns no state the core doesn't already own; it is a thin adapter.
type server struct {
	manager  *process.Manager
	recorder *logrecorder.Recorder
	store    instance.Store
	token    string

	httpSrv http.Server
}

func newServer(cfg *config, store instance.Store, recorder *logrecorder.Recorder) *server {
	s := &server{
		manager:  process.NewManager(),
		recorder: recorder,
		store:    store,
		token:    cfg.SlaveToken,
	}
	s.httpSrv = http.Server{
		Addr:    cfg.ListenAddr,
		Handler: requireBearerToken(cfg.SlaveToken, s.router()),
	}
	return s
}

func (s *server) router() http.Handler {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)

	processes := r.PathPrefix("/processes/{id:[0-9]+}").Subrouter()
	processes.HandleFunc("", s.startProcess).Methods(http.MethodPut)
	processes.HandleFunc("", s.killProcess).Methods(http.MethodDelete)
	processes.HandleFunc("", s.processState).Methods(http.MethodGet)
	processes.HandleFunc("/terminal", s.terminal)
	processes.HandleFunc("/logs", s.processLogs).Methods(http.MethodGet)

	return r
}

// loggingMiddleware logs every request with structured fields, matching
// the field-tagged style the rest of the core logs with.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// unauthenticated heartbeats against "/" would spam the logs if
		// this router served one; every route here requires an id, so no
		// special-casing is needed.
		log.L.WithField("method", r.Method).WithField("path", r.URL.Path).
			WithField("remote", remoteAddr(r)).Debug("request")
		next.ServeHTTP(w, r)
	})
}

func remoteAddr(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[len(parts)-1])
	}
	return r.RemoteAddr
}

func (s *server) Serve() error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return err
	}
	log.L.WithField("addr", ln.Addr().String()).Info("lcsm-slave listening")
	return s.httpSrv.Serve(ln)
}

func (s *server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// shutdownTimeout bounds how long Shutdown waits for in-flight HTTP
// requests to finish. Terminal websockets are hijacked connections, which
// http.Server.Shutdown neither waits for nor closes.
const shutdownTimeout = 15 * time.Second
