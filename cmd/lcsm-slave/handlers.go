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
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/lcsm/slave/instance"
	"github.com/lcsm/slave/process"
)

func parseID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	return id, err == nil
}

// startProcess implements PUT /processes/{id}: 409 if an Alive record
// already exists, 404 if no instance definition is registered for id.
func (s *server) startProcess(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	spec, err := s.store.Get(r.Context(), id)
	if errors.Is(err, instance.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	rec, err := s.manager.StartOrConflict(id, *spec)
	if errors.Is(err, process.ErrConflict) {
		w.WriteHeader(http.StatusConflict)
		return
	}
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if err := s.recorder.Begin(id, rec); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// liveRecord returns the record for id only if it is present and Alive;
// every other boundary operation treats a Dead or absent record as 404.
func (s *server) liveRecord(id uint64) (*process.Record, bool) {
	rec, ok := s.manager.Get(id)
	if !ok || rec.State() != process.Alive {
		return nil, false
	}
	return rec, true
}

// killProcess implements DELETE /processes/{id}.
func (s *server) killProcess(w http.ResponseWriter, r *http.Request) {
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
	if err := rec.Kill(); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// processState implements GET /processes/{id}.
func (s *server) processState(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if _, ok := s.liveRecord(id); !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// processLogs implements GET /processes/{id}/logs: the raw, append-only
// log file, 404 if it doesn't exist yet.
func (s *server) processLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	path := s.recorder.Path(id)
	if _, err := os.Stat(path); err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, path)
}
