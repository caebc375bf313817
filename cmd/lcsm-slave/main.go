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

// Command lcsm-slave is the per-host process supervision daemon: it loads
// its instance catalogue from Postgres, exposes the bearer-token-protected
// HTTP boundary over the process supervision core, and shuts down
// gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/containerd/log"
	"github.com/lcsm/slave/instance"
	"github.com/lcsm/slave/logrecorder"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.L.WithError(err).Fatal("lcsm-slave: bad configuration")
	}

	ctx := context.Background()
	store, err := instance.NewPostgresStore(ctx, instance.PostgresConfig{
		ConnectionString: cfg.Database,
	})
	if err != nil {
		log.L.WithError(err).Fatal("lcsm-slave: connect to instance store")
	}
	defer store.Close()

	recorder, err := logrecorder.New(cfg.logDir())
	if err != nil {
		log.L.WithError(err).Fatal("lcsm-slave: create log recorder")
	}

	srv := newServer(cfg, store, recorder)

	go func() {
		if err := srv.Serve(); err != nil && err != http.ErrServerClosed {
			log.L.WithError(err).Fatal("lcsm-slave: serve")
		}
	}()

	c := make(chan os.Signal, 1)
	// SIGKILL cannot be caught; SIGINT and SIGTERM trigger a graceful
	// shutdown that gives in-flight HTTP requests up to shutdownTimeout.
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.L.WithError(err).Warn("lcsm-slave: shutdown did not complete cleanly")
	}
}
