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
	"fmt"
	"os"
	"path/filepath"
)

// config holds the slave's environment-variable bootstrap, the fixed
// contract a deployer relies on regardless of how the rest of the process
// is wired (spec §6).
type config struct {
	// ListenAddr is the HTTP endpoint the slave binds to.
	ListenAddr string
	// SlaveToken is the static bearer token every request must present.
	SlaveToken string
	// DataPath is the root directory under which logs/ is created.
	DataPath string
	// Database is the connection string for the instance-record store.
	Database string
}

func loadConfig() (*config, error) {
	dataPath := os.Getenv("LCSM_DATA_PATH")
	if dataPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("config: determine working directory: %w", err)
		}
		dataPath = wd
	}

	token := os.Getenv("LCSM_SLAVE_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("config: LCSM_SLAVE_TOKEN is required")
	}

	database := os.Getenv("LCSM_DATABASE")
	if database == "" {
		return nil, fmt.Errorf("config: LCSM_DATABASE is required")
	}

	listenAddr := os.Getenv("LCSM_LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = "127.0.0.1:8000"
	}

	return &config{
		ListenAddr: listenAddr,
		SlaveToken: token,
		DataPath:   dataPath,
		Database:   database,
	}, nil
}

func (c *config) logDir() string {
	return filepath.Join(c.DataPath, "logs")
}
