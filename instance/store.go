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

package instance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned by Store.Get when no instance is registered under
// the requested id. The HTTP boundary maps this to 404.
var ErrNotFound = errors.New("instance: not found")

// Store resolves an instance id to its launch definition. Writes (create,
// patch, delete, pagination) belong to the master tier's CRUD surface and
// are intentionally absent here: the slave core only ever needs read access
// to decide how to spawn a process.
type Store interface {
	Get(ctx context.Context, id uint64) (*Instance, error)
	Close()
}

// PostgresConfig configures the connection pool backing a PostgresStore.
type PostgresConfig struct {
	ConnectionString string
	MaxConnections    int32
	ConnectTimeout    time.Duration
}

// PostgresStore implements Store against the instance-record table owned by
// the master tier, reached through the LCSM_DATABASE connection string.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a connection pool against cfg.ConnectionString.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("instance: connection string is required")
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 10
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("instance: parse connection string: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConnections
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	timeoutCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(timeoutCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("instance: open connection pool: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Get looks up the instance definition for id.
func (s *PostgresStore) Get(ctx context.Context, id uint64) (*Instance, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT launch_command, arguments, work_dir, startup_mode
		   FROM instances WHERE id = $1`, id)

	var launchCommand, argText, workDir string
	var mode int16
	err := row.Scan(&launchCommand, &argText, &workDir, &mode)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("instance: query %d: %w", id, err)
	}

	return &Instance{
		ID:            id,
		LaunchCommand: launchCommand,
		Arguments:     SplitArguments(argText),
		WorkDir:       workDir,
		StartupMode:   StartupMode(mode),
	}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
