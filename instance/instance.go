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

// Package instance holds the declarative, read-only definition of one
// supervised child process. Instance records themselves are owned by the
// master tier's CRUD layer (out of scope here); this package only defines
// the shape the slave core consumes and the narrow read-side lookup the
// HTTP boundary needs to resolve an id into a launch spec.
package instance

import "strings"

// StartupMode selects how the Process Manager constructs the OS command
// for an Instance.
type StartupMode int

const (
	// Direct execs LaunchCommand with Arguments as argv.
	Direct StartupMode = iota
	// Shell wraps execution in a platform shell that provides a
	// PTY-like environment (see process.BuildCommand).
	Shell
)

func (m StartupMode) String() string {
	switch m {
	case Direct:
		return "direct"
	case Shell:
		return "shell"
	default:
		return "unknown"
	}
}

// Instance is the declarative definition of how to launch one child
// process. It is immutable once resolved for a spawn attempt.
type Instance struct {
	ID            uint64
	LaunchCommand string
	Arguments     []string
	WorkDir       string
	StartupMode   StartupMode
}

// SplitArguments splits the newline-separated source form stored for an
// instance's arguments field into an ordered argv list, dropping a single
// trailing blank line so a file-style value ending in "\n" doesn't produce
// a spurious empty argument.
func SplitArguments(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
