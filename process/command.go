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

package process

import (
	"os/exec"
	"runtime"

	"github.com/containerd/log"
	"github.com/lcsm/slave/instance"
)

// BuildCommand constructs the *exec.Cmd for spec according to its
// StartupMode. Direct execs LaunchCommand with Arguments as argv. Shell
// wraps execution in a platform shell that provides a PTY-like environment;
// on platforms where no such wrapper is available it falls back to Direct
// and logs a warning, per spec: the interface is identical from the
// subscriber's perspective either way.
func BuildCommand(spec instance.Instance) *exec.Cmd {
	var cmd *exec.Cmd
	switch spec.StartupMode {
	case instance.Shell:
		cmd = buildShellCommand(spec)
	default:
		cmd = exec.Command(spec.LaunchCommand, spec.Arguments...)
	}
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	return cmd
}

// buildShellCommand wraps LaunchCommand in a TTY-attached shell on
// platforms that have one available. script(1) attaches a pseudo-terminal
// to the wrapped command, which makes line-buffered tools that only
// line-buffer when attached to a terminal (for example many REPLs) behave
// as they would interactively.
func buildShellCommand(spec instance.Instance) *exec.Cmd {
	if runtime.GOOS != "darwin" {
		log.L.WithField("instance", spec.ID).
			Warn("shell startup mode requested but no PTY wrapper is available on this platform, falling back to direct")
		return exec.Command(spec.LaunchCommand, spec.Arguments...)
	}
	args := append([]string{"-q", "/dev/null", "/bin/bash", "-c", spec.LaunchCommand}, spec.Arguments...)
	return exec.Command("script", args...)
}
