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

// Package process implements the Process Record and Process Manager: the
// per-child supervisor and the registry that creates and looks them up.
package process

import (
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/containerd/log"
	"github.com/lcsm/slave/chunk"
	"github.com/lcsm/slave/relay"
	"golang.org/x/sys/unix"
)

// State is the liveness of a Process Record as observed by State().
type State int

const (
	Alive State = iota
	Dead
)

func (s State) String() string {
	if s == Alive {
		return "alive"
	}
	return "dead"
}

// Record is the live, in-memory supervisor for one running instance. It
// owns the OS child handle and the three Stream Relay tasks wrapping its
// stdio pipes, and exposes resubscribable read-side handles and a
// cloneable stdin sender so subscribers never need to hold the Manager's
// registry lock to interact with a running child.
type Record struct {
	id  uint64
	cmd *exec.Cmd

	stdoutHub *relay.Hub // nil iff the child has no stdout pipe
	stderrHub *relay.Hub // nil iff the child has no stderr pipe
	stdin     chan chunk.Chunk
	hasStdin  bool

	pumpsDone sync.WaitGroup // released once every outbound relay has seen EOF

	mu     sync.Mutex // guards kill(); never held across pipe or wait I/O
	dead   atomic.Bool
	exited chan struct{}
}

// New wraps an already-started *exec.Cmd (with its Stdout/Stderr/Stdin
// pipes already attached) into a Record, launching its Stream Relay tasks
// and the reaper goroutine that observes process exit.
//
// New deliberately does not hold a reference from any relay task back to
// the child beyond what is needed to log a premature-EOF warning (see
// relay.LivenessProbe): the reaper goroutine, not the relays, is what
// breaks the child's lifetime cycle, so dropping a Record never blocks on
// a descheduled relay.
func New(id uint64, cmd *exec.Cmd, stdout, stderr io.Reader, stdin io.WriteCloser) *Record {
	r := &Record{
		id:     id,
		cmd:    cmd,
		exited: make(chan struct{}),
	}

	if stdout != nil {
		r.stdoutHub = relay.NewHub()
		r.pumpsDone.Add(1)
		go func() {
			defer r.pumpsDone.Done()
			if err := relay.OutboundPump("stdout", stdout, r.stdoutHub, r.isAlive); err != nil {
				log.L.WithField("instance", id).WithError(err).Warn("stdout relay exited with error")
			}
		}()
	}
	if stderr != nil {
		r.stderrHub = relay.NewHub()
		r.pumpsDone.Add(1)
		go func() {
			defer r.pumpsDone.Done()
			if err := relay.OutboundPump("stderr", stderr, r.stderrHub, r.isAlive); err != nil {
				log.L.WithField("instance", id).WithError(err).Warn("stderr relay exited with error")
			}
		}()
	}
	if stdin != nil {
		r.hasStdin = true
		r.stdin = make(chan chunk.Chunk, chunk.StdinCapacity)
		go func() {
			if err := relay.InboundPump(stdin, r.stdin); err != nil {
				log.L.WithField("instance", id).WithError(err).Warn("stdin relay exited with error")
			}
		}()
	}

	go r.reap()
	return r
}

// reap is the sole caller of cmd.Wait, matching the "NOTE: *nothing else*
// should call Wait" discipline child processes need everywhere: Wait may
// only be called once per child, so State() and Kill() must never call it
// themselves and instead read the result reap() deposits here.
//
// It waits for both outbound relays to see EOF on their pipe before calling
// Wait: os/exec documents that Wait closes the pipes StdoutPipe/StderrPipe
// returned once the child exits, and that calling Wait before all reads
// from those pipes have completed is incorrect — a pipe closed out from
// under a concurrent Read can surface as a read error instead of the
// child's last buffered bytes, truncating output. The child closing its
// own stdout/stderr at exit already unblocks each OutboundPump on its own,
// so this ordering costs nothing but a WaitGroup.
func (r *Record) reap() {
	r.pumpsDone.Wait()
	_ = r.cmd.Wait()
	r.dead.Store(true)
	close(r.exited)
	log.L.WithField("instance", r.id).Debug("child process exited")
}

func (r *Record) isAlive() bool {
	return !r.dead.Load()
}

// State reports the Record's current liveness with a non-blocking probe.
// Once Dead has been observed it is cached and returned forever after.
func (r *Record) State() State {
	if r.dead.Load() {
		return Dead
	}
	return Alive
}

// Kill terminates the child if it is still running. Killing an
// already-dead child is a no-op success. Kill signals the child's entire
// process group (it is always started with its own process group, see
// spawn) so a Shell-mode wrapper and whatever it forked die
// together, then returns without waiting for the reaper to observe the
// exit; per spec, State() is guaranteed to report Dead "within one
// scheduling quantum" after Kill returns, not synchronously with it.
func (r *Record) Kill() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dead.Load() {
		return nil
	}

	pid := r.cmd.Process.Pid
	if err := unix.Kill(-pid, syscall.SIGKILL); err != nil {
		// the process group may already be gone (e.g. the child already
		// exited between our liveness check and the signal); fall back to
		// signaling the child directly before giving up.
		if killErr := r.cmd.Process.Kill(); killErr != nil && !r.dead.Load() {
			return fmt.Errorf("process: kill instance %d: %w", r.id, killErr)
		}
	}
	return nil
}

// SubscribeStdout returns a new receiver on the stdout broadcast, or nil if
// the child has no stdout pipe. Each call begins at the current broadcast
// head; data already published is not replayed. markLoss controls whether
// this particular subscriber sees a synthetic Chunk{Lost: true} marker when
// it lags, or silent drops: the Log Recorder wants the latter, an
// interactive terminal the former, and both may subscribe to the same
// stream at once.
func (r *Record) SubscribeStdout(markLoss bool) <-chan chunk.Chunk {
	if r.stdoutHub == nil {
		return nil
	}
	return r.stdoutHub.Subscribe(markLoss)
}

// SubscribeStderr mirrors SubscribeStdout for the stderr stream.
func (r *Record) SubscribeStderr(markLoss bool) <-chan chunk.Chunk {
	if r.stderrHub == nil {
		return nil
	}
	return r.stderrHub.Subscribe(markLoss)
}

// UnsubscribeStdout releases a receiver obtained from SubscribeStdout.
func (r *Record) UnsubscribeStdout(ch <-chan chunk.Chunk) {
	if r.stdoutHub != nil {
		r.stdoutHub.Unsubscribe(ch)
	}
}

// UnsubscribeStderr releases a receiver obtained from SubscribeStderr.
func (r *Record) UnsubscribeStderr(ch <-chan chunk.Chunk) {
	if r.stderrHub != nil {
		r.stderrHub.Unsubscribe(ch)
	}
}

// StdinSender returns the send side of the stdin queue, or nil if the
// child has no stdin pipe. Multiple callers may hold a sender
// simultaneously; correctness under concurrent writers is undefined beyond
// "at most one interactive subscriber" is the intended contract.
func (r *Record) StdinSender() chan<- chunk.Chunk {
	if !r.hasStdin {
		return nil
	}
	return r.stdin
}

// Done returns a channel closed once the child has been reaped, for
// callers that want to block on exit without polling State().
func (r *Record) Done() <-chan struct{} {
	return r.exited
}

// ID returns the instance id this Record was created for.
func (r *Record) ID() uint64 { return r.id }
