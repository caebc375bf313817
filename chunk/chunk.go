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

// Package chunk defines the binary unit the stream relays, the broadcast
// hub, and the log recorder all pass around, plus the channel capacities
// shared across the supervision core.
package chunk

const (
	// ReadSize is the buffer size used by the outbound relay pump for a
	// single read(2) call. Chunks are never split or coalesced, so a chunk
	// published downstream is at most this many bytes.
	ReadSize = 128

	// HubCapacity is the per-subscriber buffer depth for the stdout/stderr
	// broadcast hub. A subscriber that falls HubCapacity chunks behind the
	// producer is lagged rather than allowed to stall it.
	HubCapacity = 8

	// StdinCapacity is the depth of the single-producer stdin queue feeding
	// the inbound relay pump.
	StdinCapacity = 8
)

// Chunk is an opaque, ordered slice of bytes read from (or destined for) a
// child process's stdio pipe. A Chunk with Lost set carries no payload; it
// marks that LostBytes worth of output was dropped for this subscriber
// because it could not keep up with the producer.
type Chunk struct {
	Data []byte

	// Lost marks a synthetic chunk standing in for data this subscriber
	// missed because it lagged behind the producer by more than
	// HubCapacity chunks. Data is empty when Lost is true.
	Lost      bool
	LostBytes int
}
