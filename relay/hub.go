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

// Package relay implements the primitive byte pumps that shuttle data
// between a child process's stdio pipes and the rest of the supervision
// core: an outbound pump publishing stdout/stderr into a resubscribable
// broadcast Hub, and an inbound pump draining a single-producer queue into
// the child's stdin.
package relay

import (
	"sync"

	"github.com/lcsm/slave/chunk"
)

// Hub is a bounded, multi-consumer, resubscribable fan-out for one child
// stream (stdout or stderr). It never blocks the publisher on a slow
// subscriber: when a subscriber's buffer is full, Hub evicts that
// subscriber's oldest buffered chunks to make room for the newest one and,
// if that subscriber asked for it, a synthetic lost-bytes marker ahead of
// it. Other subscribers are unaffected.
//
// A Hub has exactly one producer (the outbound relay pump) for its whole
// lifetime; Close is called once, at source EOF or child death, and makes
// every current and future Subscribe return a closed channel.
type Hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	ch       chan chunk.Chunk
	markLoss bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Subscribe returns a new receive channel beginning at the current head of
// the stream. Historical chunks already published are not replayed. If the
// Hub is already closed, Subscribe returns a closed channel so the caller
// observes immediate stream end.
//
// When markLoss is true, this subscriber receives a synthetic
// chunk.Chunk{Lost: true} in place of data it missed while lagging; when
// false, lost data is silent, matching the Log Recorder's best-effort
// contract. The choice is per-subscriber: the same Hub can serve a silent
// Log Recorder and a terminal subscriber that wants a visible marker.
func (h *Hub) Subscribe(markLoss bool) <-chan chunk.Chunk {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan chunk.Chunk, chunk.HubCapacity)
	if h.closed {
		close(ch)
		return ch
	}
	sub := &subscriber{ch: ch, markLoss: markLoss}
	h.subs[sub] = struct{}{}
	return ch
}

// Unsubscribe releases a receiver obtained from Subscribe. It is safe to
// call after the Hub has closed; it is then a no-op.
func (h *Hub) Unsubscribe(ch <-chan chunk.Chunk) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.ch == ch {
			delete(h.subs, sub)
			return
		}
	}
}

// Publish delivers c to every current subscriber. Delivery never blocks: a
// subscriber whose buffer is full has its oldest entry evicted to make room,
// which is reported back to it either as silent loss or as a synthetic
// Chunk{Lost: true} depending on the markLoss it passed to Subscribe.
func (h *Hub) Publish(c chunk.Chunk) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for sub := range h.subs {
		h.deliver(sub, c)
	}
}

func (h *Hub) deliver(sub *subscriber, c chunk.Chunk) {
	select {
	case sub.ch <- c:
		return
	default:
	}

	// Subscriber is lagging: drop the oldest buffered chunk to make room
	// for the newest one, so a slow consumer always catches up to "now"
	// instead of replaying an ever-growing backlog. A markLoss subscriber
	// has a second entry dropped so the marker and the newest chunk both fit.
	var lost int
	select {
	case dropped := <-sub.ch:
		lost = len(dropped.Data) + dropped.LostBytes
	default:
	}
	if sub.markLoss {
		select {
		case dropped := <-sub.ch:
			lost += len(dropped.Data) + dropped.LostBytes
		default:
		}
		select {
		case sub.ch <- chunk.Chunk{Lost: true, LostBytes: lost}:
		default:
		}
	}
	select {
	case sub.ch <- c:
	default:
	}
}

// Close terminates the Hub: every current subscriber's channel is closed
// (signaling end of stream) and all future Subscribe calls return an
// already-closed channel. Close is idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
	}
	h.subs = nil
}
