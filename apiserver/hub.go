// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver

import (
	"sync"

	"github.com/pgbufview/pgbufview/core/trace"
	"github.com/pgbufview/pgbufview/internal/metrics"
)

// Logger represents the methods used by the api server to log information.
type Logger interface {
	Tracef(string, ...any)
	Debugf(string, ...any)
	Infof(string, ...any)
	Warningf(string, ...any)
	Errorf(string, ...any)
}

// Sink is one connected client's outbound message channel.
type Sink interface {
	// Send delivers a single binary message. An error means the sink is
	// no longer usable.
	Send(msg []byte) error

	// Close terminates the connection to the client.
	Close() error
}

// Hub is the registry of connected sinks. It fans each message out to
// every sink registered when the broadcast starts.
type Hub struct {
	logger  Logger
	metrics *metrics.Collector

	mu    sync.Mutex
	sinks map[Sink]struct{}
}

// NewHub returns a Hub with no sinks.
func NewHub(logger Logger, metrics *metrics.Collector) *Hub {
	return &Hub{
		logger:  logger,
		metrics: metrics,
		sinks:   make(map[Sink]struct{}),
	}
}

// Connect registers the sink.
func (h *Hub) Connect(sink Sink) {
	h.mu.Lock()
	h.sinks[sink] = struct{}{}
	count := len(h.sinks)
	h.mu.Unlock()

	h.metrics.Sinks.Set(float64(count))
	h.logger.Infof("client connected, %d connected", count)
}

// Disconnect removes the sink. Removing a sink that is not registered
// does nothing.
func (h *Hub) Disconnect(sink Sink) {
	h.mu.Lock()
	_, ok := h.sinks[sink]
	delete(h.sinks, sink)
	count := len(h.sinks)
	h.mu.Unlock()

	if !ok {
		return
	}
	h.metrics.Sinks.Set(float64(count))
	h.logger.Infof("client disconnected, %d connected", count)
}

// DisconnectAll closes and removes every sink, and returns once every
// close has finished. A sink that fails to close does not prevent the
// others from being closed.
func (h *Hub) DisconnectAll() {
	h.mu.Lock()
	sinks := h.sinks
	h.sinks = make(map[Sink]struct{})
	h.mu.Unlock()

	h.metrics.Sinks.Set(0)
	// Each close may wait on a slow client, so they run concurrently.
	var wg sync.WaitGroup
	for sink := range sinks {
		wg.Add(1)
		go func(sink Sink) {
			defer wg.Done()
			if err := sink.Close(); err != nil {
				h.logger.Warningf("closing client: %v", err)
			}
		}(sink)
	}
	wg.Wait()
	if len(sinks) > 0 {
		h.logger.Infof("disconnected %d clients", len(sinks))
	}
}

// Count returns the number of registered sinks.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sinks)
}

// Broadcast sends msg to every registered sink. Sinks that fail are
// removed and closed once every sink has been tried; no error is returned.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.Lock()
	if len(h.sinks) == 0 {
		h.mu.Unlock()
		return
	}
	sinks := make([]Sink, 0, len(h.sinks))
	for sink := range h.sinks {
		sinks = append(sinks, sink)
	}
	h.mu.Unlock()

	var failed []Sink
	for _, sink := range sinks {
		if err := sink.Send(msg); err != nil {
			h.logger.Debugf("sending to client: %v", err)
			failed = append(failed, sink)
		}
	}

	if len(failed) == 0 {
		return
	}
	h.metrics.SinkSendFailures.Add(float64(len(failed)))
	for _, sink := range failed {
		h.Disconnect(sink)
		if err := sink.Close(); err != nil {
			h.logger.Debugf("closing failed client: %v", err)
		}
	}
}

// BroadcastEvent encodes the event and broadcasts it.
func (h *Hub) BroadcastEvent(ev trace.Event) {
	h.Broadcast(trace.Encode(ev))
	h.metrics.EventsBroadcast.Inc()
}
