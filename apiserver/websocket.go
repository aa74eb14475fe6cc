// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
)

const (
	// pongDelay is how long the server waits for a pong from the client
	// before it considers the client gone.
	pongDelay = 90 * time.Second

	// pingPeriod is how often the server pings the client. It has to be
	// shorter than pongDelay.
	pingPeriod = (pongDelay * 9) / 10

	// closeReason is sent to clients when the server closes their
	// connection during shutdown.
	closeReason = "server shutting down"
)

var websocketUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSink sends binary messages over a websocket. Writes are serialised,
// as a websocket connection supports only one concurrent writer.
type wsSink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func newWSSink(conn *websocket.Conn, writeTimeout time.Duration) *wsSink {
	return &wsSink{
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// Send is part of the Sink interface.
func (s *wsSink) Send(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("connection closed")
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.conn.WriteMessage(websocket.BinaryMessage, msg))
}

func (s *wsSink) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("connection closed")
	}
	deadline := time.Now().Add(s.writeTimeout)
	return errors.Trace(s.conn.WriteControl(websocket.PingMessage, []byte{}, deadline))
}

// Close is part of the Sink interface. The client is told the server is
// going away before the connection is closed.
func (s *wsSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	deadline := time.Now().Add(s.writeTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, closeReason)
	// The client may already be gone, so failing to say goodbye is fine.
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return errors.Trace(s.conn.Close())
}

// eventsHandler registers every websocket client with the hub. Clients
// only receive; anything they send is discarded.
type eventsHandler struct {
	hub          *Hub
	logger       Logger
	writeTimeout time.Duration
}

// ServeHTTP implements the http.Handler interface.
func (h *eventsHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := websocketUpgrader.Upgrade(w, req, nil)
	if err != nil {
		h.logger.Errorf("problem initiating websocket: %v", err)
		return
	}

	sink := newWSSink(conn, h.writeTimeout)
	h.hub.Connect(sink)
	defer func() {
		h.hub.Disconnect(sink)
		_ = sink.Close()
	}()

	// Here we configure the ping/pong handling for the websocket so the
	// server can notice when the client goes away.
	_ = conn.SetReadDeadline(time.Now().Add(pongDelay))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongDelay))
	})
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	gone := h.discardMessages(conn)
	for {
		select {
		case <-gone:
			return
		case <-ticker.C:
			if err := sink.ping(); err != nil {
				// This error is expected if the other end goes away.
				h.logger.Debugf("failed to write ping: %s", err)
				return
			}
		}
	}
}

// discardMessages reads from the connection so that control frames are
// processed. The returned channel is closed when reading fails, which
// happens when the client goes away or the sink is closed.
func (h *eventsHandler) discardMessages(conn *websocket.Conn) <-chan struct{} {
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.logger.Debugf("websocket client gone: %v", err)
				return
			}
		}
	}()
	return gone
}
