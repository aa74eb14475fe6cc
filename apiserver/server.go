// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

// Config holds the configuration for the api server worker.
type Config struct {
	// Listener accepts the connections served by the worker. The worker
	// closes it when it stops.
	Listener net.Listener

	Hub       *Hub
	Relations RelationSource

	// Gatherer is served on /metrics.
	Gatherer prometheus.Gatherer

	// StaticDir holds the browser frontend. Its index.html is served at /
	// and the whole directory under /static/. It is not served if empty.
	StaticDir string

	// WriteTimeout bounds each write to a websocket client.
	WriteTimeout time.Duration

	Logger Logger
}

// Validate ensures that the config values are valid.
func (c Config) Validate() error {
	if c.Listener == nil {
		return errors.NotValidf("nil Listener")
	}
	if c.Hub == nil {
		return errors.NotValidf("nil Hub")
	}
	if c.Relations == nil {
		return errors.NotValidf("nil Relations")
	}
	if c.Gatherer == nil {
		return errors.NotValidf("nil Gatherer")
	}
	if c.WriteTimeout <= 0 {
		return errors.NotValidf("non-positive WriteTimeout")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Server serves the event websocket, the relation listing, metrics and the
// frontend.
type Server struct {
	catacomb catacomb.Catacomb
	config   Config
	server   *http.Server
}

// NewWorker returns a worker serving on the configured listener until it
// is killed.
func NewWorker(config Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	s := &Server{
		config: config,
		server: &http.Server{
			Handler:           NewRouter(config),
			ReadHeaderTimeout: 30 * time.Second,
		},
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &s.catacomb,
		Work: s.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return s, nil
}

// NewRouter returns the handler for every route served by the api server.
func NewRouter(config Config) http.Handler {
	router := mux.NewRouter()
	router.Handle("/ws", &eventsHandler{
		hub:          config.Hub,
		logger:       config.Logger,
		writeTimeout: config.WriteTimeout,
	}).Methods(http.MethodGet)
	router.Handle("/api/relations", &relationsHandler{
		source: config.Relations,
		logger: config.Logger,
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{})).
		Methods(http.MethodGet)
	if config.StaticDir != "" {
		// The frontend loads its assets from /static/.
		router.PathPrefix("/static/").Handler(
			http.StripPrefix("/static/", http.FileServer(http.Dir(config.StaticDir))),
		).Methods(http.MethodGet)
		index := filepath.Join(config.StaticDir, "index.html")
		router.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			http.ServeFile(w, req, index)
		})).Methods(http.MethodGet)
	}
	return router
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() net.Addr {
	return s.config.Listener.Addr()
}

// Kill is part of the worker.Worker interface.
func (s *Server) Kill() {
	s.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (s *Server) Wait() error {
	return s.catacomb.Wait()
}

func (s *Server) loop() error {
	served := make(chan error, 1)
	go func() {
		s.config.Logger.Infof("listening on %s", s.config.Listener.Addr())
		served <- s.server.Serve(s.config.Listener)
	}()

	select {
	case <-s.catacomb.Dying():
	case err := <-served:
		return errors.Annotate(err, "serving http")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Websocket connections are hijacked, so Shutdown does not wait for
	// them; the hub closes those.
	if err := s.server.Shutdown(ctx); err != nil {
		s.config.Logger.Warningf("shutting down http server: %v", err)
	}
	if err := <-served; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Annotate(err, "serving http")
	}
	return s.catacomb.ErrDying()
}

var _ worker.Worker = (*Server)(nil)
