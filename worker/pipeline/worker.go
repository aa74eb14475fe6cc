// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	"github.com/pgbufview/pgbufview/core/relation"
	"github.com/pgbufview/pgbufview/core/trace"
	"github.com/pgbufview/pgbufview/internal/metrics"
	"github.com/pgbufview/pgbufview/worker/tracer"
)

// Logger represents the methods used by the worker to log information.
type Logger interface {
	Tracef(string, ...any)
	Debugf(string, ...any)
	Infof(string, ...any)
	Errorf(string, ...any)
}

// Directory filters events by the relations known to the database.
type Directory interface {
	Refresh(ctx context.Context) ([]relation.Info, error)
	IsKnown(relfilenode uint32) bool
}

// Hub fans events out to connected clients.
type Hub interface {
	BroadcastEvent(ev trace.Event)
	DisconnectAll()
}

// Tracer supervises the tracer process.
type Tracer interface {
	Start() error
	Run(ctx context.Context, handler tracer.Handler) error
	Stop() error
}

// Config holds the dependencies and configuration for the pipeline worker.
type Config struct {
	Directory Directory
	Hub       Hub
	Tracer    Tracer

	// WaitForDatabase blocks until the database accepts connections. If
	// it is nil the worker waits StartupDelay instead.
	WaitForDatabase func(ctx context.Context) error
	StartupDelay    time.Duration

	Clock   clock.Clock
	Logger  Logger
	Metrics *metrics.Collector
}

// Validate ensures that the config values are valid.
func (c Config) Validate() error {
	if c.Directory == nil {
		return errors.NotValidf("nil Directory")
	}
	if c.Hub == nil {
		return errors.NotValidf("nil Hub")
	}
	if c.Tracer == nil {
		return errors.NotValidf("nil Tracer")
	}
	if c.StartupDelay < 0 {
		return errors.NotValidf("negative StartupDelay")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if c.Metrics == nil {
		return errors.NotValidf("nil Metrics")
	}
	return nil
}

// Worker feeds events from the tracer to the hub, dropping events for
// relations that are not in the directory.
type Worker struct {
	catacomb catacomb.Catacomb
	config   Config

	shutdownOnce sync.Once

	// mu guards stopped, so that the tracer is never started once
	// Shutdown has begun.
	mu      sync.Mutex
	stopped bool
}

// NewWorker starts the pipeline. Startup waits for the database, loads the
// directory and then starts the tracer. Killing the worker runs Shutdown.
func NewWorker(config Config) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	w := &Worker{config: config}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *Worker) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Worker) Wait() error {
	return w.catacomb.Wait()
}

// Shutdown disconnects every client and then stops the tracer, and kills
// the worker. Only the first call does any work; later and concurrent
// calls wait for it to complete.
func (w *Worker) Shutdown() {
	w.shutdownOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		w.mu.Unlock()

		w.config.Logger.Infof("shutting down")
		w.config.Hub.DisconnectAll()
		if err := w.config.Tracer.Stop(); err != nil {
			w.config.Logger.Errorf("stopping tracer: %v", err)
		}
	})
	w.catacomb.Kill(nil)
}

func (w *Worker) loop() error {
	ctx, cancel := w.scopedContext()
	defer cancel()

	if err := w.waitForDatabase(ctx); err != nil {
		select {
		case <-w.catacomb.Dying():
			w.Shutdown()
			return w.catacomb.ErrDying()
		default:
		}
		w.config.Logger.Errorf("database not available: %v", err)
	}

	if _, err := w.config.Directory.Refresh(ctx); err != nil {
		w.config.Logger.Errorf("initial relation refresh failed: %v", err)
	}

	started, err := w.startTracer()
	if err != nil {
		w.Shutdown()
		return errors.Annotate(err, "starting tracer")
	}
	if !started {
		w.Shutdown()
		return w.catacomb.ErrDying()
	}

	// The tracer is stopped by Shutdown, after the clients have been
	// disconnected, so it does not run on the worker's context.
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	done := make(chan error, 1)
	go func() {
		done <- w.config.Tracer.Run(runCtx, w.handle)
	}()

	for {
		select {
		case <-w.catacomb.Dying():
			w.Shutdown()
			runCancel()
			if done != nil {
				<-done
			}
			return w.catacomb.ErrDying()
		case err := <-done:
			// Clients stay connected and the relation listing keeps
			// working, they just see no more events.
			if err != nil {
				w.config.Logger.Errorf("tracer failed: %v", err)
			} else {
				w.config.Logger.Infof("tracer exited")
			}
			done = nil
		}
	}
}

// startTracer starts the tracer unless Shutdown has already begun.
func (w *Worker) startTracer() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return false, nil
	}
	if err := w.config.Tracer.Start(); err != nil {
		return false, errors.Trace(err)
	}
	return true, nil
}

func (w *Worker) waitForDatabase(ctx context.Context) error {
	if w.config.WaitForDatabase != nil {
		return errors.Trace(w.config.WaitForDatabase(ctx))
	}
	if w.config.StartupDelay == 0 {
		return nil
	}
	w.config.Logger.Debugf("waiting %v for the database", w.config.StartupDelay)
	select {
	case <-w.catacomb.Dying():
		return w.catacomb.ErrDying()
	case <-w.config.Clock.After(w.config.StartupDelay):
		return nil
	}
}

func (w *Worker) handle(ev trace.Event) {
	if !w.config.Directory.IsKnown(ev.Relfilenode) {
		w.config.Metrics.EventsDropped.Inc()
		w.config.Logger.Tracef("dropping event for unknown relfilenode %d", ev.Relfilenode)
		return
	}
	w.config.Hub.BroadcastEvent(ev)
}

// scopedContext returns a context that is cancelled when the worker dies.
func (w *Worker) scopedContext() (context.Context, context.CancelFunc) {
	return context.WithCancel(w.catacomb.Context(context.Background()))
}

var _ worker.Worker = (*Worker)(nil)
