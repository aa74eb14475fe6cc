// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package relationdirectory

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"
)

// Refresher is the part of the Directory used by the refresh worker.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context) error

// Refresh is part of the Refresher interface.
func (f RefresherFunc) Refresh(ctx context.Context) error {
	return f(ctx)
}

// Periodic returns a Refresher that refreshes the directory and discards
// the fetched relations.
func Periodic(d *Directory) Refresher {
	return RefresherFunc(func(ctx context.Context) error {
		_, err := d.Refresh(ctx)
		return err
	})
}

// WorkerConfig encapsulates the configuration options for the refresh
// worker.
type WorkerConfig struct {
	Refresher Refresher
	Clock     clock.Clock
	Logger    Logger
	Interval  time.Duration
}

// Validate ensures that the config values are valid.
func (c WorkerConfig) Validate() error {
	if c.Refresher == nil {
		return errors.NotValidf("nil Refresher")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if c.Interval <= 0 {
		return errors.NotValidf("non-positive Interval")
	}
	return nil
}

type refreshWorker struct {
	catacomb catacomb.Catacomb
	config   WorkerConfig
}

// NewWorker returns a worker that refreshes the directory every interval.
// A failed refresh is logged and tried again at the next interval.
func NewWorker(config WorkerConfig) (worker.Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	w := &refreshWorker{config: config}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *refreshWorker) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *refreshWorker) Wait() error {
	return w.catacomb.Wait()
}

func (w *refreshWorker) loop() error {
	ctx, cancel := w.scopedContext()
	defer cancel()

	timer := w.config.Clock.NewTimer(w.config.Interval)
	defer timer.Stop()

	for {
		select {
		case <-w.catacomb.Dying():
			return w.catacomb.ErrDying()
		case <-timer.Chan():
			if err := w.config.Refresher.Refresh(ctx); err != nil {
				w.config.Logger.Errorf("periodic relation refresh failed: %v", err)
			}
			timer.Reset(w.config.Interval)
		}
	}
}

// scopedContext returns a context that is cancelled when the worker dies.
func (w *refreshWorker) scopedContext() (context.Context, context.CancelFunc) {
	return context.WithCancel(w.catacomb.Context(context.Background()))
}
