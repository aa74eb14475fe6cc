// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package database

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"
)

// Logger represents the methods used to log readiness attempts.
type Logger interface {
	Debugf(string, ...any)
	Infof(string, ...any)
	Warningf(string, ...any)
}

// Pinger is implemented by pgx connections and pools.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyConfig describes how long to wait for the database to accept
// connections.
type ReadyConfig struct {
	Pinger Pinger
	Clock  clock.Clock
	Logger Logger

	// Attempts is the maximum number of pings. Zero or less pings until
	// the context is done.
	Attempts int

	// Delay is the delay after the first failed ping. It doubles after
	// each further failure up to MaxDelay.
	Delay    time.Duration
	MaxDelay time.Duration
}

// Validate returns an error if the config cannot be used to wait.
func (config ReadyConfig) Validate() error {
	if config.Pinger == nil {
		return errors.NotValidf("nil Pinger")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if config.Delay <= 0 {
		return errors.NotValidf("non-positive Delay")
	}
	return nil
}

// WaitReady pings the database until it answers, the attempts are used up
// or the context is done.
func WaitReady(ctx context.Context, config ReadyConfig) error {
	if err := config.Validate(); err != nil {
		return errors.Trace(err)
	}
	attempts := config.Attempts
	if attempts <= 0 {
		attempts = -1
	}
	maxDelay := config.MaxDelay
	if maxDelay < config.Delay {
		maxDelay = config.Delay
	}

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return config.Pinger.Ping(ctx)
		},
		NotifyFunc: func(lastErr error, attempt int) {
			config.Logger.Debugf("database not ready (attempt %d): %v", attempt, lastErr)
		},
		Attempts:    attempts,
		Delay:       config.Delay,
		MaxDelay:    maxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       config.Clock,
		Stop:        ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) {
		return errors.Annotate(retry.LastError(err), "database not ready")
	}
	if retry.IsRetryStopped(err) {
		return errors.Annotate(ctx.Err(), "waiting for database")
	}
	if err != nil {
		return errors.Trace(err)
	}
	config.Logger.Infof("database is ready")
	return nil
}
