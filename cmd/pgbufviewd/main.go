// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
	"github.com/juju/worker/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/pgbufview/pgbufview/apiserver"
	"github.com/pgbufview/pgbufview/database"
	"github.com/pgbufview/pgbufview/internal/config"
	"github.com/pgbufview/pgbufview/internal/metrics"
	"github.com/pgbufview/pgbufview/worker/pipeline"
	"github.com/pgbufview/pgbufview/worker/relationdirectory"
	"github.com/pgbufview/pgbufview/worker/tracer"
)

var logger = loggo.GetLogger("pgbufview")

// maxDatabaseRetryDelay caps the delay between database pings at startup.
const maxDatabaseRetryDelay = 30 * time.Second

func setupLogging(config string) error {
	writer := loggo.NewSimpleWriter(os.Stderr, logFormatter)
	if _, err := loggo.ReplaceDefaultWriter(writer); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(loggo.ConfigureLoggers(config))
}

func logFormatter(entry loggo.Entry) string {
	ts := entry.Timestamp.In(time.UTC).Format("2006-01-02 15:04:05")
	return fmt.Sprintf("%s %s %s %s", ts, entry.Level, entry.Module, entry.Message)
}

type commandLineArgs struct {
	configPath string
	listen     string
	logConfig  string
}

func commandLine(args []string) (commandLineArgs, error) {
	flags := gnuflag.NewFlagSet("pgbufviewd", gnuflag.ContinueOnError)
	var a commandLineArgs
	flags.StringVar(&a.configPath, "config", "",
		"path to a YAML config file")
	flags.StringVar(&a.listen, "listen", "",
		"address to serve on, overriding server-host and server-port")
	flags.StringVar(&a.logConfig, "log-config", "",
		"logging levels, e.g. <root>=INFO;pgbufview.tracer=DEBUG")
	if err := flags.Parse(true, args); err != nil {
		return commandLineArgs{}, errors.Trace(err)
	}
	if len(flags.Args()) > 0 {
		return commandLineArgs{}, errors.Errorf("unrecognized args: %q", flags.Args())
	}
	return a, nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	a, err := commandLine(args)
	if err != nil {
		return errors.Trace(err)
	}
	cfg, err := config.Load(a.configPath, os.Getenv)
	if err != nil {
		return errors.Annotate(err, "loading config")
	}
	logConfig := cfg.LogConfig
	if a.logConfig != "" {
		logConfig = a.logConfig
	}
	if err := setupLogging(logConfig); err != nil {
		return errors.Annotate(err, "setting up logging")
	}

	// Signals are handled before anything is started, so that a signal
	// during startup still shuts down cleanly.
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	logger.Infof("starting with %s", cfg)

	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN())
	if err != nil {
		return errors.Annotate(err, "configuring database pool")
	}
	defer pool.Close()

	collector := metrics.NewCollector()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	directory := relationdirectory.New(
		database.NewCatalog(pool), clock.WallClock, logger.Child("relations"), collector,
	)
	hub := apiserver.NewHub(logger.Child("hub"), collector)
	supervisor, err := tracer.NewSupervisor(tracer.Config{
		Path:             cfg.BPFTracePath,
		Args:             cfg.TracerArgs(),
		Schema:           cfg.TraceSchema,
		TerminateTimeout: cfg.ProcessTerminateTimeout,
		Clock:            clock.WallClock,
		Logger:           logger.Child("tracer"),
		Metrics:          collector,
	})
	if err != nil {
		return errors.Trace(err)
	}

	listenAddress := cfg.ListenAddress()
	if a.listen != "" {
		listenAddress = a.listen
	}
	listener, err := net.Listen("tcp", listenAddress)
	if err != nil {
		return errors.Annotatef(err, "listening on %s", listenAddress)
	}
	server, err := apiserver.NewWorker(apiserver.Config{
		Listener:     listener,
		Hub:          hub,
		Relations:    directory,
		Gatherer:     registry,
		StaticDir:    cfg.StaticDir,
		WriteTimeout: cfg.WebsocketWriteTimeout,
		Logger:       logger.Child("apiserver"),
	})
	if err != nil {
		_ = listener.Close()
		return errors.Trace(err)
	}
	workers := []worker.Worker{server}

	if cfg.RelationRefreshInterval > 0 {
		refresher, err := relationdirectory.NewWorker(relationdirectory.WorkerConfig{
			Refresher: relationdirectory.Periodic(directory),
			Clock:     clock.WallClock,
			Logger:    logger.Child("relations"),
			Interval:  cfg.RelationRefreshInterval,
		})
		if err != nil {
			stopAll(workers)
			return errors.Trace(err)
		}
		workers = append(workers, refresher)
	}

	retryDelay := cfg.StartupDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	orchestrator, err := pipeline.NewWorker(pipeline.Config{
		Directory: directory,
		Hub:       hub,
		Tracer:    supervisor,
		WaitForDatabase: func(ctx context.Context) error {
			return database.WaitReady(ctx, database.ReadyConfig{
				Pinger:   pool,
				Clock:    clock.WallClock,
				Logger:   logger.Child("database"),
				Attempts: cfg.DatabaseWaitAttempts,
				Delay:    retryDelay,
				MaxDelay: maxDatabaseRetryDelay,
			})
		},
		Clock:   clock.WallClock,
		Logger:  logger.Child("pipeline"),
		Metrics: collector,
	})
	if err != nil {
		stopAll(workers)
		return errors.Trace(err)
	}

	orchestratorDone := make(chan error, 1)
	go func() {
		orchestratorDone <- orchestrator.Wait()
	}()

	var runErr error
	select {
	case sig := <-signals:
		logger.Infof("received %v, shutting down", sig)
		go func() {
			for sig := range signals {
				logger.Infof("received %v, already shutting down", sig)
			}
		}()
		orchestrator.Shutdown()
		runErr = <-orchestratorDone
	case runErr = <-orchestratorDone:
	}

	// Clients are disconnected by the orchestrator before the server
	// stops accepting new ones.
	if err := stopAll(workers); err != nil && runErr == nil {
		runErr = err
	}
	return errors.Trace(runErr)
}

// stopAll kills the workers and waits for them, returning the first error.
func stopAll(workers []worker.Worker) error {
	for _, w := range workers {
		w.Kill()
	}
	var first error
	for _, w := range workers {
		if err := w.Wait(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
