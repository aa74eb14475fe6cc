// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "pgbufview"

// Stop modes recorded by the tracer supervisor.
const (
	StopGraceful = "graceful"
	StopForced   = "forced"
	StopExited   = "exited"
)

// Refresh results recorded by the relation directory.
const (
	RefreshSucceeded = "success"
	RefreshFailed    = "failure"
)

// Collector is a prometheus.Collector that collects metrics about the
// trace pipeline.
type Collector struct {
	LinesRead         prometheus.Counter
	MalformedLines    prometheus.Counter
	EventsDropped     prometheus.Counter
	EventsBroadcast   prometheus.Counter
	Sinks             prometheus.Gauge
	SinkSendFailures  prometheus.Counter
	TracerStops       *prometheus.CounterVec
	RelationRefreshes *prometheus.CounterVec
	Relations         prometheus.Gauge
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		LinesRead: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tracer_lines_total",
				Help:      "The number of lines read from the tracer standard output.",
			},
		),
		MalformedLines: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tracer_malformed_lines_total",
				Help:      "The number of tracer lines that were not valid events.",
			},
		),
		EventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "events_dropped_total",
				Help:      "The number of events dropped because the relfilenode is unknown.",
			},
		),
		EventsBroadcast: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "events_broadcast_total",
				Help:      "The number of events broadcast to connected clients.",
			},
		),
		Sinks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "sinks",
				Help:      "The number of connected broadcast clients.",
			},
		),
		SinkSendFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sink_send_failures_total",
				Help:      "The number of failed sends, each of which removed a client.",
			},
		),
		TracerStops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tracer_stops_total",
				Help:      "The number of tracer stops by the way the process ended.",
			}, []string{"mode"},
		),
		RelationRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "relation_refreshes_total",
				Help:      "The number of relation directory refreshes by result.",
			}, []string{"result"},
		),
		Relations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "relations",
				Help:      "The number of relations in the directory.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.LinesRead.Describe(ch)
	c.MalformedLines.Describe(ch)
	c.EventsDropped.Describe(ch)
	c.EventsBroadcast.Describe(ch)
	c.Sinks.Describe(ch)
	c.SinkSendFailures.Describe(ch)
	c.TracerStops.Describe(ch)
	c.RelationRefreshes.Describe(ch)
	c.Relations.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.LinesRead.Collect(ch)
	c.MalformedLines.Collect(ch)
	c.EventsDropped.Collect(ch)
	c.EventsBroadcast.Collect(ch)
	c.Sinks.Collect(ch)
	c.SinkSendFailures.Collect(ch)
	c.TracerStops.Collect(ch)
	c.RelationRefreshes.Collect(ch)
	c.Relations.Collect(ch)
}
