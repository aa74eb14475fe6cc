// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package relationdirectory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/pgbufview/pgbufview/core/relation"
	"github.com/pgbufview/pgbufview/internal/metrics"
)

// Logger represents the methods used by the directory to log information.
type Logger interface {
	Debugf(string, ...any)
	Infof(string, ...any)
	Warningf(string, ...any)
	Errorf(string, ...any)
}

// CatalogSource returns the catalog rows of every tracked relation.
type CatalogSource interface {
	Relations(ctx context.Context) ([]relation.Row, error)
}

// snapshot is one complete, immutable result of a refresh.
type snapshot struct {
	byFilenode map[uint32]relation.Info
	relations  []relation.Info
	fetched    time.Time
}

// Directory maps relfilenodes to the relations that own them. The mapping
// is replaced as a whole on every successful refresh, so a reader always
// sees the result of exactly one refresh.
type Directory struct {
	source  CatalogSource
	clock   clock.Clock
	logger  Logger
	metrics *metrics.Collector

	current atomic.Pointer[snapshot]
}

// New returns an empty Directory populated from source on Refresh.
func New(source CatalogSource, clock clock.Clock, logger Logger, metrics *metrics.Collector) *Directory {
	d := &Directory{
		source:  source,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
	d.current.Store(&snapshot{byFilenode: map[uint32]relation.Info{}})
	return d
}

// Refresh reloads the directory from the catalog and returns the relations
// that were fetched. If the catalog cannot be read the directory keeps its
// previous contents and the error is returned.
func (d *Directory) Refresh(ctx context.Context) ([]relation.Info, error) {
	rows, err := d.source.Relations(ctx)
	if err != nil {
		d.metrics.RelationRefreshes.WithLabelValues(metrics.RefreshFailed).Inc()
		return nil, errors.Annotate(err, "fetching relations")
	}

	next := &snapshot{
		byFilenode: make(map[uint32]relation.Info, len(rows)),
		relations:  make([]relation.Info, 0, len(rows)),
		fetched:    d.clock.Now(),
	}
	for _, row := range rows {
		// No physical file backs these, so the tracer never reports them.
		if row.Relfilenode == 0 {
			continue
		}
		info, err := relation.FromRow(row)
		if err != nil {
			d.logger.Warningf("skipping relation %q: %v", row.Name, err)
			continue
		}
		next.byFilenode[info.Relfilenode()] = info
		next.relations = append(next.relations, info)
	}

	d.current.Store(next)
	d.metrics.RelationRefreshes.WithLabelValues(metrics.RefreshSucceeded).Inc()
	d.metrics.Relations.Set(float64(len(next.relations)))
	d.logger.Infof("fetched %d relations", len(next.relations))

	return append([]relation.Info(nil), next.relations...), nil
}

// Lookup returns the relation stored in relfilenode.
func (d *Directory) Lookup(relfilenode uint32) (relation.Info, bool) {
	info, ok := d.current.Load().byFilenode[relfilenode]
	return info, ok
}

// IsKnown reports whether relfilenode belongs to a relation fetched by the
// last successful refresh.
func (d *Directory) IsKnown(relfilenode uint32) bool {
	_, ok := d.Lookup(relfilenode)
	return ok
}

// Relations returns the relations fetched by the last successful refresh,
// or an empty slice if there has not been one.
func (d *Directory) Relations() []relation.Info {
	return append([]relation.Info{}, d.current.Load().relations...)
}

// LastRefresh returns when the directory was last refreshed successfully.
// It is the zero time if there has not been a successful refresh.
func (d *Directory) LastRefresh() time.Time {
	return d.current.Load().fetched
}
