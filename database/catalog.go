// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/juju/errors"

	"github.com/pgbufview/pgbufview/core/relation"
)

// Querier is the part of a pgx connection or pool used to read the catalog.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// relationsQuery selects every relation of a tracked kind outside of the
// system namespaces. Numeric columns are widened to int8 so they scan the
// same way whatever the server version.
const relationsQuery = `
SELECT c.oid::int8, c.relname, c.relpages::int8, c.relfilenode::int8, c.relkind::text
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind::text = ANY($1)
  AND n.nspname::text <> ALL($2)`

// SystemNamespaces are the namespaces whose relations are never listed.
var SystemNamespaces = []string{"pg_catalog", "information_schema", "pg_toast"}

// Catalog reads relation metadata from pg_class.
type Catalog struct {
	db Querier
}

// NewCatalog returns a Catalog reading through db.
func NewCatalog(db Querier) *Catalog {
	return &Catalog{db: db}
}

// Relations returns a row for every relation of a tracked kind outside of
// the system namespaces. Rows are returned as found; filtering out relations
// without storage is left to the caller.
func (c *Catalog) Relations(ctx context.Context) ([]relation.Row, error) {
	kinds := make([]string, len(relation.TrackedKinds))
	for i, kind := range relation.TrackedKinds {
		kinds[i] = string(kind)
	}

	rows, err := c.db.Query(ctx, relationsQuery, kinds, SystemNamespaces)
	if err != nil {
		return nil, errors.Annotate(err, "querying relations")
	}
	defer rows.Close()

	var result []relation.Row
	for rows.Next() {
		var row relation.Row
		if err := rows.Scan(&row.OID, &row.Name, &row.Pages, &row.Relfilenode, &row.Kind); err != nil {
			return nil, errors.Annotate(err, "reading relation row")
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Annotate(err, "reading relations")
	}
	return result, nil
}
