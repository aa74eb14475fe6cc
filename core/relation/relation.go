// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package relation

import (
	"github.com/juju/errors"
)

// Kind is the single character pg_class.relkind tag of a relation.
type Kind string

const (
	// Table is an ordinary table.
	Table Kind = "r"
	// Index is a btree, hash, gist or other index.
	Index Kind = "i"
	// PartitionedTable is the parent of a declaratively partitioned table.
	PartitionedTable Kind = "p"
	// PartitionedIndex is an index on a partitioned table.
	PartitionedIndex Kind = "I"
)

// TrackedKinds are the relation kinds the directory loads from the catalog.
var TrackedKinds = []Kind{Table, Index, PartitionedTable, PartitionedIndex}

// Validate returns an error if the kind is not one of the tracked kinds.
func (k Kind) Validate() error {
	switch k {
	case Table, Index, PartitionedTable, PartitionedIndex:
		return nil
	}
	return errors.NotValidf("relation kind %q", string(k))
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Table:
		return "table"
	case Index:
		return "index"
	case PartitionedTable:
		return "partitioned table"
	case PartitionedIndex:
		return "partitioned index"
	}
	return "unknown"
}

// Row is a single catalog row as returned by the database. It is not
// validated; use NewInfo to turn it into an Info.
type Row struct {
	OID         int64
	Name        string
	Pages       int64
	Relfilenode int64
	Kind        string
}

// Info describes a relation that owns physical storage. The zero value is
// not valid, instances are created with NewInfo.
type Info struct {
	oid         uint32
	name        string
	totalBlocks int64
	relfilenode uint32
	kind        Kind
}

// NewInfo returns the Info for the catalog entry. A relfilenode of zero means
// there is no file backing the relation and is rejected. A non-positive page
// count is recorded as a single block.
func NewInfo(oid uint32, name string, pages int64, relfilenode uint32, kind Kind) (Info, error) {
	if relfilenode == 0 {
		return Info{}, errors.NotValidf("zero relfilenode for relation %q", name)
	}
	if name == "" {
		return Info{}, errors.NotValidf("empty relation name")
	}
	if err := kind.Validate(); err != nil {
		return Info{}, errors.Trace(err)
	}
	if pages <= 0 {
		pages = 1
	}
	return Info{
		oid:         oid,
		name:        name,
		totalBlocks: pages,
		relfilenode: relfilenode,
		kind:        kind,
	}, nil
}

// FromRow validates a catalog row and converts it to an Info.
func FromRow(row Row) (Info, error) {
	if row.OID < 0 || row.OID > maxUint32 {
		return Info{}, errors.NotValidf("oid %d for relation %q", row.OID, row.Name)
	}
	if row.Relfilenode < 0 || row.Relfilenode > maxUint32 {
		return Info{}, errors.NotValidf("relfilenode %d for relation %q", row.Relfilenode, row.Name)
	}
	return NewInfo(uint32(row.OID), row.Name, row.Pages, uint32(row.Relfilenode), Kind(row.Kind))
}

const maxUint32 = 1<<32 - 1

// OID returns the logical object identifier of the relation.
func (i Info) OID() uint32 { return i.oid }

// Name returns the relation name.
func (i Info) Name() string { return i.name }

// TotalBlocks returns the number of blocks to display for the relation,
// which is never less than one.
func (i Info) TotalBlocks() int64 { return i.totalBlocks }

// Relfilenode returns the on-disk storage identifier of the relation.
func (i Info) Relfilenode() uint32 { return i.relfilenode }

// Kind returns the catalog kind tag of the relation.
func (i Info) Kind() Kind { return i.kind }
