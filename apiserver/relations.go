// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/juju/errors"

	"github.com/pgbufview/pgbufview/core/relation"
)

// RelationSource provides the relations listed by the api server.
type RelationSource interface {
	// Refresh reloads the relations from the database.
	Refresh(ctx context.Context) ([]relation.Info, error)

	// Relations returns the relations loaded by the last successful
	// refresh.
	Relations() []relation.Info
}

// Relation is the wire form of a relation in the listing.
type Relation struct {
	OID         uint32 `json:"oid"`
	Name        string `json:"relname"`
	TotalBlocks int64  `json:"total_blocks"`
	Relfilenode uint32 `json:"relfilenode"`
	Kind        string `json:"relkind"`
}

func relationsFromInfos(infos []relation.Info) []Relation {
	result := make([]Relation, len(infos))
	for i, info := range infos {
		result[i] = Relation{
			OID:         info.OID(),
			Name:        info.Name(),
			TotalBlocks: info.TotalBlocks(),
			Relfilenode: info.Relfilenode(),
			Kind:        string(info.Kind()),
		}
	}
	return result
}

// relationsHandler refreshes the directory and lists the relations. When
// the database cannot be reached the last known relations are listed.
type relationsHandler struct {
	source RelationSource
	logger Logger
}

// ServeHTTP implements the http.Handler interface.
func (h *relationsHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	infos, err := h.source.Refresh(req.Context())
	if err != nil {
		h.logger.Warningf("listing last known relations: %v", err)
		infos = h.source.Relations()
	}
	if err := sendStatusAndJSON(w, http.StatusOK, relationsFromInfos(infos)); err != nil {
		h.logger.Errorf("sending relations: %v", err)
	}
}

// sendStatusAndJSON sends an HTTP status code and a JSON-encoded response
// to a client.
func sendStatusAndJSON(w http.ResponseWriter, statusCode int, response any) error {
	body, err := json.Marshal(response)
	if err != nil {
		return errors.Errorf("cannot marshal JSON result %#v: %v", response, err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		return errors.Annotate(err, "cannot write response")
	}
	return nil
}
