package model

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vango-dev/syncpage/pkg/store"
)

// Bundle is the snapshot a client hydrates from. It is produced once per
// Model and must not be modified.
type Bundle struct {
	// Collections maps collection -> id -> document snapshot.
	Collections map[string]map[string]BundleDoc `json:"collections"`

	// Queries lists fetched queries and the ids they resolved to.
	Queries []BundleQuery `json:"queries,omitempty"`

	// Local holds the model's "_"-prefixed collections.
	Local json.RawMessage `json:"local"`

	CreatedAt int64 `json:"ts"`
}

// BundleDoc is one document snapshot.
type BundleDoc struct {
	Version int64           `json:"v"`
	Data    json.RawMessage `json:"data"`
}

// BundleQuery is one query's subscription state.
type BundleQuery struct {
	Collection string         `json:"c"`
	Criteria   store.Criteria `json:"q"`
	IDs        []string       `json:"ids"`
}

// Bundle serializes every document the model has loaded, re-read from the
// store through the access rules so the snapshot is current, together with
// query results and local state. A second call returns ErrAlreadyBundled.
func (m *Model) Bundle(ctx context.Context) (*Bundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(); err != nil {
		return nil, err
	}
	if m.bundled {
		return nil, ErrAlreadyBundled
	}

	b := &Bundle{
		Collections: make(map[string]map[string]BundleDoc),
		Local:       append(json.RawMessage(nil), m.local...),
		CreatedAt:   time.Now().UnixMilli(),
	}
	for _, key := range m.order {
		collection, id, _ := splitPath(key)
		doc, err := m.backend.CheckRead(ctx, m.userID, collection, id)
		if err != nil {
			return nil, fmt.Errorf("model: bundle %s: %w", key, err)
		}
		m.docs[key] = doc
		if doc == nil {
			continue
		}
		coll := b.Collections[collection]
		if coll == nil {
			coll = make(map[string]BundleDoc)
			b.Collections[collection] = coll
		}
		coll[id] = BundleDoc{Version: doc.Version, Data: doc.Data}
	}
	for _, q := range m.queries {
		b.Queries = append(b.Queries, BundleQuery{
			Collection: q.collection,
			Criteria:   q.criteria,
			IDs:        append([]string{}, q.ids...),
		})
	}

	m.bundled = true
	return b, nil
}
