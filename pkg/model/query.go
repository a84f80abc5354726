package model

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/vango-dev/syncpage/pkg/store"
)

// NormalizeQuery is the default query middleware. Map criteria pass through;
// a single id or a list of ids becomes {"_id": {"$in": ids}}.
func NormalizeQuery(_ context.Context, q *QueryRequest) error {
	switch raw := q.Raw.(type) {
	case nil:
		q.Criteria = store.Criteria{}
	case store.Criteria:
		q.Criteria = raw
	case map[string]any:
		q.Criteria = store.Criteria(raw)
	case string:
		q.Criteria = idsCriteria([]string{raw})
	case []string:
		q.Criteria = idsCriteria(raw)
	case []any:
		ids := make([]string, 0, len(raw))
		for _, v := range raw {
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("id list holds %T", v)
			}
			ids = append(ids, s)
		}
		q.Criteria = idsCriteria(ids)
	default:
		return fmt.Errorf("unsupported criteria type %T", q.Raw)
	}
	return q.Criteria.Validate()
}

func idsCriteria(ids []string) store.Criteria {
	return store.Criteria{store.IDField: map[string]any{"$in": ids}}
}

// Query is a live query handle. Its results are loaded by Model.Fetch.
type Query struct {
	m          *Model
	collection string
	raw        any

	criteria store.Criteria
	ids      []string
	fetched  bool
}

// Query creates a query handle on collection. criteria is a map of field
// conditions (see store.Criteria), a single id, or a list of ids.
func (m *Model) Query(collection string, criteria any) *Query {
	return &Query{m: m, collection: collection, raw: criteria}
}

// Collection returns the queried collection.
func (q *Query) Collection() string { return q.collection }

// IDs returns the matching document ids in id order. Empty before Fetch.
func (q *Query) IDs() []string {
	q.m.mu.Lock()
	defer q.m.mu.Unlock()
	if q.m.isRevoked() {
		return nil
	}
	return append([]string(nil), q.ids...)
}

// Get returns the decoded matching documents.
func (q *Query) Get() []any {
	q.m.mu.Lock()
	defer q.m.mu.Unlock()
	if q.m.isRevoked() {
		return nil
	}
	out := make([]any, 0, len(q.ids))
	for _, id := range q.ids {
		if doc := q.m.docs[docKey(q.collection, id)]; doc != nil {
			out = append(out, gjson.ParseBytes(doc.Data).Value())
		}
	}
	return out
}

func (q *Query) fetchInto(ctx context.Context, m *Model) error {
	if q.m.state != m.state {
		return fmt.Errorf("model: query belongs to another model")
	}
	docs, criteria, err := m.backend.query(ctx, m.userID, q.collection, q.raw)
	if err != nil {
		return err
	}
	q.criteria = criteria
	q.ids = q.ids[:0]
	for _, doc := range docs {
		m.remember(doc.Collection, doc.ID, doc)
		q.ids = append(q.ids, doc.ID)
	}
	if !q.fetched {
		q.fetched = true
		m.queries = append(m.queries, q)
	}
	return nil
}
