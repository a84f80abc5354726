// Package admin loads the process-wide set of administrator user ids.
//
// The set is stored in the service.adminIds document and extended at
// startup with the auth records whose email appears in the configured admin
// list. It is loaded once before the server accepts requests and is
// read-only afterwards.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/vango-dev/syncpage/pkg/model"
)

const (
	// Collection and DocID locate the stored admin id list.
	Collection = "service"
	DocID      = "adminIds"

	// AuthCollection holds user auth records with an "email" field.
	AuthCollection = "auths"
)

// Registry is an immutable set of admin user ids.
type Registry struct {
	ids []string
	set map[string]struct{}
}

// NewRegistry builds a registry from ids.
func NewRegistry(ids ...string) *Registry {
	r := &Registry{set: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := r.set[id]; dup {
			continue
		}
		r.set[id] = struct{}{}
		r.ids = append(r.ids, id)
	}
	return r
}

// IsAdmin reports whether userID is an admin. Safe on a nil registry.
func (r *Registry) IsAdmin(userID string) bool {
	if r == nil || userID == "" {
		return false
	}
	_, ok := r.set[userID]
	return ok
}

// IDs returns the admin ids in load order.
func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	return slices.Clone(r.ids)
}

// Len returns the number of admins.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.ids)
}

// ParseEmails splits a comma separated admin list.
func ParseEmails(list string) []string {
	var out []string
	for _, e := range strings.Split(list, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// Load reads the stored admin ids, adds the ids of auth records matching
// emails, persists the merged list and returns it as a Registry.
func Load(ctx context.Context, backend *model.Backend, emails []string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "admin")

	m := backend.CreateModel()
	defer m.Close()

	path := Collection + "." + DocID
	doc := m.At(path)
	if err := m.Fetch(ctx, doc); err != nil {
		return nil, fmt.Errorf("admin: fetch %s: %w", path, err)
	}
	if doc.Get() == nil {
		if err := doc.Set(ctx, map[string]any{"value": []string{}}); err != nil {
			return nil, fmt.Errorf("admin: create %s: %w", path, err)
		}
	}

	ids := stringList(m.Get(path + ".value"))
	if len(emails) > 0 {
		q := m.Query(AuthCollection, map[string]any{"email": map[string]any{"$in": emails}})
		if err := m.Fetch(ctx, q); err != nil {
			return nil, fmt.Errorf("admin: query %s: %w", AuthCollection, err)
		}
		added := false
		for _, id := range q.IDs() {
			if !slices.Contains(ids, id) {
				ids = append(ids, id)
				added = true
			}
		}
		if added {
			if err := m.Set(ctx, path+".value", ids); err != nil {
				return nil, fmt.Errorf("admin: save %s: %w", path, err)
			}
		}
	}

	r := NewRegistry(ids...)
	logger.Info("admins loaded", "count", r.Len())
	return r, nil
}

func stringList(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
