package filter

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a filter from textual arguments, as written in an app
// routes file.
type Factory func(args []string) (Func, error)

// Registry resolves filter names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in filters:
//
//	requireLogin  <loginURL>
//	requireAdmin  <redirectURL>
//	fetchDoc      <collection> <param> [alias]
//	setPage       <key> <value>
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("requireLogin", func(args []string) (Func, error) {
		if err := wantArgs("requireLogin", args, 1, 1); err != nil {
			return nil, err
		}
		return RequireLogin(args[0]), nil
	})
	r.Register("requireAdmin", func(args []string) (Func, error) {
		if err := wantArgs("requireAdmin", args, 1, 1); err != nil {
			return nil, err
		}
		return RequireAdmin(args[0]), nil
	})
	r.Register("fetchDoc", func(args []string) (Func, error) {
		if err := wantArgs("fetchDoc", args, 2, 3); err != nil {
			return nil, err
		}
		alias := args[0]
		if len(args) == 3 {
			alias = args[2]
		}
		return FetchDoc(args[0], args[1], alias), nil
	})
	r.Register("setPage", func(args []string) (Func, error) {
		if err := wantArgs("setPage", args, 2, 2); err != nil {
			return nil, err
		}
		return SetPage(args[0], args[1]), nil
	})
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Build constructs the named filter.
func (r *Registry) Build(name string, args []string) (Func, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("filter: unknown filter %q", name)
	}
	return f(args)
}

// Names returns the registered filter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func wantArgs(name string, args []string, lo, hi int) error {
	if len(args) < lo || len(args) > hi {
		if lo == hi {
			return fmt.Errorf("filter: %s takes %d argument(s), got %d", name, lo, len(args))
		}
		return fmt.Errorf("filter: %s takes %d to %d arguments, got %d", name, lo, hi, len(args))
	}
	return nil
}
