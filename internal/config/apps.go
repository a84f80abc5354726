package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vango-dev/syncpage/pkg/filter"
	"github.com/vango-dev/syncpage/pkg/router"
)

// AppsFile is the on-disk shape of the apps file.
type AppsFile struct {
	Apps []AppSpec `yaml:"apps"`
}

// AppSpec describes one client app.
type AppSpec struct {
	Name   string      `yaml:"name"`
	Head   string      `yaml:"head,omitempty"`
	Routes []RouteSpec `yaml:"routes,omitempty"`
}

// RouteSpec describes one route and its children.
type RouteSpec struct {
	Path     string      `yaml:"path,omitempty"`
	Redirect string      `yaml:"redirect,omitempty"`
	Filters  []FilterRef `yaml:"filters,omitempty"`
	Routes   []RouteSpec `yaml:"routes,omitempty"`
}

// FilterRef names a registered filter and its arguments.
type FilterRef struct {
	Name string   `yaml:"name"`
	Args []string `yaml:"args,omitempty"`
}

// UnmarshalYAML accepts "name arg..." scalars as well as mappings.
func (f *FilterRef) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		fields := strings.Fields(value.Value)
		if len(fields) == 0 {
			return fmt.Errorf("line %d: empty filter", value.Line)
		}
		f.Name, f.Args = fields[0], fields[1:]
		return nil
	}
	type plain FilterRef
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	if p.Name == "" {
		return fmt.Errorf("line %d: filter name is required", value.Line)
	}
	*f = FilterRef(p)
	return nil
}

// Apps is a compiled apps file.
type Apps struct {
	Table *router.Table

	// Heads maps app names to their head fragment.
	Heads map[string]string
}

// LoadApps reads and compiles the apps file at path. An empty path yields
// an empty table.
func LoadApps(path string, reg *filter.Registry) (*Apps, error) {
	if path == "" {
		return ParseApps(nil, reg)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read apps file: %w", err)
	}
	apps, err := ParseApps(data, reg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return apps, nil
}

// ParseApps compiles an apps file, resolving filters through reg.
func ParseApps(data []byte, reg *filter.Registry) (*Apps, error) {
	var file AppsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse apps: %w", err)
	}
	if reg == nil {
		reg = filter.NewRegistry()
	}

	apps := make([]router.App, 0, len(file.Apps))
	heads := make(map[string]string, len(file.Apps))
	var errs []error
	for _, spec := range file.Apps {
		routes, err := buildRoutes(spec.Routes, reg)
		if err != nil {
			errs = append(errs, fmt.Errorf("app %q: %w", spec.Name, err))
			continue
		}
		apps = append(apps, router.App{Name: spec.Name, Routes: routes})
		if spec.Head != "" {
			heads[spec.Name] = strings.TrimSpace(spec.Head)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	table, err := router.NewTable(apps...)
	if err != nil {
		return nil, err
	}
	return &Apps{Table: table, Heads: heads}, nil
}

func buildRoutes(specs []RouteSpec, reg *filter.Registry) ([]router.Route, error) {
	routes := make([]router.Route, 0, len(specs))
	for _, spec := range specs {
		r := router.Route{Path: spec.Path, Redirect: spec.Redirect}
		for _, ref := range spec.Filters {
			f, err := reg.Build(ref.Name, ref.Args)
			if err != nil {
				return nil, fmt.Errorf("route %q: %w", spec.Path, err)
			}
			r.Filters = append(r.Filters, f)
		}
		children, err := buildRoutes(spec.Routes, reg)
		if err != nil {
			return nil, err
		}
		r.Routes = children
		routes = append(routes, r)
	}
	return routes, nil
}
