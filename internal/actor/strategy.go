package actor

import (
	"fmt"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// Route is the resolved provider-side target for one actor identity.
type Route struct {
	Model     string   `yaml:"model"`
	Providers []string `yaml:"providers,omitempty"`
}

// Router maps an opaque actor identity to a concrete model route. Billing
// tiers and provider preference live here, not in the negotiation protocol.
type Router interface {
	Resolve(identity string) Route
}

// StaticRouter treats the identity as the model slug directly, with an
// optional per-identity override table.
type StaticRouter struct {
	overrides map[string]Route
}

func NewStaticRouter() *StaticRouter {
	return &StaticRouter{overrides: map[string]Route{}}
}

// NewStaticRouterFromYAML parses an override table of the form
//
//	identity:
//	  model: vendor/slug
//	  providers: [a, b]
func NewStaticRouterFromYAML(raw string) (*StaticRouter, error) {
	r := NewStaticRouter()
	if strings.TrimSpace(raw) == "" {
		return r, nil
	}
	var table map[string]Route
	if err := yaml.Unmarshal([]byte(raw), &table); err != nil {
		return nil, fmt.Errorf("parse model routes: %w", err)
	}
	for id, route := range table {
		id = strings.TrimSpace(id)
		if id == "" || strings.TrimSpace(route.Model) == "" {
			continue
		}
		r.overrides[id] = route
	}
	return r, nil
}

func (r *StaticRouter) Resolve(identity string) Route {
	identity = strings.TrimSpace(identity)
	if route, ok := r.overrides[identity]; ok {
		return route
	}
	return Route{Model: identity}
}
