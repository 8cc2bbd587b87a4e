package payment

import (
	"fmt"
	"sort"
	"strings"
)

// Registry resolves gateway names to configured clients.
type Registry struct {
	gateways map[string]Gateway
}

// NewRegistry registers the given gateways by their Name.
func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, g := range gateways {
		if g == nil {
			continue
		}
		r.gateways[strings.ToLower(g.Name())] = g
	}
	return r
}

// Get returns the gateway registered under name.
func (r *Registry) Get(name string) (Gateway, error) {
	g, ok := r.gateways[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGateway, name)
	}
	return g, nil
}

// Names lists the configured gateways in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for n := range r.gateways {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
