package gateway

import (
	"fmt"
	"strings"
	"sync"

	"immoledger/server/internal/errs"
)

// Registry holds the configured adapters and picks one per checkout.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
	// routes maps a payment method to the adapter kind that serves it.
	routes      map[string]Kind
	defaultKind Kind
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{
		gateways:    make(map[string]Gateway),
		routes:      map[string]Kind{"card": KindRedirect},
		defaultKind: KindPush,
	}
	for _, g := range gateways {
		r.Register(g)
	}
	return r
}

// Register adds or replaces an adapter under its name.
func (r *Registry) Register(g Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[strings.ToLower(g.Name())] = g
}

// Route sends method to adapters of kind.
func (r *Registry) Route(method string, kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[strings.ToLower(method)] = kind
}

// Get returns the adapter registered as name.
func (r *Registry) Get(name string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("gateway %q: %w", name, errs.ErrNotFound)
	}
	return g, nil
}

// Names lists registered adapter names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	return names
}

// Resolve selects the adapter for a payment and its provider code. An
// explicit provider wins; otherwise the method's route picks the kind.
func (r *Registry) Resolve(provider, method, country string) (Gateway, string, error) {
	var g Gateway
	if provider != "" {
		found, err := r.Get(provider)
		if err != nil {
			return nil, "", errs.Invalid("provider", "unknown provider "+provider)
		}
		g = found
	} else {
		g = r.byKind(r.kindFor(method))
		if g == nil {
			return nil, "", &errs.UnsupportedCorridorError{Country: strings.ToUpper(country), Method: strings.ToLower(method)}
		}
	}

	code, err := g.ResolveProviderCode(country, method)
	if err != nil {
		return nil, "", err
	}
	return g, code, nil
}

func (r *Registry) kindFor(method string) Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if k, ok := r.routes[strings.ToLower(strings.TrimSpace(method))]; ok {
		return k
	}
	return r.defaultKind
}

func (r *Registry) byKind(kind Kind) Gateway {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var picked Gateway
	for _, g := range r.gateways {
		if g.Kind() != kind {
			continue
		}
		// lowest name wins so the choice is stable across map iteration
		if picked == nil || g.Name() < picked.Name() {
			picked = g
		}
	}
	return picked
}
