package platforms

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samvad-hq/samvad-notifier/pkg/httpclient"
)

const (
	TypeRSS     = "rss"
	TypeHTML    = "html"
	TypeSitemap = "sitemap"
)

// Registry resolves adapters by platform id, keeping the order they were registered in.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	order    []string
}

// NewRegistry builds a registry over already constructed adapters.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	reg := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		if err := reg.register(a); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// BuildRegistry constructs one adapter per platform entry using the builder of its type.
func BuildRegistry(cfgs []Platform, builders map[string]Builder, client HTTPClient) (*Registry, error) {
	if client == nil {
		client = DefaultHTTPClient()
	}
	if builders == nil {
		builders = DefaultBuilders()
	}

	adapters := make([]Adapter, 0, len(cfgs))
	for _, cfg := range cfgs {
		build, ok := builders[strings.ToLower(strings.TrimSpace(cfg.Type))]
		if !ok {
			return nil, fmt.Errorf("no adapter registered for platform %q (type %q)", cfg.ID, cfg.Type)
		}
		a, err := build(cfg, client)
		if err != nil {
			return nil, fmt.Errorf("build platform %q: %w", cfg.ID, err)
		}
		adapters = append(adapters, a)
	}
	return NewRegistry(adapters...)
}

func (r *Registry) register(a Adapter) error {
	if a == nil {
		return fmt.Errorf("nil adapter")
	}
	key := strings.ToLower(strings.TrimSpace(a.Meta().ID))
	if key == "" {
		return fmt.Errorf("adapter with empty platform id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[key]; exists {
		return fmt.Errorf("duplicate platform id %q", key)
	}
	r.adapters[key] = a
	r.order = append(r.order, key)
	return nil
}

// Get returns the adapter for a platform id.
func (r *Registry) Get(id string) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(id))]
	return a, ok
}

// All returns adapters in registration order.
func (r *Registry) All() []Adapter {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.adapters[id])
	}
	return out
}

// DefaultHTTPClient returns a tuned client for platform adapters.
func DefaultHTTPClient() HTTPClient { return httpclient.NewRestyClient(15 * time.Second) }

// DefaultBuilders wires up the generic adapter types.
func DefaultBuilders() map[string]Builder {
	return map[string]Builder{
		TypeRSS:     NewRSSAdapter,
		TypeHTML:    NewHTMLAdapter,
		TypeSitemap: NewSitemapAdapter,
	}
}
