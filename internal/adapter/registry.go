package adapter

import (
	"fmt"
	"strings"
)

// Registry resolves adapters by id or by page URL. It is built once at
// startup and shared by reference; it is read-only after construction.
type Registry struct {
	ordered []Adapter
	byID    map[string]Adapter
	generic Adapter
}

// NewRegistry builds a registry. Adapters are matched in the given order.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{
		byID:    make(map[string]Adapter, len(adapters)+1),
		generic: Generic(),
	}
	for i, a := range adapters {
		id := normalizeID(a.ID())
		if id == "" {
			return nil, fmt.Errorf("adapter registry: adapter[%d] missing id", i)
		}
		if id == GenericID {
			return nil, fmt.Errorf("adapter registry: id %q is reserved", id)
		}
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("adapter registry: duplicate id %q", id)
		}
		if len(a.Selectors()) == 0 {
			return nil, fmt.Errorf("adapter registry: adapter %q has no selectors", id)
		}
		r.byID[id] = a
		r.ordered = append(r.ordered, a)
	}
	r.byID[GenericID] = r.generic
	return r, nil
}

// NewDefaultRegistry returns a registry holding the bundled adapters.
func NewDefaultRegistry() *Registry {
	r, err := NewRegistry(Builtins()...)
	if err != nil {
		panic(err)
	}
	return r
}

// ResolveByURL returns the first adapter whose hosts match rawURL, or the
// generic adapter.
func (r *Registry) ResolveByURL(rawURL string) Adapter {
	for _, a := range r.ordered {
		if a.Matches(rawURL) {
			return a
		}
	}
	return r.generic
}

// ResolveByID looks up an adapter by id.
func (r *Registry) ResolveByID(id string) (Adapter, bool) {
	a, ok := r.byID[normalizeID(id)]
	return a, ok
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func (r *Registry) Generic() Adapter { return r.generic }

// List describes every registered adapter, generic last.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.ordered)+1)
	for _, a := range r.ordered {
		out = append(out, describe(a))
	}
	return append(out, describe(r.generic))
}
