package source

import (
	"context"
	"fmt"
	"strings"
)

// Mux routes references to a Source by scheme prefix. References without a
// registered prefix go to the fallback.
type Mux struct {
	routes   []route
	fallback Source
}

type route struct {
	prefix string
	src    Source
}

// NewMux creates a Mux that sends unmatched references to fallback.
func NewMux(fallback Source) *Mux {
	return &Mux{fallback: fallback}
}

// Handle registers src for references starting with prefix. Earlier
// registrations win when prefixes overlap.
func (m *Mux) Handle(prefix string, src Source) {
	m.routes = append(m.routes, route{prefix: prefix, src: src})
}

// Fetch dispatches ref to the matching Source.
func (m *Mux) Fetch(ctx context.Context, ref string) ([]byte, error) {
	for _, r := range m.routes {
		if strings.HasPrefix(ref, r.prefix) {
			return r.src.Fetch(ctx, ref)
		}
	}
	if m.fallback == nil {
		return nil, fmt.Errorf("no source handles %q: %w", ref, ErrNotFound)
	}
	return m.fallback.Fetch(ctx, ref)
}
