package source

import "fmt"

// Registry maps platforms to their collectors.
type Registry struct {
	collectors map[Platform]Collector
}

// NewRegistry creates a registry holding the given collectors.
func NewRegistry(collectors ...Collector) *Registry {
	r := &Registry{collectors: make(map[Platform]Collector)}
	for _, c := range collectors {
		r.Register(c)
	}
	return r
}

// Register adds or replaces the collector for its platform.
func (r *Registry) Register(c Collector) {
	r.collectors[c.Platform()] = c
}

// Get returns the collector for p.
func (r *Registry) Get(p Platform) (Collector, error) {
	c, ok := r.collectors[p]
	if !ok {
		return nil, fmt.Errorf("no collector configured for platform %s", p)
	}
	return c, nil
}

// Platforms lists the registered platforms in AllPlatforms order.
func (r *Registry) Platforms() []Platform {
	var out []Platform
	for _, p := range AllPlatforms() {
		if _, ok := r.collectors[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
