package ticket

import (
	"sync"
	"time"
)

// Registry hands out one controller per rate limited resource, usually an exchange,
// so that all of its callers are paced jointly.
type Registry struct {
	mu          sync.Mutex
	controllers map[string]*Controller
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{controllers: make(map[string]*Controller)}
}

// Get returns the controller for name, creating it with interval on first use.
// Later calls keep the interval of the first one.
func (r *Registry) Get(name string, interval time.Duration) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[name]
	if !ok {
		c = New(interval)
		r.controllers[name] = c
	}
	return c
}

// Close closes every controller handed out so far.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, c := range r.controllers {
		c.Close()
		delete(r.controllers, name)
	}
}
