package app

import (
	"context"
	"sort"
	"sync"

	"github.com/artpar/bulwark/domain/apperr"
	"github.com/artpar/bulwark/domain/breaker"
	"github.com/artpar/bulwark/ports"
)

// Registry owns one breaker per dependency name. It is built once at
// startup and handed to whatever needs breakers.
type Registry struct {
	defaults breaker.Config
	clock    ports.Clock
	opts     []BreakerOption

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry. opts apply to every breaker it creates.
func NewRegistry(defaults breaker.Config, clock ports.Clock, opts ...BreakerOption) *Registry {
	return &Registry{
		defaults: defaults.WithDefaults(),
		clock:    clock,
		opts:     opts,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it on first use with cfg (or
// the registry defaults). A config passed for an existing name is ignored.
func (r *Registry) Get(name string, cfg ...breaker.Config) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	c := r.defaults
	if len(cfg) > 0 {
		c = cfg[0]
	}
	b = NewBreaker(name, c, r.clock, r.opts...)
	r.breakers[name] = b
	return b
}

// Lookup returns the breaker for name without creating one.
func (r *Registry) Lookup(name string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	return b, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.breakers))
	for n := range r.breakers {
		names = append(names, n)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (r *Registry) all() []*Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b)
	}
	return out
}

// States returns a snapshot of every breaker keyed by name.
func (r *Registry) States() map[string]Snapshot {
	out := make(map[string]Snapshot)
	for _, b := range r.all() {
		out[b.Name()] = b.State()
	}
	return out
}

// ResetAll forces every breaker closed.
func (r *Registry) ResetAll() {
	for _, b := range r.all() {
		b.Reset()
	}
}

// Reset closes the named breaker. It reports false for unknown names.
func (r *Registry) Reset(name string) bool {
	b, ok := r.Lookup(name)
	if !ok {
		return false
	}
	b.Reset()
	return true
}

// Guard runs op through b and turns raw failures into external-service
// errors for the dependency. Errors that are already application errors,
// including circuit-open rejections, pass through untouched.
func Guard(ctx context.Context, b *Breaker, op func(context.Context) error) error {
	err := b.Execute(ctx, op)
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.ExternalService(b.Name(), "", apperr.WithCause(err))
}

// GuardValue is the value-returning form of Guard.
func GuardValue[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := Guard(ctx, b, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
