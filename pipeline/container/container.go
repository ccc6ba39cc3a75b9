// Package container provides the dependency-resolution registry and
// resolver for pipeline runs: factories, singletons, and named context
// variables, with a serializable state projection for checkpointing.
package container

import (
	"fmt"
	"sync"

	"github.com/steppipe/steppipe-go/pipeline/emit"
)

// Factory builds one dependency instance. Factories registered as plain
// dependencies run on every resolution; singleton factories run at most
// once per container lifetime.
type Factory func() (any, error)

// registration records one creation strategy for a key.
type registration struct {
	factory   Factory
	singleton bool
	built     bool
	instance  any
}

// Container is the dependency registry and resolver for one pipeline run.
//
// It holds three distinct stores:
//   - registrations: factories and singletons, keyed by tagged Key
//   - context variables: named values mutable at runtime
//   - config: the flat option mapping handed in at construction
//
// Resolution order for a key: registration first; for name keys with no
// registration, context variables, then config. Unresolvable keys fail
// with *ResolutionError.
//
// A Container is created once per run (or reconstructed from a
// checkpoint's state at resume) and discarded at process exit. It is
// mutably owned by its Runner; the mutex exists so emitters and tests
// observing a run concurrently see consistent state.
//
// Example:
//
//	c := container.New(map[string]any{"lr": 0.01})
//	c.RegisterSingleton(container.TypeKey[*Learner](), func() (any, error) {
//	    return NewLearner(), nil
//	})
//	learner, err := container.Resolve[*Learner](c, container.TypeKey[*Learner]())
type Container struct {
	mu      sync.RWMutex
	regs    map[Key]*registration
	order   []Key // registration order, for deterministic snapshots
	context map[string]any
	config  map[string]any
	emitter emit.Emitter
}

// Option configures a Container at construction.
type Option func(*Container)

// WithEmitter routes container warnings (e.g. skipped snapshot keys) to
// the given emitter. Defaults to a NullEmitter.
func WithEmitter(e emit.Emitter) Option {
	return func(c *Container) {
		if e != nil {
			c.emitter = e
		}
	}
}

// New creates a Container holding the given flat config mapping.
//
// The config mapping is the external-collaborator boundary: a flat map
// from option name to a typed scalar, produced by merging a config file
// with CLI-style overrides. The container never parses file formats.
// A nil config is treated as empty.
func New(config map[string]any, opts ...Option) *Container {
	c := &Container{
		regs:    make(map[Key]*registration),
		context: make(map[string]any),
		config:  cloneMap(config),
		emitter: emit.NewNullEmitter(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register records a plain factory for key: a fresh instance is built on
// every resolution. Any prior registration for key is overwritten.
func (c *Container) Register(key Key, factory Factory) {
	c.register(key, &registration{factory: factory})
}

// RegisterSingleton records a lazy singleton factory for key: the factory
// runs at most once, on first resolution, and the instance is cached.
// Any prior registration for key is overwritten.
func (c *Container) RegisterSingleton(key Key, factory Factory) {
	c.register(key, &registration{factory: factory, singleton: true})
}

// RegisterInstance registers key with an already-built instance;
// subsequent resolutions return this same instance. Shorthand for a
// singleton whose factory has already been triggered.
func (c *Container) RegisterInstance(key Key, instance any) {
	c.register(key, &registration{
		singleton: true,
		built:     true,
		instance:  instance,
	})
}

func (c *Container) register(key Key, reg *registration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.regs[key]; !exists {
		c.order = append(c.order, key)
	}
	c.regs[key] = reg
}

// Has reports whether key can be resolved: registered, or a name key
// present in context variables or config.
func (c *Container) Has(key Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.regs[key]; ok {
		return true
	}
	if key.IsName() {
		name := key.Bare()
		if _, ok := c.context[name]; ok {
			return true
		}
		if _, ok := c.config[name]; ok {
			return true
		}
	}
	return false
}

// Resolve returns the instance for key.
//
// Behavior by creation strategy:
//   - singleton not yet built: builds via its factory, caches, returns it
//   - singleton already built: returns the identical cached instance
//   - plain factory: builds and returns a fresh instance each call
//   - name key with no registration: context variable, then config option
//
// Unregistered keys fail with *ResolutionError naming the missing key,
// as does a factory that returns an error. Resolution is deterministic:
// repeated resolution of a singleton key is identity-preserving.
//
// Factories run without the container lock held, so a factory is free to
// resolve other keys from the same container to wire its dependencies.
func (c *Container) Resolve(key Key) (any, error) {
	c.mu.Lock()

	reg, ok := c.regs[key]
	if !ok {
		// Name keys fall through to context variables, then config.
		if key.IsName() {
			name := key.Bare()
			if v, ok := c.context[name]; ok {
				c.mu.Unlock()
				return v, nil
			}
			if v, ok := c.config[name]; ok {
				c.mu.Unlock()
				return v, nil
			}
		}
		c.mu.Unlock()
		return nil, &ResolutionError{Key: key}
	}

	if reg.singleton && reg.built {
		instance := reg.instance
		c.mu.Unlock()
		return instance, nil
	}

	factory := reg.factory
	singleton := reg.singleton
	c.mu.Unlock()

	instance, err := factory()
	if err != nil {
		return nil, &ResolutionError{Key: key, Cause: err}
	}
	if !singleton {
		return instance, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// A nested or concurrent resolution may have built and cached the
	// singleton while the factory ran; the cached instance wins so
	// resolution stays identity-preserving.
	if cur, ok := c.regs[key]; ok && cur.singleton {
		if cur.built {
			return cur.instance, nil
		}
		cur.instance = instance
		cur.built = true
	}
	return instance, nil
}

// Resolve is the typed counterpart of Container.Resolve. A value of the
// wrong dynamic type fails with *ResolutionError rather than panicking.
func Resolve[T any](c *Container, key Key) (T, error) {
	var zero T

	v, err := c.Resolve(key)
	if err != nil {
		return zero, err
	}

	t, ok := v.(T)
	if !ok {
		return zero, &ResolutionError{
			Key:   key,
			Cause: fmt.Errorf("resolved value has type %T, want %T", v, zero),
		}
	}
	return t, nil
}

// UpdateContext merges the given mapping into the context-variable store,
// overwriting existing names and leaving untouched ones intact.
func (c *Container) UpdateContext(vars map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, value := range vars {
		c.context[name] = value
	}
}

// ContextValue returns the context variable with the given name.
func (c *Container) ContextValue(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.context[name]
	return v, ok
}

// Context returns a copy of the context-variable store.
func (c *Container) Context() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return cloneMap(c.context)
}

// ConfigValue returns the config option with the given name.
func (c *Container) ConfigValue(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.config[name]
	return v, ok
}

// MergeConfig merges options into the config mapping, overwriting
// existing names and leaving untouched ones intact. Used by the runner
// to re-apply the current run's options over a restored snapshot's
// config.
func (c *Container) MergeConfig(options map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, value := range options {
		c.config[name] = value
	}
}

// Config returns a copy of the flat config mapping.
func (c *Container) Config() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return cloneMap(c.config)
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
