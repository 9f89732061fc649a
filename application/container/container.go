// Package container is a registry of shared services keyed by type and name.
// Services are registered at startup, then the container is frozen and read
// concurrently by request handlers.
package container

import (
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// DefaultName is the name used by [RegisterDefault] and [ResolveDefault].
const DefaultName = "default"

var (
	ErrNotFound  = errors.New("service not found")
	ErrDuplicate = errors.New("service already registered")
	ErrFrozen    = errors.New("container is frozen")
)

type services struct {
	names     []string // registration order
	instances map[string]any
}

type Container struct {
	byType map[reflect.Type]*services
	frozen atomic.Bool

	mu sync.RWMutex
}

func New() *Container {
	return &Container{byType: make(map[reflect.Type]*services)}
}

// Freeze makes c read-only. Reads don't lock afterwards.
func (c *Container) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen.Store(true)
}

func (c *Container) Frozen() bool { return c.frozen.Load() }

func (c *Container) read(f func()) {
	if c.frozen.Load() {
		f()
		return
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	f()
}

// Register adds instance as the service of type T called name.
func Register[T any](c *Container, name string, instance T) error {
	typ := reflect.TypeFor[T]()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen.Load() {
		return errors.Wrapf(ErrFrozen, "registering %s %q", typ, name)
	}

	s, ok := c.byType[typ]
	if !ok {
		s = &services{instances: make(map[string]any)}
		c.byType[typ] = s
	}

	if _, ok := s.instances[name]; ok {
		return errors.Wrapf(ErrDuplicate, "%s %q", typ, name)
	}

	s.names = append(s.names, name)
	s.instances[name] = instance
	return nil
}

func RegisterDefault[T any](c *Container, instance T) error {
	return Register(c, DefaultName, instance)
}

// Resolve returns the service of type T called name.
func Resolve[T any](c *Container, name string) (T, error) {
	typ := reflect.TypeFor[T]()

	var (
		instance any
		found    bool
	)
	c.read(func() {
		if s, ok := c.byType[typ]; ok {
			instance, found = s.instances[name]
		}
	})

	if !found {
		var zero T
		return zero, errors.Wrapf(ErrNotFound, "%s %q", typ, name)
	}
	return instance.(T), nil
}

// ResolveDefault returns the service of type T called [DefaultName],
// or the first one registered when there is none by that name.
func ResolveDefault[T any](c *Container) (T, error) {
	typ := reflect.TypeFor[T]()

	var (
		instance any
		found    bool
	)
	c.read(func() {
		s, ok := c.byType[typ]
		if !ok {
			return
		}
		if instance, found = s.instances[DefaultName]; found {
			return
		}
		if len(s.names) > 0 {
			instance, found = s.instances[s.names[0]], true
		}
	})

	if !found {
		var zero T
		return zero, errors.Wrapf(ErrNotFound, "%s", typ)
	}
	return instance.(T), nil
}

// ResolveAll returns every service of type T in registration order.
func ResolveAll[T any](c *Container) []T {
	typ := reflect.TypeFor[T]()

	var all []T
	c.read(func() {
		s, ok := c.byType[typ]
		if !ok {
			return
		}
		all = make([]T, 0, len(s.names))
		for _, name := range s.names {
			all = append(all, s.instances[name].(T))
		}
	})
	return all
}

// Names returns the names registered for type T in registration order.
func Names[T any](c *Container) []string {
	var names []string
	c.read(func() {
		if s, ok := c.byType[reflect.TypeFor[T]()]; ok {
			names = slices.Clone(s.names)
		}
	})
	return names
}
