package container

import (
	"reflect"
	"strings"
)

// Key identifies a dependency in the container.
//
// A key is tagged with one of two meanings:
//   - a type tag, produced by TypeKey[T](), for object dependencies
//   - a plain name, produced by Name(), for scalar run configuration
//
// Callers must not mix the two meanings for the same logical dependency
// within one container. Keys are plain strings so they serialize cleanly
// into container state and checkpoint files.
type Key string

const (
	typePrefix = "type:"
	namePrefix = "name:"
)

// Name returns a name-tagged key for scalar or named dependencies.
//
// Name keys participate in fallthrough resolution: if no registration
// exists for the key, the container consults context variables and then
// the config mapping under the bare name.
func Name(name string) Key {
	return Key(namePrefix + name)
}

// TypeKey returns a type-tagged key for T.
//
// The tag is derived from the type's package-qualified name, so two
// registrations of the same Go type collide (re-registration overwrites)
// while distinct types never do.
//
// Example:
//
//	key := container.TypeKey[*Learner]()
//	c.RegisterSingleton(key, func() (any, error) { return NewLearner(), nil })
func TypeKey[T any]() Key {
	t := reflect.TypeOf((*T)(nil)).Elem()
	return Key(typePrefix + t.String())
}

// IsName reports whether the key carries the plain-name tag.
func (k Key) IsName() bool {
	return strings.HasPrefix(string(k), namePrefix)
}

// IsType reports whether the key carries the type tag.
func (k Key) IsType() bool {
	return strings.HasPrefix(string(k), typePrefix)
}

// Bare returns the key without its tag prefix, for display and for
// context/config lookups on name keys.
func (k Key) Bare() string {
	s := string(k)
	if strings.HasPrefix(s, namePrefix) {
		return s[len(namePrefix):]
	}
	if strings.HasPrefix(s, typePrefix) {
		return s[len(typePrefix):]
	}
	return s
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return string(k)
}
