package container

import (
	"encoding/json"
	"fmt"

	"github.com/steppipe/steppipe-go/pipeline/emit"
)

// Stateful is the explicit serializable-state contract for singletons
// that must survive a checkpoint.
//
// Components expose their own state extraction and restoration returning
// plain, versionable structures, instead of opaque whole-object
// serialization. Singletons that do not implement Stateful are snapshot
// via plain JSON marshaling of the instance.
type Stateful interface {
	// StateDict returns the component's serializable state.
	StateDict() (map[string]any, error)

	// LoadStateDict restores the component from a previously produced
	// state dict.
	LoadStateDict(state map[string]any) error
}

// State is the serializable projection of a Container: every built
// singleton's state plus all context variables and the config mapping.
//
// Factories are NOT captured; they are code, not data. A container
// restored from State must be re-wired with the same factory
// registrations before unresolved keys are used.
type State struct {
	// Singletons maps singleton keys to their serialized state, in JSON.
	// For Stateful instances this is the marshaled state dict; for plain
	// instances it is the marshaled value itself. Keys whose factory has
	// never been triggered are absent (they carry no built state).
	Singletons map[Key]json.RawMessage `json:"singletons"`

	// Context holds all context variables at snapshot time.
	Context map[string]any `json:"context"`

	// Config holds the flat option mapping the run was configured with,
	// so a resumed run sees the original run's options.
	Config map[string]any `json:"config"`
}

// StateDict returns a snapshot of all built singleton instances and all
// context variables.
//
// Keys whose factory has never been triggered are not included. A built
// singleton that cannot be serialized is a caller error: the snapshot
// fails with *SerializationError rather than silently dropping data.
func (c *Container) StateDict() (*State, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state := &State{
		Singletons: make(map[Key]json.RawMessage),
		Context:    cloneMap(c.context),
		Config:     cloneMap(c.config),
	}

	// Iterate in registration order so snapshots are deterministic.
	for _, key := range c.order {
		reg := c.regs[key]
		if !reg.singleton || !reg.built {
			continue
		}

		raw, err := marshalSingleton(reg.instance)
		if err != nil {
			return nil, &SerializationError{Key: key, Cause: err}
		}
		state.Singletons[key] = raw
	}

	return state, nil
}

// LoadState installs a previously produced State into a container already
// wired with the same factory registrations.
//
// Each singleton snapshot is installed without re-running domain logic:
// Stateful instances receive LoadStateDict, plain instances are
// unmarshaled in place. The context-variable store is replaced with the
// snapshot's, as is the config mapping when the snapshot carries one.
//
// Keys present in the snapshot but no longer registered are skipped with
// a warning event, not an error, so pipelines that later drop a
// dependency can still load old checkpoints.
func (c *Container) LoadState(state *State) error {
	if state == nil {
		return fmt.Errorf("container state is nil")
	}

	c.mu.RLock()
	order := make([]Key, len(c.order))
	copy(order, c.order)
	c.mu.RUnlock()

	// Install singletons in registration order for determinism; snapshot
	// keys with no current registration are reported afterwards.
	seen := make(map[Key]bool, len(state.Singletons))
	for _, key := range order {
		raw, ok := state.Singletons[key]
		if !ok {
			continue
		}
		seen[key] = true

		c.mu.RLock()
		reg, registered := c.regs[key]
		singleton := registered && reg.singleton
		c.mu.RUnlock()

		if !singleton {
			c.warnSkippedKey(key, "registered as plain factory")
			continue
		}

		// Resolve builds the singleton if its factory has not run yet,
		// with the factory free to resolve other keys while it wires
		// itself.
		instance, err := c.Resolve(key)
		if err != nil {
			return err
		}

		if err := unmarshalSingleton(instance, raw); err != nil {
			return &SerializationError{Key: key, Cause: err}
		}
	}

	for key := range state.Singletons {
		if !seen[key] {
			c.warnSkippedKey(key, "no longer registered")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Context is replaced wholesale, not merged.
	c.context = cloneMap(state.Context)
	if state.Config != nil {
		c.config = cloneMap(state.Config)
	}

	return nil
}

// marshalSingleton serializes one built singleton, preferring the
// Stateful contract over whole-value marshaling.
func marshalSingleton(instance any) (json.RawMessage, error) {
	if s, ok := instance.(Stateful); ok {
		dict, err := s.StateDict()
		if err != nil {
			return nil, err
		}
		return json.Marshal(dict)
	}
	return json.Marshal(instance)
}

// unmarshalSingleton installs serialized state into one built singleton.
func unmarshalSingleton(instance any, raw json.RawMessage) error {
	if s, ok := instance.(Stateful); ok {
		var dict map[string]any
		if err := json.Unmarshal(raw, &dict); err != nil {
			return err
		}
		return s.LoadStateDict(dict)
	}
	// Plain instances must be pointers for in-place restoration;
	// json.Unmarshal reports non-pointer targets as errors.
	return json.Unmarshal(raw, instance)
}

func (c *Container) warnSkippedKey(key Key, reason string) {
	c.emitter.Emit(emit.Event{
		Msg: "container_state_key_skipped",
		Meta: map[string]interface{}{
			"key":    key.String(),
			"reason": reason,
		},
	})
}
