// Package agent manages extraction agents: externally specified units that
// each compute one metadata property for a scene. An agent is registered as
// a capability {id, property, output schema} and invoked through a fixed
// interface; the core validates its output for schema conformance and
// stores it opaquely, never inspecting agent internals.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	sdxerrors "github.com/Aman-CERP/scenedex/internal/errors"
	"github.com/Aman-CERP/scenedex/internal/scene"
)

// Extractor computes one metadata property value for a scene. Implementations
// may call external reasoning services; retry and rate-limit policy lives on
// their side of the interface.
type Extractor interface {
	Extract(ctx context.Context, s *scene.Scene) (json.RawMessage, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, s *scene.Scene) (json.RawMessage, error)

func (f ExtractorFunc) Extract(ctx context.Context, s *scene.Scene) (json.RawMessage, error) {
	return f(ctx, s)
}

// Agent is a registered extraction capability.
type Agent struct {
	ID           string
	Property     string // The metadata property this agent owns
	Description  string
	OutputSchema *jsonschema.Schema
	Extractor    Extractor

	resolved *jsonschema.Resolved
}

// Registry holds registered agents, keyed by the property each one owns.
// Registration validates the output schema; invocation validates outputs
// against it before anything is persisted.
type Registry struct {
	mu         sync.RWMutex
	byProperty map[string]*Agent
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{byProperty: make(map[string]*Agent)}
}

// Register adds an agent. The output schema must resolve, and no other agent
// may already own the same property.
func (r *Registry) Register(a *Agent) error {
	if a.ID == "" || a.Property == "" {
		return sdxerrors.ValidationError("agent requires id and property", nil)
	}
	if a.Extractor == nil {
		return sdxerrors.ValidationError(
			fmt.Sprintf("agent %s has no extractor", a.ID), nil)
	}
	if a.OutputSchema == nil {
		return sdxerrors.New(sdxerrors.ErrCodeSchemaInvalid,
			fmt.Sprintf("agent %s has no output schema", a.ID), nil)
	}

	resolved, err := a.OutputSchema.Resolve(nil)
	if err != nil {
		return sdxerrors.New(sdxerrors.ErrCodeSchemaInvalid,
			fmt.Sprintf("agent %s output schema does not resolve", a.ID), err)
	}
	a.resolved = resolved

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byProperty[a.Property]; ok {
		return sdxerrors.ValidationError(
			fmt.Sprintf("property %q already owned by agent %s", a.Property, existing.ID), nil)
	}
	r.byProperty[a.Property] = a
	return nil
}

// Agents returns all registered agents sorted by property name, so
// extraction order is deterministic.
func (r *Registry) Agents() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]*Agent, 0, len(r.byProperty))
	for _, a := range r.byProperty {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Property < agents[j].Property })
	return agents
}

// Lookup returns the agent owning a property.
func (r *Registry) Lookup(property string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byProperty[property]
	return a, ok
}

// Extract invokes one agent for a scene and validates the output against the
// agent's schema. Invalid output is rejected here, before persistence.
func (r *Registry) Extract(ctx context.Context, a *Agent, s *scene.Scene) (json.RawMessage, error) {
	value, err := a.Extractor.Extract(ctx, s)
	if err != nil {
		return nil, sdxerrors.New(sdxerrors.ErrCodeAgentFailed,
			fmt.Sprintf("agent %s failed", a.ID), err).
			WithDetail("content_hash", s.ContentHash)
	}

	var instance any
	if err := json.Unmarshal(value, &instance); err != nil {
		return nil, sdxerrors.New(sdxerrors.ErrCodeSchemaInvalid,
			fmt.Sprintf("agent %s produced malformed JSON", a.ID), err)
	}
	if err := a.resolved.Validate(instance); err != nil {
		return nil, sdxerrors.New(sdxerrors.ErrCodeSchemaInvalid,
			fmt.Sprintf("agent %s output violates its schema", a.ID), err).
			WithDetail("property", a.Property)
	}
	return value, nil
}

// ExtractAll runs every registered agent against a scene and returns the
// property map. One agent failing does not stop the others; failures come
// back in the error map by property.
func (r *Registry) ExtractAll(ctx context.Context, s *scene.Scene) (map[string]json.RawMessage, map[string]error) {
	properties := make(map[string]json.RawMessage)
	failures := make(map[string]error)

	for _, a := range r.Agents() {
		if err := ctx.Err(); err != nil {
			failures[a.Property] = err
			continue
		}
		value, err := r.Extract(ctx, a, s)
		if err != nil {
			failures[a.Property] = err
			continue
		}
		properties[a.Property] = value
	}
	return properties, failures
}
