package dispatch

import (
	"fmt"
	"sync"

	"github.com/copperd/copper/internal/pipedata"
)

// PortSpec declares one input or output port. A port's stub is either fixed
// (Stub), derived from one of the node's own parameters (StubFromParam —
// Constant's "value" output is stub-of(param "value")), or inferred from
// whatever edge touches it (TypeVar — IfNone's data/ifnone/out all share type
// variable "T", resolved by the pipeline builder from the connected edges,
// not declared here).
type PortSpec struct {
	Name          string
	Stub          pipedata.PipeDataStub
	StubFromParam string
	TypeVar       string
	Required      bool // inputs only; ignored for outputs
	// Default, if set, is used when an optional input port receives no
	// incoming edge (spec invariant 5). None of the built-in catalogue's
	// ports use this, but the contract supports it.
	Default *pipedata.PipeData
}

// ParamSpec declares one node parameter.
type ParamSpec struct {
	Kind     pipedata.ParamKind
	Required bool
	// Allowed, if non-empty, restricts a ParamString value to this set
	// (e.g. Hash's "algorithm", AddItem's "on_unique_violation").
	Allowed []string
}

// Schema is the declared input/output ports and parameter set of one node
// type, returned by Describe and used by BuildNode to validate params.
type Schema struct {
	Params  map[string]ParamSpec
	Inputs  []PortSpec
	Outputs []PortSpec
}

// Factory constructs a Node instance bound to one job's RunContext from a
// validated parameter map. Params have already passed schema validation by
// the time a Factory is called.
type Factory func(rc *RunContext, this ThisNodeInfo, params map[string]pipedata.ParamValue) (Node, error)

type registration struct {
	schema  Schema
	factory Factory
}

// Registry maps node type names to factories and schemas. Registration
// happens once at process startup; after the first BuildNode call the
// registry is frozen and further Register calls fail.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]registration
	frozen bool
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]registration)}
}

// Register adds a node type. It fails with ErrAlreadyRegistered if the name
// is taken, or ErrRegistryFrozen once BuildNode has been called once.
func (r *Registry) Register(name string, schema Schema, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("dispatch: register %q: %w", name, ErrRegistryFrozen)
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("dispatch: register %q: %w", name, ErrAlreadyRegistered)
	}
	r.byName[name] = registration{schema: schema, factory: factory}
	return nil
}

// Describe returns the declared schema of a registered node type.
func (r *Registry) Describe(name string) (Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byName[name]
	if !ok {
		return Schema{}, fmt.Errorf("dispatch: describe %q: %w", name, ErrUnknownNode)
	}
	return reg.schema, nil
}

// Has reports whether name is a registered node type, without freezing the
// registry (used by the pipeline validator's endpoint-existence check, which
// must run before any job owns a build).
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

// ValidateParams checks params against name's declared schema: rejects
// unknown keys, missing required keys, kind mismatches, and values outside
// an enum's Allowed set. It does not build a Node.
func (r *Registry) ValidateParams(name string, params map[string]pipedata.ParamValue) error {
	r.mu.RLock()
	schema, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("dispatch: validate params %q: %w", name, ErrUnknownNode)
	}
	return validateParams(schema.schema, params)
}

func validateParams(schema Schema, params map[string]pipedata.ParamValue) error {
	for key := range params {
		if _, declared := schema.Params[key]; !declared {
			return fmt.Errorf("%w: %q", ErrUnknownParam, key)
		}
	}
	for key, spec := range schema.Params {
		v, present := params[key]
		if !present {
			if spec.Required {
				return fmt.Errorf("%w: %q", ErrMissingParam, key)
			}
			continue
		}
		if v.Kind != spec.Kind {
			return fmt.Errorf("%w: %q wants %s, got %s", ErrParamKindMismatch, key, spec.Kind, v.Kind)
		}
		if len(spec.Allowed) > 0 {
			ok := false
			for _, a := range spec.Allowed {
				if a == v.String {
					ok = true
					break
				}
			}
			if !ok {
				return fmt.Errorf("%w: %q value %q not in %v", ErrParamValueNotAllowed, key, v.String, spec.Allowed)
			}
		}
	}
	return nil
}

// BuildNode resolves name, validates params against its declared schema, and
// returns a Node bound to rc and this. It returns ErrUnknownNode if name is
// not registered. Calling BuildNode freezes the registry against further
// Register calls.
func (r *Registry) BuildNode(name string, this ThisNodeInfo, params map[string]pipedata.ParamValue, rc *RunContext) (Node, error) {
	r.mu.Lock()
	reg, ok := r.byName[name]
	r.frozen = true
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("dispatch: build %q: %w", name, ErrUnknownNode)
	}
	if err := validateParams(reg.schema, params); err != nil {
		return nil, fmt.Errorf("dispatch: build %q: %w", name, err)
	}
	node, err := reg.factory(rc, this, params)
	if err != nil {
		return nil, fmt.Errorf("dispatch: build %q: %w", name, err)
	}
	return node, nil
}
