// Package pipeline implements the pipeline graph model (spec C3): the
// PipelineDoc wire format, its JSON parser, and the static validator that
// turns a parsed document plus a node registry into a Graph ready for
// internal/plan to bind to one job's inputs. Grounded on the teacher's
// internal/visual-dag-builder (Node/Edge/WorkflowDefinition shape and
// ValidateDAG/TopologicalSort), generalized from workflow orchestration to
// typed dataflow.
package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/copperd/copper/internal/pipedata"
)

// EdgeKind discriminates the two edge kinds: Data edges carry typed values,
// After edges only impose ordering.
type EdgeKind string

const (
	EdgeData  EdgeKind = "Data"
	EdgeAfter EdgeKind = "After"
)

// InputNodeType is the reserved node type name for job-input receptacle
// nodes. A node of this type declares no input ports and one output port,
// "value", whose stub is stub-of(param "stub") — the same StubFromParam
// mechanism Constant's "value" output uses. internal/plan substitutes the
// job-submitted PipeData for this node's output rather than invoking its
// dispatch factory; see DESIGN.md for the rationale (spec §3 invariant 7 and
// §9's open questions are silent on the wire representation of "input
// nodes", so this is a deliberate, documented design choice).
const InputNodeType = "Input"

// Position is opaque to the core; it is round-tripped for editor tooling.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one pipeline node as parsed from the wire. ID is populated from
// the enclosing "nodes" object's key, not from the node's own JSON object.
type Node struct {
	ID       string
	TypeName string
	Params   map[string]pipedata.ParamValue
	Position Position
}

// PortRef names one port of one node.
type PortRef struct {
	Node string `json:"node"`
	Port string `json:"port"`
}

func (r PortRef) String() string { return r.Node + "." + r.Port }

// Edge is one connection between two ports.
type Edge struct {
	Source PortRef
	Target PortRef
	Kind   EdgeKind
}

// Pipeline is the parsed PipelineDoc: the set of nodes and the edges between
// them, exactly as described in spec §3/§6.
type Pipeline struct {
	Nodes map[string]Node
	Edges []Edge
}

// --- JSON ---

type nodeWire struct {
	Node     string                          `json:"node"`
	Params   map[string]pipedata.ParamValue   `json:"params"`
	Position Position                        `json:"position"`
}

type edgeWire struct {
	Source PortRef  `json:"source"`
	Target PortRef  `json:"target"`
	Kind   EdgeKind `json:"kind"`
}

func checkObjectFields(data []byte, allowed ...string) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	ok := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		ok[a] = true
	}
	for k := range m {
		if !ok[k] {
			return fmt.Errorf("pipeline: unknown field %q", k)
		}
	}
	return nil
}

func (n *Node) UnmarshalJSON(data []byte) error {
	if err := checkObjectFields(data, "node", "params", "position"); err != nil {
		return err
	}
	var w nodeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if strings.TrimSpace(w.Node) == "" {
		return fmt.Errorf("pipeline: node %q has empty type", w.Node)
	}
	n.TypeName = w.Node
	n.Params = w.Params
	n.Position = w.Position
	return nil
}

func (n Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(nodeWire{Node: n.TypeName, Params: n.Params, Position: n.Position})
}

func (e *Edge) UnmarshalJSON(data []byte) error {
	if err := checkObjectFields(data, "source", "target", "kind"); err != nil {
		return err
	}
	var w edgeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case EdgeData, EdgeAfter:
	default:
		return fmt.Errorf("pipeline: unknown edge kind %q", w.Kind)
	}
	e.Source = w.Source
	e.Target = w.Target
	e.Kind = w.Kind
	return nil
}

func (e Edge) MarshalJSON() ([]byte, error) {
	return json.Marshal(edgeWire{Source: e.Source, Target: e.Target, Kind: e.Kind})
}

func (r *PortRef) UnmarshalJSON(data []byte) error {
	if err := checkObjectFields(data, "node", "port"); err != nil {
		return err
	}
	type alias PortRef
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if strings.TrimSpace(a.Node) == "" || strings.TrimSpace(a.Port) == "" {
		return fmt.Errorf("pipeline: port reference with empty node or port name")
	}
	*r = PortRef(a)
	return nil
}

type pipelineWire struct {
	Nodes map[string]Node `json:"nodes"`
	Edges []Edge          `json:"edges"`
}

// ParsePipeline parses a PipelineDoc from its JSON wire form.
func ParsePipeline(data []byte) (*Pipeline, error) {
	if err := checkObjectFields(data, "nodes", "edges"); err != nil {
		return nil, err
	}
	var w pipelineWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	p := &Pipeline{Nodes: make(map[string]Node, len(w.Nodes)), Edges: w.Edges}
	for id, n := range w.Nodes {
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("pipeline: empty node id")
		}
		n.ID = id
		p.Nodes[id] = n
	}
	if p.Edges == nil {
		p.Edges = []Edge{}
	}
	return p, nil
}

// MarshalJSON serialises the pipeline back to its canonical wire form.
func (p Pipeline) MarshalJSON() ([]byte, error) {
	w := pipelineWire{Nodes: make(map[string]Node, len(p.Nodes)), Edges: p.Edges}
	for id, n := range p.Nodes {
		w.Nodes[id] = n
	}
	if w.Edges == nil {
		w.Edges = []Edge{}
	}
	return json.Marshal(w)
}
