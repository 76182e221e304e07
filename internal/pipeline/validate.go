package pipeline

import (
	"fmt"

	"github.com/copperd/copper/internal/dispatch"
	"github.com/copperd/copper/internal/pipedata"
)

// Graph is a validated Pipeline: every invariant in spec §3 holds except
// invariant 7 (job inputs), which internal/plan checks once job inputs are
// known. Graph is immutable and safe to reuse across many job builds of the
// same PipelineDoc — building it does no I/O (spec §4.2: "the builder is
// pure").
type Graph struct {
	Doc *Pipeline

	// TopoOrder lists node ids in an order consistent with both Data and
	// After edges.
	TopoOrder []string

	// OutputStubs[nodeID][port] is the resolved stub of a declared output
	// port, after StubFromParam/TypeVar resolution.
	OutputStubs map[string]map[string]pipedata.PipeDataStub

	// IncomingData[nodeID][port] is the Data edge supplying that input port,
	// if any.
	IncomingData map[string]map[string]Edge

	// AfterDeps[nodeID] lists the node ids that must complete before
	// nodeID's first suspension-point advance (spec §5).
	AfterDeps map[string][]string

	schemas map[string]dispatch.Schema
}

// Validate runs the seven-step validation pipeline from spec §4.2 against
// doc, using registry to resolve node types. It performs no I/O.
//
// Steps 3 (type mismatch) and 5 (missing input) are both folded into one
// topo-ordered resolution pass after cycle detection, since resolving a
// TypeVar port's concrete stub requires knowing its predecessors' resolved
// output stubs, which in turn requires an acyclic order — this reorders but
// does not change the set of invariants enforced.
func Validate(doc *Pipeline, registry *dispatch.Registry) (*Graph, error) {
	schemas := make(map[string]dispatch.Schema, len(doc.Nodes))
	for id, n := range doc.Nodes {
		if !registry.Has(n.TypeName) {
			return nil, newBuildError(UnknownNode, id, "", n.TypeName)
		}
		schema, err := registry.Describe(n.TypeName)
		if err != nil {
			return nil, newBuildError(UnknownNode, id, "", err.Error())
		}
		schemas[id] = schema
	}

	nodeIDs := make([]string, 0, len(doc.Nodes))
	for id := range doc.Nodes {
		nodeIDs = append(nodeIDs, id)
	}

	portExists := func(nodeID, port string, isOutput bool) bool {
		schema := schemas[nodeID]
		specs := schema.Inputs
		if isOutput {
			specs = schema.Outputs
		}
		for _, s := range specs {
			if s.Name == port {
				return true
			}
		}
		return false
	}

	incomingData := make(map[string]map[string]Edge, len(doc.Nodes))
	afterDeps := make(map[string][]string, len(doc.Nodes))
	dataAdj := make(map[string][]string, len(doc.Nodes))
	combinedAdj := make(map[string][]string, len(doc.Nodes))

	for _, e := range doc.Edges {
		if _, ok := doc.Nodes[e.Source.Node]; !ok {
			return nil, &BuildError{Kind: MissingEndpoint, Source: e.Source, Target: e.Target}
		}
		if _, ok := doc.Nodes[e.Target.Node]; !ok {
			return nil, &BuildError{Kind: MissingEndpoint, Source: e.Source, Target: e.Target}
		}
		if !portExists(e.Source.Node, e.Source.Port, true) {
			return nil, &BuildError{Kind: MissingEndpoint, Source: e.Source, Target: e.Target,
				Message: fmt.Sprintf("node %q has no output port %q", e.Source.Node, e.Source.Port)}
		}
		if !portExists(e.Target.Node, e.Target.Port, false) {
			return nil, &BuildError{Kind: MissingEndpoint, Source: e.Source, Target: e.Target,
				Message: fmt.Sprintf("node %q has no input port %q", e.Target.Node, e.Target.Port)}
		}

		combinedAdj[e.Source.Node] = append(combinedAdj[e.Source.Node], e.Target.Node)

		switch e.Kind {
		case EdgeData:
			dataAdj[e.Source.Node] = append(dataAdj[e.Source.Node], e.Target.Node)
			if incomingData[e.Target.Node] == nil {
				incomingData[e.Target.Node] = make(map[string]Edge)
			}
			if _, dup := incomingData[e.Target.Node][e.Target.Port]; dup {
				return nil, &BuildError{Kind: DuplicateIncoming, Node: e.Target.Node, Port: e.Target.Port}
			}
			incomingData[e.Target.Node][e.Target.Port] = e
		case EdgeAfter:
			afterDeps[e.Target.Node] = append(afterDeps[e.Target.Node], e.Source.Node)
		}
	}

	if cyc := detectDataCycle(nodeIDs, dataAdj); cyc != "" {
		return nil, &BuildError{Kind: HasCycle, Node: cyc}
	}

	order, complete := kahnTopoSort(nodeIDs, combinedAdj)
	if !complete {
		// A cycle exists in the combined graph but not in the Data subgraph
		// alone, so it must involve an After edge; name whichever node never
		// reached zero in-degree.
		placed := make(map[string]bool, len(order))
		for _, id := range order {
			placed[id] = true
		}
		for _, id := range nodeIDs {
			if !placed[id] {
				return nil, &BuildError{Kind: HasCycle, Node: id}
			}
		}
		return nil, &BuildError{Kind: HasCycle}
	}

	outputStubs := make(map[string]map[string]pipedata.PipeDataStub, len(doc.Nodes))
	for _, id := range order {
		node := doc.Nodes[id]
		schema := schemas[id]

		typeVarStubs := make(map[string]pipedata.PipeDataStub)
		for _, inSpec := range schema.Inputs {
			edge, hasEdge := incomingData[id][inSpec.Name]
			if !hasEdge {
				if inSpec.Required && inSpec.Default == nil {
					return nil, &BuildError{Kind: MissingInput, Node: id, Port: inSpec.Name}
				}
				continue
			}
			sourceStub := outputStubs[edge.Source.Node][edge.Source.Port]

			if inSpec.TypeVar != "" {
				if existing, ok := typeVarStubs[inSpec.TypeVar]; ok {
					if existing != sourceStub {
						return nil, &BuildError{Kind: TypeMismatch, Source: edge.Source, Target: edge.Target,
							Message: fmt.Sprintf("type variable %q already resolved to %s, got %s", inSpec.TypeVar, existing, sourceStub)}
					}
				} else {
					typeVarStubs[inSpec.TypeVar] = sourceStub
				}
				continue
			}

			if !pipedata.StubsCompatible(sourceStub, inSpec.Stub) {
				return nil, &BuildError{Kind: TypeMismatch, Source: edge.Source, Target: edge.Target,
					Message: fmt.Sprintf("%s is not compatible with %s", sourceStub, inSpec.Stub)}
			}
		}

		nodeOutputs := make(map[string]pipedata.PipeDataStub, len(schema.Outputs))
		for _, outSpec := range schema.Outputs {
			switch {
			case outSpec.StubFromParam != "":
				p, ok := node.Params[outSpec.StubFromParam]
				if !ok || p.Kind != pipedata.ParamData {
					return nil, &BuildError{Kind: ParamError, Node: id,
						Message: fmt.Sprintf("output %q requires Data param %q", outSpec.Name, outSpec.StubFromParam)}
				}
				nodeOutputs[outSpec.Name] = p.Data.Stub()
			case outSpec.TypeVar != "":
				stub, ok := typeVarStubs[outSpec.TypeVar]
				if !ok {
					return nil, &BuildError{Kind: MissingInput, Node: id, Port: outSpec.Name,
						Message: fmt.Sprintf("type variable %q is not resolved by any input", outSpec.TypeVar)}
				}
				nodeOutputs[outSpec.Name] = stub
			default:
				nodeOutputs[outSpec.Name] = outSpec.Stub
			}
		}
		outputStubs[id] = nodeOutputs

		if err := registry.ValidateParams(node.TypeName, filterStubParams(node.Params, schema)); err != nil {
			return nil, &BuildError{Kind: ParamError, Node: id, Message: err.Error()}
		}
	}

	return &Graph{
		Doc:          doc,
		TopoOrder:    order,
		OutputStubs:  outputStubs,
		IncomingData: incomingData,
		AfterDeps:    afterDeps,
		schemas:      schemas,
	}, nil
}

// filterStubParams passes params through unchanged; it exists as a single
// seam in case a future node type needs params invisible to schema
// validation (none do today).
func filterStubParams(params map[string]pipedata.ParamValue, _ dispatch.Schema) map[string]pipedata.ParamValue {
	return params
}

// Schema returns the declared schema for a node id in the graph.
func (g *Graph) Schema(nodeID string) dispatch.Schema { return g.schemas[nodeID] }
