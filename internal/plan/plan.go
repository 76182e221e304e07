// Package plan implements the job builder (spec C4): a pure function that
// materialises a validated pipeline.Graph plus one job's submitted inputs
// into a runnable Plan — built dispatch.Node instances, ordering, and the
// job-input bindings internal/runtime seeds onto the graph's source edges.
// Grounded on the original copperd/bin/piper/src/pipeline/runner.rs's
// build-then-run split (PipelineJob::new before Run).
package plan

import (
	"fmt"

	"github.com/copperd/copper/internal/dispatch"
	"github.com/copperd/copper/internal/pipedata"
	"github.com/copperd/copper/internal/pipeline"
)

// DefaultEdgeBufferSize is the default bounded capacity of one Data edge's
// channel (spec §4.3: "default small, e.g., 4 messages").
const DefaultEdgeBufferSize = 4

// Plan is a job builder's product: a validated graph with every non-input
// node built into a live dispatch.Node and every input node's job-submitted
// value bound in, ready for internal/runtime to execute.
type Plan struct {
	Graph *pipeline.Graph

	// RunOrder lists the ids of nodes internal/runtime must schedule a task
	// for, in topological order. Input-receptacle nodes are excluded: they
	// never run, their value is seeded directly.
	RunOrder []string

	Nodes       map[string]dispatch.Node
	NodeInfo    map[string]dispatch.ThisNodeInfo
	InputValues map[string]pipedata.PipeData

	EdgeBufferSize int
}

// Build is pure: no I/O, and given the same graph/registry/inputs it
// produces the same Plan or the same error every time (spec §8 property 1,
// extended to the job-input-bound stage).
func Build(g *pipeline.Graph, registry *dispatch.Registry, inputs map[string]pipedata.PipeData, rc *dispatch.RunContext, edgeBufferSize int) (*Plan, error) {
	if edgeBufferSize <= 0 {
		edgeBufferSize = DefaultEdgeBufferSize
	}

	nodes := make(map[string]dispatch.Node, len(g.TopoOrder))
	nodeInfo := make(map[string]dispatch.ThisNodeInfo, len(g.TopoOrder))
	inputValues := make(map[string]pipedata.PipeData)
	consumed := make(map[string]bool, len(inputs))
	runOrder := make([]string, 0, len(g.TopoOrder))

	for idx, id := range g.TopoOrder {
		docNode := g.Doc.Nodes[id]
		info := dispatch.ThisNodeInfo{Index: idx, ID: id, TypeName: docNode.TypeName}
		nodeInfo[id] = info

		if docNode.TypeName == pipeline.InputNodeType {
			v, ok := inputs[id]
			if !ok {
				return nil, &pipeline.BuildError{Kind: pipeline.MissingJobInput, Node: id}
			}
			declared := g.OutputStubs[id]["value"]
			if !pipedata.MatchesPort(v, declared) {
				return nil, &pipeline.BuildError{Kind: pipeline.JobInputTypeError, Node: id,
					Message: fmt.Sprintf("expected %s, got %s", declared, v.Stub())}
			}
			inputValues[id] = v
			consumed[id] = true
			continue
		}

		node, err := registry.BuildNode(docNode.TypeName, info, docNode.Params, rc)
		if err != nil {
			return nil, &pipeline.BuildError{Kind: pipeline.ParamError, Node: id, Message: err.Error()}
		}
		nodes[id] = node
		runOrder = append(runOrder, id)
	}

	for key := range inputs {
		if !consumed[key] {
			return nil, &pipeline.BuildError{Kind: pipeline.UnknownJobInput, Node: key}
		}
	}

	return &Plan{
		Graph:          g,
		RunOrder:       runOrder,
		Nodes:          nodes,
		NodeInfo:       nodeInfo,
		InputValues:    inputValues,
		EdgeBufferSize: edgeBufferSize,
	}, nil
}
