package plan

import (
	"context"
	"testing"

	"github.com/copperd/copper/internal/dispatch"
	"github.com/copperd/copper/internal/pipedata"
	"github.com/copperd/copper/internal/pipeline"
	"github.com/stretchr/testify/require"
)

type noopRunner struct{}

func (noopRunner) Run(ctx context.Context, this dispatch.ThisNodeInfo, inputs map[string]dispatch.Input, outputs map[string]dispatch.Output) error {
	return nil
}

func noopFactory(rc *dispatch.RunContext, this dispatch.ThisNodeInfo, params map[string]pipedata.ParamValue) (dispatch.Node, error) {
	return noopRunner{}, nil
}

func testRegistry(t *testing.T) *dispatch.Registry {
	t.Helper()
	r := dispatch.NewRegistry()
	require.NoError(t, r.Register(pipeline.InputNodeType, dispatch.Schema{
		Params:  map[string]pipedata.ParamSpec{"stub": {Kind: pipedata.ParamData, Required: true}},
		Outputs: []dispatch.PortSpec{{Name: "value", StubFromParam: "stub"}},
	}, noopFactory))
	require.NoError(t, r.Register("Hash", dispatch.Schema{
		Params: map[string]pipedata.ParamSpec{
			"algorithm": {Kind: pipedata.ParamString, Required: true, Allowed: []string{"MD5", "SHA256", "SHA512"}},
		},
		Inputs:  []dispatch.PortSpec{{Name: "data", Stub: pipedata.PipeDataStub{Kind: pipedata.KindBytes}, Required: true}},
		Outputs: []dispatch.PortSpec{{Name: "out", Stub: pipedata.PipeDataStub{Kind: pipedata.KindHash}}},
	}, noopFactory))
	return r
}

func inputNode(stub pipedata.PipeDataStub) pipeline.Node {
	return pipeline.Node{
		TypeName: pipeline.InputNodeType,
		Params:   map[string]pipedata.ParamValue{"stub": pipedata.NewParamData(pipedata.None(stub))},
	}
}

func buildGraph(t *testing.T, r *dispatch.Registry, doc *pipeline.Pipeline) *pipeline.Graph {
	t.Helper()
	g, err := pipeline.Validate(doc, r)
	require.NoError(t, err)
	return g
}

func TestBuildBindsJobInput(t *testing.T) {
	r := testRegistry(t)
	doc := &pipeline.Pipeline{
		Nodes: map[string]pipeline.Node{
			"in":   inputNode(pipedata.PipeDataStub{Kind: pipedata.KindBytes}),
			"hash": {TypeName: "Hash", Params: map[string]pipedata.ParamValue{"algorithm": pipedata.NewParamString("SHA256")}},
		},
		Edges: []pipeline.Edge{
			{Source: pipeline.PortRef{Node: "in", Port: "value"}, Target: pipeline.PortRef{Node: "hash", Port: "data"}, Kind: pipeline.EdgeData},
		},
	}
	g := buildGraph(t, r, doc)

	inputs := map[string]pipedata.PipeData{
		"in": pipedata.NewBytes("application/octet-stream", pipedata.NewArrayChunk([]byte("abc"), true)),
	}
	p, err := Build(g, r, inputs, &dispatch.RunContext{}, 0)
	require.NoError(t, err)
	require.Equal(t, DefaultEdgeBufferSize, p.EdgeBufferSize)
	require.Contains(t, p.InputValues, "in")
	require.NotContains(t, p.Nodes, "in")
	require.Contains(t, p.Nodes, "hash")
	require.Equal(t, []string{"hash"}, p.RunOrder)
}

func TestBuildMissingJobInput(t *testing.T) {
	r := testRegistry(t)
	doc := &pipeline.Pipeline{
		Nodes: map[string]pipeline.Node{
			"in": inputNode(pipedata.PipeDataStub{Kind: pipedata.KindText}),
		},
	}
	g := buildGraph(t, r, doc)

	_, err := Build(g, r, map[string]pipedata.PipeData{}, &dispatch.RunContext{}, 0)
	require.Error(t, err)
	be, ok := err.(*pipeline.BuildError)
	require.True(t, ok)
	require.Equal(t, pipeline.MissingJobInput, be.Kind)
}

func TestBuildUnknownJobInput(t *testing.T) {
	r := testRegistry(t)
	doc := &pipeline.Pipeline{
		Nodes: map[string]pipeline.Node{
			"in": inputNode(pipedata.PipeDataStub{Kind: pipedata.KindText}),
		},
	}
	g := buildGraph(t, r, doc)

	inputs := map[string]pipedata.PipeData{
		"in":      pipedata.NewText("hi"),
		"bogus":   pipedata.NewText("stray"),
	}
	_, err := Build(g, r, inputs, &dispatch.RunContext{}, 0)
	require.Error(t, err)
	be, ok := err.(*pipeline.BuildError)
	require.True(t, ok)
	require.Equal(t, pipeline.UnknownJobInput, be.Kind)
}

func TestBuildJobInputTypeMismatch(t *testing.T) {
	r := testRegistry(t)
	doc := &pipeline.Pipeline{
		Nodes: map[string]pipeline.Node{
			"in": inputNode(pipedata.PipeDataStub{Kind: pipedata.KindText}),
		},
	}
	g := buildGraph(t, r, doc)

	inputs := map[string]pipedata.PipeData{"in": pipedata.NewInteger(1, true)}
	_, err := Build(g, r, inputs, &dispatch.RunContext{}, 0)
	require.Error(t, err)
	be, ok := err.(*pipeline.BuildError)
	require.True(t, ok)
	require.Equal(t, pipeline.JobInputTypeError, be.Kind)
}
