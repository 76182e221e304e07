package pipeline

import (
	"context"
	"testing"

	"github.com/copperd/copper/internal/dispatch"
	"github.com/copperd/copper/internal/pipedata"
	"github.com/stretchr/testify/require"
)

func noopFactory(rc *dispatch.RunContext, this dispatch.ThisNodeInfo, params map[string]pipedata.ParamValue) (dispatch.Node, error) {
	return noopRunner{}, nil
}

type noopRunner struct{}

func (noopRunner) Run(ctx context.Context, this dispatch.ThisNodeInfo, inputs map[string]dispatch.Input, outputs map[string]dispatch.Output) error {
	return nil
}

func testRegistry(t *testing.T) *dispatch.Registry {
	t.Helper()
	r := dispatch.NewRegistry()

	require.NoError(t, r.Register("Constant", dispatch.Schema{
		Params: map[string]pipedata.ParamSpec{
			"value": {Kind: pipedata.ParamData, Required: true},
		},
		Outputs: []dispatch.PortSpec{{Name: "out", StubFromParam: "value"}},
	}, noopFactory))

	require.NoError(t, r.Register("IfNone", dispatch.Schema{
		Inputs: []dispatch.PortSpec{
			{Name: "data", TypeVar: "T", Required: true},
			{Name: "ifnone", TypeVar: "T", Required: true},
		},
		Outputs: []dispatch.PortSpec{{Name: "out", TypeVar: "T"}},
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

func constantNode(value pipedata.PipeData) Node {
	return Node{
		TypeName: "Constant",
		Params:   map[string]pipedata.ParamValue{"value": pipedata.NewParamData(value)},
	}
}

func TestValidateIfNoneWithNone(t *testing.T) {
	r := testRegistry(t)
	doc := &Pipeline{
		Nodes: map[string]Node{
			"a": constantNode(pipedata.None(pipedata.PipeDataStub{Kind: pipedata.KindText})),
			"b": constantNode(pipedata.NewText("x")),
			"c": {TypeName: "IfNone"},
		},
		Edges: []Edge{
			{Source: PortRef{"a", "out"}, Target: PortRef{"c", "data"}, Kind: EdgeData},
			{Source: PortRef{"b", "out"}, Target: PortRef{"c", "ifnone"}, Kind: EdgeData},
		},
	}
	g, err := Validate(doc, r)
	require.NoError(t, err)
	require.Equal(t, pipedata.PipeDataStub{Kind: pipedata.KindText}, g.OutputStubs["c"]["out"])
}

func TestValidateTypeMismatch(t *testing.T) {
	r := testRegistry(t)
	doc := &Pipeline{
		Nodes: map[string]Node{
			"const": constantNode(pipedata.NewInteger(1, true)),
			"hash":  {TypeName: "Hash", Params: map[string]pipedata.ParamValue{"algorithm": pipedata.NewParamString("SHA256")}},
		},
		Edges: []Edge{
			{Source: PortRef{"const", "out"}, Target: PortRef{"hash", "data"}, Kind: EdgeData},
		},
	}
	_, err := Validate(doc, r)
	require.Error(t, err)
	be, ok := err.(*BuildError)
	require.True(t, ok)
	require.Equal(t, TypeMismatch, be.Kind)
}

func TestValidateCycleRejected(t *testing.T) {
	r := testRegistry(t)
	doc := &Pipeline{
		Nodes: map[string]Node{
			"a": {TypeName: "IfNone"},
			"b": {TypeName: "IfNone"},
		},
		Edges: []Edge{
			{Source: PortRef{"a", "out"}, Target: PortRef{"b", "data"}, Kind: EdgeData},
			{Source: PortRef{"a", "out"}, Target: PortRef{"b", "ifnone"}, Kind: EdgeData},
			{Source: PortRef{"b", "out"}, Target: PortRef{"a", "data"}, Kind: EdgeData},
			{Source: PortRef{"b", "out"}, Target: PortRef{"a", "ifnone"}, Kind: EdgeData},
		},
	}
	_, err := Validate(doc, r)
	require.Error(t, err)
	be, ok := err.(*BuildError)
	require.True(t, ok)
	require.Equal(t, HasCycle, be.Kind)
}

func TestValidateMissingInput(t *testing.T) {
	r := testRegistry(t)
	doc := &Pipeline{
		Nodes: map[string]Node{
			"hash": {TypeName: "Hash", Params: map[string]pipedata.ParamValue{"algorithm": pipedata.NewParamString("SHA256")}},
		},
	}
	_, err := Validate(doc, r)
	require.Error(t, err)
	be, ok := err.(*BuildError)
	require.True(t, ok)
	require.Equal(t, MissingInput, be.Kind)
}

func TestValidateUnknownNodeType(t *testing.T) {
	r := testRegistry(t)
	doc := &Pipeline{Nodes: map[string]Node{"x": {TypeName: "Nope"}}}
	_, err := Validate(doc, r)
	require.Error(t, err)
	be, ok := err.(*BuildError)
	require.True(t, ok)
	require.Equal(t, UnknownNode, be.Kind)
}

func TestValidateDuplicateIncomingEdge(t *testing.T) {
	r := testRegistry(t)
	doc := &Pipeline{
		Nodes: map[string]Node{
			"a": constantNode(pipedata.NewText("x")),
			"b": constantNode(pipedata.NewText("y")),
			"c": {TypeName: "IfNone"},
		},
		Edges: []Edge{
			{Source: PortRef{"a", "out"}, Target: PortRef{"c", "data"}, Kind: EdgeData},
			{Source: PortRef{"b", "out"}, Target: PortRef{"c", "data"}, Kind: EdgeData},
		},
	}
	_, err := Validate(doc, r)
	require.Error(t, err)
	be, ok := err.(*BuildError)
	require.True(t, ok)
	require.Equal(t, DuplicateIncoming, be.Kind)
}
