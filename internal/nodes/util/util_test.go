package util_test

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/copperd/copper/internal/dispatch"
	"github.com/copperd/copper/internal/pipedata"
	"github.com/copperd/copper/internal/nodes/util"
)

func buildNode(t *testing.T, typeName string, params map[string]pipedata.ParamValue) dispatch.Node {
	t.Helper()
	r := dispatch.NewRegistry()
	require.NoError(t, util.Register(r))
	node, err := r.BuildNode(typeName, dispatch.ThisNodeInfo{ID: "n", TypeName: typeName}, params, &dispatch.RunContext{})
	require.NoError(t, err)
	return node
}

type valueInput struct{ v pipedata.PipeData }

func (i valueInput) Value(ctx context.Context) (pipedata.PipeData, error) { return i.v, nil }
func (i valueInput) Chunks(ctx context.Context) (string, dispatch.ChunkReader, error) {
	return "", nil, nil
}

type chunksInput struct {
	mime   string
	chunks [][]byte
}

func (i chunksInput) Value(ctx context.Context) (pipedata.PipeData, error) {
	return pipedata.PipeData{}, nil
}

func (i chunksInput) Chunks(ctx context.Context) (string, dispatch.ChunkReader, error) {
	return i.mime, &sliceChunkReader{chunks: i.chunks}, nil
}

type sliceChunkReader struct {
	chunks [][]byte
	idx    int
}

func (r *sliceChunkReader) Next(ctx context.Context) ([]byte, bool, error) {
	chunk := r.chunks[r.idx]
	r.idx++
	return chunk, r.idx == len(r.chunks), nil
}

type captureOutput struct{ got pipedata.PipeData }

func (o *captureOutput) Emit(ctx context.Context, value pipedata.PipeData) error {
	o.got = value
	return nil
}
func (o *captureOutput) EmitChunk(ctx context.Context, mime string, chunk []byte, isLast bool) error {
	return nil
}
func (o *captureOutput) EmitS3(ctx context.Context, mime, bucket, key string) error { return nil }

func TestConstantEmitsItsValueParam(t *testing.T) {
	node := buildNode(t, "Constant", map[string]pipedata.ParamValue{
		"value": pipedata.NewParamData(pipedata.NewText("fixed")),
	})
	out := &captureOutput{}
	err := node.Run(context.Background(), dispatch.ThisNodeInfo{}, nil, map[string]dispatch.Output{"value": out})
	require.NoError(t, err)
	require.Equal(t, pipedata.NewText("fixed"), out.got)
}

func TestIfNonePassesThroughNonNullData(t *testing.T) {
	node := buildNode(t, "IfNone", nil)
	out := &captureOutput{}
	inputs := map[string]dispatch.Input{
		"data":   valueInput{v: pipedata.NewText("present")},
		"ifnone": valueInput{v: pipedata.NewText("fallback")},
	}
	err := node.Run(context.Background(), dispatch.ThisNodeInfo{}, inputs, map[string]dispatch.Output{"out": out})
	require.NoError(t, err)
	require.Equal(t, pipedata.NewText("present"), out.got)
}

func TestIfNoneUsesFallbackForNullData(t *testing.T) {
	node := buildNode(t, "IfNone", nil)
	out := &captureOutput{}
	stub := pipedata.PipeDataStub{Kind: pipedata.KindText}
	inputs := map[string]dispatch.Input{
		"data":   valueInput{v: pipedata.None(stub)},
		"ifnone": valueInput{v: pipedata.NewText("fallback")},
	}
	err := node.Run(context.Background(), dispatch.ThisNodeInfo{}, inputs, map[string]dispatch.Output{"out": out})
	require.NoError(t, err)
	require.Equal(t, pipedata.NewText("fallback"), out.got)
}

func TestHashComputesSHA256OverAllChunks(t *testing.T) {
	node := buildNode(t, "Hash", map[string]pipedata.ParamValue{
		"algorithm": pipedata.NewParamString("SHA256"),
	})
	out := &captureOutput{}
	inputs := map[string]dispatch.Input{
		"data": chunksInput{mime: "application/octet-stream", chunks: [][]byte{[]byte("hello, "), []byte("world")}},
	}
	err := node.Run(context.Background(), dispatch.ThisNodeInfo{}, inputs, map[string]dispatch.Output{"out": out})
	require.NoError(t, err)

	want := sha256.Sum256([]byte("hello, world"))
	require.Equal(t, pipedata.NewHash(pipedata.SHA256, want[:]), out.got)
}
