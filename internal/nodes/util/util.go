// Package util implements the catalogue's three general-purpose nodes:
// Constant, IfNone, and Hash. Grounded on the original
// crates/pipeline-nodes/src/util/{constant,ifnone,hash}.rs.
package util

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"github.com/copperd/copper/internal/dispatch"
	"github.com/copperd/copper/internal/pipedata"
)

// Register adds Constant, IfNone, and Hash to r.
func Register(r *dispatch.Registry) error {
	if err := registerConstant(r); err != nil {
		return err
	}
	if err := registerIfNone(r); err != nil {
		return err
	}
	if err := registerHash(r); err != nil {
		return err
	}
	return nil
}

// --- Constant: emits its "value" parameter unchanged. ---

type constantNode struct {
	value pipedata.PipeData
}

func (n *constantNode) Run(ctx context.Context, this dispatch.ThisNodeInfo, inputs map[string]dispatch.Input, outputs map[string]dispatch.Output) error {
	return outputs["value"].Emit(ctx, n.value)
}

func registerConstant(r *dispatch.Registry) error {
	return r.Register("Constant", dispatch.Schema{
		Params: map[string]pipedata.ParamSpec{
			"value": {Kind: pipedata.ParamData, Required: true},
		},
		Outputs: []dispatch.PortSpec{{Name: "value", StubFromParam: "value"}},
	}, func(rc *dispatch.RunContext, this dispatch.ThisNodeInfo, params map[string]pipedata.ParamValue) (dispatch.Node, error) {
		return &constantNode{value: params["value"].Data}, nil
	})
}

// --- IfNone: passes data through unless it is a typed null, in which case
// ifnone is passed through instead. ---

type ifNoneNode struct{}

func (ifNoneNode) Run(ctx context.Context, this dispatch.ThisNodeInfo, inputs map[string]dispatch.Input, outputs map[string]dispatch.Output) error {
	data, err := inputs["data"].Value(ctx)
	if err != nil {
		return err
	}
	if !data.IsNone() {
		return outputs["out"].Emit(ctx, data)
	}
	fallback, err := inputs["ifnone"].Value(ctx)
	if err != nil {
		return err
	}
	return outputs["out"].Emit(ctx, fallback)
}

func registerIfNone(r *dispatch.Registry) error {
	return r.Register("IfNone", dispatch.Schema{
		Inputs: []dispatch.PortSpec{
			{Name: "data", TypeVar: "T", Required: true},
			{Name: "ifnone", TypeVar: "T", Required: true},
		},
		Outputs: []dispatch.PortSpec{{Name: "out", TypeVar: "T"}},
	}, func(rc *dispatch.RunContext, this dispatch.ThisNodeInfo, params map[string]pipedata.ParamValue) (dispatch.Node, error) {
		return ifNoneNode{}, nil
	})
}

// --- Hash: streams a Bytes input through a digest algorithm. ---

type hashNode struct {
	algorithm pipedata.HashAlgorithm
}

func newHasher(alg pipedata.HashAlgorithm) (hash.Hash, error) {
	switch alg {
	case pipedata.MD5:
		return md5.New(), nil
	case pipedata.SHA256:
		return sha256.New(), nil
	case pipedata.SHA512:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("nodes/util: unknown hash algorithm %q", alg)
	}
}

func (n *hashNode) Run(ctx context.Context, this dispatch.ThisNodeInfo, inputs map[string]dispatch.Input, outputs map[string]dispatch.Output) error {
	h, err := newHasher(n.algorithm)
	if err != nil {
		return err
	}
	_, r, err := inputs["data"].Chunks(ctx)
	if err != nil {
		return err
	}
	for {
		chunk, isLast, err := r.Next(ctx)
		if err != nil {
			return err
		}
		if len(chunk) > 0 {
			h.Write(chunk)
		}
		if isLast {
			break
		}
	}
	return outputs["out"].Emit(ctx, pipedata.NewHash(n.algorithm, h.Sum(nil)))
}

func registerHash(r *dispatch.Registry) error {
	return r.Register("Hash", dispatch.Schema{
		Params: map[string]pipedata.ParamSpec{
			"algorithm": {Kind: pipedata.ParamString, Required: true, Allowed: []string{
				string(pipedata.MD5), string(pipedata.SHA256), string(pipedata.SHA512),
			}},
		},
		Inputs:  []dispatch.PortSpec{{Name: "data", Stub: pipedata.PipeDataStub{Kind: pipedata.KindBytes, Mime: pipedata.AnyMime}, Required: true}},
		Outputs: []dispatch.PortSpec{{Name: "out", Stub: pipedata.PipeDataStub{Kind: pipedata.KindHash}}},
	}, func(rc *dispatch.RunContext, this dispatch.ThisNodeInfo, params map[string]pipedata.ParamValue) (dispatch.Node, error) {
		return &hashNode{algorithm: pipedata.HashAlgorithm(params["algorithm"].String)}, nil
	})
}
