// Package storage implements AddItem, the catalogue's one item-database
// write node. Grounded on the original copperd/lib/itemdb/src/client's insert
// path and spec.md's node table entry for AddItem.
package storage

import (
	"context"
	"fmt"

	"github.com/copperd/copper/internal/dispatch"
	"github.com/copperd/copper/internal/itemdb"
	"github.com/copperd/copper/internal/pipedata"
)

// MaxAttributes bounds AddItem's attribute port count. The dispatcher's
// schema is declared once per type name, with no per-instance parameter
// awareness, so a pipeline document wanting N attributes connects N of these
// fixed ports and leaves the rest unconnected; unconnected ports are simply
// absent from inputs.
const MaxAttributes = 8

func attrPortName(i int) string { return fmt.Sprintf("attr_%d", i) }

type addItemNode struct {
	rc      *dispatch.RunContext
	classID int64
	policy  itemdb.OnUniqueViolation
}

func (n *addItemNode) Run(ctx context.Context, this dispatch.ThisNodeInfo, inputs map[string]dispatch.Input, outputs map[string]dispatch.Output) error {
	var attrs []pipedata.PipeData
	for i := 0; i < MaxAttributes; i++ {
		in, ok := inputs[attrPortName(i)]
		if !ok {
			continue
		}
		v, err := in.Value(ctx)
		if err != nil {
			return err
		}
		attrs = append(attrs, v)
	}

	n.rc.TxMu.Lock()
	itemID, created, err := itemdb.InsertItem(ctx, n.rc.Tx, n.classID, attrs, n.policy)
	n.rc.TxMu.Unlock()
	if err != nil {
		return err
	}

	refStub := pipedata.PipeDataStub{Kind: pipedata.KindReference}
	if !created && n.policy == itemdb.OnViolationIgnore {
		return outputs["new_item"].Emit(ctx, pipedata.None(refStub))
	}
	return outputs["new_item"].Emit(ctx, pipedata.NewReference(n.classID, itemID))
}

// Register adds AddItem to r.
func Register(r *dispatch.Registry) error {
	inputs := make([]dispatch.PortSpec, MaxAttributes)
	for i := 0; i < MaxAttributes; i++ {
		inputs[i] = dispatch.PortSpec{
			Name:     attrPortName(i),
			TypeVar:  fmt.Sprintf("AddItemAttr%d", i),
			Required: false,
		}
	}

	return r.Register("AddItem", dispatch.Schema{
		Params: map[string]pipedata.ParamSpec{
			"class_id": {Kind: pipedata.ParamInteger, Required: true},
			"on_unique_violation": {
				Kind:     pipedata.ParamString,
				Required: true,
				Allowed: []string{
					string(itemdb.OnViolationError),
					string(itemdb.OnViolationIgnore),
					string(itemdb.OnViolationReturnExisting),
				},
			},
		},
		Inputs:  inputs,
		Outputs: []dispatch.PortSpec{{Name: "new_item", Stub: pipedata.PipeDataStub{Kind: pipedata.KindReference}}},
	}, func(rc *dispatch.RunContext, this dispatch.ThisNodeInfo, params map[string]pipedata.ParamValue) (dispatch.Node, error) {
		return &addItemNode{
			rc:      rc,
			classID: params["class_id"].Integer,
			policy:  itemdb.OnUniqueViolation(params["on_unique_violation"].String),
		}, nil
	})
}
