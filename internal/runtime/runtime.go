// Package runtime implements the cooperative scheduler (spec C5) that
// executes a built plan.Plan: one goroutine per non-input node, bounded
// channels on every Data edge, After-edge ordering via completion signals,
// and the shared per-job transaction's commit-on-success/drop-on-failure
// lifecycle. Grounded on the original copperd/bin/piper/src/pipeline/runner.rs
// (task-per-node, mpsc-channel-per-edge scheduler) and the teacher's
// internal/worker-pool's errgroup-based fan-out.
package runtime

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/copperd/copper/internal/dispatch"
	"github.com/copperd/copper/internal/pipedata"
	"github.com/copperd/copper/internal/pipeline"
	"github.com/copperd/copper/internal/plan"
)

// OutcomeState is one of a job run's two terminal states. A third outcome,
// BuildError, never reaches this package — it is produced earlier, by
// pipeline.Validate or plan.Build, before there is anything to run.
type OutcomeState string

const (
	Success OutcomeState = "Success"
	Failed  OutcomeState = "Failed"
)

// Outcome is the result of running one job's plan to completion.
type Outcome struct {
	State OutcomeState
	Err   error
}

// DefaultGraceWindow is how long a cancelled job's node tasks are given to
// observe ctx.Done() and return before the run is reported StuckTask rather
// than waited on indefinitely (spec §5).
const DefaultGraceWindow = 30 * time.Second

// Run executes p to completion against rc, respecting ctx. On a node error
// or external cancellation it cancels every other node's context and waits
// up to graceWindow (DefaultGraceWindow if <= 0) for them to unwind before
// giving up and reporting StuckTaskError.
func Run(ctx context.Context, p *plan.Plan, rc *dispatch.RunContext, graceWindow time.Duration) (Outcome, error) {
	if graceWindow <= 0 {
		graceWindow = DefaultGraceWindow
	}

	edgeChannels := make(map[string]map[string]chan pipedata.PipeData)
	outEdgesBySource := make(map[string]map[string][]pipeline.Edge)
	for _, e := range p.Graph.Doc.Edges {
		if e.Kind != pipeline.EdgeData {
			continue
		}
		if edgeChannels[e.Target.Node] == nil {
			edgeChannels[e.Target.Node] = make(map[string]chan pipedata.PipeData)
		}
		edgeChannels[e.Target.Node][e.Target.Port] = make(chan pipedata.PipeData, p.EdgeBufferSize)

		if outEdgesBySource[e.Source.Node] == nil {
			outEdgesBySource[e.Source.Node] = make(map[string][]pipeline.Edge)
		}
		outEdgesBySource[e.Source.Node][e.Source.Port] = append(outEdgesBySource[e.Source.Node][e.Source.Port], e)
	}

	doneCh := make(map[string]chan struct{}, len(p.Graph.Doc.Nodes))
	for id := range p.Graph.Doc.Nodes {
		doneCh[id] = make(chan struct{})
	}

	for id, docNode := range p.Graph.Doc.Nodes {
		if docNode.TypeName != pipeline.InputNodeType {
			continue
		}
		value := p.InputValues[id]
		for _, e := range outEdgesBySource[id]["value"] {
			ch := edgeChannels[e.Target.Node][e.Target.Port]
			select {
			case ch <- value:
			case <-ctx.Done():
				return Outcome{State: Failed, Err: ctx.Err()}, nil
			}
			close(ch)
		}
		close(doneCh[id])
	}

	eg, groupCtx := errgroup.WithContext(ctx)
	for _, id := range p.RunOrder {
		id := id
		eg.Go(func() error {
			for _, dep := range p.Graph.AfterDeps[id] {
				select {
				case <-doneCh[dep]:
				case <-groupCtx.Done():
					return groupCtx.Err()
				}
			}

			schema := p.Graph.Schema(id)
			inputs := buildInputs(rc, schema, p.Graph.IncomingData[id], edgeChannels[id])
			outputs, sinks := buildOutputs(schema, outEdgesBySource[id], edgeChannels)

			err := p.Nodes[id].Run(groupCtx, p.NodeInfo[id], inputs, outputs)
			for _, s := range sinks {
				s.closeIfOpen()
			}
			close(doneCh[id])
			if err != nil {
				return &RunNodeError{Node: id, Err: err}
			}
			return nil
		})
	}

	doneWait := make(chan error, 1)
	go func() { doneWait <- eg.Wait() }()

	outcome := Outcome{State: Success}
	select {
	case runErr := <-doneWait:
		if runErr != nil {
			outcome = Outcome{State: Failed, Err: runErr}
		}
	case <-groupCtx.Done():
		select {
		case runErr := <-doneWait:
			if runErr != nil {
				outcome = Outcome{State: Failed, Err: runErr}
			}
		case <-time.After(graceWindow):
			outcome = Outcome{State: Failed, Err: &StuckTaskError{Nodes: unfinished(p.RunOrder, doneCh)}}
		}
	}

	if rc.Tx != nil {
		rc.TxMu.Lock()
		if outcome.State == Success {
			if err := rc.Tx.Commit(); err != nil {
				outcome = Outcome{State: Failed, Err: &TransactionCommitError{Err: err}}
			}
		} else {
			_ = rc.Tx.Rollback()
		}
		rc.TxMu.Unlock()
	}

	return outcome, nil
}

func unfinished(runOrder []string, doneCh map[string]chan struct{}) []string {
	var stuck []string
	for _, id := range runOrder {
		select {
		case <-doneCh[id]:
		default:
			stuck = append(stuck, id)
		}
	}
	return stuck
}

func buildInputs(rc *dispatch.RunContext, schema dispatch.Schema, incoming map[string]pipeline.Edge, chans map[string]chan pipedata.PipeData) map[string]dispatch.Input {
	inputs := make(map[string]dispatch.Input, len(schema.Inputs))
	for _, spec := range schema.Inputs {
		if _, hasEdge := incoming[spec.Name]; hasEdge {
			inputs[spec.Name] = &channelInput{ch: chans[spec.Name], objectRead: rc.ObjectRead}
			continue
		}
		if spec.Default != nil {
			inputs[spec.Name] = &constInput{value: *spec.Default, objectRead: rc.ObjectRead}
		}
	}
	return inputs
}

func buildOutputs(schema dispatch.Schema, bySource map[string][]pipeline.Edge, edgeChannels map[string]map[string]chan pipedata.PipeData) (map[string]dispatch.Output, []*portOutput) {
	outputs := make(map[string]dispatch.Output, len(schema.Outputs))
	sinks := make([]*portOutput, 0, len(schema.Outputs))
	for _, spec := range schema.Outputs {
		edges := bySource[spec.Name]
		chans := make([]chan<- pipedata.PipeData, 0, len(edges))
		for _, e := range edges {
			chans = append(chans, edgeChannels[e.Target.Node][e.Target.Port])
		}
		out := &portOutput{chans: chans}
		outputs[spec.Name] = out
		sinks = append(sinks, out)
	}
	return outputs, sinks
}
