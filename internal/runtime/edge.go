package runtime

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/copperd/copper/internal/dispatch"
	"github.com/copperd/copper/internal/pipedata"
)

// chunkReadSize is the buffer size used when turning an object-store handle
// into a ChunkReader. Grounded on the original's bytessourcereader.rs, which
// reads S3 objects in fixed-size fragments rather than all at once.
const chunkReadSize = 64 * 1024

// channelInput is a node input port backed by the Data edge channel that
// feeds it. At most one message ever carries a non-Bytes value; a Bytes port
// may instead carry a sequence of Array-fragment messages or a single S3
// handle message.
type channelInput struct {
	ch         <-chan pipedata.PipeData
	objectRead dispatch.ObjectReader
}

func (in *channelInput) Value(ctx context.Context) (pipedata.PipeData, error) {
	select {
	case v, ok := <-in.ch:
		if !ok {
			return pipedata.PipeData{}, fmt.Errorf("runtime: input port closed without a value")
		}
		return v, nil
	case <-ctx.Done():
		return pipedata.PipeData{}, ctx.Err()
	}
}

func (in *channelInput) Chunks(ctx context.Context) (string, dispatch.ChunkReader, error) {
	select {
	case first, ok := <-in.ch:
		if !ok {
			return "", nil, fmt.Errorf("runtime: bytes input port closed without a value")
		}
		if first.Kind != pipedata.KindBytes {
			return "", nil, fmt.Errorf("runtime: bytes input port received %s, not Bytes", first.Kind)
		}
		switch first.Source.Kind {
		case pipedata.SourceS3:
			if in.objectRead == nil {
				return "", nil, fmt.Errorf("runtime: no object reader configured for S3-backed input")
			}
			rc, err := in.objectRead.OpenObject(ctx, first.Source.Bucket, first.Source.Key)
			if err != nil {
				return "", nil, err
			}
			return first.Mime, &objectChunkReader{r: rc}, nil
		default:
			return first.Mime, &arrayChanReader{ch: in.ch, pending: &first.Source}, nil
		}
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

// arrayChanReader turns a sequence of Array-sourced Bytes messages arriving
// on a Data edge channel into the ChunkReader node code reads through.
type arrayChanReader struct {
	ch      <-chan pipedata.PipeData
	pending *pipedata.BytesSource // the first fragment, already received by Chunks
}

func (r *arrayChanReader) Next(ctx context.Context) ([]byte, bool, error) {
	if r.pending != nil {
		frag, isLast := r.pending.Fragment, r.pending.IsLast
		r.pending = nil
		return frag, isLast, nil
	}
	select {
	case v, ok := <-r.ch:
		if !ok {
			return nil, true, fmt.Errorf("runtime: bytes stream closed before its final fragment")
		}
		if v.Kind != pipedata.KindBytes || v.Source.Kind != pipedata.SourceArray {
			return nil, true, fmt.Errorf("runtime: expected an Array bytes fragment, got %s", v.Kind)
		}
		return v.Source.Fragment, v.Source.IsLast, nil
	case <-ctx.Done():
		return nil, true, ctx.Err()
	}
}

// objectChunkReader reads an object-store handle in fixed-size fragments.
type objectChunkReader struct {
	r dispatch.ReadCloser
}

func (r *objectChunkReader) Next(ctx context.Context) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, true, err
	}
	buf := make([]byte, chunkReadSize)
	n, err := r.r.Read(buf)
	if err != nil && err != io.EOF {
		return nil, true, err
	}
	if err == io.EOF {
		_ = r.r.Close()
		return buf[:n], true, nil
	}
	return buf[:n], false, nil
}

// portOutput is one node output port's sink, fanning a node's emissions out
// to every Data edge leaving that port (spec invariant 3 bounds fan-in to
// one edge per input port, but a single output port may feed many).
type portOutput struct {
	mu     sync.Mutex
	chans  []chan<- pipedata.PipeData
	closed bool
}

func (o *portOutput) Emit(ctx context.Context, value pipedata.PipeData) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fmt.Errorf("runtime: output port already closed")
	}
	if err := o.broadcast(ctx, value); err != nil {
		return err
	}
	o.closeLocked()
	return nil
}

func (o *portOutput) EmitChunk(ctx context.Context, mime string, chunk []byte, isLast bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fmt.Errorf("runtime: output port already closed")
	}
	v := pipedata.NewBytes(mime, pipedata.NewArrayChunk(chunk, isLast))
	if err := o.broadcast(ctx, v); err != nil {
		return err
	}
	if isLast {
		o.closeLocked()
	}
	return nil
}

func (o *portOutput) EmitS3(ctx context.Context, mime, bucket, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fmt.Errorf("runtime: output port already closed")
	}
	v := pipedata.NewBytes(mime, pipedata.NewS3Source(bucket, key))
	if err := o.broadcast(ctx, v); err != nil {
		return err
	}
	o.closeLocked()
	return nil
}

func (o *portOutput) broadcast(ctx context.Context, v pipedata.PipeData) error {
	for _, ch := range o.chans {
		select {
		case ch <- v:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (o *portOutput) closeLocked() {
	if o.closed {
		return
	}
	for _, ch := range o.chans {
		close(ch)
	}
	o.closed = true
}

// closeIfOpen force-closes a port that a node returned from Run without
// emitting on — every declared output must close, whether or not the node
// reached it, so downstream readers see end-of-stream rather than hang.
func (o *portOutput) closeIfOpen() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closeLocked()
}

// constInput is a node input port backed by its schema-declared default
// value rather than an incoming edge (spec invariant 5).
type constInput struct {
	value      pipedata.PipeData
	objectRead dispatch.ObjectReader
}

func (in *constInput) Value(ctx context.Context) (pipedata.PipeData, error) {
	return in.value, nil
}

func (in *constInput) Chunks(ctx context.Context) (string, dispatch.ChunkReader, error) {
	if in.value.Kind != pipedata.KindBytes {
		return "", nil, fmt.Errorf("runtime: default value is not Bytes")
	}
	switch in.value.Source.Kind {
	case pipedata.SourceS3:
		if in.objectRead == nil {
			return "", nil, fmt.Errorf("runtime: no object reader configured for S3-backed default")
		}
		rc, err := in.objectRead.OpenObject(ctx, in.value.Source.Bucket, in.value.Source.Key)
		if err != nil {
			return "", nil, err
		}
		return in.value.Mime, &objectChunkReader{r: rc}, nil
	default:
		src := in.value.Source
		return in.value.Mime, &onceReader{source: &src}, nil
	}
}

// onceReader yields a single, already-materialised Array fragment. Used for
// default Bytes values, which are never streamed across a channel.
type onceReader struct {
	source *pipedata.BytesSource
}

func (r *onceReader) Next(ctx context.Context) ([]byte, bool, error) {
	if r.source == nil {
		return nil, true, fmt.Errorf("runtime: read past end of default bytes value")
	}
	frag, isLast := r.source.Fragment, r.source.IsLast
	r.source = nil
	return frag, isLast, nil
}
