// Package dispatch implements the node dispatcher (spec C2): a registry from
// node type name to factory and declared parameter/port schema, plus the
// Node invocation contract every node type implements. Grounded on the
// original copperd/crates/pipeline/src/dispatcher (register/build/describe
// split) and copperd/lib/piper/src/base/node.rs's run(ctx, this_node, params,
// input, output) signature.
package dispatch

import (
	"context"
	"database/sql"
	"sync"

	"github.com/copperd/copper/internal/pipedata"
)

// ThisNodeInfo identifies the node instance a running task belongs to.
type ThisNodeInfo struct {
	Index    int
	ID       string
	TypeName string
}

// ChunkReader is the uniform lazy byte-chunk iterator a Bytes input is read
// through, regardless of whether the underlying BytesSource is an inline
// Array or an S3 handle. Grounded on the original's bytessourcereader.rs.
type ChunkReader interface {
	// Next blocks until the next chunk is available, the stream ends
	// (isLast == true on the final call), or ctx is cancelled.
	Next(ctx context.Context) (chunk []byte, isLast bool, err error)
}

// Input is one node input port as seen from inside run(). A port with no
// incoming edge but a schema-declared default is also served through this
// interface, by the runtime, which yields that default value.
type Input interface {
	// Value reads the single value on a non-Bytes port. It must be called at
	// most once; the port is not a stream.
	Value(ctx context.Context) (pipedata.PipeData, error)
	// Chunks opens the byte-chunk stream on a Bytes port, exposing its MIME
	// type and a ChunkReader that yields fragments in production order.
	Chunks(ctx context.Context) (mime string, r ChunkReader, err error)
}

// Output is one node output port as seen from inside run(). A node MUST
// eventually close every output port it declares, by calling either Emit (for
// non-Bytes ports, exactly once), EmitChunk with isLast true (ending a chunk
// stream), or EmitS3. Closing signals downstream readers of end-of-stream.
type Output interface {
	// Emit sends the single value for a non-Bytes port and closes it.
	Emit(ctx context.Context, value pipedata.PipeData) error
	// EmitChunk streams one fragment on a Bytes port; isLast must be true on
	// the final call.
	EmitChunk(ctx context.Context, mime string, chunk []byte, isLast bool) error
	// EmitS3 emits a single Bytes value backed by an object-store handle,
	// closing the port.
	EmitS3(ctx context.Context, mime, bucket, key string) error
}

// RunContext carries the per-job resources a node may need: the shared
// item-database transaction (guarded by TxMu, never held across a
// non-database await — see spec §5) and the object-store client used by
// Bytes-consuming and Blob-producing nodes.
type RunContext struct {
	JobID      string
	OwnerID    int64
	Tx         *sql.Tx
	TxMu       *sync.Mutex
	ObjectRead ObjectReader
}

// ObjectReader is the minimal read surface a node needs against blob storage;
// internal/blobstore supplies the concrete AWS S3-backed implementation.
type ObjectReader interface {
	OpenObject(ctx context.Context, bucket, key string) (ReadCloser, error)
}

// ReadCloser avoids importing io solely for a one-method interface used
// across a package boundary that otherwise has no io dependency.
type ReadCloser interface {
	Read(p []byte) (n int, err error)
	Close() error
}

// Node is the trait-object-style contract every node type implements. There
// is no inheritance hierarchy: registration is by string key into a map of
// factories, and polymorphism is entirely through this interface. A Node's
// RunContext and parameters are bound once at construction time by its
// Factory, not passed again to Run.
type Node interface {
	// Run executes the node's logic cooperatively. It must read each
	// declared input, emit on every declared output, and return nil only
	// once every output port has been closed. Implementations observe
	// ctx.Done() at every suspension point.
	Run(ctx context.Context, this ThisNodeInfo, inputs map[string]Input, outputs map[string]Output) error
}
