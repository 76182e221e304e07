package pipedata

// SourceKind discriminates the two BytesSource variants.
type SourceKind string

const (
	SourceArray SourceKind = "Array"
	SourceS3    SourceKind = "S3"
)

// BytesSource is the wire/in-memory handle carried by a Bytes value. It is
// not itself a reader: the scheduler turns a stream of these (for Array) or
// a single one (for S3) into a uniform lazy chunk iterator — see
// dispatch.ChunkReader and its implementations in internal/runtime, grounded on the original's
// bytessourcereader.rs, which reads inline and object-store-backed streams
// identically from the consumer's point of view.
type BytesSource struct {
	Kind SourceKind

	// Array variant.
	Fragment []byte
	IsLast   bool

	// S3 variant.
	Bucket string
	Key    string
}

// NewArrayChunk constructs one Array-variant chunk.
func NewArrayChunk(fragment []byte, isLast bool) BytesSource {
	return BytesSource{Kind: SourceArray, Fragment: fragment, IsLast: isLast}
}

// NewS3Source constructs an S3-variant handle naming the whole object.
func NewS3Source(bucket, key string) BytesSource {
	return BytesSource{Kind: SourceS3, Bucket: bucket, Key: key}
}
