// Package pipedata defines the tagged-value model that flows across pipeline
// edges: PipeData, its type-only projection PipeDataStub, and the
// BytesSource handle used to describe inline or object-store-backed byte
// streams.
package pipedata

import "fmt"

// Kind discriminates the variants of PipeData and PipeDataStub (ParamValue
// has its own ParamKind). It is always carried explicitly, on the wire and in
// memory: parameter values overlap with data values (a string vs. Text), so
// callers must never infer the variant from which struct field happens to be
// set.
type Kind string

const (
	KindNone      Kind = "None"
	KindText      Kind = "Text"
	KindInteger   Kind = "Integer"
	KindFloat     Kind = "Float"
	KindBoolean   Kind = "Boolean"
	KindHash      Kind = "Hash"
	KindBytes     Kind = "Bytes"
	KindReference Kind = "Reference"
	KindBlob      Kind = "Blob"
)

// HashAlgorithm enumerates the digest algorithms the Hash node may produce.
type HashAlgorithm string

const (
	MD5    HashAlgorithm = "MD5"
	SHA256 HashAlgorithm = "SHA256"
	SHA512 HashAlgorithm = "SHA512"
)

// PipeData is the tagged union every edge carries. Only the fields relevant
// to Kind are meaningful; the zero value of the others is ignored. Values are
// immutable once produced — a node must not mutate a PipeData it received.
type PipeData struct {
	Kind Kind

	// NullOf is set when Kind == KindNone: the stub this typed null stands in
	// for. A None value matches any port declared with this stub.
	NullOf PipeDataStub

	Text string

	Integer       int64
	IsNonNegative bool // also used by Float

	Float float64

	HashAlgorithm HashAlgorithm
	HashBytes     []byte

	Mime   string // Kind == KindBytes
	Source BytesSource

	ClassID int64 // Kind == KindReference
	ItemID  int64

	ObjectKey string // Kind == KindBlob
}

// None constructs a typed null standing in for stub s.
func None(s PipeDataStub) PipeData { return PipeData{Kind: KindNone, NullOf: s} }

// NewText constructs a PipeData carrying a string.
func NewText(s string) PipeData { return PipeData{Kind: KindText, Text: s} }

// NewInteger constructs an Integer value; nonNegative carries the constraint
// flag a consumer must check before treating it as a PositiveInteger.
func NewInteger(v int64, nonNegative bool) PipeData {
	return PipeData{Kind: KindInteger, Integer: v, IsNonNegative: nonNegative}
}

// NewFloat constructs a Float value with the same non-negative carry flag as
// NewInteger.
func NewFloat(v float64, nonNegative bool) PipeData {
	return PipeData{Kind: KindFloat, Float: v, IsNonNegative: nonNegative}
}

// NewBoolean constructs a Boolean value.
func NewBoolean(b bool) PipeData {
	d := PipeData{Kind: KindBoolean}
	if b {
		d.Integer = 1
	}
	return d
}

// Bool reports the carried boolean.
func (p PipeData) Bool() bool { return p.Kind == KindBoolean && p.Integer != 0 }

// NewHash constructs a Hash value.
func NewHash(alg HashAlgorithm, sum []byte) PipeData {
	return PipeData{Kind: KindHash, HashAlgorithm: alg, HashBytes: sum}
}

// NewBytes constructs a Bytes value with a concrete MIME type and source.
func NewBytes(mime string, source BytesSource) PipeData {
	return PipeData{Kind: KindBytes, Mime: mime, Source: source}
}

// NewReference constructs a Reference value: a typed foreign key into one
// item-database class.
func NewReference(classID, itemID int64) PipeData {
	return PipeData{Kind: KindReference, ClassID: classID, ItemID: itemID}
}

// NewBlob constructs a Blob value: an opaque handle to a committed object.
func NewBlob(objectKey string) PipeData {
	return PipeData{Kind: KindBlob, ObjectKey: objectKey}
}

// Stub projects this value down to its type-only stub. A None value projects
// to the stub it stands in for, not to KindNone itself — this is what lets
// None(s) satisfy any port declared with stub s.
func (p PipeData) Stub() PipeDataStub {
	switch p.Kind {
	case KindNone:
		return p.NullOf
	case KindBytes:
		return PipeDataStub{Kind: KindBytes, Mime: p.Mime}
	default:
		return PipeDataStub{Kind: p.Kind}
	}
}

// IsNone reports whether this value is a typed null.
func (p PipeData) IsNone() bool { return p.Kind == KindNone }

func (p PipeData) String() string {
	switch p.Kind {
	case KindNone:
		return fmt.Sprintf("None(%s)", p.NullOf)
	case KindText:
		return fmt.Sprintf("Text(%q)", p.Text)
	case KindInteger:
		return fmt.Sprintf("Integer(%d)", p.Integer)
	case KindFloat:
		return fmt.Sprintf("Float(%v)", p.Float)
	case KindBoolean:
		return fmt.Sprintf("Boolean(%v)", p.Bool())
	case KindHash:
		return fmt.Sprintf("Hash(%s, %x)", p.HashAlgorithm, p.HashBytes)
	case KindBytes:
		return fmt.Sprintf("Bytes(%s)", p.Mime)
	case KindReference:
		return fmt.Sprintf("Reference(class=%d, item=%d)", p.ClassID, p.ItemID)
	case KindBlob:
		return fmt.Sprintf("Blob(%s)", p.ObjectKey)
	default:
		return fmt.Sprintf("<invalid PipeData kind %q>", p.Kind)
	}
}
