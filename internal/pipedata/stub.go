package pipedata

// PipeDataStub is the type-only projection of a PipeData value: the same
// variant tag without payload. Bytes stubs carry either a concrete MIME type
// or "" to mean "any" — the one case where two stubs that differ under strict
// equality (an any-MIME target, a concrete-MIME source) are still compatible
// under StubsCompatible.
type PipeDataStub struct {
	Kind Kind
	Mime string // only meaningful when Kind == KindBytes
}

func (s PipeDataStub) String() string {
	if s.Kind == KindBytes {
		mime := s.Mime
		if mime == "" {
			mime = "any"
		}
		return "Bytes(" + mime + ")"
	}
	return string(s.Kind)
}

// AnyMime is the sentinel Bytes stub mime meaning "accepts any concrete
// MIME type".
const AnyMime = ""

// StubsCompatible reports whether a value produced at `source`'s declared
// stub may flow into a port declared at `target`'s stub, per spec's matching
// rule: stubs must match exactly, except a target Bytes stub of AnyMime
// accepts a source of any concrete MIME.
func StubsCompatible(source, target PipeDataStub) bool {
	if source.Kind != target.Kind {
		return false
	}
	if source.Kind != KindBytes {
		return true
	}
	if target.Mime == AnyMime {
		return true
	}
	return source.Mime == target.Mime
}

// MatchesPort reports whether a runtime value satisfies a port declared with
// the given stub. A None value matches iff the stub it stands in for
// satisfies the port (via StubsCompatible); any other value matches iff its
// own stub does.
func MatchesPort(value PipeData, port PipeDataStub) bool {
	return StubsCompatible(value.Stub(), port)
}
