package pipedata

// ParamKind discriminates ParamValue variants. Distinct from Kind because a
// parameter's "String" variant is not the same thing as a data "Text" value
// even though both wrap a Go string — the dispatcher's schema matching keys
// off ParamKind, never off Kind, to keep the two universes from collapsing
// into each other on the wire.
type ParamKind string

const (
	ParamString  ParamKind = "String"
	ParamInteger ParamKind = "Integer"
	ParamFloat   ParamKind = "Float"
	ParamBoolean ParamKind = "Boolean"
	ParamData    ParamKind = "Data"
	ParamList    ParamKind = "List"
)

// ParamValue is the tagged union node parameters are expressed in. The tag is
// explicit on the wire and in memory — never a transparent single-field
// encoding — because parameter parsers must disambiguate a param String from
// a Data(Text) value that happens to share a Go string underneath.
type ParamValue struct {
	Kind ParamKind

	String  string
	Integer int64
	Float   float64
	Boolean bool
	Data    PipeData
	List    []ParamValue
}

func NewParamString(s string) ParamValue  { return ParamValue{Kind: ParamString, String: s} }
func NewParamInteger(v int64) ParamValue  { return ParamValue{Kind: ParamInteger, Integer: v} }
func NewParamFloat(v float64) ParamValue  { return ParamValue{Kind: ParamFloat, Float: v} }
func NewParamBoolean(b bool) ParamValue   { return ParamValue{Kind: ParamBoolean, Boolean: b} }
func NewParamData(d PipeData) ParamValue  { return ParamValue{Kind: ParamData, Data: d} }
func NewParamList(l []ParamValue) ParamValue {
	return ParamValue{Kind: ParamList, List: l}
}

// Stub projects a Data-kind parameter down to the stub its node output port
// should declare. Constant's output port stub is stub-of(param) — a None
// param value projects through PipeData.Stub() to the stub it stands in for,
// exactly as it would for an ordinary edge value.
func (p ParamValue) Stub() (PipeDataStub, bool) {
	if p.Kind != ParamData {
		return PipeDataStub{}, false
	}
	return p.Data.Stub(), true
}
