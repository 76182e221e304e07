package pipeline

import "fmt"

// BuildError is the typed validation failure taxonomy from spec §4.2/§7.
// Every variant names the offending node id and/or edge endpoints so a
// caller can surface a precise, user-visible diagnosis (spec §7: "for
// BuildError they additionally carry the offending node id and/or edge
// endpoints").
type BuildError struct {
	Kind    BuildErrorKind
	Node    string
	Port    string
	Source  PortRef
	Target  PortRef
	Message string
}

// BuildErrorKind enumerates the ways a pipeline document can fail to build.
type BuildErrorKind string

const (
	UnknownNode         BuildErrorKind = "UnknownNode"
	MissingEndpoint     BuildErrorKind = "MissingEndpoint"
	TypeMismatch        BuildErrorKind = "TypeMismatch"
	DuplicateIncoming   BuildErrorKind = "DuplicateIncomingEdge"
	HasCycle            BuildErrorKind = "HasCycle"
	MissingInput        BuildErrorKind = "MissingInput"
	ParamError          BuildErrorKind = "ParamError"
	MissingJobInput     BuildErrorKind = "MissingJobInput"
	JobInputTypeError   BuildErrorKind = "JobInputTypeError"
	UnknownJobInput     BuildErrorKind = "UnknownJobInput"
)

func (e *BuildError) Error() string {
	switch e.Kind {
	case UnknownNode:
		return fmt.Sprintf("pipeline build: unknown node type for %q: %s", e.Node, e.Message)
	case MissingEndpoint:
		return fmt.Sprintf("pipeline build: edge references missing endpoint %s -> %s", e.Source, e.Target)
	case TypeMismatch:
		return fmt.Sprintf("pipeline build: type mismatch %s -> %s: %s", e.Source, e.Target, e.Message)
	case DuplicateIncoming:
		return fmt.Sprintf("pipeline build: port %s.%s has more than one incoming Data edge", e.Node, e.Port)
	case HasCycle:
		return fmt.Sprintf("pipeline build: cycle includes node %q", e.Node)
	case MissingInput:
		return fmt.Sprintf("pipeline build: required input %s.%s is neither connected nor defaulted", e.Node, e.Port)
	case ParamError:
		return fmt.Sprintf("pipeline build: node %q: %s", e.Node, e.Message)
	case MissingJobInput:
		return fmt.Sprintf("pipeline build: job input node %q has no submitted value", e.Node)
	case JobInputTypeError:
		return fmt.Sprintf("pipeline build: job input %q: %s", e.Node, e.Message)
	case UnknownJobInput:
		return fmt.Sprintf("pipeline build: submitted input %q does not name an input node", e.Node)
	default:
		return fmt.Sprintf("pipeline build: %s: %s", e.Kind, e.Message)
	}
}

func newBuildError(kind BuildErrorKind, node, port string, msg string) *BuildError {
	return &BuildError{Kind: kind, Node: node, Port: port, Message: msg}
}
