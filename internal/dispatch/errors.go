package dispatch

import "errors"

// Sentinel errors for the dispatcher, matched with errors.Is by callers in
// internal/pipeline and internal/plan when mapping to spec's typed build
// error taxonomy (spec §7).
var (
	ErrAlreadyRegistered    = errors.New("node type already registered")
	ErrRegistryFrozen       = errors.New("registry is frozen after first build")
	ErrUnknownNode          = errors.New("unknown node type")
	ErrUnknownParam         = errors.New("unknown parameter")
	ErrMissingParam         = errors.New("missing required parameter")
	ErrParamKindMismatch    = errors.New("parameter kind mismatch")
	ErrParamValueNotAllowed = errors.New("parameter value not allowed")
)
