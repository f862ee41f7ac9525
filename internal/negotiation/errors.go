package negotiation

import "errors"

// Error kinds surfaced by the engine and pipeline. The HTTP layer maps
// these to transport codes; pure components only ever return wrapped
// sentinels so callers can test with errors.Is.
var (
	// ErrNotFound: a referenced deal, message or requisition does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict: the deal is not in a status that permits the operation,
	// or a concurrent round update won the race.
	ErrConflict = errors.New("conflict")
	// ErrValidation: the input is rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrDependency: a transient dependency failure (store, LLM). Retried or
	// degraded by the pipeline, never surfaced raw past its boundary.
	ErrDependency = errors.New("dependency unavailable")
)
