package simulate

import "errors"

// Sentinel errors for scenario loading and server calls.
var (
	ErrUnknownScenario = errors.New("unknown scenario")
	ErrInvalidScenario = errors.New("invalid scenario")
	ErrServer          = errors.New("server rejected request")
)
