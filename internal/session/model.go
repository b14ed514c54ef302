// Package session implements the Session Prompt Loop, compaction, and
// the per-session task registry, layered on top of the already
// structured internal/store message store and the internal/turn
// runner/preparer.
package session

// ModelPricing is per-million-token pricing for one model, used to
// compute the cost attached to each assistant message and step-finish
// part.
type ModelPricing struct {
	Input      float64
	Output     float64
	CacheRead  float64
	CacheWrite float64
}

// ModelLimits bounds a model's context window. Input, when non-zero,
// takes precedence over Context in the overflow-threshold formula.
type ModelLimits struct {
	Context int64
	Input   int64
	Output  int64
}

// ModelInfo is the subset of a model's catalog entry the prompt loop
// and compaction need: identity, limits, and pricing.
type ModelInfo struct {
	ProviderID string
	ModelID    string
	Limits     ModelLimits
	Cost       ModelPricing
}
