package types

// Event captures a structured state change produced by the marketplace engine.
// Attributes hold string-encoded fields so events can be surfaced verbatim
// over RPC and consumed by external indexers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
