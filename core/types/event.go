package types

// Event represents a typed event emitted during marketplace state transitions.
// Attributes carry hex-encoded addresses and decimal amounts so payloads are
// stable across encoders.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
