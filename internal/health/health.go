// Package health exposes the read-only liveness snapshot. It must never
// carry secret material.
package health

// Status is the health probe payload.
type Status struct {
	Status      string `json:"status"`
	ShadowMode  bool   `json:"shadow_mode"`
	LoadedRules int    `json:"loaded_rules"`
	Version     string `json:"version"`
}
