package models

import "time"

// AdjacencyRow is an append-only topology graph record: a host, subnet or
// zone vertex, or an edge between two of them.
type AdjacencyRow struct {
	Timestamp  time.Time              `json:"ts"`
	BuildID    string                 `json:"build_id,omitempty"`
	RecordType string                 `json:"record_type"` // vertex or edge
	Type       string                 `json:"type"`
	VertexID   string                 `json:"vertex_id"`
	AdjacentID string                 `json:"adjacent_id,omitempty"`
	AgentID    string                 `json:"agent_id,omitempty"`
	Hostname   string                 `json:"host,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
}
