package model

import "time"

// Typed telemetry records produced by the mesh protocol layer and the UI.
// They carry no level and are never filtered on read.

// MeshEvent records a mesh topology or role change observed by this node.
type MeshEvent struct {
	Timestamp     time.Time         `json:"timestamp"`
	NodeID        string            `json:"node_id"`
	EventType     string            `json:"event_type"`
	Role          string            `json:"role,omitempty"`
	NeighborCount int               `json:"neighbor_count"`
	Centrality    float64           `json:"centrality"`
	HasInternet   bool              `json:"has_internet"`
	Details       map[string]string `json:"details,omitempty"`
}

// UserAction records an interaction with the application UI.
type UserAction struct {
	Timestamp time.Time         `json:"timestamp"`
	Action    string            `json:"action"`
	Screen    string            `json:"screen,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// NetworkConditions is a point-in-time sample of link quality.
type NetworkConditions struct {
	Timestamp      time.Time `json:"timestamp"`
	ConnectionType string    `json:"connection_type"`
	SignalStrength int       `json:"signal_strength"`
	LatencyMs      int64     `json:"latency_ms"`
	BandwidthKbps  float64   `json:"bandwidth_kbps"`
	PacketLoss     float64   `json:"packet_loss"`
	HasInternet    bool      `json:"has_internet"`
}

// BatteryImpact is a battery sample taken while the mesh is active.
type BatteryImpact struct {
	Timestamp    time.Time `json:"timestamp"`
	BatteryLevel int       `json:"battery_level"`
	DrainRate    float64   `json:"drain_rate"`
	Charging     bool      `json:"charging"`
	Role         string    `json:"role,omitempty"`
}

// InstallationStep records one step of the onboarding/installation flow.
type InstallationStep struct {
	Timestamp  time.Time `json:"timestamp"`
	Step       string    `json:"step"`
	Success    bool      `json:"success"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// ProtestMetrics aggregates relay activity under censorship conditions.
// No identifying data is recorded.
type ProtestMetrics struct {
	Timestamp          time.Time `json:"timestamp"`
	PeerCount          int       `json:"peer_count"`
	MessagesRelayed    int       `json:"messages_relayed"`
	BlockedEndpoints   int       `json:"blocked_endpoints"`
	CensorshipDetected bool      `json:"censorship_detected"`
}
