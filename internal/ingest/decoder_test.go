package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreadstar/orbot-meshrabiya-integration/internal/model"
)

var fixedNow = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func newTestDecoder() *Decoder {
	d := NewDecoder()
	d.now = func() time.Time { return fixedNow }
	return d
}

type recordingSink struct {
	logs    []model.LogEntry
	mesh    []model.MeshEvent
	actions []model.UserAction
	network []model.NetworkConditions
	battery []model.BatteryImpact
	install []model.InstallationStep
	protest []model.ProtestMetrics
}

func (s *recordingSink) Log(e model.LogEntry)                              { s.logs = append(s.logs, e) }
func (s *recordingSink) RecordMeshEvent(e model.MeshEvent)                 { s.mesh = append(s.mesh, e) }
func (s *recordingSink) RecordUserAction(e model.UserAction)               { s.actions = append(s.actions, e) }
func (s *recordingSink) RecordNetworkConditions(e model.NetworkConditions) { s.network = append(s.network, e) }
func (s *recordingSink) RecordBatteryImpact(e model.BatteryImpact)         { s.battery = append(s.battery, e) }
func (s *recordingSink) RecordInstallationStep(e model.InstallationStep)   { s.install = append(s.install, e) }
func (s *recordingSink) RecordProtestMetrics(e model.ProtestMetrics)       { s.protest = append(s.protest, e) }

func TestDecode_SingleLog(t *testing.T) {
	b, err := newTestDecoder().Decode([]byte(`{
		"timestamp": "2026-05-04T10:30:00Z",
		"level": "detailed",
		"category": "NETWORK",
		"message": "link degraded",
		"metadata": {"rssi": "-71", "retries": 3, "ok": false}
	}`))
	require.NoError(t, err)
	require.Len(t, b.Logs, 1)

	e := b.Logs[0]
	assert.Equal(t, time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC), e.Timestamp)
	assert.Equal(t, model.LevelDetailed, e.Level)
	assert.Equal(t, "NETWORK", e.Category)
	assert.Equal(t, "link degraded", e.Message)
	assert.Equal(t, map[string]string{"rssi": "-71", "retries": "3", "ok": "false"}, e.Metadata)
}

func TestDecode_Defaults(t *testing.T) {
	b, err := newTestDecoder().Decode([]byte(`{"category":"MESH_ROLE","msg":"short form"}`))
	require.NoError(t, err)
	require.Len(t, b.Logs, 1)

	e := b.Logs[0]
	assert.Equal(t, fixedNow, e.Timestamp)
	assert.Equal(t, model.LevelBasic, e.Level)
	assert.Equal(t, "short form", e.Message)
	assert.Nil(t, e.Metadata)
}

func TestDecode_UnixMillis(t *testing.T) {
	b, err := newTestDecoder().Decode([]byte(`{"timestamp": 1767225600000, "category": "X"}`))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), b.Logs[0].Timestamp)
}

func TestDecode_MixedBatch(t *testing.T) {
	b, err := newTestDecoder().Decode([]byte(`[
		{"kind":"log","category":"A","message":"one"},
		{"kind":"mesh_event","node_id":"n1","event_type":"JOIN","role":"relay","neighbor_count":4,"centrality":0.5,"has_internet":true,"details":{"ssid":"mesh"}},
		{"kind":"user_action","action":"toggle","screen":"home"},
		{"kind":"network_conditions","connection_type":"wifi","signal_strength":-60,"latency_ms":40,"bandwidth_kbps":1200.5,"packet_loss":0.02,"has_internet":true},
		{"kind":"battery_impact","battery_level":80,"drain_rate":2.5,"charging":true,"role":"leaf"},
		{"kind":"installation_step","step":"verify","success":true,"duration_ms":350},
		{"kind":"protest_metrics","peer_count":25,"messages_relayed":900,"blocked_endpoints":3,"censorship_detected":true}
	]`))
	require.NoError(t, err)
	assert.Equal(t, 7, b.Len())

	assert.Equal(t, model.MeshEvent{
		Timestamp: fixedNow, NodeID: "n1", EventType: "JOIN", Role: "relay",
		NeighborCount: 4, Centrality: 0.5, HasInternet: true, Details: map[string]string{"ssid": "mesh"},
	}, b.MeshEvents[0])
	assert.Equal(t, model.NetworkConditions{
		Timestamp: fixedNow, ConnectionType: "wifi", SignalStrength: -60, LatencyMs: 40,
		BandwidthKbps: 1200.5, PacketLoss: 0.02, HasInternet: true,
	}, b.NetworkConditions[0])
	assert.Equal(t, 25, b.ProtestMetrics[0].PeerCount)
	assert.True(t, b.InstallationSteps[0].Success)
	assert.True(t, b.BatteryImpacts[0].Charging)

	sink := &recordingSink{}
	b.Apply(sink)
	assert.Len(t, sink.logs, 1)
	assert.Len(t, sink.mesh, 1)
	assert.Len(t, sink.actions, 1)
	assert.Len(t, sink.network, 1)
	assert.Len(t, sink.battery, 1)
	assert.Len(t, sink.install, 1)
	assert.Len(t, sink.protest, 1)
}

func TestDecode_Errors(t *testing.T) {
	for name, input := range map[string]string{
		"malformed":      `{"category":`,
		"scalar":         `42`,
		"array of ints":  `[1, 2]`,
		"unknown kind":   `{"kind":"weather"}`,
		"bad level":      `{"level":"verbose"}`,
		"bad timestamp":  `{"timestamp":"yesterday"}`,
		"timestamp type": `{"timestamp":true}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := newTestDecoder().Decode([]byte(input))
			assert.Error(t, err)
		})
	}
}

func TestDecode_AllOrNothing(t *testing.T) {
	b, err := newTestDecoder().Decode([]byte(`[{"category":"ok"},{"kind":"bogus"}]`))
	assert.Error(t, err)
	assert.Nil(t, b)
	assert.Contains(t, err.Error(), "record 1")
}
