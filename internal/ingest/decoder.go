// Package ingest decodes JSON telemetry records, one object or an array of
// objects, into typed model values.
package ingest

import (
	"fmt"
	"time"

	"github.com/valyala/fastjson"

	"github.com/dreadstar/orbot-meshrabiya-integration/internal/model"
)

// Record kinds accepted in the "kind" field. A missing kind is KindLog.
const (
	KindLog               = "log"
	KindMeshEvent         = "mesh_event"
	KindUserAction        = "user_action"
	KindNetworkConditions = "network_conditions"
	KindBatteryImpact     = "battery_impact"
	KindInstallationStep  = "installation_step"
	KindProtestMetrics    = "protest_metrics"
)

// Sink receives decoded records. *engine.Store implements it.
type Sink interface {
	Log(model.LogEntry)
	RecordMeshEvent(model.MeshEvent)
	RecordUserAction(model.UserAction)
	RecordNetworkConditions(model.NetworkConditions)
	RecordBatteryImpact(model.BatteryImpact)
	RecordInstallationStep(model.InstallationStep)
	RecordProtestMetrics(model.ProtestMetrics)
}

// Batch holds the records of one input document, grouped by kind in input
// order.
type Batch struct {
	Logs              []model.LogEntry
	MeshEvents        []model.MeshEvent
	UserActions       []model.UserAction
	NetworkConditions []model.NetworkConditions
	BatteryImpacts    []model.BatteryImpact
	InstallationSteps []model.InstallationStep
	ProtestMetrics    []model.ProtestMetrics
}

// Len returns the total number of records.
func (b *Batch) Len() int {
	return len(b.Logs) + len(b.MeshEvents) + len(b.UserActions) + len(b.NetworkConditions) +
		len(b.BatteryImpacts) + len(b.InstallationSteps) + len(b.ProtestMetrics)
}

// Apply hands every record to sink.
func (b *Batch) Apply(sink Sink) {
	for _, e := range b.Logs {
		sink.Log(e)
	}
	for _, e := range b.MeshEvents {
		sink.RecordMeshEvent(e)
	}
	for _, e := range b.UserActions {
		sink.RecordUserAction(e)
	}
	for _, e := range b.NetworkConditions {
		sink.RecordNetworkConditions(e)
	}
	for _, e := range b.BatteryImpacts {
		sink.RecordBatteryImpact(e)
	}
	for _, e := range b.InstallationSteps {
		sink.RecordInstallationStep(e)
	}
	for _, e := range b.ProtestMetrics {
		sink.RecordProtestMetrics(e)
	}
}

// Decoder parses JSON telemetry. It is safe for concurrent use.
type Decoder struct {
	parser fastjson.ParserPool
	now    func() time.Time
}

// NewDecoder creates a Decoder that stamps records lacking a timestamp with
// the current time.
func NewDecoder() *Decoder {
	return &Decoder{now: time.Now}
}

// Decode parses data. Either every record decodes or an error is returned
// and nothing is produced.
func (d *Decoder) Decode(data []byte) (*Batch, error) {
	p := d.parser.Get()
	defer d.parser.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	batch := &Batch{}
	switch v.Type() {
	case fastjson.TypeArray:
		arr, _ := v.Array()
		for i, val := range arr {
			if err := d.decodeOne(batch, val); err != nil {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
		}
	case fastjson.TypeObject:
		if err := d.decodeOne(batch, v); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("expected object or array, got %s", v.Type())
	}
	return batch, nil
}

func (d *Decoder) decodeOne(b *Batch, v *fastjson.Value) error {
	if v.Type() != fastjson.TypeObject {
		return fmt.Errorf("expected object, got %s", v.Type())
	}

	ts, err := d.timestamp(v)
	if err != nil {
		return err
	}

	kind := string(v.GetStringBytes("kind"))
	switch kind {
	case "", KindLog:
		level := model.LevelBasic
		if raw := v.GetStringBytes("level"); len(raw) > 0 {
			if level, err = model.ParseLevel(string(raw)); err != nil {
				return err
			}
		}
		msg := string(v.GetStringBytes("message"))
		if msg == "" {
			msg = string(v.GetStringBytes("msg"))
		}
		b.Logs = append(b.Logs, model.LogEntry{
			Timestamp: ts,
			Level:     level,
			Category:  string(v.GetStringBytes("category")),
			Message:   msg,
			Metadata:  stringMap(v.Get("metadata")),
		})

	case KindMeshEvent:
		b.MeshEvents = append(b.MeshEvents, model.MeshEvent{
			Timestamp:     ts,
			NodeID:        string(v.GetStringBytes("node_id")),
			EventType:     string(v.GetStringBytes("event_type")),
			Role:          string(v.GetStringBytes("role")),
			NeighborCount: v.GetInt("neighbor_count"),
			Centrality:    v.GetFloat64("centrality"),
			HasInternet:   v.GetBool("has_internet"),
			Details:       stringMap(v.Get("details")),
		})

	case KindUserAction:
		b.UserActions = append(b.UserActions, model.UserAction{
			Timestamp: ts,
			Action:    string(v.GetStringBytes("action")),
			Screen:    string(v.GetStringBytes("screen")),
			Details:   stringMap(v.Get("details")),
		})

	case KindNetworkConditions:
		b.NetworkConditions = append(b.NetworkConditions, model.NetworkConditions{
			Timestamp:      ts,
			ConnectionType: string(v.GetStringBytes("connection_type")),
			SignalStrength: v.GetInt("signal_strength"),
			LatencyMs:      v.GetInt64("latency_ms"),
			BandwidthKbps:  v.GetFloat64("bandwidth_kbps"),
			PacketLoss:     v.GetFloat64("packet_loss"),
			HasInternet:    v.GetBool("has_internet"),
		})

	case KindBatteryImpact:
		b.BatteryImpacts = append(b.BatteryImpacts, model.BatteryImpact{
			Timestamp:    ts,
			BatteryLevel: v.GetInt("battery_level"),
			DrainRate:    v.GetFloat64("drain_rate"),
			Charging:     v.GetBool("charging"),
			Role:         string(v.GetStringBytes("role")),
		})

	case KindInstallationStep:
		b.InstallationSteps = append(b.InstallationSteps, model.InstallationStep{
			Timestamp:  ts,
			Step:       string(v.GetStringBytes("step")),
			Success:    v.GetBool("success"),
			DurationMs: v.GetInt64("duration_ms"),
			Error:      string(v.GetStringBytes("error")),
		})

	case KindProtestMetrics:
		b.ProtestMetrics = append(b.ProtestMetrics, model.ProtestMetrics{
			Timestamp:          ts,
			PeerCount:          v.GetInt("peer_count"),
			MessagesRelayed:    v.GetInt("messages_relayed"),
			BlockedEndpoints:   v.GetInt("blocked_endpoints"),
			CensorshipDetected: v.GetBool("censorship_detected"),
		})

	default:
		return fmt.Errorf("unknown record kind %q", kind)
	}
	return nil
}

// timestamp reads "timestamp" as an RFC 3339 string or unix milliseconds.
// A missing value means now.
func (d *Decoder) timestamp(v *fastjson.Value) (time.Time, error) {
	tv := v.Get("timestamp")
	if tv == nil || tv.Type() == fastjson.TypeNull {
		return model.Timestamp(d.now()), nil
	}

	switch tv.Type() {
	case fastjson.TypeString:
		raw, _ := tv.StringBytes()
		t, err := time.Parse(time.RFC3339Nano, string(raw))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", raw, err)
		}
		return model.Timestamp(t), nil
	case fastjson.TypeNumber:
		ms, err := tv.Int64()
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp: %w", err)
		}
		return model.Timestamp(time.UnixMilli(ms)), nil
	default:
		return time.Time{}, fmt.Errorf("invalid timestamp type %s", tv.Type())
	}
}

// stringMap converts a JSON object to map[string]string. Non-string values
// keep their JSON text. Nil or empty objects yield nil.
func stringMap(v *fastjson.Value) map[string]string {
	if v == nil {
		return nil
	}
	obj, err := v.Object()
	if err != nil || obj.Len() == 0 {
		return nil
	}
	out := make(map[string]string, obj.Len())
	obj.Visit(func(key []byte, val *fastjson.Value) {
		if val.Type() == fastjson.TypeString {
			out[string(key)] = string(val.GetStringBytes())
			return
		}
		out[string(key)] = val.String()
	})
	return out
}
