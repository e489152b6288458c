package hashchain

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/lzjever/mbos-atl/internal/core"
)

// Canonicalize produces an order-stable serialization of the event's content
// fields. Two events with identical content always canonicalize to identical
// bytes regardless of map ordering or payload key order.
func Canonicalize(e *core.AuditEvent) []byte {
	fields := map[string]json.RawMessage{
		"event_id":       mustJSON(e.EventID),
		"event_ts":       mustJSON(e.EventTS.UTC().Format(time.RFC3339Nano)),
		"tenant_id":      mustJSON(e.TenantID),
		"event_type":     mustJSON(e.EventType),
		"severity":       mustJSON(string(e.Severity)),
		"schema_version": mustJSON(e.SchemaVersion),
		"actor_id":       mustJSON(e.ActorID),
		"actor_is_admin": mustJSON(e.ActorIsAdmin),
		"action":         mustJSON(e.Action),
		"chain_seq":      mustJSON(e.ChainSeq),
	}
	putString(fields, "instance_id", e.InstanceID)
	putString(fields, "step_id", e.StepID)
	putString(fields, "entity_type", e.EntityType)
	putString(fields, "entity_id", e.EntityID)
	putString(fields, "correlation_id", e.CorrelationID)
	putString(fields, "session_id", e.SessionID)
	putString(fields, "trace_id", e.TraceID)
	putString(fields, "origin_ip", e.OriginIP)
	putRaw(fields, "entity_snapshot", e.EntitySnapshot)
	putRaw(fields, "actor", e.Actor)
	putRaw(fields, "state_before", e.StateBefore)
	putRaw(fields, "state_after", e.StateAfter)
	putRaw(fields, "detail", e.Detail)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}
		kb, _ := json.Marshal(k)
		result = append(result, kb...)
		result = append(result, ':')
		result = append(result, sortedJSON(fields[k])...)
	}
	result = append(result, '}')
	return result
}

func putString(fields map[string]json.RawMessage, key string, v *string) {
	if v != nil {
		fields[key] = mustJSON(*v)
	}
}

func putRaw(fields map[string]json.RawMessage, key string, v json.RawMessage) {
	if len(v) > 0 {
		fields[key] = v
	}
}

func mustJSON(v interface{}) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// sortedJSON recursively sorts JSON object keys.
func sortedJSON(data json.RawMessage) []byte {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		// Not an object (array, string, number, etc.) — return as-is compact.
		var v interface{}
		if err2 := json.Unmarshal(data, &v); err2 != nil {
			return data
		}
		b, _ := json.Marshal(v)
		return b
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}
		kb, _ := json.Marshal(k)
		result = append(result, kb...)
		result = append(result, ':')
		result = append(result, sortedJSON(obj[k])...)
	}
	result = append(result, '}')
	return result
}
