package core

import (
	"encoding/json"
	"time"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ValidSeverity reports whether s is one of the accepted severity levels.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// EventDraft is an audit event as submitted by a producer: the full event
// minus identity and chain fields, which are assigned at ledger insert.
type EventDraft struct {
	TenantID       string          `json:"tenant_id"`
	EventTS        time.Time       `json:"event_ts"`
	EventType      string          `json:"event_type"`
	Severity       Severity        `json:"severity"`
	SchemaVersion  int             `json:"schema_version"`
	InstanceID     *string         `json:"instance_id,omitempty"`
	StepID         *string         `json:"step_id,omitempty"`
	EntityType     *string         `json:"entity_type,omitempty"`
	EntityID       *string         `json:"entity_id,omitempty"`
	EntitySnapshot json.RawMessage `json:"entity_snapshot,omitempty"`
	Actor          json.RawMessage `json:"actor"`
	ActorID        string          `json:"actor_id"`
	ActorIsAdmin   bool            `json:"actor_is_admin"`
	Action         string          `json:"action"`
	StateBefore    json.RawMessage `json:"state_before,omitempty"`
	StateAfter     json.RawMessage `json:"state_after,omitempty"`
	Detail         json.RawMessage `json:"detail,omitempty"`
	CorrelationID  *string         `json:"correlation_id,omitempty"`
	SessionID      *string         `json:"session_id,omitempty"`
	TraceID        *string         `json:"trace_id,omitempty"`
	OriginIP       *string         `json:"origin_ip,omitempty"`
}

// Validate rejects a draft before it has any storage effect.
func (d *EventDraft) Validate() *AppError {
	switch {
	case d.TenantID == "":
		return NewAppError(ErrValidation, "tenant_id is required")
	case d.EventTS.IsZero():
		return NewAppError(ErrValidation, "event_ts is required")
	case d.EventType == "":
		return NewAppError(ErrValidation, "event_type is required")
	case !ValidSeverity(d.Severity):
		return NewAppError(ErrValidation, "severity must be one of info, warning, error, critical")
	case d.ActorID == "":
		return NewAppError(ErrValidation, "actor_id is required")
	case len(d.Actor) == 0:
		return NewAppError(ErrValidation, "actor is required")
	case d.Action == "":
		return NewAppError(ErrValidation, "action is required")
	case d.SchemaVersion < 0:
		return NewAppError(ErrValidation, "schema_version must not be negative")
	}
	if d.CorrelationID != nil && *d.CorrelationID == "" {
		return NewAppError(ErrValidation, "correlation_id must not be empty when set")
	}
	return nil
}

// AuditEvent is the stored, immutable fact. Payload fields hold plaintext;
// encryption at rest is a storage concern.
type AuditEvent struct {
	EventID        string          `json:"event_id"`
	EventTS        time.Time       `json:"event_ts"`
	TenantID       string          `json:"tenant_id"`
	EventType      string          `json:"event_type"`
	Severity       Severity        `json:"severity"`
	SchemaVersion  int             `json:"schema_version"`
	InstanceID     *string         `json:"instance_id,omitempty"`
	StepID         *string         `json:"step_id,omitempty"`
	EntityType     *string         `json:"entity_type,omitempty"`
	EntityID       *string         `json:"entity_id,omitempty"`
	EntitySnapshot json.RawMessage `json:"entity_snapshot,omitempty"`
	Actor          json.RawMessage `json:"actor"`
	ActorID        string          `json:"actor_id"`
	ActorIsAdmin   bool            `json:"actor_is_admin"`
	Action         string          `json:"action"`
	StateBefore    json.RawMessage `json:"state_before,omitempty"`
	StateAfter     json.RawMessage `json:"state_after,omitempty"`
	Detail         json.RawMessage `json:"detail,omitempty"`
	CorrelationID  *string         `json:"correlation_id,omitempty"`
	SessionID      *string         `json:"session_id,omitempty"`
	TraceID        *string         `json:"trace_id,omitempty"`
	OriginIP       *string         `json:"origin_ip,omitempty"`
	ChainSeq       int64           `json:"chain_seq"`
	HashPrev       string          `json:"hash_prev"`
	HashCurr       string          `json:"hash_curr"`
	KeyVersion     int             `json:"key_version"`
	Redacted       bool            `json:"redacted"`
	CreatedAt      time.Time       `json:"created_at"`
}
