package core

import (
	"encoding/json"
	"time"
)

type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxPersisted  OutboxStatus = "persisted"
	OutboxFailed     OutboxStatus = "failed"
	OutboxDead       OutboxStatus = "dead"
)

type OutboxItem struct {
	ItemID        string          `json:"item_id"`
	TenantID      string          `json:"tenant_id"`
	Payload       json.RawMessage `json:"payload"`
	Status        OutboxStatus    `json:"status"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LockedBy      *string         `json:"locked_by,omitempty"`
	LockedAt      *time.Time      `json:"locked_at,omitempty"`
	LastError     json.RawMessage `json:"last_error,omitempty"`
	EventID       *string         `json:"event_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// IsTerminal returns true if the item is in a final state.
func (i *OutboxItem) IsTerminal() bool {
	return i.Status == OutboxPersisted || i.Status == OutboxDead
}

// NextBackoff computes the delay before attempt n+1 after n failed attempts:
// base doubled per prior failure, capped at max.
func NextBackoff(attempts int, base, max time.Duration) time.Duration {
	if attempts < 1 {
		return base
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
