// Package ledger maintains the tamper-evident audit ledger: an append-only,
// hash-chained log of privileged actions, one chain per tenant.
package ledger

import (
	"encoding/json"
	"time"

	id "nightwatch/pkg/domain"
)

// Action is the privileged action an entry records.
type Action string

const (
	ActionSessionStart       Action = "VIP_SESSION_START"
	ActionManualCountUpdate  Action = "MANUAL_COUNT_UPDATED"
	ActionSessionClose       Action = "VIP_SESSION_CLOSED"
	ActionSessionVerified    Action = "VIP_SESSION_VERIFIED"
	ActionSessionMismatch    Action = "VIP_SESSION_MISMATCH"
	ActionSessionDisputed    Action = "VIP_SESSION_DISPUTED"
	ActionAlertCreated       Action = "ALERT_CREATED"
	ActionAlertAcknowledged  Action = "ALERT_ACKNOWLEDGED"
	ActionAlertResolved      Action = "ALERT_RESOLVED"
	ActionAlertDismissed     Action = "ALERT_DISMISSED"
	ActionOverride           Action = "OVERRIDE"
	ActionVoid               Action = "VOID"
	ActionDelete             Action = "DELETE"
	ActionChainHaltCleared   Action = "CHAIN_HALT_CLEARED"
)

// flaggedActions are the categories the anomaly detector counts toward the
// rolling access-violation rule. A downward manual-count correction is
// legal but suspicious in volume, so it is tracked alongside the
// override/void/delete categories.
var flaggedActions = map[Action]bool{
	ActionOverride: true,
	ActionVoid:     true,
	ActionDelete:   true,
}

// IsFlaggedAction reports whether the action counts toward the rolling
// access-violation rule.
func IsFlaggedAction(a Action) bool {
	return flaggedActions[a]
}

// Entry is one immutable record in a tenant's hash chain.
type Entry struct {
	ID             id.EntryID      `json:"id"`
	TenantID       id.TenantID     `json:"tenant_id"`
	SequenceNumber uint64          `json:"sequence_number"`
	At             time.Time       `json:"at"`
	ActorID        id.StaffID      `json:"actor_id"`
	ActorRole      id.Role         `json:"actor_role"`
	ActorIP        string          `json:"actor_ip,omitempty"`
	ActorDevice    string          `json:"actor_device,omitempty"`
	Action         Action          `json:"action"`
	EntityType     string          `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	PreviousValue  json.RawMessage `json:"previous_value,omitempty"`
	NewValue       json.RawMessage `json:"new_value,omitempty"`
	PreviousHash   string          `json:"previous_hash"`
	EntryHash      string          `json:"entry_hash"`
}

// Draft is the caller-supplied portion of an entry. Sequence number, hashes,
// and timestamp are assigned by Append.
type Draft struct {
	TenantID      id.TenantID
	ActorID       id.StaffID
	ActorRole     id.Role
	ActorIP       string
	ActorDevice   string
	Action        Action
	EntityType    string
	EntityID      string
	PreviousValue json.RawMessage
	NewValue      json.RawMessage
}

// VerificationResult reports the outcome of a chain walk.
type VerificationResult struct {
	Valid       bool    `json:"valid"`
	BrokenAtSeq *uint64 `json:"broken_at_seq,omitempty"`
}

// ListFilter narrows a ledger query. Zero values mean "any".
type ListFilter struct {
	TenantID id.TenantID
	From     time.Time
	To       time.Time
	Action   Action
	ActorID  id.StaffID
	Limit    int
	Offset   int
}

// Halt records that ledger writes for a tenant are suspended after a failed
// chain verification.
type Halt struct {
	TenantID    id.TenantID
	BrokenAtSeq uint64
	HaltedAt    time.Time
}
