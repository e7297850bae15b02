// Package alert manages anomaly alerts raised by the detector and the
// integrity checks. Alerts carry evidence toward a manager's verdict;
// transitions are optimistic so two managers cannot both close one alert.
package alert

import (
	"encoding/json"
	"time"

	id "nightwatch/pkg/domain"
)

// Type classifies what kind of anomaly the alert describes.
type Type string

const (
	TypeCountMismatch   Type = "COUNT_MISMATCH"
	TypeRevenueAnomaly  Type = "REVENUE_ANOMALY"
	TypePatternAnomaly  Type = "PATTERN_ANOMALY"
	TypeAccessViolation Type = "ACCESS_VIOLATION"
	TypeTimeAnomaly     Type = "TIME_ANOMALY"
)

// Severity ranks an alert for triage ordering.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Status is the alert lifecycle state.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusResolved     Status = "RESOLVED"
	StatusDismissed    Status = "DISMISSED"
)

// IsTerminal reports whether the status admits no further transition.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusDismissed
}

// AnomalyAlert is one raised anomaly. The related entity reference doubles
// as the dedup key: at most one open alert exists per
// (entity type, entity id, alert type) within a tenant.
type AnomalyAlert struct {
	ID       id.AlertID  `json:"id"`
	TenantID id.TenantID `json:"tenant_id"`

	Type     Type     `json:"type"`
	Severity Severity `json:"severity"`
	Status   Status   `json:"status"`

	RelatedEntityType string      `json:"related_entity_type"`
	RelatedEntityID   string      `json:"related_entity_id"`
	RelatedActorID    *id.StaffID `json:"related_actor_id,omitempty"`

	Details json.RawMessage `json:"details,omitempty"`

	Resolution    string      `json:"resolution,omitempty"`
	DismissReason string      `json:"dismiss_reason,omitempty"`
	ResolvedBy    *id.StaffID `json:"resolved_by,omitempty"`
	ResolvedAt    *time.Time  `json:"resolved_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Draft is the detector-facing creation payload.
type Draft struct {
	TenantID          id.TenantID
	Type              Type
	Severity          Severity
	RelatedEntityType string
	RelatedEntityID   string
	RelatedActorID    *id.StaffID
	Details           any
}

// ListFilter selects alerts for listings and the performance aggregator.
type ListFilter struct {
	TenantID       id.TenantID
	Status         Status
	Severity       Severity
	Type           Type
	RelatedActorID id.StaffID
	From           time.Time
	To             time.Time
	Limit          int
	Offset         int
}

// ledgerSnapshot is the previous/new value payload on alert ledger entries.
type ledgerSnapshot struct {
	Status        Status `json:"status"`
	Resolution    string `json:"resolution,omitempty"`
	DismissReason string `json:"dismiss_reason,omitempty"`
}

func snapshot(a *AnomalyAlert) ledgerSnapshot {
	return ledgerSnapshot{
		Status:        a.Status,
		Resolution:    a.Resolution,
		DismissReason: a.DismissReason,
	}
}
