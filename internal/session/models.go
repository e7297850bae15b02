// Package session owns the VIP session lifecycle: one dancer/booth pairing
// tracked from start through count reconciliation to its terminal verdict.
// Every state transition lands on the audit ledger in the same atomic unit
// as the session mutation.
package session

import (
	"time"

	"nightwatch/internal/reconcile"
	id "nightwatch/pkg/domain"
)

// State is the session lifecycle state.
type State string

const (
	// StateActive is the open state: counts accumulate, the booth is held.
	StateActive State = "ACTIVE"
	// StatePendingConfirmation follows close; the reconciliation snapshot is
	// stored and the customer verdict is awaited.
	StatePendingConfirmation State = "PENDING_CONFIRMATION"
	// Terminal states. DISPUTED sessions may still be escalated outside the
	// counting flow, but no session operation touches them again.
	StateVerified State = "VERIFIED"
	StateMismatch State = "MISMATCH"
	StateDisputed State = "DISPUTED"
)

// IsTerminal reports whether no further session operation is legal.
func (s State) IsTerminal() bool {
	switch s {
	case StateVerified, StateMismatch, StateDisputed:
		return true
	}
	return false
}

// VipSession is one dancer/booth pairing. Sessions are archived, never
// deleted: terminal states keep the full reconciliation snapshot for the
// performance aggregator and for dispute escalation.
type VipSession struct {
	ID       id.SessionID `json:"id"`
	TenantID id.TenantID  `json:"tenant_id"`
	BoothID  id.BoothID   `json:"booth_id"`
	DancerID id.DancerID  `json:"dancer_id"`
	OpenedBy id.StaffID   `json:"opened_by"`

	State     State      `json:"state"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// Independently sourced song counts. ManualCount is the operator tally;
	// DJSyncCount comes from the DJ subsystem when it was online; ByTimeCount
	// is derived from elapsed time at close.
	ManualCount int  `json:"manual_count"`
	DJSyncCount *int `json:"dj_sync_count,omitempty"`
	ByTimeCount *int `json:"by_time_count,omitempty"`

	// FinalCount is the billing count, chosen at confirm.
	FinalCount *int `json:"final_count,omitempty"`

	Variance *int                `json:"variance,omitempty"`
	Severity *reconcile.Severity `json:"severity,omitempty"`
	Flagged  bool                `json:"flagged"`

	CustomerConfirmed *bool  `json:"customer_confirmed,omitempty"`
	DisputeReason     string `json:"dispute_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Duration is the elapsed session time, using now for still-open sessions.
func (s *VipSession) Duration(now time.Time) time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

// ledgerSnapshot is the previous/new value payload attached to session
// ledger entries.
type ledgerSnapshot struct {
	State       State  `json:"state"`
	ManualCount int    `json:"manual_count"`
	DJSyncCount *int   `json:"dj_sync_count,omitempty"`
	ByTimeCount *int   `json:"by_time_count,omitempty"`
	FinalCount  *int   `json:"final_count,omitempty"`
	Variance    *int   `json:"variance,omitempty"`
	Severity    string `json:"severity,omitempty"`
	Flagged     bool   `json:"flagged,omitempty"`
}

func snapshot(s *VipSession) ledgerSnapshot {
	snap := ledgerSnapshot{
		State:       s.State,
		ManualCount: s.ManualCount,
		DJSyncCount: s.DJSyncCount,
		ByTimeCount: s.ByTimeCount,
		FinalCount:  s.FinalCount,
		Variance:    s.Variance,
		Flagged:     s.Flagged,
	}
	if s.Severity != nil {
		snap.Severity = string(*s.Severity)
	}
	return snap
}

// ListFilter selects sessions for the performance aggregator and admin
// listings.
type ListFilter struct {
	TenantID id.TenantID
	OpenedBy id.StaffID
	DancerID id.DancerID
	From     time.Time
	To       time.Time
	States   []State
	Limit    int
	Offset   int
}
