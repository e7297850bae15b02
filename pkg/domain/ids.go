// Package domain holds the typed identifiers and role model shared across
// the integrity engine. Typed UUID wrappers keep tenant, session, booth, and
// staff ids from being mixed up at call sites.
package domain

import "github.com/google/uuid"

type (
	// TenantID scopes every record to a single club.
	TenantID uuid.UUID
	// SessionID identifies a VIP session.
	SessionID uuid.UUID
	// BoothID identifies a VIP booth within a club.
	BoothID uuid.UUID
	// DancerID identifies a dancer on the roster (owned by the roster
	// subsystem; opaque here).
	DancerID uuid.UUID
	// StaffID identifies a staff member (door staff, VIP host, manager,
	// owner). Issued by the auth subsystem.
	StaffID uuid.UUID
	// AlertID identifies an anomaly alert.
	AlertID uuid.UUID
	// EntryID identifies an audit ledger entry.
	EntryID uuid.UUID
)

func (id TenantID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id BoothID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id DancerID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id StaffID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id AlertID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id EntryID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }

// Defined types do not inherit uuid.UUID's method set, so each wrapper
// carries its own text marshaling. Without these the ids would encode as
// raw byte arrays in JSON.

func (id TenantID) MarshalText() ([]byte, error)  { return []byte(uuid.UUID(id).String()), nil }
func (id SessionID) MarshalText() ([]byte, error) { return []byte(uuid.UUID(id).String()), nil }
func (id BoothID) MarshalText() ([]byte, error)   { return []byte(uuid.UUID(id).String()), nil }
func (id DancerID) MarshalText() ([]byte, error)  { return []byte(uuid.UUID(id).String()), nil }
func (id StaffID) MarshalText() ([]byte, error)   { return []byte(uuid.UUID(id).String()), nil }
func (id AlertID) MarshalText() ([]byte, error)   { return []byte(uuid.UUID(id).String()), nil }
func (id EntryID) MarshalText() ([]byte, error)   { return []byte(uuid.UUID(id).String()), nil }

func (id *TenantID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = TenantID(u)
	return err
}

func (id *SessionID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = SessionID(u)
	return err
}

func (id *BoothID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = BoothID(u)
	return err
}

func (id *DancerID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = DancerID(u)
	return err
}

func (id *StaffID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = StaffID(u)
	return err
}

func (id *AlertID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = AlertID(u)
	return err
}

func (id *EntryID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = EntryID(u)
	return err
}

func (id TenantID) String() string  { return uuid.UUID(id).String() }
func (id SessionID) String() string { return uuid.UUID(id).String() }
func (id BoothID) String() string   { return uuid.UUID(id).String() }
func (id DancerID) String() string  { return uuid.UUID(id).String() }
func (id StaffID) String() string   { return uuid.UUID(id).String() }
func (id AlertID) String() string   { return uuid.UUID(id).String() }
func (id EntryID) String() string   { return uuid.UUID(id).String() }

// SystemStaffID attributes ledger entries written by the engine itself
// rather than a staff member, paired with RoleSystem.
var SystemStaffID = StaffID(uuid.MustParse("00000000-0000-0000-0000-000000000001"))

// NewSessionID returns a fresh random session id.
func NewSessionID() SessionID { return SessionID(uuid.New()) }

// NewAlertID returns a fresh random alert id.
func NewAlertID() AlertID { return AlertID(uuid.New()) }

// NewEntryID returns a fresh random ledger entry id.
func NewEntryID() EntryID { return EntryID(uuid.New()) }

// ParseTenantID parses a tenant id from its string form.
func ParseTenantID(s string) (TenantID, error) {
	u, err := uuid.Parse(s)
	return TenantID(u), err
}

// ParseSessionID parses a session id from its string form.
func ParseSessionID(s string) (SessionID, error) {
	u, err := uuid.Parse(s)
	return SessionID(u), err
}

// ParseBoothID parses a booth id from its string form.
func ParseBoothID(s string) (BoothID, error) {
	u, err := uuid.Parse(s)
	return BoothID(u), err
}

// ParseDancerID parses a dancer id from its string form.
func ParseDancerID(s string) (DancerID, error) {
	u, err := uuid.Parse(s)
	return DancerID(u), err
}

// ParseStaffID parses a staff id from its string form.
func ParseStaffID(s string) (StaffID, error) {
	u, err := uuid.Parse(s)
	return StaffID(u), err
}

// ParseEntryID parses a ledger entry id from its string form.
func ParseEntryID(s string) (EntryID, error) {
	u, err := uuid.Parse(s)
	return EntryID(u), err
}

// ParseAlertID parses an alert id from its string form.
func ParseAlertID(s string) (AlertID, error) {
	u, err := uuid.Parse(s)
	return AlertID(u), err
}
