package auth

import (
	"strings"
	"time"
)

// Kind discriminates the actor collections behind the unified principal model.
type Kind string

const (
	KindClinic     Kind = "clinic"
	KindDoctor     Kind = "doctor"
	KindNurse      Kind = "nurse"
	KindPharmacist Kind = "pharmacist"
)

// Role is the authorization role carried in tokens. Kind narrows the valid set.
type Role string

const (
	RoleClinic          Role = "clinic"
	RoleDoctor          Role = "doctor"
	RoleNurse           Role = "nurse"
	RoleHeadNurse       Role = "head_nurse"
	RoleSupervisor      Role = "supervisor"
	RolePharmacist      Role = "pharmacist"
	RoleHeadPharmacist  Role = "head_pharmacist"
	RolePharmacyManager Role = "pharmacy_manager"
)

var rolesByKind = map[Kind][]Role{
	KindClinic:     {RoleClinic},
	KindDoctor:     {RoleDoctor},
	KindNurse:      {RoleNurse, RoleHeadNurse, RoleSupervisor},
	KindPharmacist: {RolePharmacist, RoleHeadPharmacist, RolePharmacyManager},
}

// ValidForKind reports whether the role is one a principal of kind k may hold.
func (r Role) ValidForKind(k Kind) bool {
	for _, candidate := range rolesByKind[k] {
		if candidate == r {
			return true
		}
	}
	return false
}

// Principal is the unified actor record: clinic administrators, doctors,
// nurses, and pharmacists all authenticate through it. For a clinic principal
// TenantID equals its own ID; for everyone else it names the owning clinic.
type Principal struct {
	ID            string
	Kind          Kind
	Role          Role
	DisplayName   string
	PrimaryEmail  string
	LoginEmail    string
	LoginUsername string
	PasswordHash  string
	Active        bool
	TenantID      string
	PharmacyID    string
	LoginAttempts int
	LockUntil     *time.Time
	LastLogin     *time.Time

	// AssignedPatientIDs is the doctor/nurse visibility set, preloaded for
	// list filtering. The patient-side assignment list stays authoritative.
	AssignedPatientIDs []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LockedAt reports whether the principal is locked out at the given instant.
// An expired lock counts as unlocked.
func (p *Principal) LockedAt(now time.Time) bool {
	return p.LockUntil != nil && p.LockUntil.After(now)
}

// MatchesLogin reports whether identifier resolves to this principal. Clinic
// principals accept the admin email or the admin username; everyone else
// matches on their primary email.
func (p *Principal) MatchesLogin(identifier string) bool {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" {
		return false
	}
	if p.LoginEmail != "" && strings.ToLower(p.LoginEmail) == identifier {
		return true
	}
	if p.LoginUsername != "" && strings.ToLower(p.LoginUsername) == identifier {
		return true
	}
	return p.PrimaryEmail != "" && strings.ToLower(p.PrimaryEmail) == identifier
}

// Subject is the frozen identity snapshot embedded in tokens. A token keeps
// these values for its whole life even if the record changes underneath.
type Subject struct {
	PrincipalID string
	Kind        Kind
	Role        Role
	TenantID    string
}

// Subject returns the token snapshot for the principal.
func (p *Principal) Subject() Subject {
	return Subject{
		PrincipalID: p.ID,
		Kind:        p.Kind,
		Role:        p.Role,
		TenantID:    p.TenantID,
	}
}

// Actor is the per-request identity: the token snapshot plus scope fields read
// freshly at guard time. Immutable within a request.
type Actor struct {
	PrincipalID        string
	Kind               Kind
	Role               Role
	TenantID           string
	PharmacyID         string
	AssignedPatientIDs []string
}

// Actor builds the request identity from the token snapshot and the freshly
// loaded principal record.
func (sub Subject) Actor(p *Principal) Actor {
	a := Actor{
		PrincipalID: sub.PrincipalID,
		Kind:        sub.Kind,
		Role:        sub.Role,
		TenantID:    sub.TenantID,
	}
	if p != nil {
		a.PharmacyID = p.PharmacyID
		if len(p.AssignedPatientIDs) > 0 {
			a.AssignedPatientIDs = append([]string(nil), p.AssignedPatientIDs...)
		}
	}
	return a
}

// PatientRecord carries the scope attributes the policy needs from a patient
// row. Full patient documents live outside the auth core.
type PatientRecord struct {
	ID                string   `json:"id"`
	TenantID          string   `json:"tenantId"`
	DisplayName       string   `json:"displayName"`
	AssignedDoctorIDs []string `json:"assignedDoctorIds"`
	PharmacyID        string   `json:"pharmacyId,omitempty"`
}
