package auth

// Resource names a protected surface of the platform.
type Resource string

const (
	ResourceDashboard        Resource = "dashboard"
	ResourcePatient          Resource = "patient"
	ResourceAppointment      Resource = "appointment"
	ResourceDoctor           Resource = "doctor"
	ResourceNurse            Resource = "nurse"
	ResourcePharmacist       Resource = "pharmacist"
	ResourcePrescription     Resource = "prescription"
	ResourceLabReport        Resource = "lab_report"
	ResourceReferral         Resource = "referral"
	ResourceInvoice          Resource = "invoice"
	ResourceTeleconsultation Resource = "teleconsultation"
	ResourcePost             Resource = "post"
	ResourceInventory        Resource = "inventory"
	ResourceAuditLog         Resource = "audit_log"
	ResourceComplianceAlert  Resource = "compliance_alert"
	ResourceEmailSettings    Resource = "email_settings"
)

// Action is a coarse operation on a resource.
type Action string

const (
	ActionList   Action = "list"
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Target carries the scope attributes of the row under decision. A nil target
// means the operation has no single row (creates, lists); the role gate still
// applies and list results are narrowed with InScope per row.
type Target struct {
	TenantID          string
	AssignedDoctorIDs []string
	DoctorID          string
	PharmacyID        string
}

// PatientTarget adapts a patient record for policy evaluation.
func PatientTarget(p *PatientRecord) *Target {
	if p == nil {
		return nil
	}
	return &Target{
		TenantID:          p.TenantID,
		AssignedDoctorIDs: p.AssignedDoctorIDs,
		PharmacyID:        p.PharmacyID,
	}
}

var allDomainResources = []Resource{
	ResourceDashboard, ResourcePatient, ResourceAppointment, ResourceDoctor,
	ResourceNurse, ResourcePharmacist, ResourcePrescription, ResourceLabReport,
	ResourceReferral, ResourceInvoice, ResourceTeleconsultation, ResourcePost,
	ResourceInventory, ResourceAuditLog, ResourceComplianceAlert,
	ResourceEmailSettings,
}

// roleResources is the route allow-list: which resources a role may touch at
// all. A role absent from a resource denies every action on it.
var roleResources = map[Role]map[Resource]struct{}{
	RoleClinic:          resourceSet(allDomainResources...),
	RoleDoctor:          resourceSet(ResourceDashboard, ResourcePatient, ResourceAppointment, ResourcePrescription, ResourceLabReport, ResourceReferral, ResourceTeleconsultation, ResourcePost),
	RoleNurse:           nurseResources(),
	RoleHeadNurse:       nurseResources(),
	RoleSupervisor:      nurseResources(),
	RolePharmacist:      pharmacistResources(),
	RoleHeadPharmacist:  pharmacistResources(),
	RolePharmacyManager: pharmacistResources(),
}

func nurseResources() map[Resource]struct{} {
	return resourceSet(ResourceDashboard, ResourcePatient, ResourceAppointment, ResourcePrescription, ResourceLabReport, ResourceInvoice)
}

func pharmacistResources() map[Resource]struct{} {
	return resourceSet(ResourceDashboard, ResourceInventory, ResourcePrescription)
}

func resourceSet(resources ...Resource) map[Resource]struct{} {
	set := make(map[Resource]struct{}, len(resources))
	for _, res := range resources {
		set[res] = struct{}{}
	}
	return set
}

// doctorLinkedResources are the resources where a doctor must be personally
// linked to the row; the tenant check alone is not enough.
var doctorLinkedResources = map[Resource]struct{}{
	ResourcePatient:      {},
	ResourceAppointment:  {},
	ResourcePrescription: {},
	ResourceLabReport:    {},
	ResourceReferral:     {},
}

// RoleAllows reports whether the role passes the route allow-list for the
// resource. This gate is independent of any target attribute: a role denied
// here stays denied no matter what the row looks like.
func RoleAllows(role Role, res Resource) bool {
	_, ok := roleResources[role][res]
	return ok
}

// actionAllowed layers the per-action restrictions on top of the allow-list.
func actionAllowed(role Role, res Resource, act Action) bool {
	if !RoleAllows(role, res) {
		return false
	}
	switch {
	case res == ResourcePatient && (act == ActionUpdate || act == ActionDelete):
		// Patients are read/annotate only for everyone but the clinic.
		return role == RoleClinic
	case res == ResourcePrescription && act == ActionCreate:
		return role == RoleClinic || role == RoleDoctor
	}
	return true
}

// InScope is the row-level predicate: does the target fall inside what the
// actor may see. It is pure so list endpoints can filter with it directly.
func InScope(actor Actor, res Resource, target *Target) bool {
	if target == nil {
		return true
	}
	if target.TenantID != "" && target.TenantID != actor.TenantID {
		return false
	}
	switch actor.Role {
	case RoleClinic, RoleNurse, RoleHeadNurse, RoleSupervisor:
		return true
	case RoleDoctor:
		if _, linked := doctorLinkedResources[res]; !linked {
			return true
		}
		return doctorLinked(actor.PrincipalID, target)
	case RolePharmacist, RoleHeadPharmacist, RolePharmacyManager:
		if res == ResourcePrescription {
			// Prescriptions not yet routed to any pharmacy stay invisible.
			return target.PharmacyID != "" && target.PharmacyID == actor.PharmacyID
		}
		return true
	}
	return false
}

func doctorLinked(doctorID string, target *Target) bool {
	if target.DoctorID == doctorID {
		return true
	}
	for _, id := range target.AssignedDoctorIDs {
		if id == doctorID {
			return true
		}
	}
	return false
}

// Authorize decides (actor, resource, action, target). The role gate runs
// first and is monotone: no target attribute can turn a role denial into an
// allow. Targets failing only the scope predicate return ErrOutOfScope, which
// callers surface as a plain Forbidden to avoid record enumeration.
func Authorize(actor Actor, res Resource, act Action, target *Target) error {
	if !actionAllowed(actor.Role, res, act) {
		return ErrForbidden
	}
	if !InScope(actor, res, target) {
		return ErrOutOfScope
	}
	return nil
}

// FilterPatients returns the subset of patients the actor may see. List
// operations never fail on scope; they narrow.
func FilterPatients(actor Actor, patients []PatientRecord) []PatientRecord {
	visible := make([]PatientRecord, 0, len(patients))
	for _, p := range patients {
		p := p
		if InScope(actor, ResourcePatient, PatientTarget(&p)) {
			visible = append(visible, p)
		}
	}
	return visible
}
