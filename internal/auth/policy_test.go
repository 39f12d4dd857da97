package auth

import (
	"errors"
	"testing"
)

func doctorActor() Actor {
	return Actor{PrincipalID: "doc-1", Kind: KindDoctor, Role: RoleDoctor, TenantID: "clinic-1"}
}

func TestRoleAllowList(t *testing.T) {
	cases := []struct {
		role Role
		res  Resource
		want bool
	}{
		{RoleClinic, ResourceAuditLog, true},
		{RoleClinic, ResourceInventory, true},
		{RoleDoctor, ResourcePatient, true},
		{RoleDoctor, ResourceInventory, false},
		{RoleDoctor, ResourceInvoice, false},
		{RoleDoctor, ResourceAuditLog, false},
		{RoleNurse, ResourceInvoice, true},
		{RoleNurse, ResourceInventory, false},
		{RoleHeadNurse, ResourcePatient, true},
		{RoleSupervisor, ResourceLabReport, true},
		{RolePharmacist, ResourceInventory, true},
		{RolePharmacist, ResourcePatient, false},
		{RoleHeadPharmacist, ResourcePrescription, true},
		{RolePharmacyManager, ResourceAppointment, false},
	}
	for _, tc := range cases {
		if got := RoleAllows(tc.role, tc.res); got != tc.want {
			t.Errorf("RoleAllows(%s, %s) = %v, want %v", tc.role, tc.res, got, tc.want)
		}
	}
}

func TestAuthorizeActionRestrictions(t *testing.T) {
	nurse := Actor{PrincipalID: "nurse-1", Kind: KindNurse, Role: RoleNurse, TenantID: "clinic-1"}
	clinic := Actor{PrincipalID: "clinic-1", Kind: KindClinic, Role: RoleClinic, TenantID: "clinic-1"}
	target := &Target{TenantID: "clinic-1", AssignedDoctorIDs: []string{"doc-1"}}

	if err := Authorize(nurse, ResourcePatient, ActionRead, target); err != nil {
		t.Fatalf("nurse read patient: %v", err)
	}
	if err := Authorize(nurse, ResourcePatient, ActionUpdate, target); !errors.Is(err, ErrForbidden) {
		t.Fatalf("nurse update patient: err = %v, want ErrForbidden", err)
	}
	if err := Authorize(clinic, ResourcePatient, ActionDelete, target); err != nil {
		t.Fatalf("clinic delete patient: %v", err)
	}
	if err := Authorize(nurse, ResourcePrescription, ActionCreate, nil); !errors.Is(err, ErrForbidden) {
		t.Fatalf("nurse create prescription: err = %v, want ErrForbidden", err)
	}
	if err := Authorize(doctorActor(), ResourcePrescription, ActionCreate, nil); err != nil {
		t.Fatalf("doctor create prescription: %v", err)
	}
}

func TestAuthorizeRoleGateIsMonotone(t *testing.T) {
	// A perfectly in-scope target cannot rescue a role denial.
	doc := doctorActor()
	target := &Target{TenantID: "clinic-1", DoctorID: "doc-1"}
	if err := Authorize(doc, ResourceInventory, ActionRead, target); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestInScopeTenantBoundary(t *testing.T) {
	clinic := Actor{PrincipalID: "clinic-1", Kind: KindClinic, Role: RoleClinic, TenantID: "clinic-1"}
	foreign := &Target{TenantID: "clinic-2"}
	if InScope(clinic, ResourcePatient, foreign) {
		t.Fatalf("clinic saw another tenant's row")
	}
	if err := Authorize(clinic, ResourcePatient, ActionRead, foreign); !errors.Is(err, ErrOutOfScope) {
		t.Fatalf("err = %v, want ErrOutOfScope", err)
	}
}

func TestInScopeDoctorLinkage(t *testing.T) {
	doc := doctorActor()

	assigned := &Target{TenantID: "clinic-1", AssignedDoctorIDs: []string{"doc-9", "doc-1"}}
	if !InScope(doc, ResourcePatient, assigned) {
		t.Fatalf("assigned patient out of scope")
	}

	owned := &Target{TenantID: "clinic-1", DoctorID: "doc-1"}
	if !InScope(doc, ResourceAppointment, owned) {
		t.Fatalf("own appointment out of scope")
	}

	other := &Target{TenantID: "clinic-1", AssignedDoctorIDs: []string{"doc-9"}}
	if InScope(doc, ResourcePatient, other) {
		t.Fatalf("unassigned patient in scope")
	}

	// Posts are tenant-wide for doctors; no personal link required.
	post := &Target{TenantID: "clinic-1"}
	if !InScope(doc, ResourcePost, post) {
		t.Fatalf("tenant post out of scope")
	}
}

func TestInScopePharmacist(t *testing.T) {
	ph := Actor{PrincipalID: "ph-1", Kind: KindPharmacist, Role: RolePharmacist, TenantID: "clinic-1", PharmacyID: "pharm-1"}

	mine := &Target{TenantID: "clinic-1", PharmacyID: "pharm-1"}
	if !InScope(ph, ResourcePrescription, mine) {
		t.Fatalf("own pharmacy prescription out of scope")
	}
	other := &Target{TenantID: "clinic-1", PharmacyID: "pharm-2"}
	if InScope(ph, ResourcePrescription, other) {
		t.Fatalf("other pharmacy prescription in scope")
	}
	// A prescription not yet routed to a pharmacy is directed at nobody.
	unrouted := &Target{TenantID: "clinic-1"}
	if InScope(ph, ResourcePrescription, unrouted) {
		t.Fatalf("unrouted prescription visible to pharmacist")
	}
	// Inventory in the tenant needs no pharmacy routing.
	if !InScope(ph, ResourceInventory, &Target{TenantID: "clinic-1"}) {
		t.Fatalf("tenant inventory out of scope")
	}
}

func TestFilterPatients(t *testing.T) {
	patients := []PatientRecord{
		{ID: "pat-1", TenantID: "clinic-1", AssignedDoctorIDs: []string{"doc-1"}},
		{ID: "pat-2", TenantID: "clinic-1", AssignedDoctorIDs: []string{"doc-2"}},
		{ID: "pat-3", TenantID: "clinic-1", AssignedDoctorIDs: []string{"doc-2", "doc-1"}},
	}

	visible := FilterPatients(doctorActor(), patients)
	if len(visible) != 2 || visible[0].ID != "pat-1" || visible[1].ID != "pat-3" {
		t.Fatalf("doctor filter = %+v", visible)
	}

	nurse := Actor{PrincipalID: "nurse-1", Kind: KindNurse, Role: RoleNurse, TenantID: "clinic-1"}
	if got := FilterPatients(nurse, patients); len(got) != 3 {
		t.Fatalf("nurse filter = %d rows, want 3", len(got))
	}

	// Empty result, never an error shape.
	lonely := Actor{PrincipalID: "doc-9", Kind: KindDoctor, Role: RoleDoctor, TenantID: "clinic-1"}
	if got := FilterPatients(lonely, patients); len(got) != 0 {
		t.Fatalf("unassigned doctor filter = %+v", got)
	}
}

func TestRoleValidForKind(t *testing.T) {
	cases := []struct {
		role Role
		kind Kind
		want bool
	}{
		{RoleClinic, KindClinic, true},
		{RoleDoctor, KindDoctor, true},
		{RoleDoctor, KindNurse, false},
		{RoleHeadNurse, KindNurse, true},
		{RoleSupervisor, KindNurse, true},
		{RolePharmacyManager, KindPharmacist, true},
		{RoleClinic, KindDoctor, false},
	}
	for _, tc := range cases {
		if got := tc.role.ValidForKind(tc.kind); got != tc.want {
			t.Errorf("%s valid for %s = %v, want %v", tc.role, tc.kind, got, tc.want)
		}
	}
}
